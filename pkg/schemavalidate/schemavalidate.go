// Package schemavalidate implements the `schema=true` request flag
// (spec.md §4.4): basic shape validation of an emitted entity document
// against its entity-type JSON Schema.
//
// The validator library (santhosh-tekuri/jsonschema/v5) is carried over
// from the pack's ossamalafhel-registry go.mod, which lists it as an
// indirect dependency of its registry-metadata validation path; no example
// repo wires it directly, so the compiler/loader setup here follows the
// library's own documented in-memory-resource pattern rather than a
// pack-internal call site.
package schemavalidate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// EntityType names one of the four xRegistry entity shapes spec.md §4.4
// validates against.
type EntityType string

const (
	EntityRegistry EntityType = "registry"
	EntityGroup    EntityType = "group"
	EntityResource EntityType = "resource"
	EntityVersion  EntityType = "version"
)

var schemaSource = map[EntityType]string{
	EntityRegistry: `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["xid", "self", "epoch", "createdat", "modifiedat", "specversion", "registryid"]
	}`,
	EntityGroup: `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["xid", "self", "epoch", "createdat", "modifiedat", "containerregistryid"]
	}`,
	EntityResource: `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["xid", "self", "epoch", "createdat", "modifiedat", "versionid", "isdefault", "imageid"]
	}`,
	EntityVersion: `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["xid", "self", "epoch", "createdat", "modifiedat", "versionid", "isdefault", "metadata"]
	}`,
}

// Validator compiles each entity-type schema once at construction.
type Validator struct {
	compiled map[EntityType]*jsonschema.Schema
}

// New compiles the bundled schemas, one per EntityType.
func New() (*Validator, error) {
	v := &Validator{compiled: make(map[EntityType]*jsonschema.Schema, len(schemaSource))}
	for entityType, src := range schemaSource {
		compiler := jsonschema.NewCompiler()
		resourceName := string(entityType) + ".json"
		if err := compiler.AddResource(resourceName, bytes.NewReader([]byte(src))); err != nil {
			return nil, fmt.Errorf("adding schema resource for %s: %w", entityType, err)
		}
		schema, err := compiler.Compile(resourceName)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", entityType, err)
		}
		v.compiled[entityType] = schema
	}
	return v, nil
}

// Validate checks doc (a decoded entity JSON document) against entityType's
// schema, returning a joined error message on failure — the caller is
// expected to surface this as `400 invalid_data` (spec.md §4.4).
func (v *Validator) Validate(entityType EntityType, doc []byte) error {
	schema, ok := v.compiled[entityType]
	if !ok {
		return fmt.Errorf("no schema registered for entity type %q", entityType)
	}
	var decoded interface{}
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return fmt.Errorf("decoding document for validation: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
