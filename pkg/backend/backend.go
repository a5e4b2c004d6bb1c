// Package backend holds the process-wide, immutable table of configured
// upstream OCI registries (spec.md §3 "Backend", §4.7 "Backend Registry").
package backend

import (
	"fmt"

	"github.com/ociregistryx/wrapper/pkg/secret"
)

// DefaultCatalogPath is used when a Config omits CatalogPath.
const DefaultCatalogPath = "/v2/_catalog"

// CatalogDisabled is the sentinel CatalogPath value that suppresses catalog
// listing for a backend (spec.md §6 "catalogPath=disabled suppresses
// catalog listing").
const CatalogDisabled = "disabled"

// Config is the on-the-wire (JSON) shape of one backend entry, as loaded by
// pkg/config from an environment variable, a config file, or in-process
// defaults (spec.md §4.7 load precedence).
type Config struct {
	Name        string       `json:"name"`
	RegistryURL string       `json:"registryUrl"`
	Username    string       `json:"username,omitempty"`
	Password    secret.String `json:"password,omitempty"`
	CatalogPath string       `json:"catalogPath,omitempty"`
}

// Backend is the normalized, immutable runtime representation of one
// upstream registry entry.
type Backend struct {
	Name        string
	RegistryURL string
	Username    string
	Password    secret.String
	CatalogPath string
}

// HasBasicAuth reports whether static username/password credentials were
// configured for this backend (spec.md §4.1 step 2).
func (b Backend) HasBasicAuth() bool {
	return b.Username != "" && !b.Password.IsZero()
}

// CatalogEnabled reports whether this backend exposes a catalog listing.
func (b Backend) CatalogEnabled() bool {
	return b.CatalogPath != CatalogDisabled
}

func normalize(c Config) (Backend, error) {
	if c.Name == "" {
		return Backend{}, fmt.Errorf("backend config missing name")
	}
	if c.RegistryURL == "" {
		return Backend{}, fmt.Errorf("backend %q missing registryUrl", c.Name)
	}
	catalogPath := c.CatalogPath
	if catalogPath == "" {
		catalogPath = DefaultCatalogPath
	}
	return Backend{
		Name:        c.Name,
		RegistryURL: c.RegistryURL,
		Username:    c.Username,
		Password:    c.Password,
		CatalogPath: catalogPath,
	}, nil
}

// Registry is the read-only, O(1)-lookup table of configured backends
// (spec.md §4.7). It is built once at process start and never mutated; any
// future live-reload is expected to be an atomic swap of the whole table
// (spec.md §9 Design Notes).
type Registry struct {
	order []string
	byName map[string]Backend
}

// NewRegistry normalizes and indexes a list of backend configs. Order is
// preserved from the input slice for deterministic iteration (e.g. the
// registry root's containerregistriescount / groups collection).
func NewRegistry(configs []Config) (*Registry, error) {
	reg := &Registry{byName: make(map[string]Backend, len(configs))}
	for _, c := range configs {
		b, err := normalize(c)
		if err != nil {
			return nil, err
		}
		if _, exists := reg.byName[b.Name]; exists {
			return nil, fmt.Errorf("duplicate backend name %q", b.Name)
		}
		reg.byName[b.Name] = b
		reg.order = append(reg.order, b.Name)
	}
	return reg, nil
}

// Get looks up a backend by name.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.byName[name]
	return b, ok
}

// Names returns backend names in configuration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of configured backends.
func (r *Registry) Len() int {
	return len(r.order)
}

// All returns every backend in configuration order.
func (r *Registry) All() []Backend {
	out := make([]Backend, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
