// Package cache implements the Response Cache (C2, spec.md §4.2): a
// filesystem-keyed store of computed version/meta documents per
// (backend,image,version). It is a projection cache, not an upstream-truth
// cache — invalidation is external (spec.md §4.2 invariant).
//
// The Store interface and the sanitize/atomic-write approach are grounded in
// the pack's danielloader-oci-pull-through internal/cache package (Store,
// FSStore, atomicWrite); the key layout itself is fixed by spec.md §4.2/§6.
package cache

import (
	"encoding/json"
	"regexp"
)

// AllVersionsKey is the sentinel "version" path segment used when caching a
// collection document (spec.md §4.2 "sanitize(version)|\"_all_versions_\"").
const AllVersionsKey = "_all_versions_"

// Store is the interface implemented by each response-cache backend
// (filesystem, the spec-mandated default, or S3-compatible object storage).
type Store interface {
	// Read returns the cached document, or (nil, false) if missing or
	// unreadable. No error ever escapes: a corrupt cache entry is treated
	// as absent (spec.md §9 Design Notes "Cache corruption").
	Read(backendName, image, version string) (json.RawMessage, bool)
	// Write best-effort persists a document. Failures are logged by the
	// caller, never surfaced to the HTTP client (spec.md §4.2).
	Write(backendName, image, version string, document json.RawMessage) error
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Sanitize maps a raw key component (backend name, "/"-joined image name,
// or tag) to a filesystem/object-key-safe segment.
func Sanitize(s string) string {
	replaced := unsafeSegment.ReplaceAllString(s, "_")
	if replaced == "" {
		return "_"
	}
	return replaced
}

// versionSegment returns the sanitized version segment, or the
// AllVersionsKey sentinel when version is empty (collection-level cache).
func versionSegment(version string) string {
	if version == "" {
		return AllVersionsKey
	}
	return Sanitize(version)
}
