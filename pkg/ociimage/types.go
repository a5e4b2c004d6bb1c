// Package ociimage models the heterogeneous OCI/Docker manifest union as a
// tagged variant discriminated by mediaType+schemaVersion, with a dispatch
// table in the projector rather than if/else chains (spec.md §9 Design
// Notes — "Heterogeneous manifest objects").
package ociimage

// Media types recognized across the manifest union (spec.md §4.1's
// four-way Accept union, plus the legacy schema-1 type it supersedes).
const (
	MediaTypeDockerManifestV2     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestListV2 = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeOCIImageManifestV1   = "application/vnd.oci.image.manifest.v1+json"
	MediaTypeOCIImageIndexV1      = "application/vnd.oci.image.index.v1+json"
	MediaTypeDockerManifestV1     = "application/vnd.docker.distribution.manifest.v1+prettyjws"
)

// AcceptHeader is the four-way union Accept header required by spec.md §4.1.
const AcceptHeader = MediaTypeDockerManifestV2 + "," + MediaTypeDockerManifestListV2 + "," + MediaTypeOCIImageManifestV1 + "," + MediaTypeOCIImageIndexV1

// Kind classifies a fetched manifest document.
type Kind int

const (
	KindUnknown Kind = iota
	KindSchema1
	KindManifestOrImage
	KindManifestListOrIndex
)

// Descriptor is the common {mediaType, digest, size} shape used for configs,
// layers, and manifest-list entries.
type Descriptor struct {
	MediaType string `json:"mediaType,omitempty"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size,omitempty"`
}

// Platform describes the platform a manifest-list entry targets.
type Platform struct {
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
	Variant      string `json:"variant,omitempty"`
}

// ManifestRef is one entry of a manifest list / OCI index.
type ManifestRef struct {
	MediaType string   `json:"mediaType,omitempty"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size,omitempty"`
	Platform  Platform  `json:"platform"`
}

// ManifestList is the schema-2 Docker manifest list / OCI image index body.
type ManifestList struct {
	SchemaVersion int           `json:"schemaVersion"`
	MediaType     string        `json:"mediaType,omitempty"`
	Manifests     []ManifestRef `json:"manifests"`
}

// Manifest is the schema-2 Docker manifest / OCI image manifest body.
type Manifest struct {
	SchemaVersion int          `json:"schemaVersion"`
	MediaType     string       `json:"mediaType,omitempty"`
	Config        Descriptor   `json:"config"`
	Layers        []Descriptor `json:"layers"`
}

// Schema1Manifest is the legacy Docker schema-1 manifest body — layers come
// from fsLayers (unknown size) and metadata comes from history[0].v1Compatibility.
type Schema1Manifest struct {
	SchemaVersion int    `json:"schemaVersion"`
	Name          string `json:"name"`
	Tag           string `json:"tag"`
	FSLayers      []struct {
		BlobSum string `json:"blobSum"`
	} `json:"fsLayers"`
	History []struct {
		V1Compatibility string `json:"v1Compatibility"`
	} `json:"history"`
}

// Schema1Compatibility is the JSON embedded in history[0].v1Compatibility.
type Schema1Compatibility struct {
	Created      string `json:"created"`
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
	Size         int64  `json:"Size"`
	Size2        int64  `json:"size"`
}

// EffectiveSize returns whichever of Size/Size2 is set (the key's casing
// varies across registries that still emit schema-1 manifests).
func (c Schema1Compatibility) EffectiveSize() int64 {
	if c.Size != 0 {
		return c.Size
	}
	return c.Size2
}

// ImageConfig is the OCI/Docker image config blob (spec.md §4.3 step 3).
type ImageConfig struct {
	Created      string           `json:"created"`
	Architecture string           `json:"architecture"`
	OS           string           `json:"os"`
	Config       ImageConfigInner `json:"config"`
	History      []ConfigHistory  `json:"history"`
}

// ImageConfigInner is the nested "config" object of an image config blob.
type ImageConfigInner struct {
	Labels       map[string]string `json:"Labels"`
	Env          []string          `json:"Env"`
	Entrypoint   []string          `json:"Entrypoint"`
	Cmd          []string          `json:"Cmd"`
	User         string            `json:"User"`
	WorkingDir   string            `json:"WorkingDir"`
	ExposedPorts map[string]struct{} `json:"ExposedPorts"`
	Volumes      map[string]struct{} `json:"Volumes"`
}

// ConfigHistory is one entry of the image config's build history.
type ConfigHistory struct {
	Created    string `json:"created"`
	CreatedBy  string `json:"created_by"`
	Comment    string `json:"comment,omitempty"`
	EmptyLayer bool   `json:"empty_layer,omitempty"`
}

// ClassifyMediaType returns the Kind for a manifest's mediaType + schemaVersion,
// the tagged-variant dispatch spec.md §9 calls for.
func ClassifyMediaType(mediaType string, schemaVersion int) Kind {
	switch mediaType {
	case MediaTypeDockerManifestListV2, MediaTypeOCIImageIndexV1:
		return KindManifestListOrIndex
	case MediaTypeDockerManifestV2, MediaTypeOCIImageManifestV1:
		return KindManifestOrImage
	case MediaTypeDockerManifestV1, "":
		if schemaVersion == 1 {
			return KindSchema1
		}
	}
	if schemaVersion == 1 {
		return KindSchema1
	}
	if schemaVersion == 2 {
		return KindManifestOrImage
	}
	return KindUnknown
}

// WellKnownLabelKeys are nine of the OCI labels extracted into oci_labels
// (spec.md §4.3 step 3); the projector adds org.opencontainers.image.created
// as a tenth.
var WellKnownLabelKeys = []string{
	"org.opencontainers.image.version",
	"org.opencontainers.image.revision",
	"org.opencontainers.image.source",
	"org.opencontainers.image.documentation",
	"org.opencontainers.image.licenses",
	"org.opencontainers.image.vendor",
	"org.opencontainers.image.authors",
	"org.opencontainers.image.url",
	"org.opencontainers.image.title",
}

// DescriptionLabelPriority is the ordered list of label keys probed for a
// description (spec.md §4.3 step 3), before falling back to
// org.opencontainers.image.title and finally the tag-based default.
var DescriptionLabelPriority = []string{
	"org.opencontainers.image.description",
	"io.metadata.description",
	"description",
	"DESCRIPTION",
	"org.label-schema.description",
	"maintainer.description",
}
