// Package xr implements the xRegistry entity model (spec.md §3): the
// Registry → Group → Resource → Version hierarchy, common attributes, and
// the deterministic xid/self URL construction every entity carries.
package xr

import "time"

// SpecVersion is the xRegistry specification version this façade implements.
const SpecVersion = "1.0"

// GroupsType and ResourceType are fixed for the OCI-backend variant of the
// façade (spec.md §4.5).
const (
	GroupsType   = "containerregistries"
	ResourceType = "images"
)

// TimeFormat renders RFC 3339 UTC with millisecond precision and a literal
// Z suffix (spec.md §3, §8 "Timestamp law").
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t per the xRegistry timestamp convention.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Common holds the attributes carried by every xRegistry entity (spec.md §3).
type Common struct {
	Xid        string `json:"xid"`
	Self       string `json:"self"`
	Epoch      uint   `json:"epoch"`
	CreatedAt  string `json:"createdat"`
	ModifiedAt string `json:"modifiedat"`
	ReadOnly   bool   `json:"readonly"`
}

// NewCommon builds the Common block for an entity at xid, with epoch fixed
// at 1 (spec.md §3 "epoch is fixed at 1 in this read-only projection").
func NewCommon(baseURL, xid string, createdAt, modifiedAt time.Time) Common {
	return Common{
		Xid:        xid,
		Self:       baseURL + xid,
		Epoch:      1,
		CreatedAt:  FormatTime(createdAt),
		ModifiedAt: FormatTime(modifiedAt),
		ReadOnly:   true,
	}
}

// RegistryDoc is the root projection (spec.md §3 "Registry document").
type RegistryDoc struct {
	Common
	SpecVersion               string `json:"specversion"`
	RegistryID                string `json:"registryid"`
	ContainerRegistriesURL    string `json:"containerregistriesurl"`
	ContainerRegistriesCount  int    `json:"containerregistriescount"`
	ContainerRegistries       map[string]GroupDoc `json:"containerregistries,omitempty"`
}

// GroupDoc represents one configured Backend (spec.md §3 "Group").
type GroupDoc struct {
	Common
	ContainerRegistryID string               `json:"containerregistryid"`
	ImagesURL           string               `json:"imagesurl"`
	ImagesCount         int                  `json:"imagescount"`
	Images              map[string]ResourceDoc `json:"images,omitempty"`
}

// ResourceDoc represents one repository in one backend (spec.md §3 "Resource").
type ResourceDoc struct {
	Common
	ImageID        string     `json:"imageid"`
	VersionID      string     `json:"versionid"`
	IsDefault      bool       `json:"isdefault"`
	VersionsURL    string     `json:"versionsurl"`
	VersionsCount  int        `json:"versionscount"`
	MetaURL        string     `json:"metaurl"`
	Meta           *MetaDoc   `json:"meta,omitempty"`
	Versions       map[string]VersionDoc `json:"versions,omitempty"`
}

// MetaDoc is the sibling of a Resource carrying registry-level metadata
// (spec.md §3 "Meta").
type MetaDoc struct {
	Common
	ImageID              string `json:"imageid"`
	DefaultVersionID     string `json:"defaultversionid"`
	DefaultVersionURL    string `json:"defaultversionurl"`
	DefaultVersionSticky bool   `json:"defaultversionsticky"`
}

// VersionDoc represents one tag (spec.md §3 "Version").
type VersionDoc struct {
	Common
	VersionID string         `json:"versionid"`
	IsDefault bool           `json:"isdefault"`
	Metadata  VersionMetadata `json:"metadata"`
	Layers    []LayerDoc      `json:"layers"`
	BuildHistory []BuildStep  `json:"build_history,omitempty"`
	URLs      VersionURLs     `json:"urls"`
}

// VersionMetadata is the projected OCI metadata for one Version (spec.md §3).
type VersionMetadata struct {
	Digest             string            `json:"digest"`
	Description        string            `json:"description,omitempty"`
	ManifestMediaType  string            `json:"manifest_mediatype"`
	SchemaVersion      int               `json:"schema_version"`
	Architecture       string            `json:"architecture,omitempty"`
	OS                 string            `json:"os,omitempty"`
	SizeBytes          *int64            `json:"size_bytes,omitempty"`
	LayersCount        int               `json:"layers_count"`
	IsMultiPlatform    *bool             `json:"is_multi_platform,omitempty"`
	AvailablePlatforms []PlatformDoc     `json:"available_platforms,omitempty"`
	OCILabels          map[string]string `json:"oci_labels,omitempty"`
	Environment        []string          `json:"environment,omitempty"`
	Entrypoint         []string          `json:"entrypoint,omitempty"`
	Cmd                []string          `json:"cmd,omitempty"`
	User               string            `json:"user,omitempty"`
	WorkingDir         string            `json:"working_dir,omitempty"`
	ExposedPorts       []string          `json:"exposed_ports,omitempty"`
	Volumes            []string          `json:"volumes,omitempty"`
	Detail             string            `json:"detail,omitempty"`
}

// PlatformDoc is one entry of a multi-platform manifest list/index.
type PlatformDoc struct {
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
	Variant      string `json:"variant,omitempty"`
	Digest       string `json:"digest"`
	Size         int64  `json:"size,omitempty"`
	MediaType    string `json:"mediaType,omitempty"`
}

// LayerDoc is one ordered layer entry.
type LayerDoc struct {
	Digest    string `json:"digest"`
	Size      *int64 `json:"size,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// BuildStep is one numbered build-history entry.
type BuildStep struct {
	Step      int    `json:"step"`
	CreatedBy string `json:"created_by"`
	Created   string `json:"created,omitempty"`
}

// VersionURLs carries the pull/manifest upstream URLs for a Version.
type VersionURLs struct {
	Pull     string `json:"pull"`
	Manifest string `json:"manifest"`
}
