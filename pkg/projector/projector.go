// Package projector implements the OCI Projector (C3, spec.md §4.3): the
// single-pass, deterministic transformation from an upstream manifest/config
// fetch into the xRegistry Version metadata model.
//
// The manifest-list tie-break, schema-1 fallback, and config-blob
// enrichment steps are grounded in spec.md §4.3 directly; the tagged-variant
// dispatch on ociimage.Kind follows spec.md §9's "Heterogeneous manifest
// objects" design note.
package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ociregistryx/wrapper/pkg/backend"
	"github.com/ociregistryx/wrapper/pkg/ociimage"
	"github.com/ociregistryx/wrapper/pkg/upstream"
)

// Client is the subset of *upstream.Client the projector depends on.
type Client interface {
	OCIRequest(ctx context.Context, b backend.Backend, path, method string, extraHeaders http.Header) (*upstream.Response, error)
}

// Result is the projected metadata for one Version, in a form ready for
// pkg/xr to wrap into a VersionDoc.
type Result struct {
	Digest            string
	Description       string
	ManifestMediaType string
	SchemaVersion     int
	Architecture      string
	OS                string
	SizeBytes         *int64
	Layers            []ociimage.Descriptor
	IsMultiPlatform   bool
	AvailablePlatforms []Platform
	OCILabels         map[string]string
	Environment       []string
	Entrypoint        []string
	Cmd               []string
	User              string
	WorkingDir        string
	ExposedPorts      []string
	Volumes           []string
	BuildHistory      []BuildStep
	CreatedAt         time.Time
	Detail            string
}

// Platform mirrors ociimage.ManifestRef's platform facts flattened for the
// projection output.
type Platform struct {
	Architecture string
	OS           string
	Variant      string
	Digest       string
	Size         int64
	MediaType    string
}

// BuildStep is one numbered, filtered history entry (spec.md §4.3 step 3).
type BuildStep struct {
	Step      int
	CreatedBy string
	Created   string
}

// Project runs the single-pass algorithm of spec.md §4.3 for imageName:tag
// against b. Partial upstream failures at the config-blob step degrade the
// result rather than failing the request (spec.md §4.3 "Error policy",
// §7 "Partial failure inside the projector").
func Project(ctx context.Context, client Client, b backend.Backend, imageName, tag string) (*Result, error) {
	manifestResp, err := client.OCIRequest(ctx, b, "/v2/"+imageName+"/manifests/"+tag, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}

	digest := manifestResp.Headers.Get("Docker-Content-Digest")

	var probe struct {
		SchemaVersion int    `json:"schemaVersion"`
		MediaType     string `json:"mediaType"`
	}
	if err := json.Unmarshal(manifestResp.Body, &probe); err != nil {
		return nil, fmt.Errorf("projector: decoding manifest for %s:%s: %w", imageName, tag, err)
	}

	kind := ociimage.ClassifyMediaType(probe.MediaType, probe.SchemaVersion)

	result := &Result{
		Digest:            digest,
		ManifestMediaType: probe.MediaType,
		SchemaVersion:     probe.SchemaVersion,
	}

	switch kind {
	case ociimage.KindSchema1:
		projectSchema1(manifestResp.Body, result)
		result.Description = defaultDescription(tag)
		return result, nil

	case ociimage.KindManifestListOrIndex:
		var list ociimage.ManifestList
		if err := json.Unmarshal(manifestResp.Body, &list); err != nil {
			return nil, fmt.Errorf("projector: decoding manifest list for %s:%s: %w", imageName, tag, err)
		}
		selected, platforms := selectPlatform(list.Manifests)
		result.IsMultiPlatform = true
		result.AvailablePlatforms = platforms
		if selected == nil {
			result.Description = defaultDescription(tag)
			return result, nil
		}
		result.Architecture = selected.Platform.Architecture
		result.OS = selected.Platform.OS

		subResp, err := client.OCIRequest(ctx, b, "/v2/"+imageName+"/manifests/"+selected.Digest, http.MethodGet, nil)
		if err != nil {
			result.Detail = "sub-manifest fetch degraded: " + err.Error()
			result.Description = defaultDescription(tag)
			return result, nil
		}
		var sub ociimage.Manifest
		if err := json.Unmarshal(subResp.Body, &sub); err != nil {
			result.Detail = "sub-manifest decode failed"
			result.Description = defaultDescription(tag)
			return result, nil
		}
		result.ManifestMediaType = firstNonEmpty(sub.MediaType, result.ManifestMediaType)
		projectLayers(sub, result)
		enrichFromConfig(ctx, client, b, imageName, sub, tag, result)
		return result, nil

	case ociimage.KindManifestOrImage:
		var m ociimage.Manifest
		if err := json.Unmarshal(manifestResp.Body, &m); err != nil {
			return nil, fmt.Errorf("projector: decoding manifest for %s:%s: %w", imageName, tag, err)
		}
		projectLayers(m, result)
		enrichFromConfig(ctx, client, b, imageName, m, tag, result)
		return result, nil

	default:
		result.Description = defaultDescription(tag)
		return result, nil
	}
}

func projectLayers(m ociimage.Manifest, result *Result) {
	result.Layers = m.Layers
	if m.Config.Size > 0 {
		size := m.Config.Size
		result.SizeBytes = &size
		return
	}
	var sum int64
	allKnown := len(m.Layers) > 0
	for _, l := range m.Layers {
		if l.Size == 0 {
			allKnown = false
			break
		}
		sum += l.Size
	}
	if allKnown {
		result.SizeBytes = &sum
	}
}

func projectSchema1(body []byte, result *Result) {
	var s1 ociimage.Schema1Manifest
	if err := json.Unmarshal(body, &s1); err != nil {
		return
	}
	for _, l := range s1.FSLayers {
		result.Layers = append(result.Layers, ociimage.Descriptor{Digest: l.BlobSum})
	}
	if len(s1.History) == 0 {
		return
	}
	var compat ociimage.Schema1Compatibility
	if err := json.Unmarshal([]byte(s1.History[0].V1Compatibility), &compat); err != nil {
		return
	}
	result.Architecture = compat.Architecture
	result.OS = compat.OS
	if t, err := time.Parse(time.RFC3339Nano, compat.Created); err == nil {
		result.CreatedAt = t
	}
	if size := compat.EffectiveSize(); size > 0 {
		result.SizeBytes = &size
	}
}

// selectPlatform applies spec.md §4.3's tie-break: first
// platform.os=="linux" && platform.architecture=="amd64", else element [0].
func selectPlatform(manifests []ociimage.ManifestRef) (*ociimage.ManifestRef, []Platform) {
	platforms := make([]Platform, 0, len(manifests))
	var selected *ociimage.ManifestRef
	for i := range manifests {
		m := manifests[i]
		platforms = append(platforms, Platform{
			Architecture: m.Platform.Architecture,
			OS:           m.Platform.OS,
			Variant:      m.Platform.Variant,
			Digest:       m.Digest,
			Size:         m.Size,
			MediaType:    m.MediaType,
		})
		if selected == nil && m.Platform.OS == "linux" && m.Platform.Architecture == "amd64" {
			selected = &manifests[i]
		}
	}
	if selected == nil && len(manifests) > 0 {
		selected = &manifests[0]
	}
	return selected, platforms
}

// enrichFromConfig fetches the image config blob and fills description,
// oci_labels, runtime fields, and build_history (spec.md §4.3 step 3). A
// 401/403/any failure degrades the result instead of failing the request
// (spec.md §4.3 "Error policy").
func enrichFromConfig(ctx context.Context, client Client, b backend.Backend, imageName string, m ociimage.Manifest, tag string, result *Result) {
	if m.Config.Digest == "" {
		result.Description = defaultDescription(tag)
		return
	}
	resp, err := client.OCIRequest(ctx, b, "/v2/"+imageName+"/blobs/"+m.Config.Digest, http.MethodGet, nil)
	if err != nil {
		result.Detail = "config blob fetch degraded: " + err.Error()
		result.Description = defaultDescription(tag)
		return
	}
	var cfg ociimage.ImageConfig
	if err := json.Unmarshal(resp.Body, &cfg); err != nil {
		result.Detail = "config blob decode failed"
		result.Description = defaultDescription(tag)
		return
	}

	if cfg.Architecture != "" {
		result.Architecture = cfg.Architecture
	}
	if cfg.OS != "" {
		result.OS = cfg.OS
	}
	if t, err := time.Parse(time.RFC3339Nano, cfg.Created); err == nil {
		result.CreatedAt = t
	}

	result.Description = extractDescription(cfg.Config.Labels, tag)
	result.OCILabels = extractOCILabels(cfg.Config.Labels)
	result.Environment = cfg.Config.Env
	result.Entrypoint = cfg.Config.Entrypoint
	result.Cmd = cfg.Config.Cmd
	result.User = cfg.Config.User
	result.WorkingDir = cfg.Config.WorkingDir
	result.ExposedPorts = sortedKeys(cfg.Config.ExposedPorts)
	result.Volumes = sortedKeys(cfg.Config.Volumes)
	result.BuildHistory = extractBuildHistory(cfg.History)
}

func extractDescription(labels map[string]string, tag string) string {
	for _, key := range ociimage.DescriptionLabelPriority {
		if v, ok := labels[key]; ok && v != "" {
			return v
		}
	}
	if v, ok := labels["org.opencontainers.image.title"]; ok && v != "" {
		return v
	}
	return defaultDescription(tag)
}

func defaultDescription(tag string) string {
	return "Container image tag " + tag
}

func extractOCILabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	keys := append([]string{}, ociimage.WellKnownLabelKeys...)
	keys = append(keys, "org.opencontainers.image.created")
	out := make(map[string]string)
	for _, key := range keys {
		if v, ok := labels[key]; ok && v != "" {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func extractBuildHistory(history []ociimage.ConfigHistory) []BuildStep {
	steps := make([]BuildStep, 0, len(history))
	n := 0
	for _, h := range history {
		if h.CreatedBy == "" {
			continue
		}
		n++
		steps = append(steps, BuildStep{Step: n, CreatedBy: h.CreatedBy, Created: h.Created})
	}
	if len(steps) == 0 {
		return nil
	}
	return steps
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
