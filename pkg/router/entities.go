package router

import (
	"time"

	"github.com/ociregistryx/wrapper/pkg/backend"
	"github.com/ociregistryx/wrapper/pkg/codec"
	"github.com/ociregistryx/wrapper/pkg/projector"
	"github.com/ociregistryx/wrapper/pkg/xr"
)

// buildRegistryDoc projects the Registry root (spec.md §3, S1).
func buildRegistryDoc(reg *backend.Registry, baseURL string, now time.Time) xr.RegistryDoc {
	doc := xr.RegistryDoc{
		Common:                   xr.NewCommon(baseURL, "/", now, now),
		SpecVersion:              xr.SpecVersion,
		RegistryID:               "oci-wrapper",
		ContainerRegistriesURL:   baseURL + "/" + xr.GroupsType,
		ContainerRegistriesCount: reg.Len(),
	}
	return doc
}

// buildGroupDoc projects one configured Backend as a Group.
func buildGroupDoc(b backend.Backend, baseURL string, now time.Time, imagesCount int) xr.GroupDoc {
	xid := "/" + xr.GroupsType + "/" + b.Name
	return xr.GroupDoc{
		Common:              xr.NewCommon(baseURL, xid, now, now),
		ContainerRegistryID: b.Name,
		ImagesURL:           baseURL + xid + "/" + xr.ResourceType,
		ImagesCount:         imagesCount,
	}
}

// buildResourceDoc projects one repository (spec.md §3, S2).
func buildResourceDoc(b backend.Backend, imageName string, defaultTag string, versionsCount int, baseURL string, now time.Time) xr.ResourceDoc {
	imageID := codec.EncodeImageName(imageName)
	xid := "/" + xr.GroupsType + "/" + b.Name + "/" + xr.ResourceType + "/" + imageID
	return xr.ResourceDoc{
		Common:        xr.NewCommon(baseURL, xid, now, now),
		ImageID:       imageID,
		VersionID:     defaultTag,
		IsDefault:     true,
		VersionsURL:   baseURL + xid + "/versions",
		VersionsCount: versionsCount,
		MetaURL:       baseURL + xid + "/meta",
	}
}

// buildMetaDoc projects the Resource's Meta sibling (spec.md §3, S3).
func buildMetaDoc(b backend.Backend, imageName, defaultTag, baseURL string, now time.Time) xr.MetaDoc {
	imageID := codec.EncodeImageName(imageName)
	xid := "/" + xr.GroupsType + "/" + b.Name + "/" + xr.ResourceType + "/" + imageID + "/meta"
	return xr.MetaDoc{
		Common:               xr.NewCommon(baseURL, xid, now, now),
		ImageID:              imageID,
		DefaultVersionID:     defaultTag,
		DefaultVersionURL:    baseURL + "/" + xr.GroupsType + "/" + b.Name + "/" + xr.ResourceType + "/" + imageID + "/versions/" + defaultTag,
		DefaultVersionSticky: false,
	}
}

// buildVersionDoc projects one tag (spec.md §3, §4.3, S4).
func buildVersionDoc(b backend.Backend, imageName, tag string, isDefault bool, result *projector.Result, baseURL string) xr.VersionDoc {
	imageID := codec.EncodeImageName(imageName)
	xid := "/" + xr.GroupsType + "/" + b.Name + "/" + xr.ResourceType + "/" + imageID + "/versions/" + tag

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	layers := make([]xr.LayerDoc, 0, len(result.Layers))
	for _, l := range result.Layers {
		layer := xr.LayerDoc{Digest: l.Digest, MediaType: l.MediaType}
		if l.Size > 0 {
			size := l.Size
			layer.Size = &size
		}
		layers = append(layers, layer)
	}

	platforms := make([]xr.PlatformDoc, 0, len(result.AvailablePlatforms))
	for _, p := range result.AvailablePlatforms {
		platforms = append(platforms, xr.PlatformDoc{
			Architecture: p.Architecture,
			OS:           p.OS,
			Variant:      p.Variant,
			Digest:       p.Digest,
			Size:         p.Size,
			MediaType:    p.MediaType,
		})
	}

	buildHistory := make([]xr.BuildStep, 0, len(result.BuildHistory))
	for _, h := range result.BuildHistory {
		buildHistory = append(buildHistory, xr.BuildStep{Step: h.Step, CreatedBy: h.CreatedBy, Created: h.Created})
	}

	var isMultiPlatform *bool
	if result.IsMultiPlatform {
		v := true
		isMultiPlatform = &v
	}

	metadata := xr.VersionMetadata{
		Digest:             result.Digest,
		Description:        result.Description,
		ManifestMediaType:  result.ManifestMediaType,
		SchemaVersion:      result.SchemaVersion,
		Architecture:       result.Architecture,
		OS:                 result.OS,
		SizeBytes:          result.SizeBytes,
		LayersCount:        len(result.Layers),
		IsMultiPlatform:    isMultiPlatform,
		AvailablePlatforms: platforms,
		OCILabels:          result.OCILabels,
		Environment:        result.Environment,
		Entrypoint:         result.Entrypoint,
		Cmd:                result.Cmd,
		User:               result.User,
		WorkingDir:         result.WorkingDir,
		ExposedPorts:       result.ExposedPorts,
		Volumes:            result.Volumes,
		Detail:             result.Detail,
	}

	return xr.VersionDoc{
		Common:       xr.NewCommon(baseURL, xid, createdAt, createdAt),
		VersionID:    tag,
		IsDefault:    isDefault,
		Metadata:     metadata,
		Layers:       layers,
		BuildHistory: buildHistory,
		URLs: xr.VersionURLs{
			Pull:     b.RegistryURL + "/v2/" + imageName + "/manifests/" + tag,
			Manifest: b.RegistryURL + "/v2/" + imageName + "/manifests/" + tag,
		},
	}
}
