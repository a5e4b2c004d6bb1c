package ociimage

import "testing"

func TestClassifyMediaType(t *testing.T) {
	cases := []struct {
		name          string
		mediaType     string
		schemaVersion int
		want          Kind
	}{
		{"docker-manifest-v2", MediaTypeDockerManifestV2, 2, KindManifestOrImage},
		{"oci-manifest-v1", MediaTypeOCIImageManifestV1, 2, KindManifestOrImage},
		{"docker-manifest-list-v2", MediaTypeDockerManifestListV2, 2, KindManifestListOrIndex},
		{"oci-image-index-v1", MediaTypeOCIImageIndexV1, 2, KindManifestListOrIndex},
		{"docker-manifest-v1-explicit", MediaTypeDockerManifestV1, 1, KindSchema1},
		{"schema1-no-mediatype", "", 1, KindSchema1},
		{"schema2-no-mediatype", "", 2, KindManifestOrImage},
		{"unknown", "application/x-bogus", 0, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyMediaType(tc.mediaType, tc.schemaVersion)
			if got != tc.want {
				t.Fatalf("ClassifyMediaType(%q, %d) = %v, want %v", tc.mediaType, tc.schemaVersion, got, tc.want)
			}
		})
	}
}

func TestSchema1CompatibilityEffectiveSize(t *testing.T) {
	cases := []struct {
		name string
		c    Schema1Compatibility
		want int64
	}{
		{"uppercase-size", Schema1Compatibility{Size: 42}, 42},
		{"lowercase-size", Schema1Compatibility{Size2: 7}, 7},
		{"both-set-prefers-uppercase", Schema1Compatibility{Size: 1, Size2: 2}, 1},
		{"neither-set", Schema1Compatibility{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.EffectiveSize(); got != tc.want {
				t.Fatalf("EffectiveSize() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAcceptHeaderContainsAllFourMediaTypes(t *testing.T) {
	for _, mt := range []string{
		MediaTypeDockerManifestV2,
		MediaTypeDockerManifestListV2,
		MediaTypeOCIImageManifestV1,
		MediaTypeOCIImageIndexV1,
	} {
		if !contains(AcceptHeader, mt) {
			t.Fatalf("AcceptHeader missing %q: %s", mt, AcceptHeader)
		}
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
