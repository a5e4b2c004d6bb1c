package router_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ociregistryx/wrapper/pkg/backend"
	"github.com/ociregistryx/wrapper/pkg/cache"
	"github.com/ociregistryx/wrapper/pkg/policy"
	"github.com/ociregistryx/wrapper/pkg/router"
	"github.com/ociregistryx/wrapper/pkg/schemavalidate"
	"github.com/ociregistryx/wrapper/pkg/tokencache"
	"github.com/ociregistryx/wrapper/pkg/upstream"
)

func key(parts ...string) string { return strings.Join(parts, "|") }

func newTestRouter(t *testing.T, backends []backend.Config, up router.Client) *router.Router {
	t.Helper()
	reg, err := backend.NewRegistry(backends)
	require.NoError(t, err)

	cacheStore := cache.NewFSStore(t.TempDir())
	pol := policy.New()
	validator, err := schemavalidate.New()
	require.NoError(t, err)

	return router.New(reg, up, cacheStore, pol, validator, "http://example.test", true, 20)
}

// newHTTPUpstream returns a real *upstream.Client, so the tests exercise the
// actual OCI v2 HTTP path against an httptest.Server instead of a hand-rolled
// stub.
func newHTTPUpstream() *upstream.Client {
	return upstream.New(tokencache.New(nil), upstream.DefaultTimeout)
}

func TestRouterEndToEnd(t *testing.T) {
	repos := make([]string, 23)
	for i := range repos {
		repos[i] = fmt.Sprintf("repo-%02d", i)
	}
	tagsByRepo := map[string][]string{
		"nginx":         {"latest", "1.25"},
		"dotnet/runtime": {"8.0"},
	}
	for _, r := range repos {
		tagsByRepo[r] = []string{"latest"}
	}

	nginxManifest := `{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json","config":{"mediaType":"application/vnd.docker.container.image.v1+json","digest":"sha256:cfgnginx","size":100},"layers":[{"mediaType":"application/vnd.docker.image.rootfs.diff.tar.gzip","digest":"sha256:layer1","size":1000}]}`
	nginxConfig := `{"architecture":"amd64","os":"linux","created":"2024-01-01T00:00:00Z","config":{"Labels":{"org.opencontainers.image.title":"nginx"}},"history":[]}`

	dotnetList := `{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.list.v2+json","manifests":[{"mediaType":"application/vnd.docker.distribution.manifest.v2+json","digest":"sha256:amd64digest","size":500,"platform":{"architecture":"amd64","os":"linux"}},{"mediaType":"application/vnd.docker.distribution.manifest.v2+json","digest":"sha256:arm64digest","size":500,"platform":{"architecture":"arm64","os":"linux"}}]}`
	dotnetSubManifest := `{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json","config":{"digest":"sha256:cfgdotnet","size":50},"layers":[{"digest":"sha256:dlayer1","size":200},{"digest":"sha256:dlayer2","size":300}]}`
	dotnetConfig := `{"architecture":"amd64","os":"linux","created":"2024-02-02T00:00:00Z","config":{}}`

	repoTagManifest := map[string]string{
		key("nginx", "latest"):           nginxManifest,
		key("nginx", "1.25"):             nginxManifest,
		key("dotnet/runtime", "8.0"):     dotnetList,
	}
	digestManifest := map[string]string{
		"sha256:amd64digest": dotnetSubManifest,
	}
	blobs := map[string]string{
		"sha256:cfgnginx":  nginxConfig,
		"sha256:cfgdotnet": dotnetConfig,
	}
	for _, r := range repos {
		repoTagManifest[key(r, "latest")] = nginxManifest
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/v2/_catalog":
			body, _ := json.Marshal(map[string]interface{}{"repositories": repos})
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
		case strings.HasSuffix(r.URL.Path, "/tags/list"):
			repo := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v2/"), "/tags/list")
			tags := tagsByRepo[repo]
			body, _ := json.Marshal(map[string]interface{}{"name": repo, "tags": tags})
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
		case strings.Contains(r.URL.Path, "/manifests/"):
			rest := strings.TrimPrefix(r.URL.Path, "/v2/")
			parts := strings.SplitN(rest, "/manifests/", 2)
			repo, ref := parts[0], parts[1]
			var body string
			if strings.HasPrefix(ref, "sha256:") {
				body = digestManifest[ref]
			} else {
				body = repoTagManifest[key(repo, ref)]
			}
			if body == "" {
				http.Error(w, `{"errors":[{"code":"MANIFEST_UNKNOWN","message":"not found"}]}`, http.StatusNotFound)
				return
			}
			w.Header().Set("Docker-Content-Digest", "sha256:deadbeef")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(body))
		case strings.Contains(r.URL.Path, "/blobs/"):
			rest := strings.TrimPrefix(r.URL.Path, "/v2/")
			parts := strings.SplitN(rest, "/blobs/", 2)
			digest := parts[1]
			body := blobs[digest]
			if body == "" {
				http.Error(w, `{"errors":[{"code":"BLOB_UNKNOWN","message":"not found"}]}`, http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(body))
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	up := newHTTPUpstream()
	rt := newTestRouter(t, []backend.Config{{Name: "dockerhub", RegistryURL: srv.URL}}, up)
	handler := rt.Handler()

	t.Run("S1 registry root", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		assert.Equal(t, "1.0", doc["specversion"])
		assert.Equal(t, "oci-wrapper", doc["registryid"])
		assert.Equal(t, "/", doc["xid"])
		assert.Equal(t, float64(1), doc["containerregistriescount"])

		capReq := httptest.NewRequest(http.MethodGet, "/capabilities", nil)
		capW := httptest.NewRecorder()
		handler.ServeHTTP(capW, capReq)
		var capDoc map[string]interface{}
		require.NoError(t, json.Unmarshal(capW.Body.Bytes(), &capDoc))
		assert.Equal(t, true, capDoc["pagination"])
	})

	t.Run("S2 happy resource", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/containerregistries/dockerhub/images/nginx", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		assert.Equal(t, "nginx", doc["imageid"])
		assert.Equal(t, "latest", doc["versionid"])
		assert.Equal(t, true, doc["isdefault"])
		assert.Equal(t, "/containerregistries/dockerhub/images/nginx", doc["xid"])
	})

	t.Run("S3 meta", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/containerregistries/dockerhub/images/nginx/meta", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		assert.Equal(t, true, doc["readonly"])
		assert.Equal(t, "latest", doc["defaultversionid"])
		assert.Equal(t, false, doc["defaultversionsticky"])
	})

	t.Run("S4 multi-platform version", func(t *testing.T) {
		path := "/containerregistries/dockerhub/images/" + strings.ReplaceAll("dotnet/runtime", "/", "~") + "/versions/8.0"
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		metadata := doc["metadata"].(map[string]interface{})
		assert.Equal(t, true, metadata["is_multi_platform"])
		assert.Equal(t, "amd64", metadata["architecture"])
		assert.Equal(t, "linux", metadata["os"])
		platforms, ok := metadata["available_platforms"].([]interface{})
		require.True(t, ok)
		assert.NotEmpty(t, platforms)
		assert.Greater(t, metadata["layers_count"].(float64), float64(0))
	})

	t.Run("S5 filter without name yields empty collection", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/containerregistries/dockerhub/images?filter=description=*foo*", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		assert.Empty(t, doc)
		assert.Empty(t, w.Header().Get("Link"))
	})

	t.Run("S6 not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/containerregistries/dockerhub/images/nonexistent-xyz", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusNotFound, w.Code)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		assert.Contains(t, doc["type"], "entity_not_found")
		assert.Equal(t, float64(404), doc["status"])
		assert.Contains(t, doc["title"], "not found")
	})

	t.Run("S7 epoch mismatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/containerregistries/dockerhub/images/nginx?epoch=999", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusConflict, w.Code)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		assert.True(t, strings.HasSuffix(doc["type"].(string), "#epoch_error"))
	})

	t.Run("S8 pagination", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/containerregistries/dockerhub/images?limit=10&offset=10", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		assert.Len(t, doc, 10)
		link := w.Header().Get("Link")
		assert.Contains(t, link, `rel="prev"`)
		assert.Contains(t, link, `rel="next"`)
		assert.Contains(t, link, `rel="last"`)
		assert.Contains(t, link, "offset=20")
	})

	t.Run("S9 inline versions and meta", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/containerregistries/dockerhub/images/nginx?inline=versions,meta", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))

		meta, ok := doc["meta"].(map[string]interface{})
		require.True(t, ok, "meta should be inlined")
		assert.Equal(t, "latest", meta["defaultversionid"])

		versions, ok := doc["versions"].(map[string]interface{})
		require.True(t, ok, "versions should be inlined")
		assert.Len(t, versions, 2)
		assert.Contains(t, versions, "latest")
		assert.Contains(t, versions, "1.25")
	})

	t.Run("S10 plain resource fetch does not inline", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/containerregistries/dockerhub/images/nginx", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		assert.NotContains(t, doc, "versions")
		assert.NotContains(t, doc, "meta")
	})
}

func TestRouterUnknownBackend404(t *testing.T) {
	up := newHTTPUpstream()
	rt := newTestRouter(t, nil, up)
	req := httptest.NewRequest(http.MethodGet, "/containerregistries/ghost/images/nginx", nil)
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterMethodNotAllowed(t *testing.T) {
	up := newHTTPUpstream()
	rt := newTestRouter(t, []backend.Config{{Name: "dockerhub", RegistryURL: "http://unused.invalid"}}, up)
	req := httptest.NewRequest(http.MethodPost, "/containerregistries/dockerhub/images/nginx", nil)
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouterOptionsPreflight(t *testing.T) {
	up := newHTTPUpstream()
	rt := newTestRouter(t, []backend.Config{{Name: "dockerhub", RegistryURL: "http://unused.invalid"}}, up)
	req := httptest.NewRequest(http.MethodOptions, "/containerregistries/dockerhub/images/nginx", nil)
	w := httptest.NewRecorder()
	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
