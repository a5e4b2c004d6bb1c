package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ociregistryx/wrapper/pkg/backend"
	"github.com/ociregistryx/wrapper/pkg/secret"
	"github.com/ociregistryx/wrapper/pkg/tokencache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOCIRequestBearerFlow(t *testing.T) {
	var authMux *http.ServeMux
	var registrySrv, authSrv *httptest.Server

	authMux = http.NewServeMux()
	authMux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "repository:nginx:pull", r.URL.Query().Get("scope"))
		json.NewEncoder(w).Encode(map[string]any{"token": "test-token", "expires_in": 300})
	})
	authSrv = httptest.NewServer(authMux)
	defer authSrv.Close()

	registryMux := http.NewServeMux()
	registryMux.HandleFunc("/v2/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("Www-Authenticate", fmt.Sprintf(`Bearer realm="%s/token",service="registry.example"`, authSrv.URL))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	registryMux.HandleFunc("/v2/nginx/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Docker-Content-Digest", "sha256:abc")
		w.Write([]byte(`{"schemaVersion":2}`))
	})
	registrySrv = httptest.NewServer(registryMux)
	defer registrySrv.Close()

	b := backend.Backend{Name: "test", RegistryURL: registrySrv.URL}
	client := New(tokencache.New(nil), 0)

	resp, err := client.OCIRequest(context.Background(), b, "/v2/nginx/manifests/latest", http.MethodGet, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "sha256:abc", resp.Headers.Get("Docker-Content-Digest"))

	// Second request should reuse the cached token without hitting /v2/ first.
	resp2, err := client.OCIRequest(context.Background(), b, "/v2/nginx/manifests/latest", http.MethodGet, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp2.Status)
}

func TestOCIRequestBasicAuthPreferred(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/nginx/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", u)
		assert.Equal(t, "s3cr3t", p)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := backend.Backend{Name: "test", RegistryURL: srv.URL, Username: "alice", Password: secret.New("s3cr3t")}
	client := New(tokencache.New(nil), 0)
	resp, err := client.OCIRequest(context.Background(), b, "/v2/nginx/manifests/latest", http.MethodGet, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestOCIRequest404BecomesTypedError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v2/missing/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[{"code":"MANIFEST_UNKNOWN","message":"manifest unknown"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := backend.Backend{Name: "test", RegistryURL: srv.URL}
	client := New(tokencache.New(nil), 0)
	_, err := client.OCIRequest(context.Background(), b, "/v2/missing/manifests/latest", http.MethodGet, nil)
	require.Error(t, err)

	var upErr *Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 404, upErr.Status)
	assert.Equal(t, "manifest unknown", upErr.Detail)
}

func TestParseBearerChallenge(t *testing.T) {
	ch, err := parseBearerChallenge(`Bearer realm="https://auth.docker.io/token",service="registry.docker.io"`)
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, "https://auth.docker.io/token", ch.Realm)
	assert.Equal(t, "registry.docker.io", ch.Service)
}

func TestParseBearerChallengeNonBearer(t *testing.T) {
	ch, err := parseBearerChallenge(`Basic realm="x"`)
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func TestScopeForPath(t *testing.T) {
	repo, scope, ok := scopeForPath("/v2/library/nginx/manifests/latest")
	require.True(t, ok)
	assert.Equal(t, "library/nginx", repo)
	assert.Equal(t, "repository:library/nginx:pull", scope)

	_, _, ok = scopeForPath("/v2/_catalog")
	assert.False(t, ok)
}
