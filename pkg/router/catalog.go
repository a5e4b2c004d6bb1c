package router

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/ociregistryx/wrapper/pkg/backend"
	"github.com/ociregistryx/wrapper/pkg/upstream"
)

// Client is the subset of *upstream.Client the catalog walk depends on.
type Client interface {
	OCIRequest(ctx context.Context, b backend.Backend, path, method string, extraHeaders http.Header) (*upstream.Response, error)
}

type catalogPage struct {
	Repositories []string `json:"repositories"`
}

var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// FetchCatalog walks a backend's catalog endpoint to completion, following
// the upstream `Link: rel="next"` header (spec.md §4.5 step 1). A disabled
// catalogPath yields an empty list. A 401/403 is swallowed to an empty
// list with a warn log — the façade must not leak backend auth state
// (spec.md §7).
func FetchCatalog(ctx context.Context, client Client, b backend.Backend) ([]string, error) {
	if !b.CatalogEnabled() {
		return nil, nil
	}

	path := b.CatalogPath + "?n=1000"
	var repos []string

	for path != "" {
		resp, err := client.OCIRequest(ctx, b, path, http.MethodGet, nil)
		if err != nil {
			if upErr, ok := err.(*upstream.Error); ok && (upErr.Status == http.StatusUnauthorized || upErr.Status == http.StatusForbidden) {
				log.Printf("catalog: backend %s returned %d, treating catalog as empty", b.Name, upErr.Status)
				return nil, nil
			}
			return nil, err
		}

		var page catalogPage
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, err
		}
		repos = append(repos, page.Repositories...)

		path = nextPath(b.RegistryURL, resp.Headers.Get("Link"))
	}

	return repos, nil
}

// nextPath extracts the request path (relative to registryURL) of the
// Link header's rel="next" entry, or "" if absent.
func nextPath(registryURL, linkHeader string) string {
	if linkHeader == "" {
		return ""
	}
	m := linkNextPattern.FindStringSubmatch(linkHeader)
	if m == nil {
		return ""
	}
	next := m[1]
	trimmedBase := strings.TrimRight(registryURL, "/")
	if strings.HasPrefix(next, trimmedBase) {
		return strings.TrimPrefix(next, trimmedBase)
	}
	return next
}
