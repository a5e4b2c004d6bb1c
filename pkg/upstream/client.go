// Package upstream implements the OCI Distribution v2 client (C1, spec.md
// §4.1): bearer/basic auth acquisition, request execution against a
// configured backend, and transport-error classification.
//
// The challenge/response bearer flow is grounded in the Docker-Hub-token
// exchange used by the pack's ossamalafhel-registry OCI validator
// (internal/validators/registries/oci.go's getDockerIoAuthToken), generalized
// here to parse the realm from a live Www-Authenticate challenge instead of
// hard-coding auth.docker.io.
package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ociregistryx/wrapper/pkg/backend"
	"github.com/ociregistryx/wrapper/pkg/ociimage"
	"github.com/ociregistryx/wrapper/pkg/tokencache"
)

// DefaultTimeout is the per-request timeout mandated by spec.md §4.1.
const DefaultTimeout = 30 * time.Second

// Error is a typed upstream error carrying the status, upstream-reported
// detail, and the backend name (spec.md §4.1 "status ≥ 400 raises a typed
// error").
type Error struct {
	Backend string
	Status  int
	Detail  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s: status %d: %s", e.Backend, e.Status, e.Detail)
}

// Response is the result of a successful upstream call (status < 400);
// any status >= 400 is returned as *Error instead.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// errorBody mirrors the Docker/OCI distribution error envelope, used to
// extract a human-readable detail (spec.md §4.1).
type errorBody struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Client performs OCI v2 requests against configured backends.
type Client struct {
	HTTPClient *http.Client
	Tokens     *tokencache.Cache
	Timeout    time.Duration
}

// New creates a Client. tokens may be a cache shared across the process;
// passing tokencache.New(nil) gives a private in-process cache.
func New(tokens *tokencache.Cache, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		HTTPClient: &http.Client{},
		Tokens:     tokens,
		Timeout:    timeout,
	}
}

// scopeForPath derives the repository:{repo}:pull scope from a /v2/ request
// path, per spec.md §4.1 step 1.
func scopeForPath(path string) (repo string, scope string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/v2/")
	switch {
	case strings.Contains(trimmed, "/manifests/"):
		repo = strings.SplitN(trimmed, "/manifests/", 2)[0]
	case strings.Contains(trimmed, "/blobs/"):
		repo = strings.SplitN(trimmed, "/blobs/", 2)[0]
	default:
		return "", "", false
	}
	return repo, fmt.Sprintf("repository:%s:pull", repo), true
}

// OCIRequest performs an OCI v2 request against a backend, acquiring
// bearer/basic auth lazily on first use per (backend,scope) (spec.md §4.1).
func (c *Client) OCIRequest(ctx context.Context, b backend.Backend, path, method string, extraHeaders http.Header) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	fullURL := strings.TrimRight(b.RegistryURL, "/") + path

	doRequest := func(authHeader string) (*http.Response, []byte, error) {
		req, err := http.NewRequestWithContext(reqCtx, method, fullURL, nil)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Accept", ociimage.AcceptHeader)
		for k, vs := range extraHeaders {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, err
		}
		return resp, body, nil
	}

	authHeader, err := c.authHeader(reqCtx, b, path)
	if err != nil {
		return nil, err
	}

	resp, body, err := doRequest(authHeader)
	if err != nil {
		return nil, classifyTransportError(b.Name, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && authHeader != "" {
		// Cached token rejected: drop it and re-acquire once.
		if _, scope, ok := scopeForPath(path); ok {
			c.Tokens.Put(reqCtx, b.Name, scope, tokencache.Entry{ExpiresAt: time.Now()})
		}
		authHeader, err = c.acquireAuth(reqCtx, b, path)
		if err == nil {
			resp, body, err = doRequest(authHeader)
			if err != nil {
				return nil, classifyTransportError(b.Name, err)
			}
		}
	}

	if resp.StatusCode >= 500 {
		return nil, &Error{Backend: b.Name, Status: resp.StatusCode, Detail: extractDetail(body)}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Backend: b.Name, Status: resp.StatusCode, Detail: extractDetail(body)}
	}

	return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

func extractDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && len(eb.Errors) > 0 {
		return eb.Errors[0].Message
	}
	return ""
}

func classifyTransportError(backendName string, err error) error {
	return &Error{Backend: backendName, Status: http.StatusServiceUnavailable, Detail: err.Error()}
}

// authHeader returns the Authorization header value for this request: basic
// credentials, a cached bearer token for the scope, or, when no token is
// cached yet, one freshly acquired via acquireAuth.
func (c *Client) authHeader(ctx context.Context, b backend.Backend, path string) (string, error) {
	if b.HasBasicAuth() {
		return basicAuthHeader(b), nil
	}
	_, scope, ok := scopeForPath(path)
	if !ok {
		return "", nil
	}
	if entry, found := c.Tokens.Get(ctx, b.Name, scope); found {
		return "Bearer " + entry.Token, nil
	}
	// No cached token yet: acquire one now so the first request already
	// carries auth (avoids a guaranteed round-trip on every cold path).
	return c.acquireAuth(ctx, b, path)
}

func basicAuthHeader(b backend.Backend) string {
	raw := b.Username + ":" + b.Password.Reveal()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// acquireAuth implements spec.md §4.1's acquisition algorithm: basic auth
// when static credentials are configured, otherwise an unauthenticated
// GET /v2/ to read the Www-Authenticate challenge and exchange it for a
// bearer token, cached per (backend,scope).
func (c *Client) acquireAuth(ctx context.Context, b backend.Backend, path string) (string, error) {
	if b.HasBasicAuth() {
		return basicAuthHeader(b), nil
	}

	repo, scope, hasScope := scopeForPath(path)
	if !hasScope {
		return "", nil
	}

	challenge, err := c.probeChallenge(ctx, b)
	if err != nil {
		return "", err
	}
	if challenge == nil {
		// Registry allows anonymous access for this path.
		return "", nil
	}

	token, expiresIn, err := c.exchangeToken(ctx, *challenge, repo, scope)
	if err != nil {
		return "", err
	}

	expiry := time.Time{}
	if expiresIn > 0 {
		expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	c.Tokens.Put(ctx, b.Name, scope, tokencache.Entry{Token: token, ExpiresAt: expiry})
	return "Bearer " + token, nil
}

type bearerChallenge struct {
	Realm   string
	Service string
}

// probeChallenge issues an unauthenticated GET /v2/ and parses the
// Www-Authenticate: Bearer realm=...,service=... header (spec.md §4.1 step 3).
// Retry budget is 1 (spec.md §5): a single probe attempt.
func (c *Client) probeChallenge(ctx context.Context, b backend.Backend) (*bearerChallenge, error) {
	reqURL := strings.TrimRight(b.RegistryURL, "/") + "/v2/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(b.Name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusUnauthorized {
		return nil, nil
	}
	return parseBearerChallenge(resp.Header.Get("Www-Authenticate"))
}

func parseBearerChallenge(header string) (*bearerChallenge, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, nil
	}
	rest := strings.TrimPrefix(header, "Bearer ")
	fields := map[string]string{}
	for _, part := range strings.Split(rest, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields[kv[0]] = strings.Trim(kv[1], `"`)
	}
	if fields["realm"] == "" {
		return nil, fmt.Errorf("bearer challenge missing realm")
	}
	return &bearerChallenge{Realm: fields["realm"], Service: fields["service"]}, nil
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// exchangeToken follows the realm with ?service=...&scope=... and returns
// the token/access_token along with its declared lifetime (spec.md §4.1).
func (c *Client) exchangeToken(ctx context.Context, ch bearerChallenge, repo, scope string) (string, int, error) {
	u, err := url.Parse(ch.Realm)
	if err != nil {
		return "", 0, fmt.Errorf("invalid realm %q: %w", ch.Realm, err)
	}
	q := u.Query()
	if ch.Service != "" {
		q.Set("service", ch.Service)
	}
	q.Set("scope", scope)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token exchange failed with status %s: %s", strconv.Itoa(resp.StatusCode), string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("parsing token response: %w", err)
	}
	token := tr.Token
	if token == "" {
		token = tr.AccessToken
	}
	if token == "" {
		return "", 0, fmt.Errorf("token exchange response missing token")
	}
	return token, tr.ExpiresIn, nil
}
