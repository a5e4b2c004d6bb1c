package router

import (
	"context"
	"net/http"

	"github.com/ociregistryx/wrapper/pkg/backend"
	"github.com/ociregistryx/wrapper/pkg/breaker"
	"github.com/ociregistryx/wrapper/pkg/upstream"
)

// guardedClient wraps an upstream Client with the per-backend circuit
// breaker of spec.md §5 "Resource caps" — consecutive transport or 5xx
// failures short-circuit subsequent calls to 503 for a cooldown window rather
// than dispatching a doomed request. 4xx errors neither count as failures nor
// reset the count.
type guardedClient struct {
	inner   Client
	breaker *breaker.Registry
}

// NewGuardedClient wraps inner with breaker-aware short-circuiting.
func NewGuardedClient(inner Client, br *breaker.Registry) Client {
	return &guardedClient{inner: inner, breaker: br}
}

func (g *guardedClient) OCIRequest(ctx context.Context, b backend.Backend, path, method string, extraHeaders http.Header) (*upstream.Response, error) {
	if g.breaker.Open(b.Name) {
		return nil, &upstream.Error{Backend: b.Name, Status: http.StatusServiceUnavailable, Detail: "circuit breaker open for backend " + b.Name}
	}
	resp, err := g.inner.OCIRequest(ctx, b, path, method, extraHeaders)
	if err != nil {
		if ue, ok := err.(*upstream.Error); ok && ue.Status < http.StatusInternalServerError {
			// A 4xx is an answer from a reachable upstream, not a breaker failure.
			return nil, err
		}
		g.breaker.RecordFailure(b.Name)
		return nil, err
	}
	g.breaker.RecordSuccess(b.Name)
	return resp, nil
}
