// Package router implements the Router/Projection Layer (C5, spec.md §4.5):
// the full xRegistry URL surface over a set of OCI backends, wiring
// together the backend registry (C7), upstream client (C1), response cache
// (C2), projector (C3), and request-flag pipeline (C4).
//
// Route table shape (gorilla/mux, global logging+CORS middleware, one flat
// route table) is grounded in the teacher's root main.go; this
// façade's surface is read-only, so every non-GET/OPTIONS route returns 405
// instead of dispatching to a write handler (spec.md §8 property 7).
package router

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/ociregistryx/wrapper/pkg/backend"
	"github.com/ociregistryx/wrapper/pkg/cache"
	"github.com/ociregistryx/wrapper/pkg/flags"
	"github.com/ociregistryx/wrapper/pkg/policy"
	"github.com/ociregistryx/wrapper/pkg/problem"
	"github.com/ociregistryx/wrapper/pkg/schemavalidate"
	"github.com/ociregistryx/wrapper/pkg/xr"
)

// Router holds everything the xRegistry HTTP surface needs to serve a
// request.
type Router struct {
	Backends        *backend.Registry
	Upstream        Client
	Cache           cache.Store
	Policy          *policy.Service
	SchemaValidator *schemavalidate.Validator
	BaseURL         string
	DevMode         bool
	EnrichmentCap   int
}

// New constructs a Router. enrichmentCap<=0 uses flags.DefaultEnrichmentCap.
func New(backends *backend.Registry, upstreamClient Client, cacheStore cache.Store, pol *policy.Service, validator *schemavalidate.Validator, baseURL string, devMode bool, enrichmentCap int) *Router {
	if enrichmentCap <= 0 {
		enrichmentCap = flags.DefaultEnrichmentCap
	}
	return &Router{
		Backends:        backends,
		Upstream:        upstreamClient,
		Cache:           cacheStore,
		Policy:          pol,
		SchemaValidator: validator,
		BaseURL:         strings.TrimRight(baseURL, "/"),
		DevMode:         devMode,
		EnrichmentCap:   enrichmentCap,
	}
}

// Handler builds the complete mux.Router, wrapped in the details-suffix and
// logging/CORS middleware.
func (rt *Router) Handler() http.Handler {
	m := mux.NewRouter()
	m.StrictSlash(false)

	m.HandleFunc("/", rt.methodGate(rt.handleRoot)).Methods(http.MethodGet, http.MethodOptions)
	m.HandleFunc("/capabilities", rt.methodGate(rt.handleCapabilities)).Methods(http.MethodGet, http.MethodOptions)
	m.HandleFunc("/model", rt.methodGate(rt.handleModel)).Methods(http.MethodGet, http.MethodOptions)

	groupsPrefix := "/" + xr.GroupsType
	m.HandleFunc(groupsPrefix, rt.methodGate(rt.handleGroupsCollection)).Methods(http.MethodGet, http.MethodOptions)
	m.HandleFunc(groupsPrefix+"/{group}", rt.methodGate(rt.handleGroup)).Methods(http.MethodGet, http.MethodOptions)
	m.HandleFunc(groupsPrefix+"/{group}/"+xr.ResourceType, rt.methodGate(rt.handleResourcesCollection)).Methods(http.MethodGet, http.MethodOptions)
	m.HandleFunc(groupsPrefix+"/{group}/"+xr.ResourceType+"/{id}", rt.methodGate(rt.handleResource)).Methods(http.MethodGet, http.MethodOptions)
	m.HandleFunc(groupsPrefix+"/{group}/"+xr.ResourceType+"/{id}/meta", rt.methodGate(rt.handleMeta)).Methods(http.MethodGet, http.MethodOptions)
	m.HandleFunc(groupsPrefix+"/{group}/"+xr.ResourceType+"/{id}/doc", rt.methodGate(rt.handleDoc)).Methods(http.MethodGet, http.MethodOptions)
	m.HandleFunc(groupsPrefix+"/{group}/"+xr.ResourceType+"/{id}/versions", rt.methodGate(rt.handleVersionsCollection)).Methods(http.MethodGet, http.MethodOptions)
	m.HandleFunc(groupsPrefix+"/{group}/"+xr.ResourceType+"/{id}/versions/{vid}", rt.methodGate(rt.handleVersion)).Methods(http.MethodGet, http.MethodOptions)

	m.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, problem.New(problem.KindAPINotFound, "no route matches "+r.URL.Path), rt.DevMode)
	})
	m.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, problem.New(problem.KindMethodNotAllowed, "method "+r.Method+" not allowed; this façade is read-only"), rt.DevMode)
	})

	return globalMiddleware(detailsMiddleware(m))
}

// methodGate answers OPTIONS with 204 and routes everything else to fn
// (spec.md §8 property 7 "read-only law").
func (rt *Router) methodGate(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		fn(w, r)
	}
}

// detailsMiddleware strips a trailing "$details" path segment and sets the
// marker header spec.md §4.5 requires.
func detailsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "$details") {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "$details")
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
			if r.URL.Path == "" {
				r.URL.Path = "/"
			}
			w.Header().Set("X-Registry-Details", "true")
		}
		next.ServeHTTP(w, r)
	})
}

// globalMiddleware applies request logging and CORS preflight handling,
// grounded in the teacher's root main.go globalMiddleware. Each request is
// tagged with a generated request id, echoed via X-Request-Id, so a single
// request's log line can be correlated with the response it produced.
func globalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)

		start := time.Now()
		defer func() {
			log.Printf("[%s] %s %s %s", reqID, r.Method, r.URL.Path, time.Since(start))
		}()

		problem.SetCommonHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
