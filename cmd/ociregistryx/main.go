// Command ociregistryx runs the xRegistry-over-OCI façade: it loads
// configuration and the backend list, wires the upstream client, response
// cache, policy engine, schema validator, and the optional bearer-key gate,
// then serves the router's HTTP surface with graceful shutdown.
//
// Bootstrap shape (config load -> dependency construction -> signal-driven
// shutdown) is grounded in the teacher's root main.go; the h2c-wrapped
// listener and the graceful-shutdown sequence (signal.NotifyContext +
// srv.Shutdown) are grounded in the pack's danielloader-oci-pull-through
// cmd/main.go.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/ociregistryx/wrapper/pkg/authgate"
	"github.com/ociregistryx/wrapper/pkg/breaker"
	"github.com/ociregistryx/wrapper/pkg/cache"
	"github.com/ociregistryx/wrapper/pkg/config"
	"github.com/ociregistryx/wrapper/pkg/policy"
	"github.com/ociregistryx/wrapper/pkg/router"
	"github.com/ociregistryx/wrapper/pkg/schemavalidate"
	"github.com/ociregistryx/wrapper/pkg/tokencache"
	"github.com/ociregistryx/wrapper/pkg/upstream"
)

func main() {
	cfg := config.Load()
	log.Printf("starting ociregistryx on %s (cache=%s dev=%v)...", cfg.ServerPort, cfg.CacheBackend, cfg.DevMode)

	backends, err := config.LoadBackends(cfg)
	if err != nil {
		log.Fatalf("failed to load backends: %v", err)
	}
	log.Printf("loaded %d backend(s): %v", backends.Len(), backends.Names())

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("redis at %s unreachable, falling back to in-process token cache: %v", cfg.RedisAddr, err)
			redisClient = nil
		}
	}

	tokens := tokencache.New(redisClient)
	rawClient := upstream.New(tokens, time.Duration(cfg.UpstreamTimeoutSeconds)*time.Second)
	breakers := breaker.New(breaker.DefaultFailureThreshold, breaker.DefaultCooldown)
	guarded := router.NewGuardedClient(rawClient, breakers)

	cacheStore, err := newCacheStore(cfg)
	if err != nil {
		log.Fatalf("failed to initialize response cache: %v", err)
	}

	pol := policy.New()

	validator, err := schemavalidate.New()
	if err != nil {
		log.Fatalf("failed to compile xRegistry schemas: %v", err)
	}

	rt := router.New(backends, guarded, cacheStore, pol, validator, baseURL(cfg), cfg.DevMode, cfg.EnrichmentFetchCap)

	gate := authgate.New(cfg.JWTSecret)
	if gate.Enabled() {
		log.Printf("façade bearer-key gate enabled")
	}
	handler := gate.Middleware(rt.Handler())

	// Wrap with h2c for cleartext HTTP/2 support alongside HTTP/1.1, matching
	// the pack's danielloader-oci-pull-through bootstrap.
	h2s := &http2.Server{}
	srv := &http.Server{
		Addr:         cfg.ServerPort,
		Handler:      h2c.NewHandler(handler, h2s),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received, draining connections...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("shutdown complete")
}

// newCacheStore builds the configured response-cache backend (spec.md §4.2).
func newCacheStore(cfg config.Config) (cache.Store, error) {
	if cfg.CacheBackend == "s3" {
		return cache.NewS3Store(context.Background(), cfg.S3Bucket)
	}
	return cache.NewFSStore(cfg.CacheRoot), nil
}

// baseURL derives the "self"/xid prefix advertised in entity documents from
// the configured listen address, absent a reverse-proxy-aware override.
func baseURL(cfg config.Config) string {
	if v, ok := os.LookupEnv("PUBLIC_BASE_URL"); ok && v != "" {
		return v
	}
	port := cfg.ServerPort
	if len(port) > 0 && port[0] == ':' {
		return "http://localhost" + port
	}
	return "http://" + port
}
