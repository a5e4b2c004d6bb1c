// Package config loads process configuration from the environment, in the
// same getEnv/getEnvFloat style as the teacher repo's pkg/config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/ociregistryx/wrapper/pkg/backend"
)

// Config is the façade's process-level configuration. Bootstrap, CLI flag
// parsing, and W3C/OTel logging are out of scope per spec.md §1; this is
// deliberately thin.
type Config struct {
	ServerPort string

	// RedisAddr, when set, backs the upstream token cache (spec.md §4.1).
	// Empty disables redis and falls back to an in-process map.
	RedisAddr string

	// CacheRoot is the filesystem response-cache directory (C2, spec.md §4.2).
	CacheRoot string

	// CacheBackend selects "fs" (default, spec-mandated layout) or "s3".
	CacheBackend string
	S3Bucket     string

	// JWTSecret, when non-empty, enables the optional façade bearer-key
	// gate (spec.md §1 non-goals: "authentication of the façade's own
	// clients beyond an optional bearer-key gate").
	JWTSecret string

	// EnrichmentFetchCap bounds how many candidates one request enriches
	// (one after another, not concurrently) for attribute filtering
	// (spec.md §4.4, default 20).
	EnrichmentFetchCap int

	// UpstreamTimeoutSeconds bounds each upstream HTTP call (spec.md §4.1, default 30).
	UpstreamTimeoutSeconds int

	// DevMode controls whether internal_error detail includes diagnostic
	// information (spec.md §7).
	DevMode bool

	// BackendsFile, when set, is read as the JSON backend list; a set
	// BACKENDS_JSON then replaces it (spec.md §4.7 load precedence). The
	// file is read, and must parse, even when BACKENDS_JSON is set.
	BackendsFile string
}

// Load reads configuration from the environment, following the teacher's
// getEnv-with-fallback convention.
func Load() Config {
	return Config{
		ServerPort:             getEnv("SERVER_PORT", ":8080"),
		RedisAddr:              getEnv("REDIS_ADDR", ""),
		CacheRoot:              getEnv("CACHE_ROOT", "./data/cache"),
		CacheBackend:           getEnv("CACHE_BACKEND", "fs"),
		S3Bucket:               getEnv("S3_BUCKET", ""),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		EnrichmentFetchCap:     getEnvInt("ENRICHMENT_FETCH_CAP", 20),
		UpstreamTimeoutSeconds: getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 30),
		DevMode:                getEnv("DEV_MODE", "false") == "true",
		BackendsFile:           getEnv("BACKENDS_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// defaultBackends are the in-process defaults, lowest-precedence tier of
// spec.md §4.7's load order.
func defaultBackends() []backend.Config {
	return []backend.Config{
		{Name: "dockerhub", RegistryURL: "https://registry-1.docker.io"},
	}
}

// LoadBackends implements spec.md §4.7's precedence: in-memory defaults →
// config-file list (if present) → fully replaced by BACKENDS_JSON when set.
func LoadBackends(cfg Config) (*backend.Registry, error) {
	configs := defaultBackends()

	if cfg.BackendsFile != "" {
		data, err := os.ReadFile(cfg.BackendsFile)
		if err != nil {
			return nil, fmt.Errorf("reading backends file: %w", err)
		}
		var fileConfigs []backend.Config
		if err := json.Unmarshal(data, &fileConfigs); err != nil {
			return nil, fmt.Errorf("parsing backends file: %w", err)
		}
		configs = fileConfigs
	}

	if raw, ok := os.LookupEnv("BACKENDS_JSON"); ok && raw != "" {
		var envConfigs []backend.Config
		if err := json.Unmarshal([]byte(raw), &envConfigs); err != nil {
			return nil, fmt.Errorf("parsing BACKENDS_JSON: %w", err)
		}
		configs = envConfigs
	}

	return backend.NewRegistry(configs)
}
