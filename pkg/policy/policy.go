// Package policy evaluates whether a repository may appear in a backend's
// catalog listing, via an embedded OPA/Rego module (SPEC_FULL.md §4
// "Catalog policy").
//
// Adapted from the teacher's pkg/policy/service.go, which evaluated
// push/signature/vulnerability gates for a write-path registry; this
// façade is read-only, so the same rego.New/PrepareForEval/Eval shape is
// retargeted to a single allow/deny decision over catalog visibility.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"
)

// defaultModule allows every repository unless its namespace is exactly
// equal to one of input.denied_prefixes; no glob or prefix matching is
// done. It is a placeholder policy an operator is expected to replace via
// UpdatePolicy.
const defaultModule = `
package ociregistryx.catalog

default allow = true

violations[msg] {
	input.denied_prefixes[_] == input.namespace
	msg := sprintf("namespace %q is denylisted for catalog listing", [input.namespace])
}

allow = false {
	count(violations) > 0
}
`

// Input is the data evaluated against the catalog policy for one repository.
type Input struct {
	Backend        string   `json:"backend"`
	Repository     string   `json:"repository"`
	Namespace      string   `json:"namespace"`
	DeniedPrefixes []string `json:"denied_prefixes"`
}

// Service holds the current catalog-visibility policy, swappable at runtime
// under a read/write lock (spec.md §9 "Token cache as shared state" — the
// same compare-and-swap-friendly shape applies here).
type Service struct {
	mu     sync.RWMutex
	module string
}

// New constructs a Service with the default allow-all-except-denylisted
// policy.
func New() *Service {
	return &Service{module: defaultModule}
}

// CurrentPolicy returns the active Rego module source.
func (s *Service) CurrentPolicy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.module
}

// UpdatePolicy replaces the active module after a compile check.
func (s *Service) UpdatePolicy(ctx context.Context, module string) error {
	if _, err := rego.New(
		rego.Query("data.ociregistryx.catalog.allow"),
		rego.Module("catalog.rego", module),
	).PrepareForEval(ctx); err != nil {
		return fmt.Errorf("invalid policy syntax: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.module = module
	return nil
}

// Allow evaluates input against the active policy.
func (s *Service) Allow(ctx context.Context, input Input) (bool, []string, error) {
	s.mu.RLock()
	module := s.module
	s.mu.RUnlock()

	query, err := rego.New(
		rego.Query("data.ociregistryx.catalog.allow"),
		rego.Module("catalog.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("preparing catalog policy: %w", err)
	}

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, nil, fmt.Errorf("evaluating catalog policy: %w", err)
	}
	if len(results) == 0 {
		return false, nil, fmt.Errorf("catalog policy returned no result")
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, nil, fmt.Errorf("catalog policy returned non-boolean result")
	}

	if allowed {
		return true, nil, nil
	}

	vQuery, err := rego.New(
		rego.Query("data.ociregistryx.catalog.violations"),
		rego.Module("catalog.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return false, nil, nil
	}
	vResults, err := vQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil || len(vResults) == 0 {
		return false, nil, nil
	}
	var violations []string
	if msgs, ok := vResults[0].Expressions[0].Value.([]interface{}); ok {
		for _, m := range msgs {
			violations = append(violations, fmt.Sprint(m))
		}
	}
	return false, violations, nil
}
