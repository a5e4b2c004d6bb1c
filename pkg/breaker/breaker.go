// Package breaker tracks consecutive upstream failures per backend and
// short-circuits to service_unavailable during a cool-down period, per
// spec.md §5 ("Circuit-breaker: after N consecutive upstream errors per
// backend, short-circuit to 503 service_unavailable for a cool-down
// period (implementation choice; not normative)").
//
// The accumulate-signals-then-derive-a-state shape mirrors the teacher's
// pkg/health scorer, retargeted from a vulnerability/freshness health
// score to an open/closed trip state.
package breaker

import (
	"sync"
	"time"
)

// Defaults fixed by SPEC_FULL.md §4 since spec.md leaves the thresholds to
// the implementation.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

type state struct {
	consecutiveFailures int
	openedAt            time.Time
}

// Registry tracks breaker state per backend name. Safe for concurrent use.
type Registry struct {
	mu               sync.Mutex
	byBackend        map[string]*state
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
}

// New creates a Registry with the given thresholds. Pass zero values to use
// the package defaults.
func New(failureThreshold int, cooldown time.Duration) *Registry {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Registry{
		byBackend:        make(map[string]*state),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

func (r *Registry) entry(backendName string) *state {
	s, ok := r.byBackend[backendName]
	if !ok {
		s = &state{}
		r.byBackend[backendName] = s
	}
	return s
}

// RecordSuccess resets the failure count for backendName, closing the
// breaker if it was open.
func (r *Registry) RecordSuccess(backendName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(backendName)
	s.consecutiveFailures = 0
	s.openedAt = time.Time{}
}

// RecordFailure increments the failure count for backendName, opening the
// breaker once the threshold is reached.
func (r *Registry) RecordFailure(backendName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(backendName)
	s.consecutiveFailures++
	if s.consecutiveFailures >= r.failureThreshold && (s.openedAt.IsZero() || r.now().Sub(s.openedAt) >= r.cooldown) {
		s.openedAt = r.now()
	}
}

// Open reports whether backendName's breaker is currently open (i.e.
// requests to it should short-circuit to 503). Once the cool-down elapses
// the breaker half-opens: Open returns false again so the next request can
// probe upstream, but the failure count is left intact until a success is
// recorded.
func (r *Registry) Open(backendName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byBackend[backendName]
	if !ok || s.openedAt.IsZero() {
		return false
	}
	if r.now().Sub(s.openedAt) >= r.cooldown {
		return false
	}
	return true
}
