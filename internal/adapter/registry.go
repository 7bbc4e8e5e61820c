package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

var (
	errHealthCheckFailed = errors.New("adapter health check failed")
	errAdapterRunFailed  = errors.New("adapter run reported error/timeout status")
)

// Registry holds the configured toolchain adapters in priority order and
// routes to the first available one, wrapping each in a circuit breaker so a
// chronically crashing binary is temporarily skipped rather than re-invoked
// every cycle (spec §4.3's "adapter unavailable" routing, generalized).
type Registry struct {
	priority []string
	adapters map[string]*breakered
}

type breakered struct {
	inner   Toolchain
	breaker *gobreaker.CircuitBreaker
}

// NewRegistry builds a Registry from a priority-ordered adapter list.
func NewRegistry(priority []string, adapters map[string]Toolchain) *Registry {
	r := &Registry{priority: priority, adapters: make(map[string]*breakered, len(adapters))}
	for name, a := range adapters {
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    5 * time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		r.adapters[name] = &breakered{inner: a, breaker: gobreaker.NewCircuitBreaker(settings)}
	}
	return r
}

// Available reports whether name is known, its binary is present, and its
// breaker is not currently open.
func (r *Registry) Available(name string) bool {
	b, ok := r.adapters[name]
	if !ok {
		return false
	}
	return b.inner.Available() && b.breaker.State() != gobreaker.StateOpen
}

// Get returns the named adapter, or nil if unknown.
func (r *Registry) Get(name string) Toolchain {
	b, ok := r.adapters[name]
	if !ok {
		return nil
	}
	return b
}

// Route implements toolchain routing (spec §4.5): prefer toolHint if
// available, else walk the priority order, else "" for no_adapter.
func (r *Registry) Route(toolHint string) string {
	if toolHint != "" && r.Available(toolHint) {
		return toolHint
	}
	for _, name := range r.priority {
		if r.Available(name) {
			return name
		}
	}
	return ""
}

// AvailableToolchains returns every adapter name currently available, in
// priority order, for speculate candidate selection.
func (r *Registry) AvailableToolchains() []string {
	var out []string
	for _, name := range r.priority {
		if r.Available(name) {
			out = append(out, name)
		}
	}
	return out
}

// breakered adapts Toolchain through the circuit breaker for ExecuteSync and
// HealthCheck; EstimateCost/Available/Name pass straight through since they
// don't launch external processes.
func (b *breakered) Name() string      { return b.inner.Name() }
func (b *breakered) Available() bool   { return b.inner.Available() }
func (b *breakered) EstimateCost(m *Manifest) CostEstimate { return b.inner.EstimateCost(m) }

func (b *breakered) HealthCheck() bool {
	result, err := b.breaker.Execute(func() (any, error) {
		if !b.inner.HealthCheck() {
			return false, errHealthCheckFailed
		}
		return true, nil
	})
	return err == nil && result == true
}

func (b *breakered) ExecuteSync(manifest *Manifest, workcellPath string, timeout time.Duration) *Proof {
	result, err := b.breaker.Execute(func() (any, error) {
		proof := b.inner.ExecuteSync(manifest, workcellPath, timeout)
		if proof.Status == StatusError || proof.Status == StatusTimeout {
			return proof, errAdapterRunFailed
		}
		return proof, nil
	})
	if proof, ok := result.(*Proof); ok {
		return proof
	}
	return newErrorProof(manifest, b.inner.Name(), err)
}

func (b *breakered) ExecuteAsync(ctx context.Context, manifest *Manifest, workcellPath string, timeout time.Duration) *Proof {
	result, err := b.breaker.Execute(func() (any, error) {
		proof := b.inner.ExecuteAsync(ctx, manifest, workcellPath, timeout)
		if proof.Status == StatusError || proof.Status == StatusTimeout {
			return proof, errAdapterRunFailed
		}
		return proof, nil
	})
	if proof, ok := result.(*Proof); ok {
		return proof
	}
	return newErrorProof(manifest, b.inner.Name(), err)
}
