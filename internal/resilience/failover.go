package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/deusversus/aidm/pkg/provider/llm"
)

// ModelFailover implements [llm.Provider] across an ordered list of
// backends, each with its own health breaker. The first entry is the
// provider the agent's model mapping actually names; the rest are the
// other configured providers, tried in registration order when the
// preferred one is suspended or fails.
//
// A fallback answers with ITS configured model, not the agent's preferred
// one — the capability layer's per-agent mapping is a preference, and a
// degraded turn on a sibling model beats the narrator going silent.
type ModelFailover struct {
	mu      sync.RWMutex
	entries []failoverEntry
}

type failoverEntry struct {
	name     string
	provider llm.Provider
	breaker  *breaker
}

// Compile-time interface assertion.
var _ llm.Provider = (*ModelFailover)(nil)

// NewModelFailover creates a failover with primary as the preferred
// backend, using the default AIDM breaker policy.
func NewModelFailover(primaryName string, primary llm.Provider) *ModelFailover {
	return NewModelFailoverWithPolicy(primaryName, primary, BreakerPolicy{})
}

// NewModelFailoverWithPolicy creates a failover with an explicit breaker
// policy shared by every backend.
func NewModelFailoverWithPolicy(primaryName string, primary llm.Provider, policy BreakerPolicy) *ModelFailover {
	f := &ModelFailover{}
	f.add(primaryName, primary, policy)
	return f
}

// Add registers an additional backend tried after the earlier entries.
func (f *ModelFailover) Add(name string, provider llm.Provider) {
	f.add(name, provider, BreakerPolicy{})
}

func (f *ModelFailover) add(name string, provider llm.Provider, policy BreakerPolicy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, failoverEntry{
		name:     name,
		provider: provider,
		breaker:  newBreaker(policy),
	})
}

// Status reports each backend's health keyed by backend name, for
// debugging and the readiness probe.
func (f *ModelFailover) Status() map[string]Health {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Health, len(f.entries))
	for _, e := range f.entries {
		out[e.name] = e.breaker.Health()
	}
	return out
}

// execute walks the backends in order, skipping suspended ones, recording
// each outcome, and returning the first success. When every backend is
// suspended or fails, the last real error (or ErrProviderSuspended)
// surfaces so the capability layer can classify it.
func execute[R any](f *ModelFailover, fn func(llm.Provider) (R, error)) (R, error) {
	f.mu.RLock()
	entries := make([]failoverEntry, len(f.entries))
	copy(entries, f.entries)
	f.mu.RUnlock()

	var (
		zero    R
		lastErr error
	)
	for i, e := range entries {
		if !e.breaker.allow() {
			continue
		}
		out, err := fn(e.provider)
		e.breaker.record(err)
		if err == nil {
			if i > 0 {
				slog.Warn("model failover engaged", "provider", e.name, "preferred", entries[0].name)
			}
			return out, nil
		}
		lastErr = fmt.Errorf("provider %s: %w", e.name, err)
	}
	if lastErr == nil {
		lastErr = ErrProviderSuspended
	}
	return zero, lastErr
}

// Complete implements [llm.Provider].
func (f *ModelFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return execute(f, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion implements [llm.Provider]. Only the initial connection
// is covered by failover; once a stream opens, mid-stream errors belong to
// the caller (the key animator's own retry handles those).
func (f *ModelFailover) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return execute(f, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens implements [llm.Provider] against the first healthy backend.
func (f *ModelFailover) CountTokens(messages []llm.Message) (int, error) {
	return execute(f, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities implements [llm.Provider]. It reports the preferred
// backend's capabilities: callers budget context windows against the model
// they asked for, and failover is an exceptional path.
func (f *ModelFailover) Capabilities() llm.ModelCapabilities {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.entries) == 0 {
		return llm.ModelCapabilities{}
	}
	return f.entries[0].provider.Capabilities()
}
