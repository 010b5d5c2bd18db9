package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/resilience"
	"github.com/deusversus/aidm/pkg/provider/llm"
	llmmock "github.com/deusversus/aidm/pkg/provider/llm/mock"
)

// failingProvider errors on every call until healed.
type failingProvider struct {
	llm.Provider
	healed bool
	calls  int
}

func (p *failingProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls++
	if p.healed {
		return &llm.CompletionResponse{Content: "recovered"}, nil
	}
	return nil, errors.New("503 overloaded")
}

func req() llm.CompletionRequest {
	return llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "hi"}}}
}

func TestFailover_PrefersPrimary(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "primary"}}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "backup"}}

	f := resilience.NewModelFailover("openai", primary)
	f.Add("anthropic", backup)

	resp, err := f.Complete(context.Background(), req())
	require.NoError(t, err)
	require.Equal(t, "primary", resp.Content)
	require.Empty(t, backup.CompleteCalls)
}

func TestFailover_RoutesAroundFailingPrimary(t *testing.T) {
	t.Parallel()
	primary := &failingProvider{}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "backup"}}

	f := resilience.NewModelFailover("openai", primary)
	f.Add("anthropic", backup)

	resp, err := f.Complete(context.Background(), req())
	require.NoError(t, err)
	require.Equal(t, "backup", resp.Content)
	require.Equal(t, 1, primary.calls, "primary was tried first")
}

func TestFailover_SuspendsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	primary := &failingProvider{}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "backup"}}

	f := resilience.NewModelFailoverWithPolicy("openai", primary, resilience.BreakerPolicy{TripAfter: 3, Cooldown: time.Hour})
	f.Add("anthropic", backup)

	for range 4 {
		_, err := f.Complete(context.Background(), req())
		require.NoError(t, err)
	}
	// Three failures tripped the breaker; the fourth call skipped the
	// primary entirely.
	require.Equal(t, 3, primary.calls)
	require.Equal(t, resilience.Suspended, f.Status()["openai"])
	require.Equal(t, resilience.Healthy, f.Status()["anthropic"])
}

func TestFailover_ProbeRestoresHealedProvider(t *testing.T) {
	t.Parallel()
	primary := &failingProvider{}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "backup"}}

	f := resilience.NewModelFailoverWithPolicy("openai", primary, resilience.BreakerPolicy{TripAfter: 1, Cooldown: 10 * time.Millisecond})
	f.Add("anthropic", backup)

	_, err := f.Complete(context.Background(), req())
	require.NoError(t, err)
	require.Equal(t, resilience.Suspended, f.Status()["openai"])

	primary.healed = true
	time.Sleep(20 * time.Millisecond)

	resp, err := f.Complete(context.Background(), req())
	require.NoError(t, err)
	require.Equal(t, "recovered", resp.Content, "the cooldown probe went to the primary")
	require.Equal(t, resilience.Healthy, f.Status()["openai"])
}

func TestFailover_FailedProbeResuspends(t *testing.T) {
	t.Parallel()
	primary := &failingProvider{}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "backup"}}

	f := resilience.NewModelFailoverWithPolicy("openai", primary, resilience.BreakerPolicy{TripAfter: 1, Cooldown: 10 * time.Millisecond})
	f.Add("anthropic", backup)

	_, err := f.Complete(context.Background(), req())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	// The probe fails and the provider goes straight back to suspended.
	resp, err := f.Complete(context.Background(), req())
	require.NoError(t, err)
	require.Equal(t, "backup", resp.Content)
	require.Equal(t, resilience.Suspended, f.Status()["openai"])
}

func TestFailover_AllBackendsDown(t *testing.T) {
	t.Parallel()
	f := resilience.NewModelFailoverWithPolicy("openai", &failingProvider{}, resilience.BreakerPolicy{TripAfter: 1, Cooldown: time.Hour})

	_, err := f.Complete(context.Background(), req())
	require.Error(t, err)
	require.Contains(t, err.Error(), "openai")

	// Once suspended with no alternative, the sentinel surfaces.
	_, err = f.Complete(context.Background(), req())
	require.ErrorIs(t, err, resilience.ErrProviderSuspended)
}

func TestFailover_CancellationDoesNotTrip(t *testing.T) {
	t.Parallel()
	f := resilience.NewModelFailoverWithPolicy("openai", providerReturning(context.Canceled), resilience.BreakerPolicy{TripAfter: 1, Cooldown: time.Hour})

	_, err := f.Complete(context.Background(), req())
	require.ErrorIs(t, err, context.Canceled)
	// A cancelled call is the caller's choice, not provider sickness.
	require.Equal(t, resilience.Healthy, f.Status()["openai"])
}

// providerReturning builds a provider whose Complete always returns err.
func providerReturning(err error) llm.Provider {
	return errProvider{err: err}
}

type errProvider struct {
	llm.Provider
	err error
}

func (p errProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, p.err
}

func TestFailover_CapabilitiesFromPreferred(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 200000}}
	backup := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8000}}

	f := resilience.NewModelFailover("openai", primary)
	f.Add("local", backup)
	require.Equal(t, 200000, f.Capabilities().ContextWindow)
}
