package llmcap_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/pkg/provider/llm"
	llmmock "github.com/deusversus/aidm/pkg/provider/llm/mock"
)

func layerWith(p llm.Provider) *llmcap.Layer {
	return llmcap.New(
		map[string]llm.Provider{"openai": p},
		map[string]llmcap.ModelRef{
			"key_animator":   {Provider: "openai", Model: "gpt-5"},
			"anime_research": {Provider: "openai", Model: "gpt-5-mini"},
		},
		llmcap.ModelRef{Provider: "openai", Model: "gpt-5-mini"},
	)
}

func TestResolve_CanonicalNamesOnly(t *testing.T) {
	t.Parallel()
	l := layerWith(&llmmock.Provider{})

	_, ref, err := l.Resolve("key_animator")
	require.NoError(t, err)
	require.Equal(t, "gpt-5", ref.Model)

	// Unmapped agents fall back to the default model.
	_, ref, err = l.Resolve("intent_classifier")
	require.NoError(t, err)
	require.Equal(t, "gpt-5-mini", ref.Model)

	// Non-canonical names are rejected outright.
	_, _, err = l.Resolve("KeyAnimator")
	require.ErrorIs(t, err, llmcap.ErrUnknownAgent)
	_, _, err = l.Resolve("key animator")
	require.ErrorIs(t, err, llmcap.ErrUnknownAgent)
}

func TestComplete_BlocksBecomeSystemAndUser(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "The narrative.",
		Usage:   llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}}
	l := layerWith(p)

	blocks := llmcap.Blocks{
		StablePrefix: "BLOCK1",
		Session:      "BLOCK2",
		Dynamic:      "BLOCK3",
	}
	res, err := l.Complete(context.Background(), "key_animator", blocks, llmcap.Options{MaxTokens: 2000})
	require.NoError(t, err)
	require.Equal(t, "The narrative.", res.Content)
	require.Equal(t, 150, res.Usage.TotalTokens)

	require.Len(t, p.CompleteCalls, 1)
	req := p.CompleteCalls[0].Req
	// Blocks 1+2 form the system prompt with the stable prefix leading;
	// Block 3 is the sole user message.
	require.Equal(t, "BLOCK1\n\nBLOCK2", req.SystemPrompt)
	require.Len(t, req.Messages, 1)
	require.Equal(t, "user", req.Messages[0].Role)
	require.Equal(t, "BLOCK3", req.Messages[0].Content)
	require.Equal(t, 2000, req.MaxTokens)
}

// flakyProvider fails n times before delegating to the wrapped mock.
type flakyProvider struct {
	llm.Provider
	failures int
	err      error
	calls    int
}

func (f *flakyProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.Provider.Complete(ctx, req)
}

func TestComplete_RetriesOnceOnRetryable(t *testing.T) {
	t.Parallel()
	inner := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	p := &flakyProvider{Provider: inner, failures: 1, err: errors.New("429 rate limit exceeded")}
	l := layerWith(p)
	llmcap.StubSleep(l)

	res, err := l.Complete(context.Background(), "key_animator", llmcap.Blocks{Dynamic: "hi"}, llmcap.Options{})
	require.NoError(t, err)
	require.Equal(t, "ok", res.Content)
	require.Equal(t, 2, p.calls)
}

func TestComplete_SecondFailureSurfaces(t *testing.T) {
	t.Parallel()
	p := &flakyProvider{Provider: &llmmock.Provider{}, failures: 5, err: errors.New("503 overloaded")}
	l := layerWith(p)
	llmcap.StubSleep(l)

	_, err := l.Complete(context.Background(), "key_animator", llmcap.Blocks{Dynamic: "hi"}, llmcap.Options{})
	var perr *llmcap.ProviderError
	require.ErrorAs(t, err, &perr)
	require.True(t, perr.Retryable)
	require.Equal(t, 2, p.calls, "exactly one internal retry")
}

func TestComplete_NonRetryableFailsFast(t *testing.T) {
	t.Parallel()
	p := &flakyProvider{Provider: &llmmock.Provider{}, failures: 5, err: errors.New("invalid api key")}
	l := layerWith(p)
	llmcap.StubSleep(l)

	_, err := l.Complete(context.Background(), "key_animator", llmcap.Blocks{Dynamic: "hi"}, llmcap.Options{})
	var perr *llmcap.ProviderError
	require.ErrorAs(t, err, &perr)
	require.False(t, perr.Retryable)
	require.Equal(t, 1, p.calls)
}

type dials struct {
	ComedyVsDrama int `json:"comedy_vs_drama"`
	Darkness      int `json:"darkness"`
}

func TestCompleteWithSchema_ParsesFencedJSON(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Here you go:\n```json\n{\"comedy_vs_drama\": 7, \"darkness\": 4}\n```",
	}}
	l := layerWith(p)

	var out dials
	err := l.CompleteWithSchema(context.Background(), "anime_research", llmcap.Blocks{Dynamic: "extract"}, `{"type":"object"}`, &out, llmcap.Options{})
	require.NoError(t, err)
	require.Equal(t, dials{ComedyVsDrama: 7, Darkness: 4}, out)

	// The schema instruction rides in the system prompt, not Block 3.
	require.Contains(t, p.CompleteCalls[0].Req.SystemPrompt, `{"type":"object"}`)
}

// repairingProvider returns bad JSON first, then good JSON.
type repairingProvider struct {
	llm.Provider
	calls int
}

func (r *repairingProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	r.calls++
	if r.calls == 1 {
		return &llm.CompletionResponse{Content: "not json at all"}, nil
	}
	// The repair round-trip must show the model its own bad output.
	if len(req.Messages) < 3 || req.Messages[1].Content != "not json at all" {
		return &llm.CompletionResponse{Content: "missing history"}, nil
	}
	return &llm.CompletionResponse{Content: `{"comedy_vs_drama": 2, "darkness": 9}`}, nil
}

func TestCompleteWithSchema_RepairAttempt(t *testing.T) {
	t.Parallel()
	p := &repairingProvider{}
	l := layerWith(p)

	var out dials
	err := l.CompleteWithSchema(context.Background(), "anime_research", llmcap.Blocks{Dynamic: "extract"}, `{}`, &out, llmcap.Options{})
	require.NoError(t, err)
	require.Equal(t, 9, out.Darkness)
	require.Equal(t, 2, p.calls)
}

type hopelessProvider struct{ llm.Provider }

func (hopelessProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: "still not json"}, nil
}

func TestCompleteWithSchema_SecondFailureIsSchemaError(t *testing.T) {
	t.Parallel()
	l := layerWith(hopelessProvider{})

	var out dials
	err := l.CompleteWithSchema(context.Background(), "anime_research", llmcap.Blocks{Dynamic: "extract"}, `{}`, &out, llmcap.Options{})
	var serr *llmcap.SchemaError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "anime_research", serr.Agent)
}

func TestCompleteWithTools_PassesDefinitions(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{ID: "1", Name: "plant_seed", Arguments: `{"description":"a stranger"}`}},
	}}
	l := layerWith(p)

	tools := []llm.ToolDefinition{{Name: "plant_seed", Description: "plant a foreshadowing seed"}}
	resp, err := l.CompleteWithTools(context.Background(), "key_animator", llmcap.Blocks{Dynamic: "act"}, tools, llmcap.Options{})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "plant_seed", resp.ToolCalls[0].Name)
	require.Equal(t, tools, p.CompleteCalls[0].Req.Tools)
}

func TestComplete_CancellationPassesThrough(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &flakyProvider{Provider: &llmmock.Provider{}, failures: 5, err: context.Canceled}
	l := layerWith(p)

	_, err := l.Complete(ctx, "key_animator", llmcap.Blocks{Dynamic: "hi"}, llmcap.Options{})
	require.ErrorIs(t, err, context.Canceled)
	var perr *llmcap.ProviderError
	require.False(t, errors.As(err, &perr))
}

func TestEstimateUsage_StreamedCompletions(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{TokenCount: 40}
	l := layerWith(p)

	usage := l.EstimateUsage("key_animator", llmcap.Blocks{StablePrefix: "B1", Dynamic: "B3"}, "the scene")
	require.Equal(t, 40, usage.PromptTokens)
	require.Equal(t, 40, usage.CompletionTokens)
	require.Equal(t, 80, usage.TotalTokens)
	require.Len(t, p.CountTokensCalls, 2)

	// An unresolvable agent estimates to zero rather than erroring.
	require.Zero(t, l.EstimateUsage("Not Canonical", llmcap.Blocks{}, "x").TotalTokens)
}
