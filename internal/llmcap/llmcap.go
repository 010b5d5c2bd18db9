// Package llmcap is the LLM capability layer: a uniform contract for text
// completion, schema-constrained structured extraction, and tool use across
// multiple model providers, with per-agent model routing.
//
// Every agent call goes through a [Layer], which resolves the agent's
// canonical name to a configured (provider, model) pair, renders the
// three-block prompt discipline into a provider request, performs one
// internal retry with jittered backoff on retryable failures, and
// classifies errors into the [ProviderError] / [SchemaError] taxonomy.
package llmcap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/deusversus/aidm/pkg/provider/llm"
)

// ProviderError wraps a transport, rate-limit, or provider-side failure.
// Retryable errors get one internal retry inside the layer; anything beyond
// that is the orchestrator's policy.
type ProviderError struct {
	Agent     string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "non-retryable"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("llmcap: %s provider error for agent %q: %v", kind, e.Agent, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SchemaError reports that a structured-extraction response could not be
// coerced to the caller's schema even after the internal repair attempt.
type SchemaError struct {
	Agent string
	Raw   string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("llmcap: schema validation failed for agent %q: %v", e.Agent, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ErrUnknownAgent is returned by Resolve for an agent name with no model
// mapping and no configured default.
var ErrUnknownAgent = errors.New("llmcap: unknown agent")

// ModelRef selects a provider+model pair for one agent.
type ModelRef struct {
	Provider string
	Model    string
}

// Layer routes per-agent calls to the configured provider. It is read-only
// after construction (per-agent model mappings do not hot-swap mid-turn)
// and safe for concurrent use.
type Layer struct {
	providers map[string]llm.Provider
	agents    map[string]ModelRef
	fallback  ModelRef
	sleep     func(time.Duration) // stubbed in tests
}

// New builds a Layer. providers maps provider names ("openai",
// "anthropic", ...) to constructed [llm.Provider] values — typically
// resilience.ModelFailover-wrapped. agents maps canonical snake_case agent
// names to their ModelRef; fallback serves agents with no explicit entry.
func New(providers map[string]llm.Provider, agents map[string]ModelRef, fallback ModelRef) *Layer {
	return &Layer{providers: providers, agents: agents, fallback: fallback, sleep: time.Sleep}
}

// canonicalAgentName matches the roster's snake_case identifiers.
var canonicalAgentName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Resolve maps an agent's canonical name to its configured provider and
// model. Names must be snake_case; a typo'd agent name is a programming
// error surfaced loudly rather than silently routed to the default model.
func (l *Layer) Resolve(agentName string) (llm.Provider, ModelRef, error) {
	if !canonicalAgentName.MatchString(agentName) {
		return nil, ModelRef{}, fmt.Errorf("%w: %q is not a canonical snake_case agent name", ErrUnknownAgent, agentName)
	}
	ref, ok := l.agents[agentName]
	if !ok {
		ref = l.fallback
	}
	if ref.Provider == "" {
		return nil, ModelRef{}, fmt.Errorf("%w: %q has no model mapping and no default is configured", ErrUnknownAgent, agentName)
	}
	p, ok := l.providers[ref.Provider]
	if !ok {
		return nil, ModelRef{}, fmt.Errorf("%w: agent %q maps to unconfigured provider %q", ErrUnknownAgent, agentName, ref.Provider)
	}
	return p, ref, nil
}

// Result is the free-form completion output.
type Result struct {
	Content string
	Usage   llm.Usage

	// CacheHitRatio is the fraction of prompt tokens served from the
	// provider's prefix cache, when the provider reports it; 0 otherwise.
	CacheHitRatio float64
}

// Options tune a single call.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Complete performs free-form generation for agentName using the
// three-block prompt. One retry with jittered backoff is performed on
// retryable failure; the second failure surfaces as [ProviderError].
func (l *Layer) Complete(ctx context.Context, agentName string, blocks Blocks, opts Options) (*Result, error) {
	provider, ref, err := l.Resolve(agentName)
	if err != nil {
		return nil, err
	}
	req := blocks.request(opts)

	resp, err := l.completeWithRetry(ctx, agentName, provider, req)
	if err != nil {
		return nil, err
	}
	slog.Debug("llm complete", "agent", agentName, "model", ref.Model, "tokens", resp.Usage.TotalTokens)
	return &Result{Content: resp.Content, Usage: resp.Usage}, nil
}

// Stream performs a streaming completion for agentName. The returned
// channel follows the [llm.Provider.StreamCompletion] contract; connection
// failures are classified, mid-stream errors arrive as chunks. Streaming
// gets no automatic retry — the caller owns cancellation and resend policy
// for long generations.
func (l *Layer) Stream(ctx context.Context, agentName string, blocks Blocks, opts Options) (<-chan llm.Chunk, error) {
	provider, _, err := l.Resolve(agentName)
	if err != nil {
		return nil, err
	}
	ch, err := provider.StreamCompletion(ctx, blocks.request(opts))
	if err != nil {
		return nil, classify(agentName, err)
	}
	return ch, nil
}

// EstimateUsage approximates token accounting for a streamed completion —
// the streaming contract carries no usage on chunks, and turn records
// still need numbers. Both sides go through the provider's own
// CountTokens so the estimate tracks whatever tokenizer it uses.
func (l *Layer) EstimateUsage(agentName string, blocks Blocks, completion string) llm.Usage {
	provider, _, err := l.Resolve(agentName)
	if err != nil {
		return llm.Usage{}
	}
	req := blocks.request(Options{})
	msgs := append([]llm.Message{{Role: "system", Content: req.SystemPrompt}}, req.Messages...)
	prompt, err := provider.CountTokens(msgs)
	if err != nil {
		return llm.Usage{}
	}
	out, err := provider.CountTokens([]llm.Message{{Role: "assistant", Content: completion}})
	if err != nil {
		out = 0
	}
	return llm.Usage{PromptTokens: prompt, CompletionTokens: out, TotalTokens: prompt + out}
}

// CompleteWithTools offers tools to the model and returns its content plus
// any requested tool calls. Executing the handlers and resubmitting results
// is the caller's loop.
func (l *Layer) CompleteWithTools(ctx context.Context, agentName string, blocks Blocks, tools []llm.ToolDefinition, opts Options) (*llm.CompletionResponse, error) {
	provider, _, err := l.Resolve(agentName)
	if err != nil {
		return nil, err
	}
	req := blocks.request(opts)
	req.Tools = tools

	resp, err := l.completeWithRetry(ctx, agentName, provider, req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (l *Layer) completeWithRetry(ctx context.Context, agentName string, provider llm.Provider, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := provider.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	perr := classify(agentName, err)
	var pe *ProviderError
	if !errors.As(perr, &pe) || !pe.Retryable || ctx.Err() != nil {
		return nil, perr
	}

	// Jittered backoff: 300-800ms, enough to clear transient throttling
	// without stalling the turn.
	l.sleep(300*time.Millisecond + time.Duration(rand.Int64N(int64(500*time.Millisecond))))
	slog.Warn("retrying provider call", "agent", agentName, "error", err)

	resp, err = provider.Complete(ctx, req)
	if err != nil {
		return nil, classify(agentName, err)
	}
	return resp, nil
}

// classify converts a raw provider error into the taxonomy. Rate limits,
// timeouts, and 5xx-flavored messages are retryable; auth and request
// shape errors are not. Context cancellation passes through untouched so
// cooperative cancellation never looks like a provider fault.
func classify(agentName string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	retryable := strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporarily") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "502") || strings.Contains(msg, "500")
	return &ProviderError{Agent: agentName, Retryable: retryable, Err: err}
}
