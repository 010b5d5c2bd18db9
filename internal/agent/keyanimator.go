package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/pkg/provider/llm"
)

// ErrAnimatorSilent is the user-facing failure of the key animator: both
// the call and its retry failed, no narrative exists, and the orchestrator
// must skip the commit. The message is already narrator-voiced.
var ErrAnimatorSilent = errors.New("the director is momentarily silent — please resend")

// KeyAnimator produces the narrative prose for one turn from the fully
// assembled three-block prompt (see internal/promptctx for assembly).
type KeyAnimator struct {
	layer *llmcap.Layer
}

func NewKeyAnimator(layer *llmcap.Layer) *KeyAnimator {
	return &KeyAnimator{layer: layer}
}

// Write streams the narrative and returns the collected prose. onChunk
// receives incremental text when non-nil (the SSE path); cancellation of
// ctx abandons the stream and surfaces context.Canceled.
//
// One retry is attempted on any provider failure ([llmcap.ProviderError],
// retryable or not); a second failure returns [ErrAnimatorSilent].
func (k *KeyAnimator) Write(ctx context.Context, blocks llmcap.Blocks, onChunk func(string)) (string, llm.Usage, error) {
	narrative, usage, err := k.stream(ctx, blocks, onChunk)
	if err == nil || ctx.Err() != nil {
		return narrative, usage, err
	}
	var perr *llmcap.ProviderError
	if !errors.As(err, &perr) {
		return "", usage, err
	}

	narrative, usage, err = k.stream(ctx, blocks, onChunk)
	if err != nil {
		if ctx.Err() != nil {
			return "", usage, err
		}
		return "", usage, fmt.Errorf("%w (%v)", ErrAnimatorSilent, err)
	}
	return narrative, usage, nil
}

// Rewrite is the validator's soft retry: the contradiction is cited in the
// dynamic block and the animator writes once more. No further retries.
func (k *KeyAnimator) Rewrite(ctx context.Context, blocks llmcap.Blocks, contradiction string, onChunk func(string)) (string, llm.Usage, error) {
	retry := blocks
	retry.Dynamic = blocks.Dynamic + fmt.Sprintf("\n\nYour previous draft contradicted established state: %s\nWrite the scene again without that contradiction.", contradiction)
	return k.stream(ctx, retry, onChunk)
}

func (k *KeyAnimator) stream(ctx context.Context, blocks llmcap.Blocks, onChunk func(string)) (string, llm.Usage, error) {
	ch, err := k.layer.Stream(ctx, NameKeyAnimator, blocks, llmcap.Options{MaxTokens: 4000, Temperature: 0.8})
	if err != nil {
		return "", llm.Usage{}, err
	}

	var b strings.Builder
	for chunk := range ch {
		if chunk.FinishReason == "error" {
			return "", llm.Usage{}, &llmcap.ProviderError{Agent: NameKeyAnimator, Retryable: true, Err: errors.New("stream aborted mid-generation")}
		}
		if chunk.Text != "" {
			b.WriteString(chunk.Text)
			if onChunk != nil {
				onChunk(chunk.Text)
			}
		}
	}
	if ctx.Err() != nil {
		return "", llm.Usage{}, ctx.Err()
	}
	// Chunks carry no usage; estimate through the provider's tokenizer so
	// the turn record's accounting is populated.
	return b.String(), k.layer.EstimateUsage(NameKeyAnimator, blocks, b.String()), nil
}
