// Package openai provides the OpenAI-backed embeddings provider used by
// the memory subsystem: lore chunks and campaign memories go through
// EmbedBatch at indexing time, retrieval queries through Embed at turn
// time.
//
// Two engine-facing guards are built in:
//
//   - Inputs are clamped to a rune budget before the request leaves the
//     process. Lore chunks arrive pre-split, but a handful of wiki pages
//     defeat the chunker's paragraph heuristics (tables, infobox dumps),
//     and one over-limit item would fail the whole indexing batch.
//   - Batches are transparently split into API-sized sub-batches, so the
//     research pipeline can hand over an entire profile's chunk list in
//     one call.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/deusversus/aidm/pkg/provider/embeddings"
)

// DefaultModel is the embeddings model used when none is configured.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// maxInputRunes clamps a single input before it is sent. The embedding
// models accept 8191 tokens; at a conservative three runes per token this
// keeps even CJK-heavy lore inside the window.
const maxInputRunes = 24000

// maxBatchItems is the per-request item cap; larger batches are split.
const maxBatchItems = 512

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements [embeddings.Provider] against the OpenAI API. Safe
// for concurrent use.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional construction settings.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs the provider. An empty model selects [DefaultModel].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// clamp cuts text to the input rune budget.
func clamp(text string) string {
	runes := []rune(text)
	if len(runes) <= maxInputRunes {
		return text
	}
	return string(runes[:maxInputRunes])
}

// Embed implements [embeddings.Provider] for single retrieval queries.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(clamp(text))},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return float64ToFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch implements [embeddings.Provider]. Arbitrarily large batches
// are split into API-sized requests; the result preserves input order and
// either covers every text or the call errors as a whole (per the
// interface's no-partial-results contract).
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	for offset := 0; offset < len(texts); offset += maxBatchItems {
		end := min(offset+maxBatchItems, len(texts))
		sub := make([]string, end-offset)
		for i, t := range texts[offset:end] {
			sub[i] = clamp(t)
		}

		resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
			Model: p.model,
			Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: sub},
		})
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: embed batch at %d: %w", offset, err)
		}
		if len(resp.Data) != len(sub) {
			return nil, fmt.Errorf("openai embeddings: expected %d embeddings, got %d", len(sub), len(resp.Data))
		}
		for _, e := range resp.Data {
			if int(e.Index) >= len(sub) {
				return nil, fmt.Errorf("openai embeddings: unexpected index %d", e.Index)
			}
			result[offset+int(e.Index)] = float64ToFloat32(e.Embedding)
		}
	}
	return result, nil
}

// Dimensions implements [embeddings.Provider]. The value must match the
// pgvector column the memory store was migrated with.
func (p *Provider) Dimensions() int {
	lower := strings.ToLower(p.model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	case strings.Contains(lower, "text-embedding-3-small"),
		strings.Contains(lower, "text-embedding-ada-002"):
		return 1536
	default:
		return 1536
	}
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string {
	return p.model
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
