// Package ollama provides the Ollama-backed embeddings provider: the
// zero-API-cost path for the memory subsystem when a campaign runs
// entirely on local models (nomic-embed-text, mxbai-embed-large,
// all-minilm) via Ollama's native /api/embed endpoint.
//
// Local embedding servers are far less forgiving than the hosted APIs, so
// two engine-facing guards mirror the OpenAI adapter's:
//
//   - Inputs are clamped to a rune budget sized for the local models'
//     smaller context windows.
//   - Batches are split into small sub-requests; a profile's full lore
//     chunk list in one /api/embed call stalls a CPU-bound server past
//     the research pipeline's per-phase timeout.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deusversus/aidm/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama
// instance.
const DefaultBaseURL = "http://localhost:11434"

// maxInputRunes clamps a single input. The local embedding models run
// 2048-8192 token windows; this keeps a mis-chunked lore page from being
// silently truncated server-side at an arbitrary point.
const maxInputRunes = 8000

// maxBatchItems is the per-request item cap for /api/embed.
const maxBatchItems = 16

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements [embeddings.Provider] against an Ollama server.
//
// Dimension resolution order:
//  1. Value supplied via [WithDimensions].
//  2. The built-in table of recognised model names.
//  3. A one-time probe embed against the live server, cached for the
//     provider's lifetime.
//
// Safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client

	dimensions int
	detectOnce sync.Once
}

// config holds optional construction settings.
type config struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero or negative means no
// timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions pre-sets the embedding dimension, bypassing the model
// table and the first-call probe. Must match the pgvector column the
// memory store was migrated with.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// New constructs the provider. An empty baseURL selects [DefaultBaseURL];
// model must be non-empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	p := &Provider{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		dimensions: cfg.dimensions,
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

// embedRequest is the /api/embed request body.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the /api/embed response body.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func clamp(text string) string {
	runes := []rune(text)
	if len(runes) <= maxInputRunes {
		return text
	}
	return string(runes[:maxInputRunes])
}

// Embed implements [embeddings.Provider] for single retrieval queries.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callEmbed(ctx, []string{clamp(text)})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements [embeddings.Provider]. The batch is split into
// small sub-requests; results preserve input order, and any sub-request
// failure fails the whole call (no partial results).
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, 0, len(texts))
	for offset := 0; offset < len(texts); offset += maxBatchItems {
		end := min(offset+maxBatchItems, len(texts))
		sub := make([]string, end-offset)
		for i, t := range texts[offset:end] {
			sub[i] = clamp(t)
		}
		vecs, err := p.callEmbed(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("ollama embeddings: embed batch at %d: %w", offset, err)
		}
		if len(vecs) != len(sub) {
			return nil, fmt.Errorf("ollama embeddings: expected %d embeddings, got %d", len(sub), len(vecs))
		}
		result = append(result, vecs...)
	}
	return result, nil
}

// Dimensions implements [embeddings.Provider]. Unknown models are probed
// once against the live server; a failed probe reports 0 and the caller's
// config validation catches the mismatch.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.detectOnce.Do(func() {
		vecs, err := p.callEmbed(context.Background(), []string{"probe"})
		if err == nil && len(vecs) > 0 {
			p.dimensions = len(vecs[0])
		}
	})
	return p.dimensions
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string {
	return p.model
}

// callEmbed posts one /api/embed request.
func (p *Provider) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions returns the output dimension for recognised Ollama
// embedding models, or 0 to trigger the probe.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
