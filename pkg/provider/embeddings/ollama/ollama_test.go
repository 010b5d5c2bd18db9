package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/pkg/provider/embeddings/ollama"
)

// embedServer answers /api/embed with one fixed-size vector per input and
// counts requests.
func embedServer(t *testing.T, dims int, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		requests.Add(1)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vec := make([]float32, dims)
			vec[0] = float32(i)
			vecs[i] = vec
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs}))
	}))
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := ollama.New("", "")
	require.Error(t, err, "empty model rejected")

	p, err := ollama.New("http://host:1234/", "nomic-embed-text")
	require.NoError(t, err)
	require.Equal(t, "nomic-embed-text", p.ModelID())
}

func TestEmbed_SingleQuery(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	srv := embedServer(t, 8, &requests)
	defer srv.Close()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "where did Veyra hide the crest?")
	require.NoError(t, err)
	require.Len(t, vec, 8)
	require.Equal(t, int64(1), requests.Load())
}

func TestEmbedBatch_SplitsIntoSubRequests(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	srv := embedServer(t, 4, &requests)
	defer srv.Close()

	p, err := ollama.New(srv.URL, "all-minilm")
	require.NoError(t, err)

	// 40 lore chunks: the 16-item sub-batch cap means three requests.
	texts := make([]string, 40)
	for i := range texts {
		texts[i] = "chunk"
	}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 40)
	require.Equal(t, int64(3), requests.Load())
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()
	p, err := ollama.New("http://localhost:11434", "all-minilm")
	require.NoError(t, err)
	vecs, err := p.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vecs)
}

func TestEmbed_ClampsOversizedInput(t *testing.T) {
	t.Parallel()
	var maxSeen atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for _, in := range req.Input {
			if n := int64(len([]rune(in))); n > maxSeen.Load() {
				maxSeen.Store(n)
			}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1}}}))
	}))
	defer srv.Close()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	require.NoError(t, err)

	// A mis-chunked 50k-rune wiki dump must be clamped client-side.
	_, err = p.Embed(context.Background(), strings.Repeat("亀", 50000))
	require.NoError(t, err)
	require.LessOrEqual(t, maxSeen.Load(), int64(8000))
}

func TestDimensions_KnownModelTable(t *testing.T) {
	t.Parallel()
	for model, want := range map[string]int{
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
	} {
		p, err := ollama.New("http://localhost:11434", model)
		require.NoError(t, err)
		require.Equal(t, want, p.Dimensions(), model)
	}
}

func TestDimensions_ExplicitOverride(t *testing.T) {
	t.Parallel()
	p, err := ollama.New("http://localhost:11434", "custom-model", ollama.WithDimensions(512))
	require.NoError(t, err)
	require.Equal(t, 512, p.Dimensions())
}

func TestDimensions_ProbesUnknownModel(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	srv := embedServer(t, 640, &requests)
	defer srv.Close()

	p, err := ollama.New(srv.URL, "custom-model")
	require.NoError(t, err)
	require.Equal(t, 640, p.Dimensions())
	// The probe result is cached.
	require.Equal(t, 640, p.Dimensions())
	require.Equal(t, int64(1), requests.Load())
}

func TestEmbed_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := ollama.New(srv.URL, "missing-model")
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}
