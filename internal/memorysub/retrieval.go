// Package memorysub is the memory subsystem: intent-filtered semantic
// retrieval with heat ranking, the per-turn heat sweep, the pending-memory
// queue drain, the sliding window, and cold-memory compression.
//
// The relational store is authoritative for memory content (via the
// pending queue); the vector store is a derived index that may lag behind
// by a drain cycle without corrupting anything.
package memorysub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/memory"
	"github.com/deusversus/aidm/pkg/provider/embeddings"
)

// DefaultTopN is the default ranked-retrieval cut.
const DefaultTopN = 8

// intentPageTypes maps an intent onto the lore page-type filter applied
// when the mapping is clean; other intents search unfiltered.
var intentPageTypes = map[state.Intent]string{
	state.IntentCombat:       "technique",
	state.IntentSocial:       "character",
	state.IntentLoreQuestion: "worldbuilding",
	state.IntentExploration:  "location",
}

// Retriever ranks campaign memories and profile lore for prompt assembly.
type Retriever struct {
	vectors  memory.VectorStore
	embedder embeddings.Provider

	// Graph, when set, adds a graph-scoped pass on social turns: chunks
	// tagged to the NPCs in scene surface even after their heat decays.
	Graph memory.GraphRAGQuerier

	// TopN is the ranked cut per collection; DefaultTopN unless configured.
	TopN int
}

func NewRetriever(vectors memory.VectorStore, embedder embeddings.Provider) *Retriever {
	return &Retriever{vectors: vectors, embedder: embedder, TopN: DefaultTopN}
}

// Search runs the dual retrieval: campaign memories ranked by
// similarity x heat x plot-critical boost, plus intent-filtered lore.
// Retrieved memories get the +20 heat touch with currentTurn recorded.
// sceneNPCs names the cast currently in scene; social turns use it as the
// graph scope.
func (r *Retriever) Search(ctx context.Context, campaignID, profileID, query string, intent state.Intent, sceneNPCs []string, currentTurn int) ([]memory.ChunkResult, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memorysub: embed query: %w", err)
	}

	topN := r.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	// Over-fetch memories so the heat re-rank has something to reorder.
	memories, err := r.vectors.Search(ctx, vec, topN*3, memory.ChunkFilter{
		Collection: memory.CollectionMemory,
		OwnerID:    campaignID,
	})
	if err != nil {
		return nil, fmt.Errorf("memorysub: memory search: %w", err)
	}
	rankMemories(memories)
	if len(memories) > topN {
		memories = memories[:topN]
	}

	loreFilter := memory.ChunkFilter{
		Collection: memory.CollectionLore,
		OwnerID:    profileID,
		PageType:   intentPageTypes[intent],
	}
	lore, err := r.vectors.Search(ctx, vec, topN, loreFilter)
	if err != nil {
		return nil, fmt.Errorf("memorysub: lore search: %w", err)
	}

	// Graph-scoped pass: on social turns, pull the chunks tagged to the
	// cast in scene regardless of heat — shared history between these
	// NPCs matters precisely when the player is talking to them. A
	// failure here degrades to the two standard passes.
	var graphHits []memory.ChunkResult
	if r.Graph != nil && intent == state.IntentSocial && len(sceneNPCs) > 0 {
		ctxResults, err := r.Graph.QueryWithEmbedding(ctx, vec, topN, sceneNPCs)
		if err != nil {
			slog.Warn("graph retrieval degraded", "error", err)
		} else {
			seen := make(map[string]bool, len(memories))
			for _, m := range memories {
				seen[m.Chunk.Content] = true
			}
			for _, cr := range ctxResults {
				if seen[cr.Content] {
					continue
				}
				seen[cr.Content] = true
				graphHits = append(graphHits, memory.ChunkResult{
					Chunk: memory.MemoryChunk{
						ID:         "graphrag:" + cr.Entity.ID,
						Collection: memory.CollectionMemory,
						OwnerID:    campaignID,
						Content:    fmt.Sprintf("%s (re: %s)", cr.Content, cr.Entity.Name),
					},
					Distance: 1 - cr.Score,
				})
			}
		}
	}

	if len(memories) > 0 {
		ids := make([]string, len(memories))
		for i, m := range memories {
			ids[i] = m.Chunk.ID
		}
		if err := r.vectors.TouchHeat(ctx, ids, currentTurn); err != nil {
			slog.Warn("heat touch failed", "error", err)
		}
	}

	return append(append(memories, graphHits...), lore...), nil
}

// rankMemories reorders by similarity x heat_factor x plot_critical boost.
// Distance is cosine distance (smaller = closer), so similarity = 1 - d.
func rankMemories(results []memory.ChunkResult) {
	score := func(cr memory.ChunkResult) float64 {
		similarity := 1 - cr.Distance
		if similarity < 0 {
			similarity = 0
		}
		heatFactor := cr.Chunk.Heat / 100
		s := similarity * heatFactor
		if cr.Chunk.PlotCritical {
			s *= 1.5
		}
		return s
	}
	sort.SliceStable(results, func(i, j int) bool { return score(results[i]) > score(results[j]) })
}
