package memorysub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/deusversus/aidm/pkg/memory"
	"github.com/deusversus/aidm/pkg/provider/embeddings"
)

// CompactionInterval is how often (in turns) cold-memory compression runs.
const CompactionInterval = 10

// coldThreshold is the heat below which a non-plot-critical memory is a
// compression candidate.
const coldThreshold = 20

// ClusterSummariser is the compactor slice compression needs.
type ClusterSummariser interface {
	CompressCluster(ctx context.Context, clusterKey string, memories []memory.MemoryChunk) string
}

// Compression groups cold memories by NPC/location cluster, summarizes
// each group into a single compressed memory, and archives the originals
// out of active retrieval. Plot-critical memories are exempt by
// construction (ListCold excludes them).
type Compression struct {
	vectors    memory.VectorStore
	embedder   embeddings.Provider
	summariser ClusterSummariser
}

func NewCompression(vectors memory.VectorStore, embedder embeddings.Provider, summariser ClusterSummariser) *Compression {
	return &Compression{vectors: vectors, embedder: embedder, summariser: summariser}
}

// Due reports whether compression should run after turnNumber.
func Due(turnNumber int) bool {
	return turnNumber > 0 && turnNumber%CompactionInterval == 0
}

// Run performs one compression cycle. Every failure is logged and skipped;
// originals are archived only after their compressed replacement is safely
// indexed, so a partial failure never loses content.
func (c *Compression) Run(ctx context.Context, campaignID string, currentTurn int) (compressed int) {
	cold, err := c.vectors.ListCold(ctx, campaignID, coldThreshold)
	if err != nil {
		slog.Warn("cold-memory listing failed", "error", err)
		return 0
	}
	if len(cold) == 0 {
		return 0
	}

	for key, cluster := range clusterByTag(cold) {
		summary := c.summariser.CompressCluster(ctx, key, cluster)
		if summary == "" {
			continue // degraded; retry next cycle
		}
		vec, err := c.embedder.Embed(ctx, summary)
		if err != nil {
			slog.Warn("compressed memory embed failed", "cluster", key, "error", err)
			continue
		}

		ids := make([]string, len(cluster))
		minOrigin := cluster[0].OriginTurn
		for i, m := range cluster {
			ids[i] = m.ID
			if m.OriginTurn < minOrigin {
				minOrigin = m.OriginTurn
			}
		}
		chunk := memory.MemoryChunk{
			ID:         fmt.Sprintf("%s/compressed/%s/turn%d", campaignID, sanitizeKey(key), currentTurn),
			Collection: memory.CollectionMemory,
			OwnerID:    campaignID,
			Content:    summary,
			Embedding:  vec,
			Category:   memory.CategoryEvent,
			Heat:       40,
			DecayRate:  memory.DecaySlow,
			OriginTurn: minOrigin,
		}
		if err := c.vectors.IndexChunk(ctx, chunk); err != nil {
			slog.Warn("compressed memory index failed", "cluster", key, "error", err)
			continue
		}
		if err := c.vectors.Archive(ctx, ids); err != nil {
			slog.Warn("cold-memory archive failed", "cluster", key, "error", err)
			continue
		}
		compressed += len(cluster)
	}
	return compressed
}

// clusterByTag groups chunks by their first NPC tag, then first location
// tag, with untagged chunks pooled under "general". Map iteration order is
// irrelevant: each cluster is processed independently.
func clusterByTag(chunks []memory.MemoryChunk) map[string][]memory.MemoryChunk {
	out := map[string][]memory.MemoryChunk{}
	for _, c := range chunks {
		key := "general"
		switch {
		case len(c.TaggedNPCs) > 0:
			npcs := append([]string{}, c.TaggedNPCs...)
			sort.Strings(npcs)
			key = "npc:" + npcs[0]
		case len(c.TaggedLocations) > 0:
			locs := append([]string{}, c.TaggedLocations...)
			sort.Strings(locs)
			key = "loc:" + locs[0]
		}
		out[key] = append(out[key], c)
	}
	return out
}

func sanitizeKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, k)
}
