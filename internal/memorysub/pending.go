package memorysub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/memory"
	"github.com/deusversus/aidm/pkg/provider/embeddings"
)

// drainBatch bounds one drain cycle.
const drainBatch = 50

// PendingPayload is the JSON document staged into the pending_memories
// queue during Stage-8 commits. It carries everything needed to build the
// vector-store chunk except the embedding, which the drainer computes.
type PendingPayload struct {
	Content         string                `json:"content"`
	Category        memory.MemoryCategory `json:"category"`
	Heat            float64               `json:"heat"`
	DecayRate       memory.DecayRate      `json:"decay_rate"`
	PlotCritical    bool                  `json:"plot_critical"`
	TaggedNPCs      []string              `json:"tagged_npcs,omitempty"`
	TaggedLocations []string              `json:"tagged_locations,omitempty"`
	OriginTurn      int                   `json:"origin_turn"`
}

// Drainer moves queued memory writes from the relational store into the
// vector store with idempotent upserts. The relational queue is the source
// of truth: rows are deleted only after a successful upsert, so a
// vector-store outage just leaves work for the next cycle.
type Drainer struct {
	store    *state.Store
	vectors  memory.VectorStore
	embedder embeddings.Provider
}

func NewDrainer(store *state.Store, vectors memory.VectorStore, embedder embeddings.Provider) *Drainer {
	return &Drainer{store: store, vectors: vectors, embedder: embedder}
}

// Drain processes up to one batch. Failures are logged and never
// propagate: the queue retries them next cycle.
func (d *Drainer) Drain(ctx context.Context, campaignID string) int {
	pending, err := d.store.ListPendingMemories(ctx, campaignID, drainBatch)
	if err != nil {
		slog.Warn("pending-memory list failed", "error", err)
		return 0
	}

	drained := 0
	for _, p := range pending {
		var payload PendingPayload
		if err := json.Unmarshal(p.Payload, &payload); err != nil {
			// A malformed row would wedge the queue forever; drop it loudly.
			slog.Error("pending memory unparseable, dropping", "memory_id", p.MemoryID, "error", err)
			_ = d.store.DeletePendingMemory(ctx, p.ID)
			continue
		}

		vec, err := d.embedder.Embed(ctx, payload.Content)
		if err != nil {
			slog.Warn("pending memory embed failed, retrying next cycle", "memory_id", p.MemoryID, "error", err)
			continue
		}
		chunk := memory.MemoryChunk{
			ID:              p.MemoryID,
			Collection:      memory.CollectionMemory,
			OwnerID:         p.CampaignID,
			Content:         payload.Content,
			Embedding:       vec,
			Category:        payload.Category,
			Heat:            payload.Heat,
			DecayRate:       payload.DecayRate,
			PlotCritical:    payload.PlotCritical,
			TaggedNPCs:      payload.TaggedNPCs,
			TaggedLocations: payload.TaggedLocations,
			OriginTurn:      payload.OriginTurn,
		}
		if err := d.vectors.IndexChunk(ctx, chunk); err != nil {
			slog.Warn("pending memory upsert failed, retrying next cycle", "memory_id", p.MemoryID, "error", err)
			continue
		}
		if err := d.store.DeletePendingMemory(ctx, p.ID); err != nil {
			// The upsert is idempotent, so a leftover row just re-upserts.
			slog.Warn("pending memory dequeue failed", "memory_id", p.MemoryID, "error", err)
		}
		drained++
	}
	return drained
}

// InitialHeat returns the creation heat for a new memory: 60 baseline, 80
// for plot-critical, 100 for session-zero derived.
func InitialHeat(plotCritical, sessionZero bool) float64 {
	switch {
	case sessionZero:
		return 100
	case plotCritical:
		return 80
	default:
		return 60
	}
}
