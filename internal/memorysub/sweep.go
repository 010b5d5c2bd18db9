package memorysub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/memory"
)

// npcRecencyWindow is how far back an NPC's last_appeared may lie for
// their memories to receive the warm boost.
const npcRecencyWindow = 10

// npcBoost is the per-sweep heat added to memories tagged with a
// recently-seen NPC.
const npcBoost = 10

// Sweeper runs the post-commit heat maintenance: the per-turn decay pass
// and the recently-seen-NPC boost. It is invoked exclusively by the
// orchestrator after Stage 8 — background tasks never mutate heat
// directly.
type Sweeper struct {
	vectors memory.VectorStore
	store   *state.Store
}

func NewSweeper(vectors memory.VectorStore, store *state.Store) *Sweeper {
	return &Sweeper{vectors: vectors, store: store}
}

// Sweep decays every memory and re-warms those tagged to NPCs seen within
// the recency window. Boost failures are logged per NPC and do not abort
// the sweep.
func (s *Sweeper) Sweep(ctx context.Context, campaignID string, currentTurn int) error {
	if err := s.vectors.ApplyDecay(ctx, campaignID); err != nil {
		return fmt.Errorf("memorysub: decay: %w", err)
	}
	recent, err := s.store.ListNPCsRecentlySeen(ctx, campaignID, currentTurn, npcRecencyWindow)
	if err != nil {
		return fmt.Errorf("memorysub: list recent NPCs: %w", err)
	}
	for _, npc := range recent {
		if err := s.vectors.BoostTagged(ctx, campaignID, npc.Name, npcBoost); err != nil {
			slog.Warn("npc heat boost failed", "npc", npc.Name, "error", err)
		}
	}
	return nil
}
