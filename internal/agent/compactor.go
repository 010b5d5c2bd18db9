package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/memory"
)

// Compactor produces the memory system's compressions: the 200-word
// subtext-preserving summary of a turn rolling off the sliding window, and
// the grouped compression of cold memories.
type Compactor struct {
	layer *llmcap.Layer
}

func NewCompactor(layer *llmcap.Layer) *Compactor {
	return &Compactor{layer: layer}
}

// SummarizeTurn compresses one rolled-off turn to ~200 words. The summary
// must preserve subtext — what was meant and what shifted — not just
// events. Failure falls back to a truncated excerpt so the window never
// loses a turn entirely.
func (c *Compactor) SummarizeTurn(ctx context.Context, t state.Turn) string {
	blocks := llmcap.Blocks{
		StablePrefix: "You compress one roleplay exchange to at most 200 words for a sliding context window. Preserve subtext: unspoken tension, what characters meant, relationship movement, and any promise or threat left hanging. Drop scenery unless it carried meaning.",
		Dynamic:      fmt.Sprintf("Player (turn %d): %s\n\nNarrative:\n%s", t.TurnNumber, t.PlayerInput, t.Narrative),
	}
	res, err := c.layer.Complete(ctx, NameCompactor, blocks, llmcap.Options{MaxTokens: 400})
	if err != nil {
		slog.Warn("turn compaction degraded to excerpt", "turn", t.TurnNumber, "error", err)
		return tail(t.Narrative, 800)
	}
	return res.Content
}

// CompressCluster summarizes a cluster of cold memories (grouped by NPC or
// location) into a single compressed memory. Returns empty on failure so
// the caller retries next cycle instead of archiving originals.
func (c *Compactor) CompressCluster(ctx context.Context, clusterKey string, memories []memory.MemoryChunk) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%s, turn %d] %s\n", m.Category, m.OriginTurn, m.Content)
	}

	blocks := llmcap.Blocks{
		StablePrefix: "You merge faded roleplay memories into one compact record. Keep names, debts, injuries, and anything a character might someday call back; drop texture that no longer earns its tokens.",
		Dynamic:      fmt.Sprintf("Cluster: %s\n\nMemories:\n%s", clusterKey, b.String()),
	}
	res, err := c.layer.Complete(ctx, NameCompactor, blocks, llmcap.Options{MaxTokens: 300})
	if err != nil {
		slog.Warn("cold-memory compression degraded", "cluster", clusterKey, "error", err)
		return ""
	}
	return res.Content
}
