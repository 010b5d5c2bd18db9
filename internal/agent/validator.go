package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/state"
)

// ValidationResult is the narrative validator's verdict.
type ValidationResult struct {
	Consistent bool `json:"consistent"`

	// Contradiction describes the inconsistency when Consistent is false —
	// cited verbatim in the key animator's soft retry.
	Contradiction string `json:"contradiction"`
}

const validationSchema = `{
  "type": "object",
  "properties": {
    "consistent": {"type": "boolean"},
    "contradiction": {"type": "string"}
  },
  "required": ["consistent", "contradiction"]
}`

// NarrativeValidator is the post-narrative sensibility check: NPC behavior
// against disposition, asserted facts against active consequences. It is
// advisory — the blocking resource check lives in state.ResourceGuard, and
// entity-extraction background tasks never re-validate.
type NarrativeValidator struct {
	layer *llmcap.Layer
}

func NewNarrativeValidator(layer *llmcap.Layer) *NarrativeValidator {
	return &NarrativeValidator{layer: layer}
}

// Validate checks narrative against the NPCs in scene and the world
// situation. A degraded provider accepts the narrative: an advisory check
// must never block the turn on its own failure.
func (v *NarrativeValidator) Validate(ctx context.Context, narrative string, npcs []state.NPC, situation string) ValidationResult {
	var cast strings.Builder
	for _, n := range npcs {
		fmt.Fprintf(&cast, "- %s: disposition %s, intelligence stage %s, %d interactions\n",
			n.Name, n.Disposition, n.IntelligenceStage, n.InteractionCount)
	}

	blocks := llmcap.Blocks{
		StablePrefix: "You check one roleplay narrative for state contradictions ONLY: an NPC acting far outside their recorded disposition (a hostile NPC suddenly devoted), or a world-state claim contradicting the active situation. Style, quality, and pacing are not your concern. A one-step disposition shift within a scene is fine.",
		Dynamic:      fmt.Sprintf("World situation: %s\n\nNPCs in scene:\n%s\nNarrative:\n%s", situation, cast.String(), narrative),
	}

	var out ValidationResult
	if err := schemaCall(ctx, v.layer, NameNarrativeValidator, blocks, validationSchema, &out, stageATimeout); err != nil {
		slog.Warn("narrative validator degraded, accepting narrative", "error", err)
		return ValidationResult{Consistent: true}
	}
	return out
}
