package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/state"
)

// ScaleResult selects the outcome-judging axes for a non-trivial action.
type ScaleResult struct {
	// Difficulty shifts the base DC: -10 (trivial for this character) to
	// +10 (at the edge of plausibility).
	Difficulty int `json:"difficulty"`

	// Danger shifts consequence severity on failure, 0-10.
	Danger int `json:"danger"`

	// NarrativeWeight marks how much this action matters to the arc, 0-10;
	// high-weight actions bias the judge away from flat failure.
	NarrativeWeight int `json:"narrative_weight"`

	// Notes is a one-line rationale persisted with the turn record.
	Notes string `json:"notes"`
}

const scaleSchema = `{
  "type": "object",
  "properties": {
    "difficulty": {"type": "integer", "minimum": -10, "maximum": 10},
    "danger": {"type": "integer", "minimum": 0, "maximum": 10},
    "narrative_weight": {"type": "integer", "minimum": 0, "maximum": 10},
    "notes": {"type": "string"}
  },
  "required": ["difficulty", "danger", "narrative_weight", "notes"]
}`

// ScaleSelector chooses judging modifiers for the outcome judge.
type ScaleSelector struct {
	layer *llmcap.Layer
}

func NewScaleSelector(layer *llmcap.Layer) *ScaleSelector {
	return &ScaleSelector{layer: layer}
}

// Select scores the action. Provider failure degrades to neutral scales.
func (s *ScaleSelector) Select(ctx context.Context, playerInput string, intent state.Intent, situation string) ScaleResult {
	blocks := llmcap.Blocks{
		StablePrefix: "You score a roleplay action's difficulty, danger, and narrative weight for an outcome judge. Judge the attempt, not the character's strength; power differentials are applied separately.",
		Dynamic:      fmt.Sprintf("Situation: %s\nIntent: %s\n\nAction:\n%s", situation, intent, playerInput),
	}
	var out ScaleResult
	if err := schemaCall(ctx, s.layer, NameScaleSelector, blocks, scaleSchema, &out, stageATimeout); err != nil {
		slog.Warn("scale selector degraded", "error", err)
		return ScaleResult{Notes: "neutral scales (selector degraded)"}
	}
	return out
}
