package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/state"
)

// IntentResult is the classifier's verdict on one player input.
type IntentResult struct {
	Intent state.Intent `json:"intent"`

	// Risk estimates how mechanically dangerous the action is, 0-1. The
	// outcome judge folds it into DC selection.
	Risk float64 `json:"risk"`

	// PresentNPCs lists the NPC names the input addresses or implies.
	PresentNPCs []string `json:"present_npcs"`
}

const intentSchema = `{
  "type": "object",
  "properties": {
    "intent": {"enum": ["COMBAT", "ABILITY", "SOCIAL", "EXPLORATION", "LORE_QUESTION", "META", "TRIVIAL"]},
    "risk": {"type": "number", "minimum": 0, "maximum": 1},
    "present_npcs": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["intent", "risk", "present_npcs"]
}`

// IntentClassifier labels player input with an intent, a risk estimate,
// and the NPCs in play.
type IntentClassifier struct {
	layer *llmcap.Layer
}

func NewIntentClassifier(layer *llmcap.Layer) *IntentClassifier {
	return &IntentClassifier{layer: layer}
}

// Classify runs the classification. Empty or whitespace input short-
// circuits to TRIVIAL without a model call; provider failure degrades to
// EXPLORATION at moderate risk so the turn still proceeds.
func (c *IntentClassifier) Classify(ctx context.Context, playerInput, lastNarrative string, knownNPCs []string) IntentResult {
	if strings.TrimSpace(playerInput) == "" {
		return IntentResult{Intent: state.IntentTrivial, PresentNPCs: []string{}}
	}

	blocks := llmcap.Blocks{
		StablePrefix: "You classify a roleplay player's input for a narrative engine. COMBAT is an attack or fight action; ABILITY is any use of a power or skill outside combat; SOCIAL is conversation or persuasion; EXPLORATION is movement and investigation; LORE_QUESTION asks about the world; META is out-of-character; TRIVIAL is filler with no mechanical weight.",
		Dynamic: fmt.Sprintf("Known NPCs: %s\n\nPrevious scene:\n%s\n\nPlayer input:\n%s",
			strings.Join(knownNPCs, ", "), tail(lastNarrative, 1200), playerInput),
	}

	var out IntentResult
	if err := schemaCall(ctx, c.layer, NameIntentClassifier, blocks, intentSchema, &out, stageATimeout); err != nil {
		slog.Warn("intent classifier degraded", "error", err)
		return IntentResult{Intent: state.IntentExploration, Risk: 0.3, PresentNPCs: []string{}}
	}
	if out.PresentNPCs == nil {
		out.PresentNPCs = []string{}
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
