package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/state"
)

// ProgressionResult is the progression agent's post-arc assessment.
type ProgressionResult struct {
	LevelUp bool `json:"level_up"`

	// ResourceGrowth adds to the character's maximum pools on level up.
	ResourceGrowth struct {
		HP int `json:"hp"`
		MP int `json:"mp"`
		SP int `json:"sp"`
	} `json:"resource_growth"`

	// Rationale is a one-line justification persisted for audit.
	Rationale string `json:"rationale"`
}

const progressionSchema = `{
  "type": "object",
  "properties": {
    "level_up": {"type": "boolean"},
    "resource_growth": {"type": "object", "properties": {"hp": {"type": "integer"}, "mp": {"type": "integer"}, "sp": {"type": "integer"}}},
    "rationale": {"type": "string"}
  },
  "required": ["level_up", "resource_growth", "rationale"]
}`

// ProgressionAgent assesses growth at arc boundaries: whether the resolved
// arc earned a level and how the resource pools grow. OP-enabled
// characters progress narratively rather than numerically, so growth stays
// conservative for them.
type ProgressionAgent struct {
	layer *llmcap.Layer
}

func NewProgressionAgent(layer *llmcap.Layer) *ProgressionAgent {
	return &ProgressionAgent{layer: layer}
}

// Assess runs at resolution/epilogue transitions. Failure degrades to no
// growth; a missed level is recoverable on the next arc.
func (p *ProgressionAgent) Assess(ctx context.Context, ch *state.Character, arcSummary string) ProgressionResult {
	blocks := llmcap.Blocks{
		StablePrefix: "You judge character progression at the end of a story arc. A level is earned by arcs with real struggle, growth, or sacrifice — not by time served. OP characters (already far above the world) gain narrative standing, not numbers; keep their growth minimal.",
		Dynamic: fmt.Sprintf("Character: %s, level %d, tier %s, OP=%v\nArc summary:\n%s",
			ch.Name, ch.Level, ch.PowerTier, ch.OPEnabled, arcSummary),
	}
	var out ProgressionResult
	if err := schemaCall(ctx, p.layer, NameProgression, blocks, progressionSchema, &out, backgroundTimeout); err != nil {
		slog.Warn("progression agent degraded", "error", err)
		return ProgressionResult{Rationale: "no growth (progression degraded)"}
	}
	return out
}

// Apply folds a level up into the character record.
func (r ProgressionResult) Apply(ch state.Character) state.Character {
	if !r.LevelUp {
		return ch
	}
	ch.Level++
	ch.MaxHP += r.ResourceGrowth.HP
	ch.MaxMP += r.ResourceGrowth.MP
	ch.MaxSP += r.ResourceGrowth.SP
	ch.HP = ch.MaxHP
	ch.MP = ch.MaxMP
	ch.SP = ch.MaxSP
	return ch
}
