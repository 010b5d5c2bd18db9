package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/deusversus/aidm/internal/composition"
	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/state"
)

// OutcomeResult is the judge's ruling on a non-combat mechanical action.
type OutcomeResult struct {
	// Success is one of critical, success, partial, failure,
	// critical_failure.
	Success string

	DC            int
	Roll          int
	PowerModifier int

	// Cost and Consequence are nil for routine uses of canonical powers by
	// OP-enabled characters; the key animator injects them only when
	// non-nil, so a nil here is a promise the scene carries no imposed
	// price.
	Cost        *string
	Consequence *string

	// Resources is the HP/MP/SP spend the resource guard checks and the
	// Stage-8 commit applies.
	Resources state.ResourceCost
}

// JudgeInput bundles everything the ruling depends on.
type JudgeInput struct {
	PlayerInput string
	Intent      state.Intent
	Risk        float64
	Scales      ScaleResult

	// RelationshipModifier is the social-standing adjustment from NPC
	// dispositions in scene, already summed by the caller.
	RelationshipModifier int

	// Differential is the power differential against the active threat
	// tier (positive = character stronger).
	Differential int
	OPEnabled    bool
}

// costOutput is the judge's LLM-assessed price for risky actions.
type costOutput struct {
	Cost        string `json:"cost"`
	Consequence string `json:"consequence"`
	HP          int    `json:"hp"`
	MP          int    `json:"mp"`
	SP          int    `json:"sp"`
}

const costSchema = `{
  "type": "object",
  "properties": {
    "cost": {"type": "string", "description": "what the attempt costs regardless of outcome; empty if nothing"},
    "consequence": {"type": "string", "description": "what failure or partial success sets in motion; empty if nothing"},
    "hp": {"type": "integer"}, "mp": {"type": "integer"}, "sp": {"type": "integer"}
  },
  "required": ["cost", "consequence", "hp", "mp", "sp"]
}`

// OutcomeJudge rolls actions against a DC assembled from scale modifiers,
// relationship modifiers, and the power-differential modifier.
type OutcomeJudge struct {
	layer *llmcap.Layer
	roll  func() int // d20, injectable for tests
}

func NewOutcomeJudge(layer *llmcap.Layer) *OutcomeJudge {
	return &OutcomeJudge{layer: layer, roll: func() int { return rand.IntN(20) + 1 }}
}

// routineOPAction reports whether the action is a routine use of canonical
// power by an OP character: enough tier advantage, low risk, and not a
// stakes-bearing combat move. Such actions succeed critically at DC 5 with
// no cost and no consequence — the whole point of the OP contract.
func routineOPAction(in JudgeInput) bool {
	return in.OPEnabled &&
		in.Differential >= 4 &&
		in.Risk < 0.4 &&
		in.Intent != state.IntentCombat &&
		in.Scales.Danger <= 3
}

// Judge produces the ruling. Provider failure while assessing costs
// degrades to the documented neutral output (DC 10, no cost, no
// consequence) rather than failing the turn.
func (j *OutcomeJudge) Judge(ctx context.Context, in JudgeInput) OutcomeResult {
	powerMod := composition.PowerModifier(in.Differential)

	if routineOPAction(in) {
		return OutcomeResult{
			Success:       "critical",
			DC:            5,
			Roll:          20,
			PowerModifier: powerMod,
		}
	}

	dc := 10 + in.Scales.Difficulty
	if dc < 5 {
		dc = 5
	}
	roll := j.roll()
	total := roll + powerMod + in.RelationshipModifier

	var success string
	switch {
	case roll == 20 || total >= dc+10:
		success = "critical"
	case total >= dc:
		success = "success"
	case total >= dc-3 && in.Scales.NarrativeWeight >= 7:
		// High-weight beats bend near-misses into complications instead of
		// dead stops.
		success = "partial"
	case roll == 1 || total <= dc-10:
		success = "critical_failure"
	default:
		success = "failure"
	}

	out := OutcomeResult{Success: success, DC: dc, Roll: roll, PowerModifier: powerMod}

	// Costs only attach to actions that carry danger or went wrong.
	if in.Scales.Danger == 0 && (success == "critical" || success == "success") {
		return out
	}

	blocks := llmcap.Blocks{
		StablePrefix: "You assess the cost of a roleplay action for an outcome judge. Costs must be proportionate: routine competence is free, overreach and failure have prices. HP/MP/SP are integers; zero means untouched.",
		Dynamic: fmt.Sprintf("Action: %s\nIntent: %s\nOutcome: %s (rolled %d vs DC %d)\nDanger: %d/10\nCharacter power differential: %+d",
			in.PlayerInput, in.Intent, success, roll, dc, in.Scales.Danger, in.Differential),
	}
	var cost costOutput
	if err := schemaCall(ctx, j.layer, NameOutcomeJudge, blocks, costSchema, &cost, stageATimeout); err != nil {
		slog.Warn("outcome judge cost assessment degraded", "error", err)
		out.DC = 10
		return out
	}
	if cost.Cost != "" {
		out.Cost = &cost.Cost
	}
	if cost.Consequence != "" {
		out.Consequence = &cost.Consequence
	}
	out.Resources = state.ResourceCost{HP: max(cost.HP, 0), MP: max(cost.MP, 0), SP: max(cost.SP, 0)}
	return out
}
