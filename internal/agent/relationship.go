package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/state"
)

// stageThresholds maps interaction counts to the intelligence stage an NPC
// graduates into: repeated exposure to the player makes their behavior
// model richer.
var stageThresholds = []struct {
	count int
	stage state.IntelligenceStage
}{
	{25, state.StageAutonomous},
	{12, state.StageAnticipatory},
	{5, state.StageContextual},
	{0, state.StageReactive},
}

// StageFor returns the intelligence stage an interaction count earns.
func StageFor(count int) state.IntelligenceStage {
	for _, t := range stageThresholds {
		if count >= t.count {
			return t.stage
		}
	}
	return state.StageReactive
}

// RelationshipUpdate is the analyzer's per-NPC output.
type RelationshipUpdate struct {
	NPCName string `json:"npc_name"`

	// Disposition is the new disposition, or empty for no change. The
	// analyzer moves at most one step per turn; bigger swings are the
	// narrative validator's contradiction territory.
	Disposition state.Disposition `json:"disposition"`

	// NewMilestones lists emotional-milestone flags first reached this
	// turn ("first_trust", "first_vulnerability", ...).
	NewMilestones []string `json:"new_milestones"`
}

type relationshipOutput struct {
	Updates []RelationshipUpdate `json:"updates"`
}

const relationshipSchema = `{
  "type": "object",
  "properties": {
    "updates": {"type": "array", "items": {"type": "object", "properties": {
      "npc_name": {"type": "string"},
      "disposition": {"enum": ["", "hostile", "wary", "neutral", "friendly", "trusting", "devoted"]},
      "new_milestones": {"type": "array", "items": {"type": "string"}}}}}
  },
  "required": ["updates"]
}`

// StageTransition reports an NPC crossing an intelligence-stage boundary;
// the orchestrator queues a "previously unseen behavior" micro-beat for
// the next scene.
type StageTransition struct {
	NPC       state.NPC
	FromStage state.IntelligenceStage
	ToStage   state.IntelligenceStage
}

// RelationshipAnalyzer updates NPC emotional milestones and dispositions
// from a committed turn, and advances intelligence stages from interaction
// counts.
type RelationshipAnalyzer struct {
	layer *llmcap.Layer
}

func NewRelationshipAnalyzer(layer *llmcap.Layer) *RelationshipAnalyzer {
	return &RelationshipAnalyzer{layer: layer}
}

// Analyze returns the mutated NPC records plus any stage transitions.
// Interaction counts and stage math are deterministic; only disposition
// movement and milestone detection consult the model. Failure degrades to
// count/stage updates alone.
func (r *RelationshipAnalyzer) Analyze(ctx context.Context, narrative string, npcsInScene []state.NPC, turnNumber int) ([]state.NPC, []StageTransition) {
	updated := make([]state.NPC, len(npcsInScene))
	var transitions []StageTransition
	for i, n := range npcsInScene {
		n.InteractionCount++
		n.LastAppeared = turnNumber
		if next := StageFor(n.InteractionCount); next != n.IntelligenceStage {
			transitions = append(transitions, StageTransition{NPC: n, FromStage: n.IntelligenceStage, ToStage: next})
			n.IntelligenceStage = next
		}
		updated[i] = n
	}
	if len(updated) == 0 {
		return updated, transitions
	}

	var cast string
	for _, n := range updated {
		cast += fmt.Sprintf("- %s: disposition %s, milestones %v\n", n.Name, n.Disposition, milestoneNames(n.Milestones))
	}
	blocks := llmcap.Blocks{
		StablePrefix: "You track NPC relationships in a roleplay. For each NPC in scene, decide whether their disposition moved (at most one step per turn, empty for no change) and whether any emotional milestone was reached for the first time: first_trust, first_vulnerability, first_conflict, first_sacrifice, first_laughter.",
		Dynamic:      fmt.Sprintf("NPCs in scene:\n%s\nNarrative:\n%s", cast, narrative),
	}

	var out relationshipOutput
	if err := schemaCall(ctx, r.layer, NameRelationshipAnalyzer, blocks, relationshipSchema, &out, backgroundTimeout); err != nil {
		slog.Warn("relationship analyzer degraded", "error", err)
		return updated, transitions
	}

	byName := map[string]int{}
	for i, n := range updated {
		byName[n.Name] = i
	}
	for _, u := range out.Updates {
		i, ok := byName[u.NPCName]
		if !ok {
			continue
		}
		n := &updated[i]
		if u.Disposition != "" && legalDispositionStep(n.Disposition, u.Disposition) {
			n.Disposition = u.Disposition
		}
		for _, m := range u.NewMilestones {
			if n.Milestones == nil {
				n.Milestones = state.Milestones{}
			}
			n.Milestones[m] = true
		}
	}
	return updated, transitions
}

// legalDispositionStep permits at most one rank of movement per turn.
func legalDispositionStep(from, to state.Disposition) bool {
	fr, tr := from.Rank(), to.Rank()
	if fr < 0 || tr < 0 {
		return false
	}
	d := tr - fr
	return d >= -1 && d <= 1
}

func milestoneNames(m state.Milestones) []string {
	var out []string
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	return out
}
