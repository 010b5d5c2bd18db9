package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/agent"
	"github.com/deusversus/aidm/internal/state"
)

func TestMechanicalIntent(t *testing.T) {
	t.Parallel()
	require.True(t, mechanicalIntent(state.IntentAbility))
	require.True(t, mechanicalIntent(state.IntentSocial))
	require.True(t, mechanicalIntent(state.IntentExploration))
	require.False(t, mechanicalIntent(state.IntentCombat), "combat has its own pre-resolution path")
	require.False(t, mechanicalIntent(state.IntentTrivial))
	require.False(t, mechanicalIntent(state.IntentMeta))
	require.False(t, mechanicalIntent(state.IntentLoreQuestion))
}

func TestRelationshipModifier(t *testing.T) {
	t.Parallel()
	require.Zero(t, relationshipModifier(nil))
	require.Zero(t, relationshipModifier([]state.NPC{{Disposition: state.DispositionNeutral}}))
	require.Equal(t, 6, relationshipModifier([]state.NPC{{Disposition: state.DispositionDevoted}}))
	require.Equal(t, -4, relationshipModifier([]state.NPC{{Disposition: state.DispositionHostile}}))
	require.Equal(t, 2, relationshipModifier([]state.NPC{
		{Disposition: state.DispositionFriendly},
		{Disposition: state.DispositionNeutral},
	}))
}

func TestAdvanceWorldState_TensionApproachesTarget(t *testing.T) {
	t.Parallel()
	o := &Orchestrator{}
	ws := state.WorldState{TensionLevel: 0.3, ArcPhase: state.ArcSetup, TurnsInPhase: 2}

	out := o.advanceWorldState(ws, agent.PacingDirective{EscalationTarget: 0.9})
	require.InDelta(t, 0.5, out.TensionLevel, 1e-9)
	require.Equal(t, 3, out.TurnsInPhase)
	require.Equal(t, state.ArcSetup, out.ArcPhase)
}

func TestAdvanceWorldState_StrongTransitionResetsPhase(t *testing.T) {
	t.Parallel()
	o := &Orchestrator{}
	ws := state.WorldState{ArcPhase: state.ArcRisingAction, TurnsInPhase: 9}

	out := o.advanceWorldState(ws, agent.PacingDirective{
		PhaseTransition: state.ArcClimax,
		Strength:        agent.StrengthOverride,
	})
	require.Equal(t, state.ArcClimax, out.ArcPhase)
	require.Zero(t, out.TurnsInPhase)
	require.True(t, o.arcEvent)

	// Suggestion-strength transitions do not move the phase.
	o2 := &Orchestrator{}
	out = o2.advanceWorldState(ws, agent.PacingDirective{
		PhaseTransition: state.ArcClimax,
		Strength:        agent.StrengthSuggestion,
	})
	require.Equal(t, state.ArcRisingAction, out.ArcPhase)
}

func TestPresentNPCs(t *testing.T) {
	t.Parallel()
	scene := []state.NPC{{Name: "Veyra"}, {Name: "Fern"}}

	require.Equal(t, scene, presentNPCs(scene, nil))
	got := presentNPCs(scene, []string{"Fern"})
	require.Len(t, got, 1)
	require.Equal(t, "Fern", got[0].Name)
	// Unknown names fall back to the whole scene rather than an empty cast.
	require.Equal(t, scene, presentNPCs(scene, []string{"Nobody"}))
}

func TestDecisionsRecord(t *testing.T) {
	t.Parallel()
	cost := "a price"
	out := decisionsRecord(&agent.OutcomeResult{Success: "partial", DC: 14, Cost: &cost}, nil, agent.ScaleResult{Notes: "risky"})
	require.Equal(t, "partial", out.Outcome)
	require.Equal(t, 14, out.DC)
	require.Equal(t, "a price", out.Cost)
	require.Empty(t, out.Consequence)
	require.Equal(t, "risky", out.ScaleNotes)

	combat := decisionsRecord(nil, &agent.CombatResult{Summary: "clean hit"}, agent.ScaleResult{})
	require.Equal(t, "clean hit", combat.Outcome)
}

func TestEpicnessOf(t *testing.T) {
	t.Parallel()
	require.InDelta(t, 0.3, epicnessOf(agent.PacingDirective{}, nil, nil), 1e-9)
	require.InDelta(t, 1.3, epicnessOf(agent.PacingDirective{}, &agent.CombatResult{EnemyDown: true}, nil), 1e-9)
	require.InDelta(t, 0.8, epicnessOf(agent.PacingDirective{}, nil, &agent.OutcomeResult{Success: "critical"}), 1e-9)
	require.InDelta(t, 1.6, epicnessOf(agent.PacingDirective{PhaseTransition: state.ArcClimax, EscalationTarget: 0.9}, nil, nil), 1e-9)
}

func TestNoteDirective_RetainsLastFive(t *testing.T) {
	t.Parallel()
	o := &Orchestrator{}
	for _, beat := range []string{"a", "b", "c", "d", "e", "f"} {
		o.noteDirective(agent.PacingDirective{ArcBeat: beat})
	}
	require.Equal(t, []string{"b", "c", "d", "e", "f"}, o.directorNotes)
	o.noteDirective(agent.PacingDirective{})
	require.Len(t, o.directorNotes, 5, "empty beats are not recorded")
}

func TestTakeMicroBeats_Drains(t *testing.T) {
	t.Parallel()
	o := &Orchestrator{pendingMicroBeats: []string{"x"}}
	require.Equal(t, []string{"x"}, o.takeMicroBeats())
	require.Empty(t, o.takeMicroBeats())
}

func TestClamp01(t *testing.T) {
	t.Parallel()
	require.Equal(t, 0.0, clamp01(-0.2))
	require.Equal(t, 1.0, clamp01(1.7))
	require.Equal(t, 0.5, clamp01(0.5))
}
