package promptctx_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/agent"
	"github.com/deusversus/aidm/internal/composition"
	"github.com/deusversus/aidm/internal/profile"
	"github.com/deusversus/aidm/internal/promptctx"
	"github.com/deusversus/aidm/internal/state"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		ID:   "frieren_beyond_journeys_end",
		Name: "Frieren: Beyond Journey's End",
		DNAScales: profile.DNAScales{
			IntrospectionVsAction: 2, ComedyVsDrama: 5, SimpleVsComplex: 5,
			PowerFantasyVsStruggle: 5, ExplainedVsMysterious: 5, FastPacedVsSlowBurn: 8,
			EpisodicVsSerialized: 5, GroundedVsAbsurd: 5, TacticalVsInstinctive: 5,
			HopefulVsCynical: 3, EnsembleVsSolo: 5,
		},
		PowerSystem: profile.PowerSystem{
			Name:        "Mana manipulation",
			Mechanics:   "Accumulated mana fuels spells.",
			Limitations: []string{"mana reserves are visible to trained mages"},
		},
		AuthorVoice: profile.AuthorVoice{
			SentencePatterns: "spare", StructuralMotifs: "time-skips",
			DialogueQuirks: "understatement", EmotionalRhythm: "slow swell",
			ExampleVoice: "The road went on.",
		},
		DirectorPersonality: "Patient and elegiac.",
		PacingStyle:         profile.PacingStyle{SceneLength: profile.SceneDeliberate},
		DetectedGenres:      []string{"Adventure", "Drama"},
		VoiceCards: map[string]profile.VoiceCard{
			"veyra": {SpeechPatterns: "clipped", DialogueRhythm: "staccato", SignaturePhrases: []string{"Pay up."}},
			"fern":  {SpeechPatterns: "dry", DialogueRhythm: "even"},
		},
	}
}

func testComp() composition.Composition {
	return composition.Composition{
		TensionSource:   composition.TensionEmotional,
		PowerExpression: composition.ExpressionSubtle,
		NarrativeFocus:  composition.FocusEnsemble,
	}
}

func TestStablePrefix_IsDeterministic(t *testing.T) {
	t.Parallel()
	a := promptctx.StablePrefix(testProfile(), testComp())
	b := promptctx.StablePrefix(testProfile(), testComp())
	require.Equal(t, a, b, "Block 1 must be byte-identical across calls")
}

func TestStablePrefix_Contents(t *testing.T) {
	t.Parallel()
	got := promptctx.StablePrefix(testProfile(), testComp())

	require.Contains(t, got, "Frieren: Beyond Journey's End")
	// Power-system limitations carry the mandatory framing.
	require.Contains(t, got, "MUST respect")
	require.Contains(t, got, "mana reserves are visible")
	// DNA guide: low introspection dial speaks its low-end line.
	require.Contains(t, got, "linger in interiority")
	// fast_paced_vs_slow_burn = 8: the high end.
	require.Contains(t, got, "room")
	// Composition guidance chunks injected.
	require.Contains(t, got, "[tension_source: emotional]")
	require.Contains(t, got, "[power_expression: subtle]")
	// Scene-length contract for the deliberate band.
	require.Contains(t, got, "4-5 paragraphs")
	require.Contains(t, got, "Adventure, Drama")
	// Author voice example.
	require.Contains(t, got, "The road went on.")
}

func TestSessionBlock(t *testing.T) {
	t.Parallel()
	got := promptctx.SessionBlock(promptctx.SessionInputs{
		Bible: &state.CampaignBible{
			BibleVersion:  7,
			ActiveThreads: []string{"the siege", "Veyra's debt"},
			ArcHistory:    []state.ArcHistoryEntry{{TurnNumber: 12, Summary: "the gates shut"}},
		},
		ArcPhase: state.ArcRisingAction,
		Callbacks: []state.ForeshadowingSeed{
			{Description: "a stranger watches", ExpectedPayoff: "the stranger reveals the crest"},
		},
		DirectorNotes: []string{"give Fern a scene"},
	})

	require.Contains(t, got, "Campaign bible (v7)")
	require.Contains(t, got, "the siege; Veyra's debt")
	require.Contains(t, got, "Arc phase: rising_action")
	require.Contains(t, got, "Callback opportunities")
	require.Contains(t, got, "the stranger reveals the crest")
	require.Contains(t, got, "give Fern a scene")
}

func TestDynamicBlock_OutcomeInjectionOnlyWhenNonNil(t *testing.T) {
	t.Parallel()
	// Routine OP action: nil cost and consequence.
	got := promptctx.DynamicBlock(promptctx.TurnInputs{
		PlayerInput: "I clean my robe.",
		Intent:      state.IntentAbility,
		Outcome:     &agent.OutcomeResult{Success: "critical", DC: 5},
	})
	require.Contains(t, got, "Outcome: critical (DC 5)")
	require.NotContains(t, got, "Cost to weave in")
	require.NotContains(t, got, "Consequence to set in motion")

	cost, consequence := "a torn sleeve", "the tailor's grudge"
	got = promptctx.DynamicBlock(promptctx.TurnInputs{
		PlayerInput: "I vault the wall.",
		Intent:      state.IntentExploration,
		Outcome:     &agent.OutcomeResult{Success: "partial", DC: 14, Cost: &cost, Consequence: &consequence},
	})
	require.Contains(t, got, "a torn sleeve")
	require.Contains(t, got, "the tailor's grudge")
}

func TestDynamicBlock_DirectiveStrengthFraming(t *testing.T) {
	t.Parallel()
	got := promptctx.DynamicBlock(promptctx.TurnInputs{
		PlayerInput: "x",
		Directive: agent.PacingDirective{
			ArcBeat:         "the turning point",
			Strength:        agent.StrengthOverride,
			PhaseTransition: state.ArcClimax,
		},
	})
	require.Contains(t, got, "DIRECTOR (non-negotiable)")
	require.Contains(t, got, "turning point into climax")

	got = promptctx.DynamicBlock(promptctx.TurnInputs{
		PlayerInput: "x",
		Directive:   agent.PacingDirective{ArcBeat: "breathe", Strength: agent.StrengthSuggestion},
	})
	require.Contains(t, got, "Director (suggestion)")
}

func TestEnrichVoiceCards_TopThreeByInteraction(t *testing.T) {
	t.Parallel()
	prof := testProfile()
	present := []state.NPC{
		{ID: "n1", Name: "Veyra", InteractionCount: 2},
		{ID: "n2", Name: "Fern", InteractionCount: 30},
		{ID: "n3", Name: "Stark", InteractionCount: 12},
		{ID: "n4", Name: "Heiter", InteractionCount: 7},
	}
	got := promptctx.EnrichVoiceCards(prof, present,
		map[string]string{"n2": "argued about breakfast"},
		map[string][]string{"Fern": {"Fern — member_of → Hero Party"}})

	require.Len(t, got, 4)
	// Ranked by interaction count; top three enriched.
	require.Equal(t, "Fern", got[0].NPC.Name)
	require.True(t, got[0].Enriched)
	require.Equal(t, "argued about breakfast", got[0].LastInteraction)
	require.Equal(t, []string{"Fern — member_of → Hero Party"}, got[0].KnownFacts)
	require.True(t, got[1].Enriched)
	require.True(t, got[2].Enriched)
	require.False(t, got[3].Enriched, "fourth NPC gets the base card only")
	// Base cards resolve through normalized keys.
	require.Equal(t, "clipped", got[3].Card.SpeechPatterns)
}

func TestDynamicBlock_WindowAndMilestones(t *testing.T) {
	t.Parallel()
	got := promptctx.DynamicBlock(promptctx.TurnInputs{
		PlayerInput: "I ask Veyra about the debt.",
		Intent:      state.IntentSocial,
		Summaries:   []string{"the party crossed the pass"},
		Window: []state.Turn{
			{TurnNumber: 21, PlayerInput: "hello", Narrative: "She looks up."},
		},
		NPCs: []promptctx.EnrichedNPC{{
			NPC: state.NPC{
				Name: "Veyra", Disposition: state.DispositionWary,
				IntelligenceStage: state.StageContextual,
				Milestones:        state.Milestones{"first_conflict": true},
			},
			Card:     profile.VoiceCard{SpeechPatterns: "clipped", DialogueRhythm: "staccato"},
			Enriched: true,
		}},
	})

	require.Contains(t, got, "Earlier (compressed)")
	require.Contains(t, got, "— Turn 21 —")
	require.Contains(t, got, "disposition: wary")
	require.Contains(t, got, "milestones: first_conflict")
	require.True(t, strings.HasSuffix(got, "I ask Veyra about the debt."))
}
