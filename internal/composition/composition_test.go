package composition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/composition"
)

func TestTierNumber_BothForms(t *testing.T) {
	t.Parallel()
	n, err := composition.TierNumber("T3")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = composition.TierNumber("tier_3")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = composition.TierNumber(" t11 ")
	require.NoError(t, err)
	require.Equal(t, 11, n)
}

func TestTierNumber_Invalid(t *testing.T) {
	t.Parallel()
	_, err := composition.TierNumber("strongest")
	require.Error(t, err)

	_, err = composition.TierNumber("T0")
	require.Error(t, err)

	_, err = composition.TierNumber("T12")
	require.Error(t, err)
}

func TestDifferential_LowerTierIsStronger(t *testing.T) {
	t.Parallel()
	// A T3 character in a T8 world is five tiers above baseline.
	d, err := composition.Differential("T8", "T3")
	require.NoError(t, err)
	require.Equal(t, 5, d)

	// Underpowered characters get a negative differential.
	d, err = composition.Differential("T2", "T5")
	require.NoError(t, err)
	require.Equal(t, -3, d)
}

func TestModeFor(t *testing.T) {
	t.Parallel()
	require.Equal(t, composition.ModeStandard, composition.ModeFor(0))
	require.Equal(t, composition.ModeStandard, composition.ModeFor(1))
	require.Equal(t, composition.ModeStandard, composition.ModeFor(-1))
	require.Equal(t, composition.ModeBlended, composition.ModeFor(2))
	require.Equal(t, composition.ModeBlended, composition.ModeFor(3))
	require.Equal(t, composition.ModeOPDominant, composition.ModeFor(4))
	require.Equal(t, composition.ModeOPDominant, composition.ModeFor(10))
}

func TestPowerModifier(t *testing.T) {
	t.Parallel()
	require.Equal(t, 0, composition.PowerModifier(0))
	require.Equal(t, 0, composition.PowerModifier(1))
	require.Equal(t, 5, composition.PowerModifier(2))
	require.Equal(t, 20, composition.PowerModifier(5))
	require.Equal(t, -10, composition.PowerModifier(-3))
	require.Equal(t, 0, composition.PowerModifier(-1))
}

func profileComp() composition.Composition {
	return composition.Composition{
		TensionSource:   composition.TensionConsequence,
		PowerExpression: composition.ExpressionSpectacle,
		NarrativeFocus:  composition.FocusEnsemble,
	}
}

func TestResolve_StandardIgnoresOP(t *testing.T) {
	t.Parallel()
	op := composition.OPOverrides{
		Enabled:         true,
		TensionSource:   composition.TensionExistential,
		PowerExpression: composition.ExpressionPassive,
		NarrativeFocus:  composition.FocusSolo,
	}
	got, mode, err := composition.Resolve(profileComp(), op, "T5", "T5", "", "", true)
	require.NoError(t, err)
	require.Equal(t, composition.ModeStandard, mode)
	require.Equal(t, profileComp(), got)
}

func TestResolve_BlendedKeepsProfileFocus(t *testing.T) {
	t.Parallel()
	op := composition.OPOverrides{
		Enabled:         true,
		TensionSource:   composition.TensionExistential,
		PowerExpression: composition.ExpressionPassive,
		NarrativeFocus:  composition.FocusSolo,
	}
	got, mode, err := composition.Resolve(profileComp(), op, "T8", "T5", "", "", true)
	require.NoError(t, err)
	require.Equal(t, composition.ModeBlended, mode)
	require.Equal(t, composition.TensionExistential, got.TensionSource)
	require.Equal(t, composition.ExpressionPassive, got.PowerExpression)
	require.Equal(t, composition.FocusEnsemble, got.NarrativeFocus)
}

func TestResolve_OPDominantTakesAllAxes(t *testing.T) {
	t.Parallel()
	op := composition.OPOverrides{
		Enabled:         true,
		TensionSource:   composition.TensionExistential,
		PowerExpression: composition.ExpressionPassive,
		NarrativeFocus:  composition.FocusSolo,
	}
	got, mode, err := composition.Resolve(profileComp(), op, "T8", "T3", "", "", true)
	require.NoError(t, err)
	require.Equal(t, composition.ModeOPDominant, mode)
	require.Equal(t, composition.TensionExistential, got.TensionSource)
	require.Equal(t, composition.ExpressionPassive, got.PowerExpression)
	require.Equal(t, composition.FocusSolo, got.NarrativeFocus)
}

func TestResolve_OPDisabledUsesProfileEvenWhenDominant(t *testing.T) {
	t.Parallel()
	got, mode, err := composition.Resolve(profileComp(), composition.OPOverrides{}, "T8", "T3", "", "", true)
	require.NoError(t, err)
	require.Equal(t, composition.ModeOPDominant, mode)
	require.Equal(t, profileComp(), got)
}

func TestResolve_ThreatTierReplacesWorldTier(t *testing.T) {
	t.Parallel()
	op := composition.OPOverrides{Enabled: true, TensionSource: composition.TensionControl}
	// World typical T8 would be OP-dominant, but the active encounter is a
	// T4 threat so the scene is blended only.
	_, mode, err := composition.Resolve(profileComp(), op, "T8", "T2", "T4", "", true)
	require.NoError(t, err)
	require.Equal(t, composition.ModeBlended, mode)
}

func TestResolve_ModeChangesOnlyAtSceneBoundary(t *testing.T) {
	t.Parallel()
	op := composition.OPOverrides{Enabled: true}
	// Differential says OP-dominant, but mid-scene we hold the prior mode.
	_, mode, err := composition.Resolve(profileComp(), op, "T8", "T3", "", composition.ModeStandard, false)
	require.NoError(t, err)
	require.Equal(t, composition.ModeStandard, mode)

	// At the boundary the recalculated mode applies.
	_, mode, err = composition.Resolve(profileComp(), op, "T8", "T3", "", composition.ModeStandard, true)
	require.NoError(t, err)
	require.Equal(t, composition.ModeOPDominant, mode)
}

func TestDeriveFromDNA(t *testing.T) {
	t.Parallel()
	// Cynical, dramatic, absurd, instinctive, solo, serialized.
	c := composition.DeriveFromDNA(composition.DNAInputs{
		HopefulVsCynical:      9,
		ComedyVsDrama:         8,
		GroundedVsAbsurd:      8,
		TacticalVsInstinctive: 8,
		EnsembleVsSolo:        9,
		EpisodicVsSerialized:  9,
	}, nil)
	require.Equal(t, composition.TensionExistential, c.TensionSource)
	require.Equal(t, composition.ExpressionOverwhelming, c.PowerExpression)
	require.Equal(t, composition.FocusSolo, c.NarrativeFocus)

	// Trope flags dominate the tension derivation.
	c = composition.DeriveFromDNA(composition.DNAInputs{HopefulVsCynical: 9}, map[string]bool{"found_family": true})
	require.Equal(t, composition.TensionRelational, c.TensionSource)
}

func TestGuidance_CoversEveryAxisValue(t *testing.T) {
	t.Parallel()
	chunks := composition.Guidance(profileComp())
	require.Len(t, chunks, 3)
	require.Equal(t, "tension_source", chunks[0].Axis)
	require.Equal(t, "power_expression", chunks[1].Axis)
	require.Equal(t, "narrative_focus", chunks[2].Axis)

	// Unknown values degrade to fewer chunks, never an error.
	chunks = composition.Guidance(composition.Composition{TensionSource: "nope"})
	require.Empty(t, chunks)
}

func TestLookupGuidance(t *testing.T) {
	t.Parallel()
	g, ok := composition.LookupGuidance("power_expression", "passive")
	require.True(t, ok)
	require.Equal(t, "expression-passive", g.ID)

	_, ok = composition.LookupGuidance("power_expression", "loud")
	require.False(t, ok)
	_, ok = composition.LookupGuidance("bogus_axis", "passive")
	require.False(t, ok)
}
