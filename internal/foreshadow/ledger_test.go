package foreshadow_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/foreshadow"
	"github.com/deusversus/aidm/internal/state"
)

// fakeSeedStore keeps seeds and the campaign bible in memory, standing in
// for the relational store the ledger writes through to.
type fakeSeedStore struct {
	mu      sync.Mutex
	seeds   map[string]state.ForeshadowingSeed
	bibles  map[string]state.CampaignBible
	upserts int
}

func newFakeSeedStore() *fakeSeedStore {
	return &fakeSeedStore{
		seeds:  map[string]state.ForeshadowingSeed{},
		bibles: map[string]state.CampaignBible{},
	}
}

func (f *fakeSeedStore) GetBible(ctx context.Context, campaignID string) (*state.CampaignBible, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bibles[campaignID]
	if !ok {
		b = state.CampaignBible{CampaignID: campaignID, CharacterArcs: map[string]string{}}
	}
	return &b, nil
}

func (f *fakeSeedStore) SaveBible(ctx context.Context, b state.CampaignBible) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bibles[b.CampaignID] = b
	return nil
}

func (f *fakeSeedStore) bibleVersion(campaignID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bibles[campaignID].BibleVersion
}

func (f *fakeSeedStore) UpsertSeed(ctx context.Context, seed state.ForeshadowingSeed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeds[seed.ID] = seed
	f.upserts++
	return nil
}

func (f *fakeSeedStore) ListActiveSeeds(ctx context.Context, campaignID string) ([]state.ForeshadowingSeed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []state.ForeshadowingSeed
	for _, s := range f.seeds {
		if s.CampaignID == campaignID && s.Status != state.SeedResolved && s.Status != state.SeedAbandoned {
			out = append(out, s)
		}
	}
	return out, nil
}

func testLedger(t *testing.T) (*foreshadow.Ledger, *fakeSeedStore) {
	t.Helper()
	store := newFakeSeedStore()
	l, err := foreshadow.Load(context.Background(), store, "camp1")
	require.NoError(t, err)
	return l, store
}

func TestPlant_CreatesAtPlanted(t *testing.T) {
	t.Parallel()
	l, store := testLedger(t)

	seed, err := l.Plant(context.Background(), foreshadow.PlantInput{
		Description:      "A stranger watches from the crowd",
		SeedType:         "mystery",
		RelatedNPCs:      []string{"The Stranger"},
		ExpectedPayoff:   "the stranger reveals the stolen crest",
		MaxTurnsToPayoff: 10,
	}, 5)
	require.NoError(t, err)
	require.Equal(t, state.SeedPlanted, seed.Status)
	require.Equal(t, 5, seed.PlantedTurn)
	require.NotEmpty(t, seed.ID)

	// Write-through: the store already has it.
	persisted := store.seeds[seed.ID]
	require.Equal(t, state.SeedPlanted, persisted.Status)
}

func TestTransitions_FollowGraph(t *testing.T) {
	t.Parallel()
	l, _ := testLedger(t)
	ctx := context.Background()

	seed, err := l.Plant(ctx, foreshadow.PlantInput{Description: "d", MaxTurnsToPayoff: 10}, 1)
	require.NoError(t, err)

	// planted -> resolved directly is illegal.
	_, _, err = l.Resolve(ctx, seed.ID, "done", 2)
	require.ErrorIs(t, err, foreshadow.ErrIllegalTransition)

	// planted -> mentioned -> ready -> resolved is the happy path.
	_, err = l.MarkMentioned(ctx, seed.ID)
	require.NoError(t, err)

	ready, err := l.CallbackOpportunities(ctx, 7) // age 6 >= 10/2
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, state.SeedReadyToResolve, ready[0].Status)

	resolved, _, err := l.Resolve(ctx, seed.ID, "the payoff scene", 8)
	require.NoError(t, err)
	require.Equal(t, state.SeedResolved, resolved.Status)
	require.Equal(t, "the payoff scene", resolved.ResolutionNarrative)
	require.Empty(t, l.Active())
}

func TestResolve_PlantsTriggeredSeeds(t *testing.T) {
	t.Parallel()
	l, _ := testLedger(t)
	ctx := context.Background()

	seed, err := l.Plant(ctx, foreshadow.PlantInput{
		Description:      "the sealed door hums",
		MaxTurnsToPayoff: 4,
		Triggers:         []string{"what was behind the door stirs"},
	}, 1)
	require.NoError(t, err)
	_, err = l.MarkMentioned(ctx, seed.ID)
	require.NoError(t, err)
	_, err = l.CallbackOpportunities(ctx, 4)
	require.NoError(t, err)

	_, planted, err := l.Resolve(ctx, seed.ID, "the door opens", 5)
	require.NoError(t, err)
	require.Len(t, planted, 1)
	require.Equal(t, "what was behind the door stirs", planted[0].Description)
	require.Equal(t, state.SeedPlanted, planted[0].Status)
	require.Len(t, l.Active(), 1)
}

func TestPlant_ConflictRejected(t *testing.T) {
	t.Parallel()
	l, _ := testLedger(t)
	ctx := context.Background()

	a, err := l.Plant(ctx, foreshadow.PlantInput{Description: "the king lives"}, 1)
	require.NoError(t, err)

	_, err = l.Plant(ctx, foreshadow.PlantInput{
		Description:   "the king is dead",
		ConflictsWith: []string{a.ID},
	}, 2)
	require.ErrorIs(t, err, foreshadow.ErrConflict)
}

func TestResolve_DependencyEnforced(t *testing.T) {
	t.Parallel()
	l, _ := testLedger(t)
	ctx := context.Background()

	dep, err := l.Plant(ctx, foreshadow.PlantInput{Description: "find the map first", MaxTurnsToPayoff: 4}, 1)
	require.NoError(t, err)
	child, err := l.Plant(ctx, foreshadow.PlantInput{Description: "open the vault", MaxTurnsToPayoff: 4, DependsOn: []string{dep.ID}}, 1)
	require.NoError(t, err)

	for _, id := range []string{dep.ID, child.ID} {
		_, err = l.MarkMentioned(ctx, id)
		require.NoError(t, err)
	}
	_, err = l.CallbackOpportunities(ctx, 4)
	require.NoError(t, err)

	_, _, err = l.Resolve(ctx, child.ID, "vault opens", 5)
	require.ErrorIs(t, err, foreshadow.ErrDependencyUnresolved)

	_, _, err = l.Resolve(ctx, dep.ID, "map found", 5)
	require.NoError(t, err)
	_, _, err = l.Resolve(ctx, child.ID, "vault opens", 6)
	require.NoError(t, err)
}

func TestDetectInNarrative_AdvancesPlantedToMentioned(t *testing.T) {
	t.Parallel()
	l, _ := testLedger(t)
	ctx := context.Background()

	seed, err := l.Plant(ctx, foreshadow.PlantInput{
		Description: "A stranger watches from the crowd",
		RelatedNPCs: []string{"Veyra"},
	}, 1)
	require.NoError(t, err)

	res, err := l.DetectInNarrative(ctx, "In the market square, a stranger in grey watches you from the crowd.", nil, 3)
	require.NoError(t, err)
	require.Equal(t, []string{seed.ID}, res.Mentioned)
	require.Equal(t, state.SeedMentioned, l.Active()[0].Status)
}

func TestDetectInNarrative_NPCTagOverlap(t *testing.T) {
	t.Parallel()
	l, _ := testLedger(t)
	ctx := context.Background()

	seed, err := l.Plant(ctx, foreshadow.PlantInput{
		Description: "unpaid debt",
		RelatedNPCs: []string{"Veyra"},
	}, 1)
	require.NoError(t, err)

	res, err := l.DetectInNarrative(ctx, "The innkeeper nods at you.", []string{"veyra"}, 2)
	require.NoError(t, err)
	require.Equal(t, []string{seed.ID}, res.Mentioned)
}

func TestDetectInNarrative_ResolvesOnPayoffReference(t *testing.T) {
	t.Parallel()
	l, _ := testLedger(t)
	ctx := context.Background()

	seed, err := l.Plant(ctx, foreshadow.PlantInput{
		Description:      "A stranger watches from the crowd",
		ExpectedPayoff:   "the stranger reveals the stolen royal crest",
		MaxTurnsToPayoff: 6,
	}, 1)
	require.NoError(t, err)
	_, err = l.MarkMentioned(ctx, seed.ID)
	require.NoError(t, err)
	_, err = l.CallbackOpportunities(ctx, 5)
	require.NoError(t, err)

	res, err := l.DetectInNarrative(ctx, "The stranger steps forward and reveals the stolen royal crest.", nil, 6)
	require.NoError(t, err)
	require.Equal(t, []string{seed.ID}, res.Resolved)
	require.Empty(t, l.Active())
}

func TestOverduePressure(t *testing.T) {
	t.Parallel()
	l, _ := testLedger(t)
	ctx := context.Background()

	_, err := l.Plant(ctx, foreshadow.PlantInput{Description: "seed a", MaxTurnsToPayoff: 5}, 1)
	require.NoError(t, err)
	_, err = l.Plant(ctx, foreshadow.PlantInput{Description: "seed b", MaxTurnsToPayoff: 20}, 1)
	require.NoError(t, err)

	// Turn 7: seed a (age 6 > 5) goes overdue, +0.05 tension.
	delta, force, err := l.OverduePressure(ctx, 7)
	require.NoError(t, err)
	require.InDelta(t, 0.05, delta, 1e-9)
	require.Empty(t, force)

	// Turn 11: age 10 >= 2x5 — the seed lands on the force list.
	delta, force, err = l.OverduePressure(ctx, 11)
	require.NoError(t, err)
	require.InDelta(t, 0.05, delta, 1e-9)
	require.Len(t, force, 1)
	require.Equal(t, state.SeedOverdue, force[0].Status)
}

func TestSeedLifecycle_BumpsBibleVersion(t *testing.T) {
	t.Parallel()
	l, store := testLedger(t)
	ctx := context.Background()

	// Plant bumps once, independent of any director review.
	seed, err := l.Plant(ctx, foreshadow.PlantInput{Description: "a stranger watches", MaxTurnsToPayoff: 6}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, store.bibleVersion("camp1"))

	// Mention and elevation are not bible events.
	_, err = l.MarkMentioned(ctx, seed.ID)
	require.NoError(t, err)
	_, err = l.CallbackOpportunities(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, store.bibleVersion("camp1"))

	// Resolve bumps once more.
	_, _, err = l.Resolve(ctx, seed.ID, "the payoff", 6)
	require.NoError(t, err)
	require.Equal(t, 2, store.bibleVersion("camp1"))
}

func TestAbandon_DoesNotBumpBibleVersion(t *testing.T) {
	t.Parallel()
	l, store := testLedger(t)
	ctx := context.Background()

	seed, err := l.Plant(ctx, foreshadow.PlantInput{Description: "fizzled thread", MaxTurnsToPayoff: 2}, 1)
	require.NoError(t, err)
	_, _, err = l.OverduePressure(ctx, 4)
	require.NoError(t, err)
	_, err = l.Abandon(ctx, seed.ID, "it went nowhere")
	require.NoError(t, err)
	// Only the plant counted; the director's review records abandonments.
	require.Equal(t, 1, store.bibleVersion("camp1"))
}

func TestLedger_SurvivesReload(t *testing.T) {
	t.Parallel()
	store := newFakeSeedStore()
	ctx := context.Background()

	l1, err := foreshadow.Load(ctx, store, "camp1")
	require.NoError(t, err)
	seed, err := l1.Plant(ctx, foreshadow.PlantInput{Description: "persisted thread", MaxTurnsToPayoff: 8}, 3)
	require.NoError(t, err)

	// A process restart rebuilds the ledger from the store.
	l2, err := foreshadow.Load(ctx, store, "camp1")
	require.NoError(t, err)
	active := l2.Active()
	require.Len(t, active, 1)
	require.Equal(t, seed.ID, active[0].ID)
	require.Equal(t, state.SeedPlanted, active[0].Status)
}

func TestNextPhase_Gates(t *testing.T) {
	t.Parallel()

	// Setup gate: 3 planted seeds or 5 turns.
	_, ok := foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcSetup, SeedsPlanted: 2, TurnsInPhase: 2})
	require.False(t, ok)
	next, ok := foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcSetup, SeedsPlanted: 3})
	require.True(t, ok)
	require.Equal(t, state.ArcRisingAction, next)
	next, ok = foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcSetup, TurnsInPhase: 5})
	require.True(t, ok)
	require.Equal(t, state.ArcRisingAction, next)

	// Rising gate: ready seed + tension, long stall, or director override.
	_, ok = foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcRisingAction, SeedsReadyToResolve: 1, TensionLevel: 0.5})
	require.False(t, ok)
	next, ok = foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcRisingAction, SeedsReadyToResolve: 1, TensionLevel: 0.7})
	require.True(t, ok)
	require.Equal(t, state.ArcClimax, next)
	_, ok = foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcRisingAction, TurnsInPhase: 15})
	require.True(t, ok)
	_, ok = foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcRisingAction, DirectorOverride: true})
	require.True(t, ok)

	// Climax gate.
	next, ok = foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcClimax, KeyMomentDetected: true})
	require.True(t, ok)
	require.Equal(t, state.ArcResolution, next)

	// Resolution gate blocks on urgent seeds.
	_, ok = foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcResolution, TurnsInPhase: 2, UrgentActiveSeeds: 1})
	require.False(t, ok)
	next, ok = foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcResolution, TurnsInPhase: 2})
	require.True(t, ok)
	require.Equal(t, state.ArcEpilogue, next)

	// Epilogue rolls into a fresh setup.
	next, ok = foreshadow.NextPhase(foreshadow.GateInput{Phase: state.ArcEpilogue})
	require.True(t, ok)
	require.Equal(t, state.ArcSetup, next)
}
