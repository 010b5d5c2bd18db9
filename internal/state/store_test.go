package state_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/deusversus/aidm/internal/state"
)

var (
	sharedDSN     string
	containerOnce sync.Once
	containerErr  error
)

// testStore starts (once per test binary) a shared Postgres testcontainer,
// migrates the schema, and returns a ready-to-use *state.Store. Mirrors the
// shared-container-per-package pattern used elsewhere in the pack for fast
// local test iteration.
func testStore(t *testing.T) *state.Store {
	t.Helper()
	ctx := context.Background()

	containerOnce.Do(func() {
		c, err := tcpostgres.Run(ctx,
			"postgres:17-alpine",
			tcpostgres.WithDatabase("aidm_test"),
			tcpostgres.WithUsername("aidm"),
			tcpostgres.WithPassword("aidm"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = err
			return
		}
		sharedDSN, containerErr = c.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr)

	store, pool, err := state.NewPostgresStore(ctx, sharedDSN)
	require.NoError(t, err)
	require.NoError(t, state.Migrate(ctx, pool))
	t.Cleanup(pool.Close)
	return store
}

func seedCampaign(t *testing.T, ctx context.Context, s *state.Store) state.Campaign {
	t.Helper()
	c := state.Campaign{ID: "camp-1", Name: "Test Run", ProfileID: "frieren", CreatedAt: time.Now()}
	require.NoError(t, s.CreateCampaign(ctx, c))
	return c
}

func TestCampaignRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	c := seedCampaign(t, ctx, s)

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Equal(t, c.ProfileID, got.ProfileID)
}

func TestCharacterResourcesNeverNegativePostCommit(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	c := seedCampaign(t, ctx, s)

	ch := state.Character{CampaignID: c.ID, Name: "Himmel", PowerTier: "T5", Level: 3, HP: 10, MaxHP: 10, MP: 5, MaxMP: 5}
	require.NoError(t, s.UpsertCharacter(ctx, ch))

	applied := state.Apply(ch, state.ResourceCost{HP: 999})
	require.Equal(t, 0, applied.HP)
	require.NoError(t, s.UpsertCharacter(ctx, applied))

	got, err := s.GetCharacter(ctx, c.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, got.HP, 0)
}

func TestResourceGuardBlocksInsufficientResources(t *testing.T) {
	g := state.NewResourceGuard()
	ch := state.Character{HP: 5, MP: 0, SP: 0}

	err := g.Check(ch, state.ResourceCost{HP: 10}, false)
	require.ErrorIs(t, err, state.ErrResourceInsufficient)

	require.NoError(t, g.Check(ch, state.ResourceCost{HP: 10}, true))
}

func TestTurnNumbersMonotonicAndSlidingWindow(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	c := seedCampaign(t, ctx, s)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AppendTurn(ctx, state.Turn{
			CampaignID: c.ID, TurnNumber: i, Narrative: "beat", CreatedAt: time.Now(),
		}))
	}

	latest, err := s.LatestTurnNumber(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 3, latest)

	window, err := s.GetSlidingWindowTurns(ctx, c.ID, 20, 5)
	require.NoError(t, err)
	require.Len(t, window, 3)
	for i, turn := range window {
		require.Equal(t, i+1, turn.TurnNumber)
	}
}

func TestPinTurnDualPath(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	c := seedCampaign(t, ctx, s)
	require.NoError(t, s.AppendTurn(ctx, state.Turn{CampaignID: c.ID, TurnNumber: 1, CreatedAt: time.Now()}))

	require.NoError(t, s.PinTurn(ctx, c.ID, 1))
	window, err := s.GetSlidingWindowTurns(ctx, c.ID, 0, 5)
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, "director", window[0].PinnedBy)

	require.NoError(t, s.PlayerPinTurn(ctx, c.ID, 1))
	window, err = s.GetSlidingWindowTurns(ctx, c.ID, 0, 5)
	require.NoError(t, err)
	require.Equal(t, "player", window[0].PinnedBy)
}

func TestResetPreservesNothingButProfilesAreExternal(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	seedCampaign(t, ctx, s)

	require.NoError(t, s.ResetCampaignState(ctx))

	_, err := s.GetCampaign(ctx, "camp-1")
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestListCampaignIDs_AllCampaignsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	seedCampaign(t, ctx, s)
	require.NoError(t, s.CreateCampaign(ctx, state.Campaign{
		ID: "camp-2", Name: "Second Run", ProfileID: "frieren", CreatedAt: time.Now().Add(time.Second),
	}))

	// Reset and deletion purge derived state per campaign from this list,
	// so it must cover every campaign, not just the active one.
	ids, err := s.ListCampaignIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"camp-1", "camp-2"}, ids)

	require.NoError(t, s.DeleteCampaign(ctx, "camp-1"))
	ids, err = s.ListCampaignIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"camp-2"}, ids)
}

func TestCommitRollsBackAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	c := seedCampaign(t, ctx, s)

	err := s.Begin().
		Precheck(func() error { return assertAlwaysFails() }).
		AppendTurn(state.Turn{CampaignID: c.ID, TurnNumber: 1, CreatedAt: time.Now()}).
		Commit(ctx)
	require.ErrorIs(t, err, state.ErrStateConflict)

	latest, err := s.LatestTurnNumber(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 0, latest)
}

func assertAlwaysFails() error {
	return state.ErrStateConflict
}
