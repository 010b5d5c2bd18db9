package tier_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/mcp"
	"github.com/deusversus/aidm/internal/mcp/tier"
)

// advanced returns a selector past the first-turn heuristic.
func advanced() *tier.Selector {
	s := tier.NewSelector()
	s.RecordTurn()
	return s
}

func TestSelect_RecallPhrasingIsStandard(t *testing.T) {
	t.Parallel()
	s := advanced()
	// The phrasings the orchestrator's deep-recall gate keys on.
	for _, input := range []string{
		"do you remember the tavern in Thornfield?",
		"what happened the last time we met Veyra?",
		"tell me about the sealed door",
	} {
		require.Equal(t, mcp.BudgetStandard, s.Select(input, 0), input)
	}
}

func TestSelect_DeepKeywords(t *testing.T) {
	t.Parallel()
	s := advanced()
	require.Equal(t, mcp.BudgetDeep, s.Select("tell me everything about the Hero Party's final battle", 0))
}

func TestSelect_DeepAntiSpamDemotesToStandard(t *testing.T) {
	t.Parallel()
	s := tier.NewSelector(tier.WithMinDeepInterval(time.Hour))
	s.RecordTurn()
	require.Equal(t, mcp.BudgetDeep, s.Select("explain everything about the mana system", 0))
	// A second deep ask inside the interval is demoted.
	require.Equal(t, mcp.BudgetStandard, s.Select("now tell me everything about Zoltraak", 0))
}

func TestSelect_OrdinaryActionIsFast(t *testing.T) {
	t.Parallel()
	s := advanced()
	require.Equal(t, mcp.BudgetFast, s.Select("I draw my sword and step forward.", 0))
}

func TestSelect_FirstTurnAllowsLookups(t *testing.T) {
	t.Parallel()
	s := tier.NewSelector()
	// The opening exchange may need memory lookups regardless of phrasing.
	require.Equal(t, mcp.BudgetStandard, s.Select("Good morning.", 0))
	s.RecordTurn()
	require.Equal(t, mcp.BudgetFast, s.Select("Good morning.", 0))
}

func TestSelect_DirectorOverrideWins(t *testing.T) {
	t.Parallel()
	s := advanced()
	require.Equal(t, mcp.BudgetDeep, s.Select("hello", mcp.BudgetDeep))
	require.Equal(t, mcp.BudgetStandard, s.Select("tell me everything", mcp.BudgetStandard))
}

func TestSelect_QueueDepthPrefersFast(t *testing.T) {
	t.Parallel()
	s := advanced()
	s.SetQueueDepth(3)
	// Queued inputs drop STANDARD lookups for latency, but never deep asks.
	require.Equal(t, mcp.BudgetFast, s.Select("do you remember the tavern?", 0))
	require.Equal(t, mcp.BudgetDeep, s.Select("tell me everything about the war", 0))
}

func TestSelect_CustomKeywords(t *testing.T) {
	t.Parallel()
	s := tier.NewSelector(tier.WithStandardKeywords("flashback"))
	s.RecordTurn()
	require.Equal(t, mcp.BudgetStandard, s.Select("give me a flashback", 0))
	require.Equal(t, mcp.BudgetFast, s.Select("do you remember?", 0), "defaults replaced")
}

func TestReset_ClearsSessionState(t *testing.T) {
	t.Parallel()
	s := advanced()
	s.Reset()
	// Back on the first-turn heuristic.
	require.Equal(t, mcp.BudgetStandard, s.Select("hi", 0))
}
