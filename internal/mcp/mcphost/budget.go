package mcphost

import (
	"cmp"
	"slices"

	"github.com/deusversus/aidm/internal/mcp"
	"github.com/deusversus/aidm/pkg/provider/llm"
)

// BudgetEnforcer filters tool definitions by budget tier — the mechanism
// that keeps slow tools out of latency-bound prompt assembly.
//
// The zero value is ready for use.
type BudgetEnforcer struct{}

// SurfaceTier returns the deepest budget a surface's consumer can afford,
// following the turn pipeline's latency model:
//
//   - mechanics run inside Stage A's soft timeout → fast only;
//   - narration lookups run between Stage A and the key animator's
//     stream → standard;
//   - production work is post-response background labor → deep.
func SurfaceTier(s mcp.Surface) mcp.BudgetTier {
	switch s {
	case mcp.SurfaceMechanics:
		return mcp.BudgetFast
	case mcp.SurfaceNarration:
		return mcp.BudgetStandard
	default:
		return mcp.BudgetDeep
	}
}

// FilterTools returns only the tool definitions whose tier is ≤ maxTier,
// sorted by effective latency ascending (fastest first) so the cheapest
// tool leads the model's catalogue.
//
// Tier comparison uses the integer ordering: BudgetFast(0) ≤
// BudgetStandard(1) ≤ BudgetDeep(2).
func (e *BudgetEnforcer) FilterTools(tools []toolEntry, maxTier mcp.BudgetTier) []llm.ToolDefinition {
	var result []toolEntry
	for i := range tools {
		if tools[i].tier <= maxTier {
			result = append(result, tools[i])
		}
	}

	// Prefer measured P50 when live data exists, declared otherwise.
	slices.SortFunc(result, func(a, b toolEntry) int {
		return cmp.Compare(a.effectiveP50(), b.effectiveP50())
	})

	defs := make([]llm.ToolDefinition, len(result))
	for i, e := range result {
		defs[i] = e.def
	}
	return defs
}

// effectiveP50 returns the best-known P50 latency for sorting purposes:
// the rolling window's measurement when present, the declaration before
// any live calls.
func (e toolEntry) effectiveP50() int64 {
	if e.measurements != nil && e.measurements.Count() > 0 {
		return e.measuredP50Ms
	}
	return e.declaredP50Ms
}
