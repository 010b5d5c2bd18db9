// Package promptctx assembles the key animator's three-block prompt: the
// stable prefix (Block 1, byte-identical across a session for prefix-cache
// efficiency), the slow-changing session block (Block 2), and the per-turn
// dynamic block (Block 3).
//
// The discipline matters more than the content: anything stable belongs in
// Block 1, anything that moves with the bible in Block 2, and only the
// genuinely per-turn material in Block 3. A stable string drifting into
// Block 3 silently destroys the cacheable prefix.
package promptctx

import (
	"sort"

	"github.com/deusversus/aidm/internal/agent"
	"github.com/deusversus/aidm/internal/composition"
	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/profile"
	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/memory"
)

// EnrichedNPC pairs an NPC's live relational record with their voice card.
// Up to three NPCs per scene (ranked by interaction count) carry the full
// enrichment; the rest get the base card only.
type EnrichedNPC struct {
	NPC  state.NPC
	Card profile.VoiceCard

	// LastInteraction is a summarized excerpt of the most recent exchange
	// with this NPC; empty for base-card-only NPCs.
	LastInteraction string

	// KnownFacts is the NPC's visible slice of the knowledge graph,
	// rendered as short relational lines; empty for base-card-only NPCs.
	KnownFacts []string

	// Enriched marks full enrichment (disposition, milestones, stage,
	// last interaction) versus base card only.
	Enriched bool
}

// EnrichVoiceCards merges base voice cards with live DB data for the NPCs
// present, fully enriching the top three by interaction count.
// lastInteractions is keyed by NPC ID, knownFacts by NPC name.
func EnrichVoiceCards(prof *profile.Profile, present []state.NPC, lastInteractions map[string]string, knownFacts map[string][]string) []EnrichedNPC {
	ranked := make([]state.NPC, len(present))
	copy(ranked, present)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].InteractionCount > ranked[j].InteractionCount
	})

	out := make([]EnrichedNPC, 0, len(ranked))
	for i, n := range ranked {
		e := EnrichedNPC{
			NPC:  n,
			Card: prof.VoiceCards[profile.NormalizeKey(n.Name)],
		}
		if i < 3 {
			e.Enriched = true
			e.LastInteraction = lastInteractions[n.ID]
			e.KnownFacts = knownFacts[n.Name]
		}
		out = append(out, e)
	}
	return out
}

// SessionInputs is everything Block 2 renders.
type SessionInputs struct {
	Bible         *state.CampaignBible
	ArcPhase      state.ArcPhase
	Callbacks     []state.ForeshadowingSeed // seeds in ready_to_resolve
	DirectorNotes []string                  // last 5 director notes
}

// TurnInputs is everything Block 3 renders.
type TurnInputs struct {
	PlayerInput string
	Intent      state.Intent

	// Window is the sliding window oldest-first; Summaries carries the
	// compacted form of turns that rolled off.
	Window    []state.Turn
	Summaries []string

	Memories []memory.ChunkResult
	NPCs     []EnrichedNPC

	Outcome   *agent.OutcomeResult
	Combat    *agent.CombatResult
	Directive agent.PacingDirective
}

// Assemble produces the full three-block prompt for the key animator.
func Assemble(prof *profile.Profile, comp composition.Composition, session SessionInputs, turn TurnInputs) llmcap.Blocks {
	return llmcap.Blocks{
		StablePrefix: StablePrefix(prof, comp),
		Session:      SessionBlock(session),
		Dynamic:      DynamicBlock(turn),
	}
}
