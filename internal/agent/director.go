package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deusversus/aidm/internal/foreshadow"
	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/state"
)

// DirectiveStrength orders how binding a PacingDirective is on the key
// animator.
type DirectiveStrength string

const (
	StrengthSuggestion DirectiveStrength = "suggestion"
	StrengthStrong     DirectiveStrength = "strong"
	StrengthOverride   DirectiveStrength = "override"
)

// PacingDirective is the structured output of the pre-turn micro-check.
type PacingDirective struct {
	// ArcBeat names the beat this turn should land ("first complication",
	// "quiet before the storm").
	ArcBeat string `json:"arc_beat"`

	// EscalationTarget is where tension should sit after this turn, 0-1.
	EscalationTarget float64 `json:"escalation_target"`

	// MustReference lists threads the scene must touch; Avoid lists what
	// it must not spend.
	MustReference []string `json:"must_reference"`
	Avoid         []string `json:"avoid"`

	// PhaseTransition, when non-empty, is the arc phase the gates
	// authorized; Strength override forces the animator to write the
	// turning-point beat this turn.
	PhaseTransition state.ArcPhase    `json:"phase_transition"`
	Strength        DirectiveStrength `json:"strength"`

	// SceneBoundary marks a scene break, the only point at which the
	// composition layer applies a narrative-mode change.
	SceneBoundary bool `json:"scene_boundary"`
}

const directiveSchema = `{
  "type": "object",
  "properties": {
    "arc_beat": {"type": "string"},
    "escalation_target": {"type": "number", "minimum": 0, "maximum": 1},
    "must_reference": {"type": "array", "items": {"type": "string"}},
    "avoid": {"type": "array", "items": {"type": "string"}},
    "phase_transition": {"type": "string"},
    "strength": {"enum": ["suggestion", "strong", "override"]},
    "scene_boundary": {"type": "boolean"}
  },
  "required": ["arc_beat", "escalation_target", "must_reference", "avoid", "phase_transition", "strength", "scene_boundary"]
}`

// Director runs both sides of the pacing brain: the ~200ms pre-turn
// micro-check and the heavyweight post-turn review.
type Director struct {
	layer *llmcap.Layer
}

func NewDirector(layer *llmcap.Layer) *Director {
	return &Director{layer: layer}
}

// preTurnTimeout keeps the micro-check inside the Stage-A fan-in budget;
// the configured model should be a fast one.
const preTurnTimeout = 5 * time.Second

// MicroCheck reads the compressed bible and world state and emits the
// turn's PacingDirective. The arc gates are evaluated mechanically first;
// the model may adopt the authorized transition but cannot invent one the
// gates did not allow (except its own override strength on rising_action,
// which the gate honors by construction). Degraded output is an empty
// suggestion-strength directive.
func (d *Director) MicroCheck(ctx context.Context, bible *state.CampaignBible, ws *state.WorldState, ledger *foreshadow.Ledger, lastNarrative, playerInput string) PacingDirective {
	gateNext, gateOpen := foreshadow.NextPhase(foreshadow.GateInputFrom(ws, ledger, false, false))

	blocks := llmcap.Blocks{
		StablePrefix: "You are the pacing director of a long-form roleplay. In one structured pass: name the beat this turn should land, set an escalation target, list threads to reference or protect, and decide whether this is a scene boundary. Strength escalates only when the story genuinely needs a turning point.",
		Session:      bibleExcerpt(bible),
		Dynamic: fmt.Sprintf("Arc phase: %s (turn %d in phase, tension %.2f)\nGate status: %s\nActive seeds: %s\n\nLast narrative:\n%s\n\nPlayer input:\n%s",
			ws.ArcPhase, ws.TurnsInPhase, ws.TensionLevel, gateSummary(gateNext, gateOpen),
			seedSummary(ledger), tail(lastNarrative, 1500), playerInput),
	}

	var out PacingDirective
	if err := schemaCall(ctx, d.layer, NameDirector, blocks, directiveSchema, &out, preTurnTimeout); err != nil {
		slog.Warn("director micro-check degraded", "error", err)
		return PacingDirective{Strength: StrengthSuggestion, MustReference: []string{}, Avoid: []string{}}
	}

	// The model cannot authorize a transition the gates didn't open.
	if out.PhaseTransition != "" && (!gateOpen || out.PhaseTransition != gateNext) {
		if out.Strength == StrengthOverride && ws.ArcPhase == state.ArcRisingAction {
			// Override strength is itself a rising->climax gate condition.
			out.PhaseTransition = state.ArcClimax
		} else {
			out.PhaseTransition = ""
		}
	}
	if out.Strength == "" {
		out.Strength = StrengthSuggestion
	}
	return out
}

func gateSummary(next state.ArcPhase, open bool) string {
	if !open {
		return "no phase transition authorized"
	}
	return "transition to " + string(next) + " authorized"
}

func seedSummary(ledger *foreshadow.Ledger) string {
	seeds := ledger.Active()
	if len(seeds) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(seeds))
	for _, s := range seeds {
		parts = append(parts, fmt.Sprintf("%s [%s]", s.Description, s.Status))
	}
	return strings.Join(parts, "; ")
}

func bibleExcerpt(b *state.CampaignBible) string {
	var sb strings.Builder
	sb.WriteString("Campaign bible v")
	fmt.Fprintf(&sb, "%d\n", b.BibleVersion)
	if len(b.ActiveThreads) > 0 {
		sb.WriteString("Active threads: " + strings.Join(b.ActiveThreads, "; ") + "\n")
	}
	for _, e := range b.ArcHistory {
		fmt.Fprintf(&sb, "Turn %d: %s\n", e.TurnNumber, e.Summary)
	}
	return sb.String()
}

// ── post-turn review ─────────────────────────────────────────────────────

// ReviewResult is the post-turn review's bible update.
type ReviewResult struct {
	ArcSummary      string   `json:"arc_summary"`
	ActiveThreads   []string `json:"active_threads"`
	ResolvedThreads []string `json:"resolved_threads"`
	Situation       string   `json:"situation"`

	// SeedSuggestions are plant recommendations handed to the production
	// agent; the review itself never mutates the ledger.
	SeedSuggestions []string `json:"seed_suggestions"`

	// SpotlightNotes rebalance cast attention ("Fern has not spoken in
	// four turns").
	SpotlightNotes []string `json:"spotlight_notes"`
}

const reviewSchema = `{
  "type": "object",
  "properties": {
    "arc_summary": {"type": "string"},
    "active_threads": {"type": "array", "items": {"type": "string"}},
    "resolved_threads": {"type": "array", "items": {"type": "string"}},
    "situation": {"type": "string", "description": "the world situation rewritten from active consequences"},
    "seed_suggestions": {"type": "array", "items": {"type": "string"}},
    "spotlight_notes": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["arc_summary", "active_threads", "resolved_threads", "situation", "seed_suggestions", "spotlight_notes"]
}`

// Review runs the full-context post-turn pass and applies it to the bible:
// arc history append, thread updates, situation rewrite, version bump.
// The mutated bible is returned for the caller to persist; on provider
// failure the bible is returned unchanged with ok=false.
func (d *Director) Review(ctx context.Context, bible *state.CampaignBible, ws *state.WorldState, recentTurns []state.Turn, turnNumber int) (*ReviewResult, bool) {
	var transcript strings.Builder
	for _, t := range recentTurns {
		fmt.Fprintf(&transcript, "— Turn %d (%s) —\n%s\n%s\n\n", t.TurnNumber, t.Intent, t.PlayerInput, tail(t.Narrative, 2000))
	}

	blocks := llmcap.Blocks{
		StablePrefix: "You are the reviewing director of a long-form roleplay. Read the recent turns and update the campaign bible: summarize the arc movement, maintain the thread lists, rewrite the situation from active consequences (what the world is doing now, not a recap), recommend foreshadowing seeds worth planting, and note any cast members starved of spotlight.",
		Session:      bibleExcerpt(bible),
		Dynamic:      fmt.Sprintf("Arc phase: %s, tension %.2f\n\nRecent turns:\n%s", ws.ArcPhase, ws.TensionLevel, transcript.String()),
	}

	var out ReviewResult
	if err := schemaCall(ctx, d.layer, NameDirector, blocks, reviewSchema, &out, backgroundTimeout); err != nil {
		slog.Warn("director post-review degraded", "error", err)
		return nil, false
	}

	bible.AppendArcHistory(state.ArcHistoryEntry{TurnNumber: turnNumber, Summary: out.ArcSummary, RecordedAt: time.Now()})
	bible.ActiveThreads = out.ActiveThreads
	for _, r := range out.ResolvedThreads {
		if !containsString(bible.ResolvedThreads, r) {
			bible.ResolvedThreads = append(bible.ResolvedThreads, r)
		}
	}
	bible.BibleVersion++
	return &out, true
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
