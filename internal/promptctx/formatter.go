package promptctx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deusversus/aidm/internal/agent"
	"github.com/deusversus/aidm/internal/composition"
	"github.com/deusversus/aidm/internal/profile"
)

// sceneLengthContract maps the pacing band onto the animator's prose
// target.
var sceneLengthContract = map[profile.SceneLength]string{
	profile.SceneRapid:      "2-3 short paragraphs, punchy sentences, minimal internal monologue.",
	profile.SceneBrisk:      "3-4 paragraphs.",
	profile.SceneModerate:   "4 paragraphs with selective introspection.",
	profile.SceneDeliberate: "4-5 paragraphs with internal monologue beats.",
	profile.SceneLanguid:    "5-7 paragraphs, literary prose, significant atmosphere.",
}

// dnaGuide renders each dial into its narration-behavior instruction. Only
// dials away from the midpoint speak; a 5 has nothing to say.
func dnaGuide(d profile.DNAScales) string {
	type dial struct {
		value     int
		low, high string
	}
	dials := []dial{
		{d.IntrospectionVsAction, "linger in interiority; let thought precede motion", "keep the camera on motion; reveal thought through action"},
		{d.ComedyVsDrama, "reach for levity first; sincerity lands as a surprise", "play it straight; levity is rare and earned"},
		{d.SimpleVsComplex, "one clear thread per scene", "let schemes and subplots braid through scenes"},
		{d.PowerFantasyVsStruggle, "competence is a pleasure to watch; let wins feel good", "strain shows; victories cost visibly"},
		{d.ExplainedVsMysterious, "mechanics are explained onscreen; characters reason aloud", "keep the machinery off-page; wonder over explanation"},
		{d.FastPacedVsSlowBurn, "cut fast between beats", "give moments room; silence is a beat"},
		{d.EpisodicVsSerialized, "close a loop every session", "every scene owes something to the long arc"},
		{d.GroundedVsAbsurd, "keep physics and consequence mundane", "heightened reality; scale and strangeness are native"},
		{d.TacticalVsInstinctive, "fights are puzzles; telegraph the pieces", "fights are feeling; instinct beats analysis"},
		{d.HopefulVsCynical, "the world rewards decency, eventually", "the world takes more than it gives"},
		{d.EnsembleVsSolo, "the cast shares the page", "one perspective carries the story"},
	}
	var b strings.Builder
	for _, dl := range dials {
		switch {
		case dl.value <= 3:
			b.WriteString("- ")
			b.WriteString(dl.low)
			b.WriteString("\n")
		case dl.value >= 7:
			b.WriteString("- ")
			b.WriteString(dl.high)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// StablePrefix renders Block 1: base prompt, DNA interpretation guide,
// power system with mandatory limitations, author voice, composition
// guidance, pacing contract, genre guidance. Inputs are immutable for a
// session, so the output is byte-stable and prefix-cacheable.
func StablePrefix(prof *profile.Profile, comp composition.Composition) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the narrator of a long-form roleplay set in the world of %s. Write in the IP's own voice; the reader should believe this scene could appear in the source material.\n\n", prof.Name)

	if guide := dnaGuide(prof.DNAScales); guide != "" {
		b.WriteString("Storytelling DNA:\n")
		b.WriteString(guide)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Power system — %s: %s\n", prof.PowerSystem.Name, prof.PowerSystem.Mechanics)
	if len(prof.PowerSystem.Limitations) > 0 {
		b.WriteString("You MUST respect these limitations:\n")
		for _, lim := range prof.PowerSystem.Limitations {
			b.WriteString("- ")
			b.WriteString(lim)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	if prof.AuthorVoice.SentencePatterns != "" {
		fmt.Fprintf(&b, "Author voice: sentences — %s; structure — %s; dialogue — %s; emotional rhythm — %s.\n",
			prof.AuthorVoice.SentencePatterns, prof.AuthorVoice.StructuralMotifs,
			prof.AuthorVoice.DialogueQuirks, prof.AuthorVoice.EmotionalRhythm)
		if prof.AuthorVoice.ExampleVoice != "" {
			fmt.Fprintf(&b, "Example of the voice: %q\n", prof.AuthorVoice.ExampleVoice)
		}
		b.WriteString("\n")
	}
	if prof.DirectorPersonality != "" {
		fmt.Fprintf(&b, "Directing sensibility: %s\n\n", prof.DirectorPersonality)
	}

	for _, g := range composition.Guidance(comp) {
		fmt.Fprintf(&b, "[%s: %s] %s\n", g.Axis, g.Value, g.Text)
	}
	b.WriteString("\n")

	if contract, ok := sceneLengthContract[prof.PacingStyle.SceneLength]; ok {
		fmt.Fprintf(&b, "Scene length: %s\n", contract)
	}
	if len(prof.DetectedGenres) > 0 {
		fmt.Fprintf(&b, "Genres: %s\n", strings.Join(prof.DetectedGenres, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// SessionBlock renders Block 2: the bible excerpt, callback opportunities,
// the arc-phase directive, and the last director notes.
func SessionBlock(in SessionInputs) string {
	var b strings.Builder

	if in.Bible != nil {
		fmt.Fprintf(&b, "Campaign bible (v%d):\n", in.Bible.BibleVersion)
		if len(in.Bible.ActiveThreads) > 0 {
			fmt.Fprintf(&b, "Active threads: %s\n", strings.Join(in.Bible.ActiveThreads, "; "))
		}
		for _, e := range in.Bible.ArcHistory {
			fmt.Fprintf(&b, "- turn %d: %s\n", e.TurnNumber, e.Summary)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Arc phase: %s.\n", in.ArcPhase)

	if len(in.Callbacks) > 0 {
		b.WriteString("Callback opportunities (threads ripe for payoff — reference one if the scene allows):\n")
		for _, s := range in.Callbacks {
			fmt.Fprintf(&b, "- %s (expected payoff: %s)\n", s.Description, s.ExpectedPayoff)
		}
	}
	if len(in.DirectorNotes) > 0 {
		b.WriteString("Director notes:\n")
		for _, n := range in.DirectorNotes {
			b.WriteString("- ")
			b.WriteString(n)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// DynamicBlock renders Block 3: window, memories, intent, outcome, NPCs,
// and the pacing directive, ending with the player's input.
func DynamicBlock(in TurnInputs) string {
	var b strings.Builder

	if len(in.Summaries) > 0 {
		b.WriteString("Earlier (compressed):\n")
		for _, s := range in.Summaries {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	for _, t := range in.Window {
		fmt.Fprintf(&b, "— Turn %d —\nPlayer: %s\n%s\n\n", t.TurnNumber, t.PlayerInput, t.Narrative)
	}

	if len(in.Memories) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, m := range in.Memories {
			fmt.Fprintf(&b, "- %s\n", m.Chunk.Content)
		}
		b.WriteString("\n")
	}

	if len(in.NPCs) > 0 {
		b.WriteString("NPCs in scene:\n")
		for _, e := range in.NPCs {
			b.WriteString(formatNPC(e))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Intent: %s\n", in.Intent)
	if in.Combat != nil {
		fmt.Fprintf(&b, "Combat outcome (authoritative, already resolved): %s\n", in.Combat.Summary)
	}
	if in.Outcome != nil {
		fmt.Fprintf(&b, "Outcome: %s (DC %d)\n", in.Outcome.Success, in.Outcome.DC)
		// Cost and consequence are injected ONLY when non-nil: a routine OP
		// action's nils are a promise the scene carries no imposed price.
		if in.Outcome.Cost != nil {
			fmt.Fprintf(&b, "Cost to weave in: %s\n", *in.Outcome.Cost)
		}
		if in.Outcome.Consequence != nil {
			fmt.Fprintf(&b, "Consequence to set in motion: %s\n", *in.Outcome.Consequence)
		}
	}

	b.WriteString(formatDirective(in.Directive))
	fmt.Fprintf(&b, "\nPlayer:\n%s", in.PlayerInput)
	return b.String()
}

func formatNPC(e EnrichedNPC) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s", e.NPC.Name)
	if e.Card.SpeechPatterns != "" {
		fmt.Fprintf(&b, " — voice: %s; rhythm: %s", e.Card.SpeechPatterns, e.Card.DialogueRhythm)
		if len(e.Card.SignaturePhrases) > 0 {
			fmt.Fprintf(&b, "; phrases: %q", e.Card.SignaturePhrases)
		}
	}
	if e.Enriched {
		fmt.Fprintf(&b, "\n  disposition: %s; stage: %s", e.NPC.Disposition, e.NPC.IntelligenceStage)
		var ms []string
		for k, v := range e.NPC.Milestones {
			if v {
				ms = append(ms, k)
			}
		}
		if len(ms) > 0 {
			sort.Strings(ms)
			fmt.Fprintf(&b, "; milestones: %s", strings.Join(ms, ", "))
		}
		if len(e.KnownFacts) > 0 {
			fmt.Fprintf(&b, "\n  knows: %s", strings.Join(e.KnownFacts, "; "))
		}
		if e.LastInteraction != "" {
			fmt.Fprintf(&b, "\n  last interaction: %s", e.LastInteraction)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func formatDirective(d agent.PacingDirective) string {
	var b strings.Builder
	if d.ArcBeat == "" && len(d.MustReference) == 0 && d.PhaseTransition == "" {
		return ""
	}
	switch d.Strength {
	case agent.StrengthOverride:
		b.WriteString("DIRECTOR (non-negotiable): ")
	case agent.StrengthStrong:
		b.WriteString("Director (strong guidance): ")
	default:
		b.WriteString("Director (suggestion): ")
	}
	if d.ArcBeat != "" {
		fmt.Fprintf(&b, "land the beat %q. ", d.ArcBeat)
	}
	fmt.Fprintf(&b, "Escalation target %.1f. ", d.EscalationTarget)
	if len(d.MustReference) > 0 {
		fmt.Fprintf(&b, "Reference: %s. ", strings.Join(d.MustReference, "; "))
	}
	if len(d.Avoid) > 0 {
		fmt.Fprintf(&b, "Avoid: %s. ", strings.Join(d.Avoid, "; "))
	}
	if d.PhaseTransition != "" {
		fmt.Fprintf(&b, "This turn is the turning point into %s — write the pivot.", d.PhaseTransition)
	}
	b.WriteString("\n")
	return b.String()
}
