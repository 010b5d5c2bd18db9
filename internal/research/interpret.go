package research

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/deusversus/aidm/internal/composition"
	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/profile"
	"github.com/deusversus/aidm/internal/scrape"
)

// tropeDefinitions enumerates each trope flag with its canonical
// definition. Spelling the definitions out in the extraction prompt
// corrects the common misclassifications a bare flag name invites.
var tropeDefinitions = map[string]string{
	"found_family":        "an assembled group of unrelated characters becomes the protagonist's de facto family",
	"slow_burn_romance":   "romantic arc spanning a majority of runtime, not necessarily explicit",
	"tournament_arc":      "formal competition structure with brackets, rounds, and ranked opponents",
	"power_of_friendship": "bonds between characters function as a literal source of strength in climactic moments",
	"moral_greyness":      "antagonists have defensible motives and protagonists make costly compromises",
	"training_arc":        "dedicated stretches of runtime devoted to deliberate skill acquisition",
	"hidden_identity":     "a protagonist conceals their true nature, lineage, or strength from most of the cast",
	"time_skip":           "the narrative jumps years forward at least once, re-establishing the status quo",
	"monster_of_the_week": "episodic antagonists resolved within one or two episodes",
	"chosen_one":          "the protagonist is singled out by prophecy, lineage, or unique gift",
	"redemption_arc":      "a significant antagonist or rival is gradually turned sympathetic",
	"tragic_backstory":    "formative loss or trauma motivating a main character, revealed over time",
}

// dialsOutput is Call 1's schema: structural dials, tone, combat style,
// power distribution, and trope flags.
type dialsOutput struct {
	DNAScales profile.DNAScales `json:"dna_scales"`
	Tone      profile.Tone      `json:"tone"`
	CombatStyle       string                    `json:"combat_style"`
	PowerDistribution profile.PowerDistribution `json:"power_distribution"`
	Tropes            map[string]bool           `json:"storytelling_tropes"`
}

const dialsSchema = `{
  "type": "object",
  "properties": {
    "dna_scales": {"type": "object", "description": "the eleven integer dials, each 0-10"},
    "tone": {"type": "object", "properties": {"darkness": {"type": "integer"}, "comedy": {"type": "integer"}, "optimism": {"type": "integer"}}},
    "combat_style": {"enum": ["tactical", "spectacle", "martial", "magical", "absent"]},
    "power_distribution": {"type": "object", "properties": {"peak_tier": {"type": "string"}, "typical_tier": {"type": "string"}, "floor_tier": {"type": "string"}, "gradient": {"enum": ["spike", "top_heavy", "flat", "compressed"]}}},
    "storytelling_tropes": {"type": "object", "description": "trope flag -> boolean"}
  },
  "required": ["dna_scales", "tone", "combat_style", "power_distribution", "storytelling_tropes"]
}`

const powerSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"}, "mechanics": {"type": "string"},
    "limitations": {"type": "array", "items": {"type": "string"}},
    "acquisition": {"type": "string"}, "peak": {"type": "string"}
  },
  "required": ["name", "mechanics", "limitations", "acquisition", "peak"]
}`

// voicesOutput is Call 3's schema: one card per normalized character key.
type voicesOutput struct {
	VoiceCards map[string]profile.VoiceCard `json:"voice_cards"`
}

const voicesSchema = `{
  "type": "object",
  "properties": {
    "voice_cards": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "speech_patterns": {"type": "string"}, "humor_type": {"type": "string"},
          "signature_phrases": {"type": "array", "items": {"type": "string"}},
          "dialogue_rhythm": {"type": "string"}, "emotional_expression": {"type": "string"}
        }
      }
    }
  },
  "required": ["voice_cards"]
}`

// synthesisOutput is Call 4's schema: the interrelated narrative-voice
// fields only — it deliberately does not re-generate voice cards, power
// distribution, or trope corrections.
type synthesisOutput struct {
	DirectorPersonality string              `json:"director_personality"`
	AuthorVoice         profile.AuthorVoice `json:"author_voice"`
	PacingStyle         profile.PacingStyle `json:"pacing_style"`
	Composition         profile.Composition `json:"composition"`
}

const synthesisSchema = `{
  "type": "object",
  "properties": {
    "director_personality": {"type": "string"},
    "author_voice": {"type": "object", "properties": {
      "sentence_patterns": {"type": "string"}, "structural_motifs": {"type": "string"},
      "dialogue_quirks": {"type": "string"}, "emotional_rhythm": {"type": "string"},
      "example_voice": {"type": "string"}}},
    "pacing_style": {"type": "object", "properties": {
      "scene_length": {"enum": ["rapid", "brisk", "moderate", "deliberate", "languid"]},
      "arc_length_sessions": {"type": "integer"}}},
    "composition": {"type": "object", "properties": {
      "tension_source": {"type": "string"}, "power_expression": {"type": "string"},
      "narrative_focus": {"type": "string"}}}
  },
  "required": ["director_personality", "author_voice", "pacing_style", "composition"]
}`

// interpret runs the four structured-extraction calls and assembles the
// profile. Only Call 1 is fatal; every other call degrades with a logged
// fallback and flags the profile for review.
func (p *Pipeline) interpret(ctx context.Context, merged *MergedMedia, harvest *scrape.HarvestResult) (*profile.Profile, bool, error) {
	needsReview := false
	chunks := ChunkRawContent(harvest.RawContent)

	// ── Call 1: structural dials ─────────────────────────────────────────
	var dials dialsOutput
	if err := p.schemaCall(ctx, dialsPrompt(merged, chunks), dialsSchema, &dials); err != nil {
		return nil, false, fmt.Errorf("research: structural dials extraction: %w", err)
	}

	// ── Call 2: power system ─────────────────────────────────────────────
	var power profile.PowerSystem
	if err := p.schemaCall(ctx, powerPrompt(merged, chunks), powerSchema, &power); err != nil {
		slog.Warn("power-system extraction degraded", "title", merged.EnglishTitle, "error", err)
		power = fallbackPowerSystem(merged)
		needsReview = true
	}

	// ── Call 3: voice cards ──────────────────────────────────────────────
	var voices voicesOutput
	if err := p.schemaCall(ctx, voicesPrompt(merged, chunks), voicesSchema, &voices); err != nil {
		slog.Warn("voice-card extraction degraded", "title", merged.EnglishTitle, "error", err)
		voices.VoiceCards = map[string]profile.VoiceCard{}
		needsReview = true
	}
	normalized := make(map[string]profile.VoiceCard, len(voices.VoiceCards))
	for name, card := range voices.VoiceCards {
		normalized[profile.NormalizeKey(name)] = card
	}

	// ── Call 4: narrative synthesis ──────────────────────────────────────
	var synth synthesisOutput
	if err := p.schemaCall(ctx, synthesisPrompt(merged, &dials, &power, normalized), synthesisSchema, &synth); err != nil {
		slog.Warn("narrative synthesis degraded to DNA template", "title", merged.EnglishTitle, "error", err)
		synth = templateSynthesis(&dials)
		needsReview = true
	}

	name := merged.EnglishTitle
	if name == "" {
		name = merged.RomajiTitle
	}
	prof := &profile.Profile{
		ID:                  profile.NormalizeKey(name),
		Name:                name,
		Aliases:             aliasSet(merged),
		RomanizedTitle:      merged.RomajiTitle,
		NativeTitle:         merged.NativeTitle,
		Status:              merged.Status,
		SeriesGroup:         merged.SeriesGroup,
		SeriesPosition:      1,
		DNAScales:           dials.DNAScales,
		Tone:                dials.Tone,
		StorytellingTropes:  dials.Tropes,
		CombatStyle:         profile.CombatStyle(dials.CombatStyle),
		PowerSystem:         power,
		PowerDistribution:   dials.PowerDistribution,
		DetectedGenres:      merged.Genres,
		VoiceCards:          normalized,
		AuthorVoice:         synth.AuthorVoice,
		DirectorPersonality: synth.DirectorPersonality,
		PacingStyle:         synth.PacingStyle,
		Composition:         synth.Composition,
	}
	return prof, needsReview, nil
}

func (p *Pipeline) schemaCall(ctx context.Context, dynamic, schema string, target any) error {
	cctx, cancel := context.WithTimeout(ctx, interpretTimeout)
	defer cancel()
	return p.llm.CompleteWithSchema(cctx, agentName, llmcap.Blocks{
		StablePrefix: "You are a media-research analyst extracting the creative DNA of an anime, manga, or film for a narrative engine. Ground every judgment in the provided evidence; do not restate plot.",
		Dynamic:      dynamic,
	}, schema, target, llmcap.Options{MaxTokens: 4000})
}

func aliasSet(merged *MergedMedia) []string {
	var out []string
	seen := map[string]bool{}
	for _, a := range []string{merged.EnglishTitle, merged.RomajiTitle, merged.NativeTitle} {
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	// First significant word of the English title doubles as the short
	// alias players actually type ("Frieren").
	if fields := strings.FieldsFunc(merged.EnglishTitle, func(r rune) bool { return r == ':' || r == ' ' }); len(fields) > 0 && len(fields[0]) > 3 {
		if !seen[fields[0]] {
			out = append(out, fields[0])
		}
	}
	return out
}

// dialsPrompt assembles Call 1's evidence: AniList metadata, synopsis, a
// bounded lore summary, and the full trope catalogue with definitions.
func dialsPrompt(merged *MergedMedia, chunks []LoreChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s (%s)\nGenres: %s\nTags: %s\nStatus: %s\n\nSynopsis:\n%s\n",
		merged.EnglishTitle, merged.RomajiTitle,
		strings.Join(merged.Genres, ", "), strings.Join(merged.Tags, ", "),
		merged.Status, merged.Synopsis)

	if summary := sectionExcerpt(chunks, "", 6000); summary != "" {
		b.WriteString("\nWiki lore summary:\n")
		b.WriteString(summary)
	}

	b.WriteString("\n\nTrope catalogue (mark each true only when its definition applies):\n")
	for _, name := range sortedKeys(tropeDefinitions) {
		fmt.Fprintf(&b, "- %s: %s\n", name, tropeDefinitions[name])
	}
	b.WriteString("\nExtract the eleven DNA dials, tone dials, combat style, power distribution (tiers T1-T11, lower is stronger), and trope flags.")
	return b.String()
}

func powerPrompt(merged *MergedMedia, chunks []LoreChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n\n", merged.EnglishTitle)
	if excerpt := sectionExcerpt(chunks, string(scrape.PageTechnique), 12000); excerpt != "" {
		b.WriteString("Technique and ability pages:\n")
		b.WriteString(excerpt)
	} else {
		fmt.Fprintf(&b, "No technique pages were harvested. Synthesize from the synopsis:\n%s\n", merged.Synopsis)
	}
	b.WriteString("\nDescribe the canonical power system: name, mechanics, hard limitations, how power is acquired, and what the peak of the setting looks like.")
	return b.String()
}

func voicesPrompt(merged *MergedMedia, chunks []LoreChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n\n", merged.EnglishTitle)
	if excerpt := sectionExcerpt(chunks, string(scrape.PageCharacter), 14000); excerpt != "" {
		b.WriteString("Character pages (quotes included where the wiki has them):\n")
		b.WriteString(excerpt)
	}
	b.WriteString("\nMain cast (synthesize cards from your own knowledge of the IP where the pages lack quotable dialogue):\n")
	for _, name := range mainCast(merged, chunks) {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	b.WriteString("\nProduce a voice card per character: speech patterns, humor type, signature phrases, dialogue rhythm, emotional expression. Blend wiki evidence with IP knowledge.")
	return b.String()
}

// mainCast identifies the top-6 cast members by wiki page length, falling
// back to AniList MAIN-role characters when no pages were harvested.
func mainCast(merged *MergedMedia, chunks []LoreChunk) []string {
	type sized struct {
		name string
		size int
	}
	var pages []sized
	for _, c := range chunks {
		if c.PageType == string(scrape.PageCharacter) {
			pages = append(pages, sized{c.Title, len(c.Text)})
		}
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].size > pages[j].size })

	var out []string
	for _, p := range pages {
		if len(out) == 6 {
			return out
		}
		out = append(out, p.name)
	}
	for _, c := range merged.Characters {
		if len(out) == 6 {
			break
		}
		if c.Role == "MAIN" && !contains(out, c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

func synthesisPrompt(merged *MergedMedia, dials *dialsOutput, power *profile.PowerSystem, voices map[string]profile.VoiceCard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nGenres: %s\n\nSynopsis:\n%s\n\n", merged.EnglishTitle, strings.Join(merged.Genres, ", "), merged.Synopsis)
	fmt.Fprintf(&b, "DNA dials: %+v\nTone: %+v\nCombat style: %s\nActive tropes: %s\n", dials.DNAScales, dials.Tone, dials.CombatStyle, activeTropes(dials.Tropes))
	fmt.Fprintf(&b, "Power system: %s — %s\n", power.Name, power.Mechanics)
	fmt.Fprintf(&b, "Cast with voice cards: %s\n", strings.Join(sortedKeys(voices), ", "))
	b.WriteString("\nSynthesize: (1) director_personality — a directing voice authentic to this IP in prose, not a restatement of the dials; (2) author_voice — sentence patterns, structural motifs, dialogue quirks, emotional rhythm, and a short example_voice passage; (3) pacing_style; (4) the default composition axes (tension_source, power_expression, narrative_focus).")
	return b.String()
}

// templateSynthesis is the deterministic Call-4 fallback, derived from DNA
// scales with the dial polarity read correctly: a low
// introspection_vs_action value means introspective, not action-favoring.
func templateSynthesis(dials *dialsOutput) synthesisOutput {
	d := dials.DNAScales
	var traits []string
	if d.IntrospectionVsAction < 4 {
		traits = append(traits, "lingers inside characters' heads before anything happens on screen")
	} else if d.IntrospectionVsAction > 6 {
		traits = append(traits, "keeps the camera moving; thought is revealed through action")
	}
	if d.ComedyVsDrama < 4 {
		traits = append(traits, "reaches for the joke first and lets sincerity ambush the reader")
	} else if d.ComedyVsDrama > 6 {
		traits = append(traits, "plays scenes straight and earns its rare levity")
	}
	if d.HopefulVsCynical < 4 {
		traits = append(traits, "believes people are worth the trouble")
	} else if d.HopefulVsCynical > 6 {
		traits = append(traits, "lets victories cost something real")
	}
	if d.FastPacedVsSlowBurn > 6 {
		traits = append(traits, "gives moments room to breathe")
	}
	if len(traits) == 0 {
		traits = append(traits, "balances momentum against reflection scene by scene")
	}

	derived := composition.DeriveFromDNA(composition.DNAInputs{
		HopefulVsCynical:      d.HopefulVsCynical,
		ComedyVsDrama:         d.ComedyVsDrama,
		GroundedVsAbsurd:      d.GroundedVsAbsurd,
		TacticalVsInstinctive: d.TacticalVsInstinctive,
		EnsembleVsSolo:        d.EnsembleVsSolo,
		EpisodicVsSerialized:  d.EpisodicVsSerialized,
	}, dials.Tropes)

	return synthesisOutput{
		DirectorPersonality: "A director who " + strings.Join(traits, ", who ") + ".",
		AuthorVoice: profile.AuthorVoice{
			SentencePatterns: "varied lengths anchored by concrete detail",
			StructuralMotifs: "scene-level loops: establish, complicate, land",
			DialogueQuirks:   "characters speak past each other before connecting",
			EmotionalRhythm:  "tension gathered quietly, released in a single beat",
			ExampleVoice:     "The road went on, and so did they.",
		},
		PacingStyle: profile.PacingStyle{
			SceneLength:       profile.SceneLengthFromPacing(d.FastPacedVsSlowBurn),
			ArcLengthSessions: 5,
		},
		Composition: profile.Composition{
			TensionSource:   string(derived.TensionSource),
			PowerExpression: string(derived.PowerExpression),
			NarrativeFocus:  string(derived.NarrativeFocus),
		},
	}
}

func fallbackPowerSystem(merged *MergedMedia) profile.PowerSystem {
	return profile.PowerSystem{
		Name:        "Setting-typical abilities",
		Mechanics:   "Capabilities consistent with the genres: " + strings.Join(merged.Genres, ", "),
		Limitations: []string{"stay within feats demonstrated on screen in the source material"},
		Acquisition: "as depicted in the source material",
		Peak:        "the strongest feats shown in the source material",
	}
}

func activeTropes(tropes map[string]bool) string {
	var on []string
	for _, k := range sortedKeys(tropes) {
		if tropes[k] {
			on = append(on, k)
		}
	}
	if len(on) == 0 {
		return "none"
	}
	return strings.Join(on, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
