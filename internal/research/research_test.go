package research_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/profile"
	"github.com/deusversus/aidm/internal/research"
	"github.com/deusversus/aidm/internal/scrape"
	"github.com/deusversus/aidm/pkg/provider/llm"
)

// ── chunker ──────────────────────────────────────────────────────────────

func TestChunkRawContent(t *testing.T) {
	t.Parallel()
	raw := "## [CHARACTER] Frieren\n\nAn elf mage.\n\n## [TECHNIQUE] Zoltraak\n\nOffensive spell.\n\n## [CHARACTER] Himmel\n\nThe hero.\n"
	chunks := research.ChunkRawContent(raw)
	require.Len(t, chunks, 3)
	require.Equal(t, "character", chunks[0].PageType)
	require.Equal(t, "Frieren", chunks[0].Title)
	require.Equal(t, "An elf mage.", chunks[0].Text)
	require.Equal(t, "technique", chunks[1].PageType)
	require.Equal(t, "Himmel", chunks[2].Title)
}

func TestChunkRawContent_SplitsOversizedSections(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("A paragraph of biography text that keeps going.\n\n", 400)
	raw := "## [CHARACTER] Frieren\n\n" + long
	chunks := research.ChunkRawContent(raw)
	require.Greater(t, len(chunks), 1)
	require.Equal(t, "Frieren", chunks[0].Title)
	require.Equal(t, "Frieren (cont.)", chunks[1].Title)
	for _, c := range chunks {
		require.LessOrEqual(t, len([]rune(c.Text)), 6100)
	}
}

func TestChunkRawContent_Empty(t *testing.T) {
	t.Parallel()
	require.Empty(t, research.ChunkRawContent(""))
	require.Empty(t, research.ChunkRawContent("no headers here"))
}

// ── content validation ───────────────────────────────────────────────────

func TestValidateScrapedContent_LargeRepetitiveAccepted(t *testing.T) {
	t.Parallel()
	// 644 KB with ~70% line repetition: the size bypass must accept it.
	repeated := strings.Repeat("Community content is available under CC-BY-SA unless noted.\n", 7850)
	unique := strings.Repeat("Some actual lore content line with real substance here.\n", 3365)
	raw := repeated + unique
	require.Greater(t, len(raw), 600*1024)
	require.Empty(t, research.ValidateScrapedContent(raw))
}

func TestValidateScrapedContent_SmallRepetitiveRejected(t *testing.T) {
	t.Parallel()
	raw := strings.Repeat("The same collapsed output line repeating forever and ever.\n", 40) +
		strings.Repeat("A different line with enough length to count properly.\n", 10)
	require.Less(t, len(raw), 50*1024)
	issue := research.ValidateScrapedContent(raw)
	require.Contains(t, issue, "repetition collapse")
}

func TestValidateScrapedContent_TooShort(t *testing.T) {
	t.Parallel()
	require.Contains(t, research.ValidateScrapedContent("tiny but not empty, still far below the floor"), "too short")
	require.Empty(t, research.ValidateScrapedContent(""))
}

// ── series grouping ──────────────────────────────────────────────────────

func TestSeriesGroup(t *testing.T) {
	t.Parallel()
	require.Equal(t, "sousou_no_frieren",
		research.SeriesGroup(scrape.MediaTitle{Romaji: "Sousou no Frieren"}))
	require.Equal(t, "sousou_no_frieren",
		research.SeriesGroup(scrape.MediaTitle{Romaji: "Sousou no Frieren 2nd Season"}))
	require.Equal(t, "attack_on_titan",
		research.SeriesGroup(scrape.MediaTitle{English: "Attack on Titan Final Season"}))
}

// ── franchise merge (Scenario A) ─────────────────────────────────────────

// anilistMergeFixture serves a two-season franchise plus a side-story film.
func anilistMergeFixture(t *testing.T) *httptest.Server {
	t.Helper()
	s1 := map[string]any{
		"id":     1000,
		"title":  map[string]any{"romaji": "Sousou no Frieren", "english": "Frieren: Beyond Journey's End", "native": "葬送のフリーレン"},
		"format": "TV", "status": "FINISHED", "popularity": 900000,
		"description": "Short synopsis.",
		"genres":      []string{"Adventure", "Drama"},
		"tags":        []map[string]any{{"name": "Iyashikei", "rank": 60}},
		"characters": map[string]any{"edges": []map[string]any{
			{"role": "MAIN", "node": map[string]any{"name": map[string]any{"full": "Frieren"}}},
			{"role": "MAIN", "node": map[string]any{"name": map[string]any{"full": "Fern"}}},
		}},
		"relations": map[string]any{"edges": []map[string]any{
			{"relationType": "SEQUEL", "node": map[string]any{"id": 2000, "format": "TV", "title": map[string]any{"romaji": "Sousou no Frieren 2nd Season"}}},
			{"relationType": "SIDE_STORY", "node": map[string]any{"id": 3000, "format": "MOVIE", "title": map[string]any{"romaji": "Frieren Movie"}}},
		}},
	}
	s2 := map[string]any{
		"id":     2000,
		"title":  map[string]any{"romaji": "Sousou no Frieren 2nd Season", "english": "", "native": ""},
		"format": "TV", "status": "RELEASING", "popularity": 400000,
		"description": "A considerably longer synopsis for the second season that should win the longest-synopsis merge rule.",
		"genres":      []string{"Adventure", "Fantasy"},
		"tags":        []map[string]any{{"name": "Demons", "rank": 50}},
		"characters": map[string]any{"edges": []map[string]any{
			{"role": "MAIN", "node": map[string]any{"name": map[string]any{"full": "Frieren"}}},
			{"role": "SUPPORTING", "node": map[string]any{"name": map[string]any{"full": "Stark"}}},
		}},
		"relations": map[string]any{"edges": []map[string]any{}},
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		if _, ok := req.Variables["search"]; ok {
			require.NoError(t, enc.Encode(map[string]any{"data": map[string]any{"Page": map[string]any{"media": []any{s1}}}}))
			return
		}
		id := int(req.Variables["id"].(float64))
		switch id {
		case 2000:
			require.NoError(t, enc.Encode(map[string]any{"data": map[string]any{"Media": s2}}))
		default:
			require.NoError(t, enc.Encode(map[string]any{"data": map[string]any{"Media": s1}}))
		}
	}))
}

func TestMergeFranchise_SequentialSeasonsMergeSilently(t *testing.T) {
	srv := anilistMergeFixture(t)
	defer srv.Close()
	anilist := scrape.NewAniListClient(srv.URL, srv.Client(), nil)
	pipe := research.New(anilist, nil, nil, nil, nil, nil)

	best, err := anilist.SearchBest(context.Background(), "frieren")
	require.NoError(t, err)
	merged, err := pipe.MergeFranchise(context.Background(), best)
	require.NoError(t, err)

	// Both seasons merged; the side story stays a disambiguation sibling.
	require.ElementsMatch(t, []int{1000, 2000}, merged.SeasonIDs)
	require.Len(t, merged.Siblings, 1)
	require.Equal(t, "SIDE_STORY", merged.Siblings[0].RelationType)

	// Status takes the highest-priority value across seasons.
	require.Equal(t, profile.StatusReleasing, merged.Status)
	require.Equal(t, "sousou_no_frieren", merged.SeriesGroup)

	// Unions: genres, tags, characters; synopsis = longest.
	require.ElementsMatch(t, []string{"Adventure", "Drama", "Fantasy"}, merged.Genres)
	require.ElementsMatch(t, []string{"Iyashikei", "Demons"}, merged.Tags)
	names := make([]string, 0, len(merged.Characters))
	for _, c := range merged.Characters {
		names = append(names, c.Name)
	}
	require.ElementsMatch(t, []string{"Frieren", "Fern", "Stark"}, names)
	require.Contains(t, merged.Synopsis, "considerably longer")
}

// ── end-to-end interpretation ────────────────────────────────────────────

// scriptedProvider returns queued responses in order.
type scriptedProvider struct {
	llm.Provider
	responses []string
	calls     int
}

func (s *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.calls >= len(s.responses) {
		return &llm.CompletionResponse{Content: "{}"}, nil
	}
	content := s.responses[s.calls]
	s.calls++
	return &llm.CompletionResponse{Content: content}, nil
}

func (s *scriptedProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}
func (s *scriptedProvider) CountTokens(messages []llm.Message) (int, error) { return 0, nil }
func (s *scriptedProvider) Capabilities() llm.ModelCapabilities            { return llm.ModelCapabilities{} }

const dialsJSON = `{
  "dna_scales": {"introspection_vs_action": 2, "comedy_vs_drama": 6, "simple_vs_complex": 4,
    "power_fantasy_vs_struggle": 3, "explained_vs_mysterious": 6, "fast_paced_vs_slow_burn": 8,
    "episodic_vs_serialized": 4, "grounded_vs_absurd": 3, "tactical_vs_instinctive": 3,
    "hopeful_vs_cynical": 3, "ensemble_vs_solo": 4},
  "tone": {"darkness": 3, "comedy": 4, "optimism": 7},
  "combat_style": "magical",
  "power_distribution": {"peak_tier": "T2", "typical_tier": "T7", "floor_tier": "T9", "gradient": "spike"},
  "storytelling_tropes": {"found_family": true, "slow_burn_romance": false}
}`

const powerJSON = `{"name": "Mana manipulation", "mechanics": "Accumulated mana fuels spells.",
  "limitations": ["mana reserves visible to trained mages"], "acquisition": "decades of study",
  "peak": "continent-scale destruction"}`

const voicesJSON = `{"voice_cards": {"Frieren": {"speech_patterns": "flat, literal", "humor_type": "deadpan",
  "signature_phrases": ["It's such a small thing."], "dialogue_rhythm": "long pauses",
  "emotional_expression": "delayed, understated"}}}`

const synthesisJSON = `{"director_personality": "Patient and elegiac.",
  "author_voice": {"sentence_patterns": "spare", "structural_motifs": "time-skips", "dialogue_quirks": "understatement",
    "emotional_rhythm": "slow swell", "example_voice": "The road went on."},
  "pacing_style": {"scene_length": "deliberate", "arc_length_sessions": 6},
  "composition": {"tension_source": "emotional", "power_expression": "subtle", "narrative_focus": "ensemble"}}`

func testLayer(p llm.Provider) *llmcap.Layer {
	return llmcap.New(map[string]llm.Provider{"openai": p}, nil, llmcap.ModelRef{Provider: "openai", Model: "test"})
}

func TestRun_EndToEnd_AniListOnly(t *testing.T) {
	srv := anilistMergeFixture(t)
	defer srv.Close()

	// A fandom client pointed at a dead endpoint degrades to AniList-only.
	dead := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer dead.Close()

	anilist := scrape.NewAniListClient(srv.URL, srv.Client(), nil)
	fandom := scrape.NewFandomClient(dead.URL+"/%s", dead.Client(), nil)
	provider := &scriptedProvider{responses: []string{dialsJSON, powerJSON, voicesJSON, synthesisJSON}}
	profiles, err := profile.NewStore(t.TempDir())
	require.NoError(t, err)

	pipe := research.New(anilist, fandom, testLayer(provider), profiles, nil, nil)

	var phases []research.Phase
	prof, err := pipe.Run(context.Background(), "frieren", func(ph research.Phase) { phases = append(phases, ph) })
	require.NoError(t, err)

	require.Equal(t, "frieren_beyond_journey_s_end", prof.ID)
	require.Equal(t, profile.StatusReleasing, prof.Status)
	require.Equal(t, 8, prof.DNAScales.FastPacedVsSlowBurn)
	require.Equal(t, "Mana manipulation", prof.PowerSystem.Name)
	require.Contains(t, prof.VoiceCards, "frieren")
	require.Equal(t, profile.SceneDeliberate, prof.PacingStyle.SceneLength)
	require.False(t, prof.NeedsReview)

	// Persisted and reloadable.
	reloaded, err := profiles.Load(prof.ID)
	require.NoError(t, err)
	require.Equal(t, prof, reloaded)

	require.Contains(t, phases, research.PhaseResolving)
	require.Contains(t, phases, research.PhaseInterpreting)
}

func TestRun_SynthesisFallbackFlagsReview(t *testing.T) {
	srv := anilistMergeFixture(t)
	defer srv.Close()
	dead := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer dead.Close()

	// Call 4 (and its repair attempt) return garbage; Calls 1-3 succeed.
	provider := &scriptedProvider{responses: []string{dialsJSON, powerJSON, voicesJSON, "nope", "still nope"}}
	profiles, err := profile.NewStore(t.TempDir())
	require.NoError(t, err)

	anilist := scrape.NewAniListClient(srv.URL, srv.Client(), nil)
	fandom := scrape.NewFandomClient(dead.URL+"/%s", dead.Client(), nil)
	pipe := research.New(anilist, fandom, testLayer(provider), profiles, nil, nil)

	prof, err := pipe.Run(context.Background(), "frieren", nil)
	require.NoError(t, err)
	require.True(t, prof.NeedsReview)

	// The deterministic template read the dial polarity correctly: a low
	// introspection value means introspective, never "favor action".
	require.Contains(t, prof.DirectorPersonality, "lingers inside characters' heads")
	// fast_paced_vs_slow_burn = 8 maps to the deliberate band.
	require.Equal(t, profile.SceneDeliberate, prof.PacingStyle.SceneLength)
	// Composition derived from DNA scales.
	require.NotEmpty(t, prof.Composition.TensionSource)
}

func TestRun_UnknownTitleFailsCleanly(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": {"Page": {"media": []}}}`))
	}))
	defer empty.Close()

	anilist := scrape.NewAniListClient(empty.URL, empty.Client(), nil)
	profiles, err := profile.NewStore(t.TempDir())
	require.NoError(t, err)
	pipe := research.New(anilist, nil, nil, profiles, nil, nil)

	_, err = pipe.Run(context.Background(), "definitely not a real series", nil)
	require.ErrorIs(t, err, scrape.ErrNotFound)

	// No profile persisted on failure.
	list, err := profiles.List()
	require.NoError(t, err)
	require.Empty(t, list)
}
