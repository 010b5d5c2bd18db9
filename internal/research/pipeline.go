// Package research orchestrates the narrative-profile research pipeline:
// AniList resolution and season merging, Fandom lore harvesting, four
// structured LLM interpretation calls, and persistence of the resulting
// profile document plus its page-type-tagged lore index.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/observe"
	"github.com/deusversus/aidm/internal/profile"
	"github.com/deusversus/aidm/internal/scrape"
	"github.com/deusversus/aidm/pkg/memory"
	"github.com/deusversus/aidm/pkg/provider/embeddings"
)

// agentName is the canonical identifier whose model mapping serves all four
// interpretation calls.
const agentName = "anime_research"

// interpretTimeout bounds each interpretation call independently.
const interpretTimeout = 90 * time.Second

// Phase identifies a progress step streamed back to session zero.
type Phase string

const (
	PhaseResolving    Phase = "resolving_media"
	PhaseDiscovering  Phase = "discovering_wiki"
	PhaseHarvesting   Phase = "harvesting_lore"
	PhaseInterpreting Phase = "interpreting_dna"
	PhaseSynthesizing Phase = "synthesizing_voice"
	PhaseIndexing     Phase = "indexing_lore"
)

// ProgressFunc receives phase transitions; nil disables reporting.
type ProgressFunc func(Phase)

// Pipeline wires the scrapers, the capability layer, the profile store, and
// the vector store into the end-to-end research flow.
type Pipeline struct {
	anilist  *scrape.AniListClient
	fandom   *scrape.FandomClient
	llm      *llmcap.Layer
	profiles *profile.Store
	vectors  memory.VectorStore
	embedder embeddings.Provider
	metrics  *observe.Metrics
}

// New constructs a Pipeline. vectors and embedder may be nil together to
// skip lore indexing (used by tests focused on interpretation).
func New(anilist *scrape.AniListClient, fandom *scrape.FandomClient, llm *llmcap.Layer, profiles *profile.Store, vectors memory.VectorStore, embedder embeddings.Provider) *Pipeline {
	return &Pipeline{
		anilist: anilist, fandom: fandom, llm: llm,
		profiles: profiles, vectors: vectors, embedder: embedder,
		metrics: observe.DefaultMetrics(),
	}
}

// Run researches title end to end and returns the persisted profile.
//
// Failure semantics follow the per-call degradation policy: a dead Fandom
// wiki degrades to AniList-only research; a failed synthesis call falls
// back to the deterministic DNA-derived template and flags the profile for
// review; only a failed structural-dials call (or no AniList match at all)
// fails the run.
func (p *Pipeline) Run(ctx context.Context, title string, progress ProgressFunc) (*profile.Profile, error) {
	ctx, span := observe.StartSpan(ctx, "research "+title)
	defer span.End()

	var (
		current      Phase
		currentStart time.Time
	)
	report := func(ph Phase) {
		if current != "" {
			p.metrics.ResearchPhaseDuration.Record(ctx, time.Since(currentStart).Seconds(),
				metric.WithAttributes(observe.Attr("phase", string(current))))
		}
		current, currentStart = ph, time.Now()
		if progress != nil {
			progress(ph)
		}
	}
	defer func() {
		if current != "" {
			p.metrics.ResearchPhaseDuration.Record(ctx, time.Since(currentStart).Seconds(),
				metric.WithAttributes(observe.Attr("phase", string(current))))
		}
	}()

	report(PhaseResolving)
	merged, err := p.resolveAndMerge(ctx, title)
	if err != nil {
		return nil, err
	}

	report(PhaseDiscovering)
	var harvest *scrape.HarvestResult
	report(PhaseHarvesting)
	harvest, err = p.fandom.Harvest(ctx, merged.Status == profile.StatusReleasing, merged.EnglishTitle, merged.RomajiTitle)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("fandom harvest failed, proceeding AniList-only", "title", title, "error", err)
		harvest = &scrape.HarvestResult{}
	} else if issue := ValidateScrapedContent(harvest.RawContent); issue != "" {
		slog.Warn("scraped content failed validation, proceeding AniList-only", "title", title, "issue", issue)
		harvest = &scrape.HarvestResult{}
	}

	report(PhaseInterpreting)
	prof, needsReview, err := p.interpret(ctx, merged, harvest)
	if err != nil {
		return nil, err
	}
	prof.NeedsReview = prof.NeedsReview || needsReview

	report(PhaseSynthesizing) // phase 4 of interpret already ran; kept for UI ordering
	if err := p.profiles.Save(prof); err != nil {
		return nil, fmt.Errorf("research: persist profile: %w", err)
	}

	if p.vectors != nil && harvest.RawContent != "" {
		report(PhaseIndexing)
		if err := p.indexLore(ctx, prof.ID, harvest.RawContent); err != nil {
			// Lore indexing failures degrade; the profile document is the
			// canonical artifact and chunks re-ingest on next load.
			slog.Warn("lore indexing failed", "profile", prof.ID, "error", err)
		}
	}
	return prof, nil
}

// MergedMedia is the franchise-level entry after walking the relations
// graph and merging sequential seasons.
type MergedMedia struct {
	PrimaryID    int
	EnglishTitle string
	RomajiTitle  string
	NativeTitle  string
	SeriesGroup  string
	Status       profile.Status
	Synopsis     string
	Genres       []string
	Tags         []string
	Characters   []scrape.MediaCharacter
	SeasonIDs    []int

	// Siblings are related entries that are NOT sequential seasons
	// (prequels in other eras, side-story films, alternate universes) —
	// the set session zero presents for disambiguation.
	Siblings []scrape.MediaRelation
}

// resolveAndMerge runs the multi-result search, picks the best format-aware
// match, walks the relations graph two hops wide, and merges every
// SEQUEL/PREQUEL sharing the series group.
func (p *Pipeline) resolveAndMerge(ctx context.Context, title string) (*MergedMedia, error) {
	candidates, err := p.anilist.SearchPage(ctx, title)
	if err != nil {
		return nil, err
	}
	best := scrape.PickBestMatch(candidates)
	return p.MergeFranchise(ctx, &best)
}

// MergeFranchise merges best with its sequential seasons. Exported for
// session zero, which needs the sibling list before research proceeds.
func (p *Pipeline) MergeFranchise(ctx context.Context, best *scrape.Media) (*MergedMedia, error) {
	merged := &MergedMedia{
		PrimaryID:    best.ID,
		EnglishTitle: best.Title.English,
		RomajiTitle:  best.Title.Romaji,
		NativeTitle:  best.Title.Native,
		SeriesGroup:  SeriesGroup(best.Title),
		Status:       anilistStatus(best.Status),
		Synopsis:     best.Description,
		SeasonIDs:    []int{best.ID},
	}
	genres := map[string]bool{}
	tags := map[string]bool{}
	chars := map[string]bool{}
	absorb := func(m *scrape.Media) {
		for _, g := range m.Genres {
			if !genres[g] {
				genres[g] = true
				merged.Genres = append(merged.Genres, g)
			}
		}
		for _, t := range m.Tags {
			if !tags[t.Name] {
				tags[t.Name] = true
				merged.Tags = append(merged.Tags, t.Name)
			}
		}
		for _, c := range m.Characters {
			if !chars[c.Name] {
				chars[c.Name] = true
				merged.Characters = append(merged.Characters, c)
			}
		}
		merged.Status = profile.HigherPriority(merged.Status, anilistStatus(m.Status))
		if len(m.Description) > len(merged.Synopsis) {
			merged.Synopsis = m.Description
		}
	}
	absorb(best)

	// Walk relations two hops wide, collecting sequential seasons; anything
	// related but non-sequential is a disambiguation sibling.
	visited := map[int]bool{best.ID: true}
	frontier := best.Relations
	for hop := 0; hop < 2; hop++ {
		var next []scrape.MediaRelation
		for _, rel := range frontier {
			if visited[rel.ID] {
				continue
			}
			visited[rel.ID] = true
			if rel.RelationType != "SEQUEL" && rel.RelationType != "PREQUEL" {
				merged.Siblings = append(merged.Siblings, rel)
				continue
			}
			season, err := p.anilist.FetchByID(ctx, rel.ID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				slog.Warn("season fetch failed during merge", "id", rel.ID, "error", err)
				continue
			}
			absorb(season)
			merged.SeasonIDs = append(merged.SeasonIDs, season.ID)
			next = append(next, season.Relations...)
		}
		frontier = next
	}
	return merged, nil
}

// SeriesGroup derives the franchise grouping key from a title: the
// normalized romaji (preferred) with season designations stripped.
func SeriesGroup(title scrape.MediaTitle) string {
	base := title.Romaji
	if base == "" {
		base = title.English
	}
	norm := profile.NormalizeKey(base)
	for _, suffix := range []string{"_2nd_season", "_3rd_season", "_second_season", "_third_season", "_season_2", "_season_3", "_part_2", "_final_season"} {
		norm = strings.TrimSuffix(norm, suffix)
	}
	return norm
}

func anilistStatus(s string) profile.Status {
	switch s {
	case "RELEASING":
		return profile.StatusReleasing
	case "HIATUS":
		return profile.StatusHiatus
	default:
		return profile.StatusFinished
	}
}

// indexLore chunks rawContent by its `## [PAGE_TYPE] Title` headers,
// embeds each chunk, and upserts into the lore collection tagged with the
// profile ID and page metadata.
func (p *Pipeline) indexLore(ctx context.Context, profileID, rawContent string) error {
	chunks := ChunkRawContent(rawContent)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("research: embed lore: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, c := range chunks {
		g.Go(func() error {
			return p.vectors.IndexChunk(gctx, memory.MemoryChunk{
				ID:         fmt.Sprintf("%s/%s/%s", profileID, c.PageType, profile.NormalizeKey(c.Title)),
				Collection: memory.CollectionLore,
				OwnerID:    profileID,
				Content:    c.Text,
				Embedding:  vecs[i],
				PageType:   c.PageType,
				PageTitle:  c.Title,
			})
		})
	}
	return g.Wait()
}
