package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// PageType tags the structural kind of a harvested lore page. The vector
// store chunker propagates it as retrieval metadata.
type PageType string

const (
	PageCharacter    PageType = "character"
	PageTechnique    PageType = "technique"
	PageLocation     PageType = "location"
	PageFaction      PageType = "faction"
	PageArc          PageType = "arc"
	PageWorldbuilding PageType = "worldbuilding"
)

// categoryProbes is the fixed superset of Fandom category names probed per
// page type; wikis name their categories inconsistently (Techniques vs
// Abilities vs Powers), so discovery records which of these actually exist.
var categoryProbes = map[PageType][]string{
	PageCharacter:    {"Characters", "Cast"},
	PageTechnique:    {"Techniques", "Abilities", "Powers", "Magic", "Spells", "Skills"},
	PageLocation:     {"Locations", "Places"},
	PageFaction:      {"Factions", "Organizations", "Groups", "Guilds"},
	PageArc:          {"Story Arcs", "Arcs", "Sagas"},
	PageWorldbuilding: {"Lore", "Worldbuilding", "Terminology", "World", "Races", "Species"},
}

// slugOverrides maps normalized titles whose derived slug candidates are
// known to miss, onto the wiki slug that actually exists.
var slugOverrides = map[string]string{
	"frieren beyond journey s end": "frieren",
	"sousou no frieren":            "frieren",
	"attack on titan":              "attackontitan",
	"shingeki no kyojin":           "attackontitan",
	"demon slayer kimetsu no yaiba": "kimetsu-no-yaiba",
	"my hero academia":             "myheroacademia",
	"boku no hero academia":        "myheroacademia",
}

// titleStopwords are dropped when extracting significant keywords from a
// title for slug candidates.
var titleStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "no": true,
	"and": true, "to": true, "in": true, "on": true, "wa": true,
}

// episodeTitlePattern matches obvious per-episode pages ("Episode 12",
// "Chapter 103") that pollute arc categories.
var episodeTitlePattern = regexp.MustCompile(`(?i)^(episode|chapter|volume|season)\s+\d+`)

// HarvestResult is the Fandom client's output: the discovered wiki, which
// probe categories exist there, and the concatenated page content with
// `## [PAGE_TYPE] Title` section headers — the structure the vector-store
// chunker consumes downstream.
type HarvestResult struct {
	WikiSlug        string
	CategoryMapping map[PageType]string
	RawContent      string
	PageCount       int
}

// FandomClient talks to per-wiki MediaWiki APIs on Fandom. wikiBase is a
// format string with one %s for the wiki slug (the default produces
// https://<slug>.fandom.com); tests point it at a local server.
type FandomClient struct {
	wikiBase string
	http     *http.Client
	cache    *Cache

	// maxPagesPerType bounds harvesting per category; wikis for long-running
	// series carry thousands of pages.
	maxPagesPerType int
}

// DefaultWikiBase is the production Fandom URL pattern.
const DefaultWikiBase = "https://%s.fandom.com"

// NewFandomClient builds a client. cache may be nil.
func NewFandomClient(wikiBase string, httpClient *http.Client, cache *Cache) *FandomClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &FandomClient{wikiBase: wikiBase, http: httpClient, cache: cache, maxPagesPerType: 30}
}

func (c *FandomClient) apiURL(slug string) string {
	return fmt.Sprintf(c.wikiBase, slug) + "/api.php"
}

// SlugCandidates generates the ranked list of wiki slug candidates for the
// given titles (English first, then romaji): the override map, the
// normalized full title, then significant-keyword extractions with
// colon-suffixes and stopwords dropped.
func SlugCandidates(titles ...string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, title := range titles {
		if title == "" {
			continue
		}
		norm := normalizeTitle(title)
		if override, ok := slugOverrides[norm]; ok {
			add(override)
		}
	}
	for _, title := range titles {
		if title == "" {
			continue
		}
		// Full normalized title, squashed and hyphenated variants.
		norm := normalizeTitle(title)
		add(strings.ReplaceAll(norm, " ", ""))
		add(strings.ReplaceAll(norm, " ", "-"))

		// Colon-suffix dropped: "Frieren: Beyond Journey's End" -> "frieren".
		if head, _, found := strings.Cut(title, ":"); found {
			add(strings.ReplaceAll(normalizeTitle(head), " ", ""))
		}

		// Significant keywords only.
		var kept []string
		for _, tok := range strings.Fields(norm) {
			if !titleStopwords[tok] && len(tok) > 1 {
				kept = append(kept, tok)
			}
		}
		if len(kept) > 0 {
			add(strings.Join(kept, ""))
			add(kept[0])
		}
	}
	return out
}

func normalizeTitle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// DiscoverWiki probes each slug candidate's api.php and returns the first
// live wiki. Returns [ErrNotFound] when every candidate misses.
func (c *FandomClient) DiscoverWiki(ctx context.Context, titles ...string) (string, error) {
	for _, slug := range SlugCandidates(titles...) {
		ok, err := c.probeWiki(ctx, slug)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			slog.Debug("wiki probe failed", "slug", slug, "error", err)
			continue
		}
		if ok {
			return slug, nil
		}
	}
	return "", fmt.Errorf("%w: no live wiki for %q", ErrNotFound, titles)
}

func (c *FandomClient) probeWiki(ctx context.Context, slug string) (bool, error) {
	q := url.Values{"action": {"query"}, "meta": {"siteinfo"}, "format": {"json"}}
	var resp struct {
		Query struct {
			General struct {
				SiteName string `json:"sitename"`
			} `json:"general"`
		} `json:"query"`
	}
	if err := c.get(ctx, slug, q, &resp); err != nil {
		return false, err
	}
	return resp.Query.General.SiteName != "", nil
}

// DiscoverCategories probes the fixed category superset against the wiki
// and records the first live category name per page type.
func (c *FandomClient) DiscoverCategories(ctx context.Context, slug string) (map[PageType]string, error) {
	mapping := map[PageType]string{}
	for pageType, names := range categoryProbes {
		for _, name := range names {
			members, err := c.categoryMembers(ctx, slug, name, 1)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if len(members) > 0 {
				mapping[pageType] = name
				break
			}
		}
	}
	return mapping, nil
}

func (c *FandomClient) categoryMembers(ctx context.Context, slug, category string, limit int) ([]string, error) {
	q := url.Values{
		"action":  {"query"},
		"list":    {"categorymembers"},
		"cmtitle": {"Category:" + category},
		"cmlimit": {fmt.Sprint(limit)},
		"cmtype":  {"page"},
		"format":  {"json"},
	}
	var resp struct {
		Query struct {
			CategoryMembers []struct {
				Title string `json:"title"`
			} `json:"categorymembers"`
		} `json:"query"`
	}
	if err := c.get(ctx, slug, q, &resp); err != nil {
		return nil, err
	}
	var out []string
	for _, m := range resp.Query.CategoryMembers {
		out = append(out, m.Title)
	}
	return out, nil
}

// Harvest runs the full article-harvesting pass: wiki discovery, category
// discovery, then per-type page scraping, concatenated into the
// section-headed raw content the chunker consumes. ongoing shortens the
// page cache TTL from 30 to 7 days.
func (c *FandomClient) Harvest(ctx context.Context, ongoing bool, titles ...string) (*HarvestResult, error) {
	slug, err := c.DiscoverWiki(ctx, titles...)
	if err != nil {
		return nil, err
	}
	mapping, err := c.DiscoverCategories(ctx, slug)
	if err != nil {
		return nil, err
	}

	ttl := 30 * 24 * time.Hour
	if ongoing {
		ttl = 7 * 24 * time.Hour
	}

	var (
		b     strings.Builder
		count int
	)
	// Stable harvest order keeps raw_content diffable across runs.
	for _, pageType := range []PageType{PageCharacter, PageTechnique, PageLocation, PageFaction, PageArc, PageWorldbuilding} {
		category, ok := mapping[pageType]
		if !ok {
			continue
		}
		titles, err := c.categoryMembers(ctx, slug, category, c.maxPagesPerType)
		if err != nil {
			slog.Warn("category harvest failed", "wiki", slug, "category", category, "error", err)
			continue
		}
		for _, title := range titles {
			if pageType == PageArc && episodeTitlePattern.MatchString(title) {
				continue
			}
			text, err := c.parsePageTTL(ctx, slug, title, ttl)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				slog.Debug("page harvest failed", "wiki", slug, "page", title, "error", err)
				continue
			}
			if strings.TrimSpace(text) == "" {
				continue
			}
			fmt.Fprintf(&b, "## [%s] %s\n\n%s\n\n", strings.ToUpper(string(pageType)), title, text)
			count++
		}
	}

	return &HarvestResult{
		WikiSlug:        slug,
		CategoryMapping: mapping,
		RawContent:      b.String(),
		PageCount:       count,
	}, nil
}

func (c *FandomClient) parsePageTTL(ctx context.Context, slug, title string, ttl time.Duration) (string, error) {
	cacheKey := slug + "/" + title
	if c.cache != nil {
		if cached, ok := c.cache.Get("fandom", cacheKey); ok {
			return string(cached), nil
		}
	}
	q := url.Values{
		"action": {"parse"},
		"page":   {title},
		"prop":   {"text"},
		"format": {"json"},
	}
	var resp struct {
		Parse struct {
			Text struct {
				Content string `json:"*"`
			} `json:"text"`
		} `json:"parse"`
	}
	if err := c.get(ctx, slug, q, &resp); err != nil {
		return "", err
	}
	text := stripHTML(resp.Parse.Text.Content)
	if c.cache != nil {
		_ = c.cache.Put("fandom", cacheKey, []byte(text), ttl)
	}
	return text, nil
}

func (c *FandomClient) get(ctx context.Context, slug string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(slug)+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scrape: fandom request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("scrape: fandom status %d for %s", resp.StatusCode, slug)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	scriptPattern = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
)

// stripHTML reduces the parsed-HTML endpoint's output to plain text:
// scripts and styles removed, tags dropped, entities for the common cases
// decoded, runs of blank lines collapsed.
func stripHTML(html string) string {
	s := scriptPattern.ReplaceAllString(html, "")
	s = strings.ReplaceAll(s, "</p>", "\n\n")
	s = strings.ReplaceAll(s, "<br>", "\n")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = tagPattern.ReplaceAllString(s, "")
	for entity, repl := range map[string]string{
		"&amp;": "&", "&lt;": "<", "&gt;": ">", "&quot;": `"`, "&#39;": "'", "&nbsp;": " ",
	} {
		s = strings.ReplaceAll(s, entity, repl)
	}
	s = blankPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
