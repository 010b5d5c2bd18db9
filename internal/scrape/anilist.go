package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"
)

// DefaultAniListEndpoint is the public AniList GraphQL endpoint.
const DefaultAniListEndpoint = "https://graphql.anilist.co"

// anilistMinInterval keeps the client under AniList's ~90 req/min cap with
// headroom for other consumers of the same IP.
const anilistMinInterval = 700 * time.Millisecond

// MediaTitle carries the three title renderings AniList returns.
type MediaTitle struct {
	Romaji  string `json:"romaji"`
	English string `json:"english"`
	Native  string `json:"native"`
}

// MediaTag is one of AniList's weighted descriptive tags.
type MediaTag struct {
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

// MediaCharacter is a cast entry from the media's character connection.
type MediaCharacter struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// MediaRelation is one edge of the relations graph.
type MediaRelation struct {
	RelationType string `json:"relationType"` // SEQUEL, PREQUEL, SIDE_STORY, ALTERNATIVE, ...
	ID           int    `json:"id"`
	Title        MediaTitle
	Format       string `json:"format"`
}

// Media is AniList's media record, trimmed to the fields the research
// pipeline consumes.
type Media struct {
	ID          int            `json:"id"`
	Title       MediaTitle     `json:"title"`
	Format      string         `json:"format"` // TV, MOVIE, ONA, OVA, SPECIAL
	Status      string         `json:"status"` // FINISHED, RELEASING, HIATUS, ...
	Popularity  int            `json:"popularity"`
	Description string         `json:"description"`
	Genres      []string       `json:"genres"`
	Tags        []MediaTag     `json:"tags"`
	Characters  []MediaCharacter
	Relations   []MediaRelation
}

// AniListClient is the GraphQL client for AniList media lookups. It is rate
// limited to stay under the API's request cap and consults the shared
// scrape cache before going to the network.
type AniListClient struct {
	endpoint string
	http     *http.Client
	cache    *Cache

	mu       sync.Mutex
	lastCall time.Time
}

// NewAniListClient builds a client against endpoint (use
// [DefaultAniListEndpoint] outside tests). cache may be nil to disable
// caching.
func NewAniListClient(endpoint string, httpClient *http.Client, cache *Cache) *AniListClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &AniListClient{endpoint: endpoint, http: httpClient, cache: cache}
}

const mediaFields = `
	id
	title { romaji english native }
	format
	status
	popularity
	description(asHtml: false)
	genres
	tags { name rank }
	characters(sort: ROLE, perPage: 25) { edges { role node { name { full } } } }
	relations { edges { relationType node { id format title { romaji english native } } } }
`

const searchPageQuery = `query ($search: String) {
	Page(perPage: 10) { media(search: $search, type: ANIME) {` + mediaFields + `} }
}`

const fetchByIDQuery = `query ($id: Int) {
	Media(id: $id, type: ANIME) {` + mediaFields + `}
}`

// rawMedia mirrors AniList's nested JSON before flattening into [Media].
type rawMedia struct {
	ID          int        `json:"id"`
	Title       MediaTitle `json:"title"`
	Format      string     `json:"format"`
	Status      string     `json:"status"`
	Popularity  int        `json:"popularity"`
	Description string     `json:"description"`
	Genres      []string   `json:"genres"`
	Tags        []MediaTag `json:"tags"`
	Characters  struct {
		Edges []struct {
			Role string `json:"role"`
			Node struct {
				Name struct {
					Full string `json:"full"`
				} `json:"name"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"characters"`
	Relations struct {
		Edges []struct {
			RelationType string `json:"relationType"`
			Node         struct {
				ID     int        `json:"id"`
				Format string     `json:"format"`
				Title  MediaTitle `json:"title"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"relations"`
}

func (r *rawMedia) flatten() Media {
	m := Media{
		ID: r.ID, Title: r.Title, Format: r.Format, Status: r.Status,
		Popularity: r.Popularity, Description: r.Description,
		Genres: r.Genres, Tags: r.Tags,
	}
	for _, e := range r.Characters.Edges {
		m.Characters = append(m.Characters, MediaCharacter{Name: e.Node.Name.Full, Role: e.Role})
	}
	for _, e := range r.Relations.Edges {
		m.Relations = append(m.Relations, MediaRelation{
			RelationType: e.RelationType, ID: e.Node.ID, Title: e.Node.Title, Format: e.Node.Format,
		})
	}
	return m
}

func (c *AniListClient) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := anilistMinInterval - time.Since(c.lastCall); wait > 0 {
		time.Sleep(wait)
	}
	c.lastCall = time.Now()
}

func (c *AniListClient) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return err
	}

	c.throttle()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scrape: anilist request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("scrape: anilist read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scrape: anilist status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("scrape: anilist decode: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("scrape: anilist graphql: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}

// SearchPage runs the multi-result page search for title, returning up to
// 10 candidates in AniList's own order.
func (c *AniListClient) SearchPage(ctx context.Context, title string) ([]Media, error) {
	cacheKey := "search:" + title
	if c.cache != nil {
		if cached, ok := c.cache.Get("anilist", cacheKey); ok {
			var out []Media
			if json.Unmarshal(cached, &out) == nil {
				return out, nil
			}
		}
	}

	var data struct {
		Page struct {
			Media []rawMedia `json:"media"`
		} `json:"Page"`
	}
	if err := c.query(ctx, searchPageQuery, map[string]any{"search": title}, &data); err != nil {
		return nil, err
	}
	if len(data.Page.Media) == 0 {
		return nil, fmt.Errorf("%w: anilist search %q", ErrNotFound, title)
	}

	out := make([]Media, 0, len(data.Page.Media))
	for i := range data.Page.Media {
		out = append(out, data.Page.Media[i].flatten())
	}
	c.cacheMedia(cacheKey, out)
	return out, nil
}

// SearchBest runs SearchPage and applies the format-aware pick: TV beats
// MOVIE beats ONA/OVA/SPECIAL, with popularity breaking ties within a
// format band.
func (c *AniListClient) SearchBest(ctx context.Context, title string) (*Media, error) {
	candidates, err := c.SearchPage(ctx, title)
	if err != nil {
		return nil, err
	}
	best := PickBestMatch(candidates)
	return &best, nil
}

// FetchByID loads one media entry with full relations.
func (c *AniListClient) FetchByID(ctx context.Context, id int) (*Media, error) {
	cacheKey := fmt.Sprintf("id:%d", id)
	if c.cache != nil {
		if cached, ok := c.cache.Get("anilist", cacheKey); ok {
			var m Media
			if json.Unmarshal(cached, &m) == nil {
				return &m, nil
			}
		}
	}

	var data struct {
		Media *rawMedia `json:"Media"`
	}
	if err := c.query(ctx, fetchByIDQuery, map[string]any{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Media == nil {
		return nil, fmt.Errorf("%w: anilist id %d", ErrNotFound, id)
	}
	m := data.Media.flatten()
	c.cacheMedia(cacheKey, []Media{m})
	return &m, nil
}

func (c *AniListClient) cacheMedia(key string, media []Media) {
	if c.cache == nil || len(media) == 0 {
		return
	}
	ttl := 7 * 24 * time.Hour
	for _, m := range media {
		if m.Status == "RELEASING" {
			ttl = 3 * 24 * time.Hour
			break
		}
	}
	var payload []byte
	if len(media) == 1 && key[:3] == "id:" {
		payload, _ = json.Marshal(media[0])
	} else {
		payload, _ = json.Marshal(media)
	}
	_ = c.cache.Put("anilist", key, payload, ttl)
}

// formatRank orders AniList formats for best-match selection; lower wins.
func formatRank(format string) int {
	switch format {
	case "TV":
		return 0
	case "MOVIE":
		return 1
	case "ONA", "OVA", "SPECIAL":
		return 2
	default:
		return 3
	}
}

// PickBestMatch applies the format-aware scoring to a candidate list: TV
// preferred, then movies, then shorts, with popularity as the tiebreak
// within a band. The slice must be non-empty.
func PickBestMatch(candidates []Media) Media {
	sorted := make([]Media, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := formatRank(sorted[i].Format), formatRank(sorted[j].Format)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Popularity > sorted[j].Popularity
	})
	return sorted[0]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
