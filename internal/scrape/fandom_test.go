package scrape_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/scrape"
)

// fandomFixture emulates a single live wiki's MediaWiki api.php. The server
// answers siteinfo probes, category-member listings for Characters and
// Abilities, and parse requests.
func fandomFixture(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)

		switch {
		case q.Get("meta") == "siteinfo":
			require.NoError(t, enc.Encode(map[string]any{
				"query": map[string]any{"general": map[string]any{"sitename": "Frieren Wiki"}},
			}))
		case q.Get("list") == "categorymembers":
			var members []map[string]any
			switch q.Get("cmtitle") {
			case "Category:Characters":
				members = []map[string]any{{"title": "Frieren"}, {"title": "Himmel"}}
			case "Category:Abilities":
				members = []map[string]any{{"title": "Zoltraak"}}
			case "Category:Story Arcs":
				members = []map[string]any{{"title": "Journey Arc"}, {"title": "Episode 12"}}
			}
			require.NoError(t, enc.Encode(map[string]any{
				"query": map[string]any{"categorymembers": members},
			}))
		case q.Get("action") == "parse":
			page := q.Get("page")
			require.NoError(t, enc.Encode(map[string]any{
				"parse": map[string]any{"text": map[string]any{
					"*": "<p>Biography of <b>" + page + "</b>.</p><script>junk()</script>",
				}},
			}))
		default:
			http.NotFound(w, r)
		}
	}))
}

func fixtureClient(t *testing.T, srv *httptest.Server) *scrape.FandomClient {
	t.Helper()
	// Every slug becomes a path segment on the fixture server, which
	// ignores the path and answers purely on query parameters.
	return scrape.NewFandomClient(srv.URL+"/%s", srv.Client(), nil)
}

func TestSlugCandidates(t *testing.T) {
	t.Parallel()
	got := scrape.SlugCandidates("Frieren: Beyond Journey's End", "Sousou no Frieren")

	// The override map wins the top slot for a known miss.
	require.Equal(t, "frieren", got[0])
	require.Contains(t, got, "frierenbeyondjourneysend")
	require.Contains(t, got, "frieren-beyond-journey-s-end")
	// Stopword "no" dropped from the romaji keyword extraction.
	require.Contains(t, got, "sousoufrieren")
}

func TestSlugCandidates_NoDuplicates(t *testing.T) {
	t.Parallel()
	got := scrape.SlugCandidates("Naruto", "Naruto")
	seen := map[string]bool{}
	for _, s := range got {
		require.False(t, seen[s], "duplicate candidate %q", s)
		seen[s] = true
	}
}

func TestFandom_DiscoverWiki(t *testing.T) {
	srv := fandomFixture(t)
	defer srv.Close()

	slug, err := fixtureClient(t, srv).DiscoverWiki(context.Background(), "Frieren: Beyond Journey's End")
	require.NoError(t, err)
	require.Equal(t, "frieren", slug)
}

func TestFandom_DiscoverWiki_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := fixtureClient(t, srv).DiscoverWiki(context.Background(), "Totally Unknown Series")
	require.ErrorIs(t, err, scrape.ErrNotFound)
}

func TestFandom_DiscoverCategories(t *testing.T) {
	srv := fandomFixture(t)
	defer srv.Close()

	mapping, err := fixtureClient(t, srv).DiscoverCategories(context.Background(), "frieren")
	require.NoError(t, err)
	require.Equal(t, "Characters", mapping[scrape.PageCharacter])
	// "Techniques" does not exist on this wiki; the probe falls through to
	// "Abilities".
	require.Equal(t, "Abilities", mapping[scrape.PageTechnique])
	_, hasLocations := mapping[scrape.PageLocation]
	require.False(t, hasLocations)
}

func TestFandom_Harvest(t *testing.T) {
	srv := fandomFixture(t)
	defer srv.Close()

	res, err := fixtureClient(t, srv).Harvest(context.Background(), false, "Frieren: Beyond Journey's End")
	require.NoError(t, err)
	require.Equal(t, "frieren", res.WikiSlug)

	// Section headers follow the `## [PAGE_TYPE] Title` contract.
	require.Contains(t, res.RawContent, "## [CHARACTER] Frieren")
	require.Contains(t, res.RawContent, "## [CHARACTER] Himmel")
	require.Contains(t, res.RawContent, "## [TECHNIQUE] Zoltraak")
	require.Contains(t, res.RawContent, "## [ARC] Journey Arc")

	// Episode-title pages are filtered out of arc harvesting.
	require.NotContains(t, res.RawContent, "Episode 12")

	// HTML is stripped, scripts removed.
	require.Contains(t, res.RawContent, "Biography of Frieren.")
	require.NotContains(t, res.RawContent, "<p>")
	require.NotContains(t, res.RawContent, "junk()")

	require.Equal(t, 4, res.PageCount)
}

func TestFandom_HarvestUsesCache(t *testing.T) {
	srv := fandomFixture(t)
	cache := testCache(t)
	client := scrape.NewFandomClient(srv.URL+"/%s", srv.Client(), cache)

	first, err := client.Harvest(context.Background(), true, "Frieren: Beyond Journey's End")
	require.NoError(t, err)

	// Page bodies now come from cache; only the (uncached) discovery and
	// category listing calls hit the network on a re-run.
	second, err := client.Harvest(context.Background(), true, "Frieren: Beyond Journey's End")
	require.NoError(t, err)
	require.Equal(t, first.RawContent, second.RawContent)
	require.True(t, strings.Contains(second.RawContent, "Zoltraak"))
}
