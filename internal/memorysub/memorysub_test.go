package memorysub_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deusversus/aidm/internal/memorysub"
	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/memory"
	memmock "github.com/deusversus/aidm/pkg/memory/mock"
	embmock "github.com/deusversus/aidm/pkg/provider/embeddings/mock"
)

func chunk(id string, heat float64, critical bool, distance float64) memory.ChunkResult {
	return memory.ChunkResult{
		Chunk:    memory.MemoryChunk{ID: id, Collection: memory.CollectionMemory, Heat: heat, PlotCritical: critical},
		Distance: distance,
	}
}

func TestSearch_RanksBySimilarityTimesHeat(t *testing.T) {
	t.Parallel()
	vectors := &memmock.VectorStore{SearchResult: []memory.ChunkResult{
		// Closest but ice cold.
		chunk("cold-close", 10, false, 0.05),
		// Slightly farther but hot.
		chunk("hot-far", 90, false, 0.25),
		// Mid-distance, mid-heat, but plot-critical.
		chunk("critical", 50, true, 0.30),
	}}
	embedder := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	r := memorysub.NewRetriever(vectors, embedder)
	r.TopN = 2

	got, err := r.Search(context.Background(), "camp1", "prof1", "the debt", state.IntentMeta, nil, 7)
	require.NoError(t, err)

	// Scores: cold-close 0.95*0.10=0.095; hot-far 0.75*0.90=0.675;
	// critical 0.70*0.50*1.5=0.525. Top two memories: hot-far, critical.
	// (The second Search call returns the same mock results as "lore".)
	require.Equal(t, "hot-far", got[0].Chunk.ID)
	require.Equal(t, "critical", got[1].Chunk.ID)

	// Retrieval touched heat with the current turn.
	require.Equal(t, 1, vectors.CallCount("TouchHeat"))
}

func TestSearch_IntentMapsToPageTypeFilter(t *testing.T) {
	t.Parallel()
	vectors := &memmock.VectorStore{}
	embedder := &embmock.Provider{EmbedResult: []float32{0.1}}
	r := memorysub.NewRetriever(vectors, embedder)

	_, err := r.Search(context.Background(), "camp1", "prof1", "how does zoltraak work", state.IntentCombat, nil, 3)
	require.NoError(t, err)

	var loreFilter memory.ChunkFilter
	for _, c := range vectors.Calls() {
		if c.Method == "Search" {
			f := c.Args[2].(memory.ChunkFilter)
			if f.Collection == memory.CollectionLore {
				loreFilter = f
			}
		}
	}
	require.Equal(t, "technique", loreFilter.PageType)
	require.Equal(t, "prof1", loreFilter.OwnerID)
}

func TestSearch_UnmappedIntentUnfiltered(t *testing.T) {
	t.Parallel()
	vectors := &memmock.VectorStore{}
	r := memorysub.NewRetriever(vectors, &embmock.Provider{EmbedResult: []float32{0.1}})

	_, err := r.Search(context.Background(), "c", "p", "q", state.IntentMeta, nil, 1)
	require.NoError(t, err)
	for _, c := range vectors.Calls() {
		if c.Method == "Search" {
			f := c.Args[2].(memory.ChunkFilter)
			if f.Collection == memory.CollectionLore {
				require.Empty(t, f.PageType)
			}
		}
	}
}

func TestInitialHeat(t *testing.T) {
	t.Parallel()
	require.Equal(t, 60.0, memorysub.InitialHeat(false, false))
	require.Equal(t, 80.0, memorysub.InitialHeat(true, false))
	require.Equal(t, 100.0, memorysub.InitialHeat(true, true))
	require.Equal(t, 100.0, memorysub.InitialHeat(false, true))
}

func TestDue(t *testing.T) {
	t.Parallel()
	require.False(t, memorysub.Due(0))
	require.False(t, memorysub.Due(7))
	require.True(t, memorysub.Due(10))
	require.True(t, memorysub.Due(30))
}

// fixedSummariser compresses any cluster to a canned string.
type fixedSummariser struct{ out string }

func (f fixedSummariser) CompressCluster(ctx context.Context, key string, ms []memory.MemoryChunk) string {
	return f.out
}

func TestCompression_ArchivesAfterIndexing(t *testing.T) {
	t.Parallel()
	vectors := &memmock.VectorStore{ListColdResult: []memory.MemoryChunk{
		{ID: "m1", OwnerID: "camp1", Content: "old a", TaggedNPCs: []string{"Veyra"}, OriginTurn: 3},
		{ID: "m2", OwnerID: "camp1", Content: "old b", TaggedNPCs: []string{"Veyra"}, OriginTurn: 5},
		{ID: "m3", OwnerID: "camp1", Content: "old c", TaggedLocations: []string{"Market"}, OriginTurn: 4},
	}}
	embedder := &embmock.Provider{EmbedResult: []float32{0.5}}
	c := memorysub.NewCompression(vectors, embedder, fixedSummariser{out: "the Veyra days, condensed"})

	n := c.Run(context.Background(), "camp1", 30)
	require.Equal(t, 3, n)

	// One compressed chunk indexed per cluster, originals archived.
	require.Equal(t, 2, vectors.CallCount("IndexChunk"))
	require.Equal(t, 2, vectors.CallCount("Archive"))
}

func TestCompression_DegradedSummariserSkipsCluster(t *testing.T) {
	t.Parallel()
	vectors := &memmock.VectorStore{ListColdResult: []memory.MemoryChunk{
		{ID: "m1", OwnerID: "camp1", Content: "old a", OriginTurn: 1},
	}}
	c := memorysub.NewCompression(vectors, &embmock.Provider{EmbedResult: []float32{0.5}}, fixedSummariser{out: ""})

	n := c.Run(context.Background(), "camp1", 10)
	require.Zero(t, n)
	require.Zero(t, vectors.CallCount("Archive"), "originals survive a degraded cycle")
}

func TestGraphProjector_ProjectIsIdempotent(t *testing.T) {
	t.Parallel()
	graph := &memmock.KnowledgeGraph{}
	p := memorysub.NewGraphProjector(graph)

	ents := []memorysub.GraphEntity{{Kind: "npc", Name: "Fern", Note: "apprentice mage"}}
	rels := []memorysub.GraphRelation{{Source: "Fern", Target: "Hero Party", Kind: "member_of"}}
	p.Project(context.Background(), "camp1", 4, ents, rels)
	p.Project(context.Background(), "camp1", 5, ents, rels)

	// Same cast, same deterministic IDs: every pass upserts the same node.
	for _, c := range graph.Calls() {
		if c.Method != "AddEntity" {
			continue
		}
		e := c.Args[0].(memory.Entity)
		switch e.Name {
		case "Fern":
			require.Equal(t, "camp1:fern", e.ID)
			require.Equal(t, "camp1", e.Attributes["campaign_id"])
		case "Hero Party":
			require.Equal(t, "camp1:hero_party", e.ID)
			require.Equal(t, "npc", e.Type, "relation endpoints not in the entity list land as placeholders")
		}
	}
	require.Equal(t, 2, graph.CallCount("AddRelationship"))
	rel := graph.Calls()[len(graph.Calls())-1].Args[0].(memory.Relationship)
	require.Equal(t, "camp1:fern", rel.SourceID)
	require.Equal(t, "camp1:hero_party", rel.TargetID)
	require.Equal(t, "member_of", rel.RelType)
	require.Equal(t, 5, rel.Provenance.TurnNumber)
}

func TestGraphProjector_FactsFor(t *testing.T) {
	t.Parallel()
	graph := &memmock.KnowledgeGraph{
		VisibleSubgraphEntities: []memory.Entity{
			{ID: "camp1:fern", Name: "Fern"},
			{ID: "camp1:hero_party", Name: "Hero Party"},
		},
		VisibleSubgraphRelationships: []memory.Relationship{
			{SourceID: "camp1:fern", TargetID: "camp1:hero_party", RelType: "member_of"},
			{SourceID: "camp1:fern", TargetID: "camp1:unknown", RelType: "knows"},
		},
	}
	p := memorysub.NewGraphProjector(graph)

	facts := p.FactsFor(context.Background(), "camp1", []string{"Fern"})
	// Edges pointing at nodes the subgraph didn't return are dropped.
	require.Equal(t, []string{"Fern — member_of → Hero Party"}, facts["Fern"])
}

func TestGraphProjector_PurgeCampaign(t *testing.T) {
	t.Parallel()
	graph := &memmock.KnowledgeGraph{FindEntitiesResult: []memory.Entity{
		{ID: "camp1:fern"}, {ID: "camp1:stark"},
	}}
	p := memorysub.NewGraphProjector(graph)

	require.NoError(t, p.PurgeCampaign(context.Background(), "camp1"))
	require.Equal(t, 2, graph.CallCount("DeleteEntity"))
	filter := graph.Calls()[0].Args[0].(memory.EntityFilter)
	require.Equal(t, "camp1", filter.AttributeQuery["campaign_id"])
}

func TestRetriever_SocialTurnAddsGraphScopedPass(t *testing.T) {
	t.Parallel()
	vectors := &memmock.VectorStore{SearchResult: []memory.ChunkResult{
		{Chunk: memory.MemoryChunk{ID: "m1", Content: "shared a meal", Heat: 60}},
	}}
	graph := &memmock.GraphRAGQuerier{QueryWithEmbeddingResult: []memory.ContextResult{
		{Entity: memory.Entity{ID: "camp1:fern", Name: "Fern"}, Content: "owes Fern a debt", Score: 0.9},
		{Entity: memory.Entity{ID: "camp1:fern", Name: "Fern"}, Content: "shared a meal", Score: 0.8},
	}}
	r := memorysub.NewRetriever(vectors, &embmock.Provider{EmbedResult: []float32{0.5}})
	r.Graph = graph

	got, err := r.Search(context.Background(), "camp1", "prof1", "talk to Fern", state.IntentSocial, []string{"Fern"}, 9)
	require.NoError(t, err)

	var contents []string
	for _, cr := range got {
		contents = append(contents, cr.Chunk.Content)
	}
	require.Contains(t, contents, "owes Fern a debt (re: Fern)")
	// Chunks the standard pass already surfaced are not duplicated.
	require.NotContains(t, contents, "shared a meal (re: Fern)")

	// Non-social intents never touch the graph.
	_, err = r.Search(context.Background(), "camp1", "prof1", "q", state.IntentExploration, []string{"Fern"}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, graph.CallCount("QueryWithEmbedding"))
}
