package memory

import "context"

// ─────────────────────────────────────────────────────────────────────────────
// Vector store interface (lore + campaign-memory collections)
// ─────────────────────────────────────────────────────────────────────────────

// VectorStore is the embedding-search layer over [MemoryChunk] values. It
// serves both the "lore" collection (scraped narrative-profile pages, loaded
// once per profile and shared read-only across campaigns) and the "memory"
// collection (heat-decayed per-campaign narrative memories).
//
// Callers are responsible for producing embeddings before calling IndexChunk
// or Search. Implementations must be safe for concurrent use.
type VectorStore interface {
	// IndexChunk stores a pre-embedded [MemoryChunk]. If a chunk with the
	// same ID already exists it is replaced (upsert).
	IndexChunk(ctx context.Context, chunk MemoryChunk) error

	// Search finds the topK chunks whose embeddings are closest to
	// embedding, filtered by filter. Results are ordered by ascending
	// Distance (most similar first). filter.Collection should always be
	// set — lore and memory chunks are never ranked against each other.
	Search(ctx context.Context, embedding []float32, topK int, filter ChunkFilter) ([]ChunkResult, error)

	// TouchHeat applies the retrieval-access heat boost (+20) to the named
	// memory chunks and records turnNumber as their LastAccessedTurn. Lore
	// chunks (no heat model) are no-ops.
	TouchHeat(ctx context.Context, chunkIDs []string, turnNumber int) error

	// ApplyDecay multiplies every memory chunk's Heat in campaignID by its
	// per-category decay multiplier, clamping at each chunk's heat floor:
	// 80 when PlotCritical, 40 when the chunk is tagged to an NPC holding
	// any first_* emotional milestone, 0 otherwise (so ordinary memories
	// eventually go cold enough to compress). Called once per turn by the
	// background heat-sweep task.
	ApplyDecay(ctx context.Context, campaignID string) error

	// BoostTagged adds delta heat (capped at 100) to every memory chunk in
	// campaignID tagged with npcName. The background sweep uses it to keep
	// memories of recently-seen NPCs warm (+10 per sweep).
	BoostTagged(ctx context.Context, campaignID, npcName string, delta float64) error

	// ListCold returns memory chunks in campaignID with Heat below
	// maxHeat, excluding plot-critical ones — the candidates for
	// cold-memory compression.
	ListCold(ctx context.Context, campaignID string, maxHeat float64) ([]MemoryChunk, error)

	// Archive moves the named chunks out of active retrieval (they stop
	// matching the memory collection) while preserving their content for
	// audit. Archiving an already-archived or missing chunk is a no-op.
	Archive(ctx context.Context, chunkIDs []string) error

	// DeleteCollection removes every chunk in ownerID's collection. Used by
	// campaign reset and by profile-lore cache invalidation.
	DeleteCollection(ctx context.Context, collection Collection, ownerID string) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Knowledge graph interface (NPCs, factions, locations)
// ─────────────────────────────────────────────────────────────────────────────

// KnowledgeGraph is a graph of named [Entity] nodes connected by typed
// [Relationship] edges. It supports full CRUD on nodes and edges, multi-hop
// neighbourhood traversal, and shortest-path queries.
//
// internal/state remains the authoritative store for NPC/faction/location
// records; KnowledgeGraph is a derived, relationship-centric projection used
// for multi-hop queries the relational schema cannot answer efficiently
// (e.g. "which NPCs are two hops from this faction").
//
// Mutating operations that act on a primary key (AddEntity, AddRelationship)
// behave as upserts rather than erroring on duplicates. Deletions of
// non-existent records are not errors. Implementations must be safe for
// concurrent use.
type KnowledgeGraph interface {
	AddEntity(ctx context.Context, entity Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	UpdateEntity(ctx context.Context, id string, attrs map[string]any) error
	DeleteEntity(ctx context.Context, id string) error
	FindEntities(ctx context.Context, filter EntityFilter) ([]Entity, error)

	AddRelationship(ctx context.Context, rel Relationship) error
	GetRelationships(ctx context.Context, entityID string, opts ...RelQueryOpt) ([]Relationship, error)
	DeleteRelationship(ctx context.Context, sourceID, targetID, relType string) error

	// Neighbors performs a breadth-first traversal from entityID up to depth
	// hops and returns all reachable entities (the start entity excluded).
	Neighbors(ctx context.Context, entityID string, depth int, opts ...TraversalOpt) ([]Entity, error)

	// FindPath returns the shortest sequence of entities connecting fromID
	// to toID inclusive, following directed edges up to maxDepth hops.
	FindPath(ctx context.Context, fromID, toID string, maxDepth int) ([]Entity, error)

	// VisibleSubgraph returns the subset of the graph visible from npcID's
	// perspective: the NPC node, every entity it has a direct relationship
	// with, and those relationships — used to assemble the NPC's "known
	// facts" context block.
	VisibleSubgraph(ctx context.Context, npcID string) ([]Entity, []Relationship, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// GraphRAG querier (extends KnowledgeGraph)
// ─────────────────────────────────────────────────────────────────────────────

// GraphRAGQuerier extends [KnowledgeGraph] with graph-augmented retrieval: it
// combines structured graph traversal with semantic chunk retrieval to
// produce contextually grounded lore passages for prompt context assembly.
//
// QueryWithContext uses PostgreSQL full-text search and requires no
// embedding provider — a fallback when the embedding budget is constrained.
// QueryWithEmbedding uses pgvector cosine similarity and is the primary path.
type GraphRAGQuerier interface {
	KnowledgeGraph

	QueryWithContext(ctx context.Context, query string, graphScope []string) ([]ContextResult, error)
	QueryWithEmbedding(ctx context.Context, embedding []float32, topK int, graphScope []string) ([]ContextResult, error)
}
