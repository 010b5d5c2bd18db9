// Package memory defines the dual-store memory architecture used by AIDM's
// Memory Subsystem and State Manager.
//
// Two layers are exposed here:
//
//   - [VectorStore]: embedding-based similarity search over [MemoryChunk]
//     values drawn from two logical collections — "lore" (per-profile,
//     page-type-tagged narrative-profile chunks, shared read-only across
//     campaigns) and "memory" (per-campaign, heat-decayed narrative memories).
//   - [KnowledgeGraph] / [GraphRAGQuerier]: a graph of named entities (NPCs,
//     factions, locations) and typed relationships, supporting multi-hop
//     traversal and graph-augmented retrieval.
//
// All interfaces are public so alternative storage backends can be supplied
// without depending on AIDM internals. Every implementation must be safe for
// concurrent use.
package memory

import "time"

// Collection discriminates which logical collection a [MemoryChunk] belongs
// to: lore (narrative-profile reference material) or memory (per-campaign
// narrative events).
type Collection string

const (
	CollectionLore   Collection = "lore"
	CollectionMemory Collection = "memory"
)

// MemoryCategory classifies a campaign memory.
type MemoryCategory string

const (
	CategoryEvent           MemoryCategory = "event"
	CategoryRelationship    MemoryCategory = "relationship"
	CategoryLore            MemoryCategory = "lore"
	CategoryNarrativeBeat   MemoryCategory = "narrative_beat"
	CategoryCharacterMoment MemoryCategory = "character_moment"
	CategoryAtmosphere      MemoryCategory = "atmosphere"
)

// DecayRate selects the per-turn heat-decay multiplier applied to a memory.
type DecayRate string

const (
	DecayFast   DecayRate = "fast"
	DecayNormal DecayRate = "normal"
	DecaySlow   DecayRate = "slow"
)

// DecayMultiplier returns the per-turn heat multiplier for r. Relationship
// category memories use 0.97 regardless of r; callers pass isRelationship to
// select that override.
func (r DecayRate) DecayMultiplier(isRelationship bool) float64 {
	if isRelationship {
		return 0.97
	}
	switch r {
	case DecayFast:
		return 0.90
	case DecaySlow:
		return 0.95
	default:
		return 0.93
	}
}

// MemoryChunk is a single indexed unit of embedding-searchable content. It
// covers both logical collections: lore chunks populate PageType/PageTitle
// and leave the heat-model fields zero; campaign memories populate the
// heat-model fields and leave PageType/PageTitle empty.
type MemoryChunk struct {
	// ID uniquely identifies this chunk (e.g. a UUID).
	ID string

	// Collection selects which logical collection this chunk belongs to.
	Collection Collection

	// OwnerID is the profile_id (lore collection) or campaign_id (memory
	// collection) that exclusively owns this chunk.
	OwnerID string

	// Content is the raw text of the chunk.
	Content string

	// Embedding is the pre-computed vector representation of Content.
	Embedding []float32

	// PageType tags a lore chunk's structural kind (character, technique,
	// location, faction, worldbuilding, arc).
	PageType string

	// PageTitle is the section title the chunk was extracted from.
	PageTitle string

	// Category classifies a memory chunk. Unused for lore.
	Category MemoryCategory

	// Heat is this memory's current retrieval-ranking score, 0-100.
	Heat float64

	// DecayRate selects how fast Heat decays per turn.
	DecayRate DecayRate

	// PlotCritical exempts this memory from cold-memory compression and
	// gives it a heat floor of 80.
	PlotCritical bool

	// TaggedNPCs / TaggedLocations associate this memory with entities in
	// the knowledge graph, used by the background heat sweep and by
	// intent-filtered retrieval.
	TaggedNPCs      []string
	TaggedLocations []string

	// OriginTurn is the turn_number this memory was created from.
	OriginTurn int

	// LastAccessedTurn is the turn_number of this memory's most recent
	// retrieval, updated by the +20 heat boost on access.
	LastAccessedTurn int

	// Timestamp is when this chunk was recorded.
	Timestamp time.Time
}

// ChunkFilter narrows a [VectorStore.Search] call to a subset of indexed
// chunks. All non-zero fields are applied as AND conditions.
type ChunkFilter struct {
	// Collection restricts results to a single collection. Required in
	// practice — lore and memory chunks are never ranked against each other.
	Collection Collection

	// OwnerID restricts results to a single profile_id or campaign_id.
	OwnerID string

	// PageType restricts lore results to a single structural page type,
	// e.g. scoping a retrieval pass to "technique" pages only.
	PageType string

	// Category restricts memory results to a single category.
	Category MemoryCategory

	// MinHeat excludes memories with Heat below this threshold. Zero
	// disables the filter.
	MinHeat float64
}

// ChunkResult pairs a retrieved chunk with its vector-space distance from
// the query embedding. Lower Distance values indicate higher similarity.
type ChunkResult struct {
	Chunk    MemoryChunk
	Distance float64
}

// ─────────────────────────────────────────────────────────────────────────────
// Knowledge graph (NPCs, factions, locations)
// ─────────────────────────────────────────────────────────────────────────────

// Entity represents a named object in the knowledge graph. Recommended
// Type values: npc, faction, location — AIDM's relational state.Store
// remains authoritative for these records; the graph is a derived,
// relationship-centric projection used for multi-hop queries (e.g. "which
// NPCs are connected to this faction").
type Entity struct {
	ID         string
	Type       string
	Name       string
	Attributes map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Provenance records the origin of a fact asserted in the knowledge graph.
// The JSON keys are load-bearing: the relationships table indexes
// provenance->>'confidence'.
type Provenance struct {
	CampaignID string  `json:"campaign_id,omitempty"`
	TurnNumber int     `json:"turn_number,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Source     string  `json:"source,omitempty"` // "stated" | "inferred"
}

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	SourceID   string
	TargetID   string
	RelType    string
	Attributes map[string]any
	Provenance Provenance
	CreatedAt  time.Time
}

// EntityFilter specifies predicates for entity lookup queries. All non-zero
// fields are applied as AND conditions.
type EntityFilter struct {
	Type           string
	Name           string
	AttributeQuery map[string]any
}

type relQueryOptions struct {
	relTypes     []string
	directionIn  bool
	directionOut bool
	limit        int
}

// RelQueryOpt is a functional option for [KnowledgeGraph.GetRelationships].
type RelQueryOpt func(*relQueryOptions)

func WithRelTypes(relTypes ...string) RelQueryOpt {
	return func(o *relQueryOptions) { o.relTypes = append(o.relTypes, relTypes...) }
}

func WithIncoming() RelQueryOpt { return func(o *relQueryOptions) { o.directionIn = true } }
func WithOutgoing() RelQueryOpt { return func(o *relQueryOptions) { o.directionOut = true } }
func WithRelLimit(n int) RelQueryOpt {
	return func(o *relQueryOptions) { o.limit = n }
}

type traversalOptions struct {
	relTypes  []string
	nodeTypes []string
	maxNodes  int
}

// TraversalOpt is a functional option for [KnowledgeGraph.Neighbors].
type TraversalOpt func(*traversalOptions)

func TraverseRelTypes(relTypes ...string) TraversalOpt {
	return func(o *traversalOptions) { o.relTypes = append(o.relTypes, relTypes...) }
}
func TraverseNodeTypes(nodeTypes ...string) TraversalOpt {
	return func(o *traversalOptions) { o.nodeTypes = append(o.nodeTypes, nodeTypes...) }
}
func TraverseMaxNodes(n int) TraversalOpt {
	return func(o *traversalOptions) { o.maxNodes = n }
}

// ContextResult pairs a knowledge-graph entity with retrieved textual
// content relevant to a [GraphRAGQuerier] query.
type ContextResult struct {
	Entity  Entity
	Content string
	Score   float64
}
