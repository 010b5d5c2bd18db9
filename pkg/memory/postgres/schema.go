// Package postgres provides a PostgreSQL-backed implementation of the
// vector-store and knowledge-graph memory layers used by AIDM's campaign
// engine.
//
// Both layers share a single [pgxpool.Pool] connection pool. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//
//	// vector store (lore + memory collections)
//	_ = store.Vectors().IndexChunk(ctx, chunk)
//
//	// knowledge graph
//	_ = store.AddEntity(ctx, entity)
//
//	// GraphRAG
//	results, _ := store.QueryWithContext(ctx, "who allied with the Hero Party?", scope)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Knowledge graph DDL (entities + relationships)
// ─────────────────────────────────────────────────────────────────────────────

const ddlKnowledgeGraph = `
CREATE TABLE IF NOT EXISTS entities (
    id          TEXT         PRIMARY KEY,
    type        TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    attributes  JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities (type);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities (name);

CREATE TABLE IF NOT EXISTS relationships (
    source_id   TEXT         NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    target_id   TEXT         NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    rel_type    TEXT         NOT NULL,
    attributes  JSONB        NOT NULL DEFAULT '{}',
    provenance  JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (source_id, target_id, rel_type)
);

CREATE INDEX IF NOT EXISTS idx_rel_source
    ON relationships (source_id);

CREATE INDEX IF NOT EXISTS idx_rel_target
    ON relationships (target_id);

CREATE INDEX IF NOT EXISTS idx_rel_type
    ON relationships (rel_type);

CREATE INDEX IF NOT EXISTS idx_rel_provenance_confidence
    ON relationships ((provenance->>'confidence'));
`

// ddlChunks returns the vector-store DDL with the embedding dimension
// substituted. The dimension is baked into the column type at creation time.
//
// Both logical collections ("lore" and "memory") share this one table,
// discriminated by the collection column, so both can be migrated with a
// single pgvector HNSW index.
func ddlChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_chunks (
    id                  TEXT         PRIMARY KEY,
    collection          TEXT         NOT NULL,
    owner_id            TEXT         NOT NULL,
    content             TEXT         NOT NULL,
    embedding           vector(%d),
    page_type           TEXT         NOT NULL DEFAULT '',
    page_title          TEXT         NOT NULL DEFAULT '',
    category            TEXT         NOT NULL DEFAULT '',
    heat                DOUBLE PRECISION NOT NULL DEFAULT 0,
    decay_rate          TEXT         NOT NULL DEFAULT 'normal',
    plot_critical       BOOLEAN      NOT NULL DEFAULT false,
    tagged_npcs         TEXT[]       NOT NULL DEFAULT '{}',
    tagged_locations    TEXT[]       NOT NULL DEFAULT '{}',
    origin_turn         INTEGER      NOT NULL DEFAULT 0,
    last_accessed_turn  INTEGER      NOT NULL DEFAULT 0,
    timestamp           TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_owner
    ON memory_chunks (collection, owner_id);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_heat
    ON memory_chunks (owner_id, heat) WHERE collection = 'memory';

CREATE INDEX IF NOT EXISTS idx_memory_chunks_embedding
    ON memory_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g. 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlChunks(embeddingDimensions),
		ddlKnowledgeGraph,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
