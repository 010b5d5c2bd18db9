package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/deusversus/aidm/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.VectorStore     = (*VectorStoreImpl)(nil)
	_ memory.KnowledgeGraph  = (*Store)(nil)
	_ memory.GraphRAGQuerier = (*Store)(nil)
)

// Store is the central PostgreSQL-backed memory store for AIDM. It holds a
// single [pgxpool.Pool] and exposes two layers:
//
//   - [Store.Vectors] returns a [VectorStoreImpl] implementing [memory.VectorStore]
//   - Store itself implements [memory.KnowledgeGraph] and [memory.GraphRAGQuerier]
//
// All operations are safe for concurrent use.
type Store struct {
	pool    *pgxpool.Pool
	vectors *VectorStoreImpl
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [memory.MemoryChunk.Embedding] values (e.g. 1536 for
// OpenAI text-embedding-3-small). Changing this value after the first
// migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:    pool,
		vectors: &VectorStoreImpl{pool: pool},
	}, nil
}

// NewStoreFromPool wraps an existing connection pool instead of opening a
// new one, for deployments where the relational state store and the vector
// store share a single Postgres instance. The pool's connections must have
// pgvector types registered (set an AfterConnect hook before constructing
// the pool, or rely on text-format fallback). Migrate is still run.
func NewStoreFromPool(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) (*Store, error) {
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{
		pool:    pool,
		vectors: &VectorStoreImpl{pool: pool},
	}, nil
}

// Vectors returns the vector-store implementation satisfying [memory.VectorStore].
func (s *Store) Vectors() *VectorStoreImpl { return s.vectors }

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
