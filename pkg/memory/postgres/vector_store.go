package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/deusversus/aidm/pkg/memory"
)

// VectorStoreImpl backs [memory.VectorStore] with a single PostgreSQL
// memory_chunks table carrying a pgvector HNSW index for fast approximate
// nearest-neighbour search. Both the "lore" and "memory" collections live in
// this one table, discriminated by the collection column.
//
// Obtain one via [Store.Vectors] rather than constructing directly. All
// methods are safe for concurrent use.
type VectorStoreImpl struct {
	pool *pgxpool.Pool
}

// IndexChunk implements [memory.VectorStore]. It upserts a pre-embedded
// [memory.MemoryChunk]. If a chunk with the same ID already exists it is
// completely replaced.
func (s *VectorStoreImpl) IndexChunk(ctx context.Context, chunk memory.MemoryChunk) error {
	const q = `
		INSERT INTO memory_chunks
		    (id, collection, owner_id, content, embedding, page_type, page_title,
		     category, heat, decay_rate, plot_critical, tagged_npcs, tagged_locations,
		     origin_turn, last_accessed_turn, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
		    collection         = EXCLUDED.collection,
		    owner_id           = EXCLUDED.owner_id,
		    content            = EXCLUDED.content,
		    embedding          = EXCLUDED.embedding,
		    page_type          = EXCLUDED.page_type,
		    page_title         = EXCLUDED.page_title,
		    category           = EXCLUDED.category,
		    heat               = EXCLUDED.heat,
		    decay_rate         = EXCLUDED.decay_rate,
		    plot_critical      = EXCLUDED.plot_critical,
		    tagged_npcs        = EXCLUDED.tagged_npcs,
		    tagged_locations   = EXCLUDED.tagged_locations,
		    origin_turn        = EXCLUDED.origin_turn,
		    last_accessed_turn = EXCLUDED.last_accessed_turn,
		    timestamp          = EXCLUDED.timestamp`

	vec := pgvector.NewVector(chunk.Embedding)
	_, err := s.pool.Exec(ctx, q,
		chunk.ID,
		string(chunk.Collection),
		chunk.OwnerID,
		chunk.Content,
		vec,
		chunk.PageType,
		chunk.PageTitle,
		string(chunk.Category),
		chunk.Heat,
		string(chunk.DecayRate),
		chunk.PlotCritical,
		chunk.TaggedNPCs,
		chunk.TaggedLocations,
		chunk.OriginTurn,
		chunk.LastAccessedTurn,
		chunk.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("vector store: index chunk: %w", err)
	}
	return nil
}

// Search implements [memory.VectorStore]. It finds the topK chunks whose
// embeddings are closest (cosine distance) to embedding, filtered by filter.
// Results are ordered by ascending distance (most similar first).
func (s *VectorStoreImpl) Search(ctx context.Context, embedding []float32, topK int, filter memory.ChunkFilter) ([]memory.ChunkResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	if filter.Collection != "" {
		conditions = append(conditions, "collection = "+next(string(filter.Collection)))
	}
	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = "+next(filter.OwnerID))
	}
	if filter.PageType != "" {
		conditions = append(conditions, "page_type = "+next(filter.PageType))
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = "+next(string(filter.Category)))
	}
	if filter.MinHeat > 0 {
		conditions = append(conditions, "heat >= "+next(filter.MinHeat))
	}

	whereClause := "WHERE " + strings.Join(conditions, "\n  AND ")

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, collection, owner_id, content, embedding, page_type, page_title,
		       category, heat, decay_rate, plot_critical, tagged_npcs, tagged_locations,
		       origin_turn, last_accessed_turn, timestamp,
		       embedding <=> $1 AS distance
		FROM   memory_chunks
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ChunkResult, error) {
		var (
			cr         memory.ChunkResult
			vec        pgvector.Vector
			collection string
			category   string
			decayRate  string
		)
		if err := row.Scan(
			&cr.Chunk.ID,
			&collection,
			&cr.Chunk.OwnerID,
			&cr.Chunk.Content,
			&vec,
			&cr.Chunk.PageType,
			&cr.Chunk.PageTitle,
			&category,
			&cr.Chunk.Heat,
			&decayRate,
			&cr.Chunk.PlotCritical,
			&cr.Chunk.TaggedNPCs,
			&cr.Chunk.TaggedLocations,
			&cr.Chunk.OriginTurn,
			&cr.Chunk.LastAccessedTurn,
			&cr.Chunk.Timestamp,
			&cr.Distance,
		); err != nil {
			return memory.ChunkResult{}, err
		}
		cr.Chunk.Collection = memory.Collection(collection)
		cr.Chunk.Category = memory.MemoryCategory(category)
		cr.Chunk.DecayRate = memory.DecayRate(decayRate)
		cr.Chunk.Embedding = vec.Slice()
		return cr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector store: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.ChunkResult{}
	}
	return results, nil
}

// TouchHeat implements [memory.VectorStore]. It applies the retrieval-access
// heat boost (+20) to the named chunks and records last_accessed_turn. Heat
// is capped at 100.
func (s *VectorStoreImpl) TouchHeat(ctx context.Context, chunkIDs []string, turnNumber int) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	const q = `
		UPDATE memory_chunks
		SET    heat               = LEAST(heat + 20, 100),
		       last_accessed_turn = $2
		WHERE  id = ANY($1::text[])`

	if _, err := s.pool.Exec(ctx, q, chunkIDs, turnNumber); err != nil {
		return fmt.Errorf("vector store: touch heat: %w", err)
	}
	return nil
}

// ApplyDecay implements [memory.VectorStore]. It multiplies every memory
// chunk's heat in campaignID by its per-category decay multiplier, then
// clamps at the chunk's heat floor: 80 when plot_critical, 40 when the
// chunk is tagged to an NPC that has reached any first_* emotional
// milestone, and 0 otherwise. Ordinary memories must be free to decay all
// the way down — the cold-compression pass only ever sees chunks whose
// heat dropped below its threshold. Intended to run once per turn as a
// background heat-sweep.
func (s *VectorStoreImpl) ApplyDecay(ctx context.Context, campaignID string) error {
	const q = `
		UPDATE memory_chunks mc
		SET    heat = GREATEST(
		           mc.heat * (CASE
		               WHEN mc.category = 'relationship'  THEN 0.97
		               WHEN mc.decay_rate = 'fast'         THEN 0.90
		               WHEN mc.decay_rate = 'slow'         THEN 0.95
		               ELSE 0.93
		           END),
		           CASE
		               WHEN mc.plot_critical THEN 80
		               WHEN EXISTS (
		                   SELECT 1
		                   FROM   npcs n
		                   WHERE  n.campaign_id = $1
		                     AND  n.name = ANY(mc.tagged_npcs)
		                     AND  EXISTS (
		                         SELECT 1
		                         FROM   jsonb_each_text(n.milestones) ms(key, value)
		                         WHERE  ms.key LIKE 'first\_%' AND ms.value = 'true'
		                     )
		               ) THEN 40
		               ELSE 0
		           END
		       )
		WHERE  mc.collection = 'memory' AND mc.owner_id = $1`

	if _, err := s.pool.Exec(ctx, q, campaignID); err != nil {
		return fmt.Errorf("vector store: apply decay: %w", err)
	}
	return nil
}

// BoostTagged implements [memory.VectorStore]. It warms every memory chunk
// tagged with npcName by delta, capped at 100.
func (s *VectorStoreImpl) BoostTagged(ctx context.Context, campaignID, npcName string, delta float64) error {
	const q = `
		UPDATE memory_chunks
		SET    heat = LEAST(heat + $3, 100)
		WHERE  collection = 'memory' AND owner_id = $1 AND $2 = ANY(tagged_npcs)`
	if _, err := s.pool.Exec(ctx, q, campaignID, npcName, delta); err != nil {
		return fmt.Errorf("vector store: boost tagged: %w", err)
	}
	return nil
}

// ListCold implements [memory.VectorStore]. Plot-critical chunks never go
// cold (their heat floor is 80 anyway) and are excluded outright.
func (s *VectorStoreImpl) ListCold(ctx context.Context, campaignID string, maxHeat float64) ([]memory.MemoryChunk, error) {
	const q = `
		SELECT id, owner_id, content, category, heat, decay_rate, tagged_npcs, tagged_locations, origin_turn
		FROM   memory_chunks
		WHERE  collection = 'memory' AND owner_id = $1 AND heat < $2 AND NOT plot_critical`
	rows, err := s.pool.Query(ctx, q, campaignID, maxHeat)
	if err != nil {
		return nil, fmt.Errorf("vector store: list cold: %w", err)
	}
	defer rows.Close()

	var out []memory.MemoryChunk
	for rows.Next() {
		var (
			c        memory.MemoryChunk
			category string
			decay    string
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Content, &category, &c.Heat, &decay, &c.TaggedNPCs, &c.TaggedLocations, &c.OriginTurn); err != nil {
			return nil, fmt.Errorf("vector store: scan cold: %w", err)
		}
		c.Collection = memory.CollectionMemory
		c.Category = memory.MemoryCategory(category)
		c.DecayRate = memory.DecayRate(decay)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Archive implements [memory.VectorStore]. Archived chunks keep their
// content under the memory_archive collection, out of active retrieval.
func (s *VectorStoreImpl) Archive(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	const q = `UPDATE memory_chunks SET collection = 'memory_archive' WHERE id = ANY($1::text[])`
	if _, err := s.pool.Exec(ctx, q, chunkIDs); err != nil {
		return fmt.Errorf("vector store: archive: %w", err)
	}
	return nil
}

// DeleteCollection implements [memory.VectorStore]. It removes every chunk
// owned by ownerID within collection.
func (s *VectorStoreImpl) DeleteCollection(ctx context.Context, collection memory.Collection, ownerID string) error {
	const q = `DELETE FROM memory_chunks WHERE collection = $1 AND owner_id = $2`
	if _, err := s.pool.Exec(ctx, q, string(collection), ownerID); err != nil {
		return fmt.Errorf("vector store: delete collection: %w", err)
	}
	return nil
}
