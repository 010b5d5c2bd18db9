package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// PendingMemory is one queued vector-store write. The relational store is
// authoritative: memory writes land here inside the Stage-8 commit, and a
// background worker drains the queue with idempotent upserts into the
// vector store. A failed upsert leaves the row for the next cycle.
type PendingMemory struct {
	ID         int64
	CampaignID string
	MemoryID   string
	Payload    []byte
	EnqueuedAt time.Time
}

// EnqueuePendingMemory stages a memory write into the queue. payload is an
// opaque JSON document owned by the memory subsystem.
func (tx *Transaction) EnqueuePendingMemory(campaignID, memoryID string, payload any) *Transaction {
	tx.mutations = append(tx.mutations, func(ctx context.Context, db DB) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("state: marshal pending memory: %w", err)
		}
		_, err = db.Exec(ctx, `
			INSERT INTO pending_memories (campaign_id, memory_id, payload)
			VALUES ($1, $2, $3)`, campaignID, memoryID, raw)
		return err
	})
	return tx
}

// ListPendingMemories returns up to limit queued writes, oldest first.
func (s *Store) ListPendingMemories(ctx context.Context, campaignID string, limit int) ([]PendingMemory, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, campaign_id, memory_id, payload, enqueued_at
		FROM pending_memories WHERE campaign_id = $1
		ORDER BY id ASC LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingMemory
	for rows.Next() {
		var p PendingMemory
		if err := rows.Scan(&p.ID, &p.CampaignID, &p.MemoryID, &p.Payload, &p.EnqueuedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePendingMemory removes a drained row. Deleting an already-drained
// row is a no-op, keeping the drain idempotent under retry.
func (s *Store) DeletePendingMemory(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM pending_memories WHERE id = $1`, id)
	return err
}
