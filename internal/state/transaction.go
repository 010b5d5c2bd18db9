package state

import (
	"context"
	"fmt"
)

// Mutation is a single state change staged into a [Transaction]. It is
// applied to the underlying database connection inside the transaction's
// Commit call so that the whole batch is all-or-nothing.
type Mutation func(ctx context.Context, db DB) error

// Transaction accumulates the mutations of one turn's final commit and
// applies them as a single database transaction. Callers stage work with the
// staging methods (AppendTurn, the Upsert* methods, Custom), then call Commit once; any staging or execution error rolls
// back every mutation.
type Transaction struct {
	store     *Store
	mutations []Mutation
	precheck  func() error
}

// Begin starts staging a new commit against s.
func (s *Store) Begin() *Transaction {
	return &Transaction{store: s}
}

// Precheck registers a precondition evaluated immediately before the
// transaction is opened. If fn returns an error, Commit fails with
// [ErrStateConflict] and no database work is attempted.
func (tx *Transaction) Precheck(fn func() error) *Transaction {
	tx.precheck = fn
	return tx
}

// AppendTurn stages a new turn record.
func (tx *Transaction) AppendTurn(t Turn) *Transaction {
	tx.mutations = append(tx.mutations, func(ctx context.Context, db DB) error {
		return appendTurn(ctx, db, t)
	})
	return tx
}

// UpsertCharacter stages a character resource/tier update.
func (tx *Transaction) UpsertCharacter(ch Character) *Transaction {
	tx.mutations = append(tx.mutations, func(ctx context.Context, db DB) error {
		return New(db).UpsertCharacter(ctx, ch)
	})
	return tx
}

// UpsertWorldState stages a world-state update (changelog append, tension
// level, arc phase).
func (tx *Transaction) UpsertWorldState(ws WorldState) *Transaction {
	tx.mutations = append(tx.mutations, func(ctx context.Context, db DB) error {
		return New(db).UpsertWorldState(ctx, ws)
	})
	return tx
}

// UpsertNPC stages an NPC disposition/last_appeared update.
func (tx *Transaction) UpsertNPC(n NPC) *Transaction {
	tx.mutations = append(tx.mutations, func(ctx context.Context, db DB) error {
		return New(db).UpsertNPC(ctx, n)
	})
	return tx
}

// UpsertSeed stages a foreshadowing seed transition.
func (tx *Transaction) UpsertSeed(seed ForeshadowingSeed) *Transaction {
	tx.mutations = append(tx.mutations, func(ctx context.Context, db DB) error {
		return upsertSeed(ctx, db, seed)
	})
	return tx
}

// Custom stages an arbitrary mutation, for callers (e.g. the production
// agent tool handlers) that need a raw escape hatch into the transaction.
func (tx *Transaction) Custom(m Mutation) *Transaction {
	tx.mutations = append(tx.mutations, m)
	return tx
}

// Commit runs the precondition check, then applies every staged mutation in
// a single database transaction. On any failure the whole batch rolls back
// and no partial state survives.
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.precheck != nil {
		if err := tx.precheck(); err != nil {
			return fmt.Errorf("%w: %v", ErrStateConflict, err)
		}
	}

	pgTx, err := tx.store.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("state: begin commit: %w", err)
	}

	for _, m := range tx.mutations {
		if err := m(ctx, txDB{pgTx}); err != nil {
			_ = pgTx.Rollback(ctx)
			return fmt.Errorf("state: stage-8 commit: %w", err)
		}
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}
