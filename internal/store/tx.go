package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WithTx runs fn inside one IMMEDIATE transaction and commits if fn
// returns nil. Changes recorded by fn are published to n only after the
// commit succeeds; n may be nil.
//
// CRITICAL: fn must do all database work through tx.
func (s *Store) WithTx(ctx context.Context, n *Notifier, fn func(tx *sql.Tx, c *Changes) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	changes := NewChanges()
	if err := fn(tx, changes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if n != nil {
		n.Publish(changes)
	}
	return nil
}

// WithImmediateTx is WithTx without change notification.
func (s *Store) WithImmediateTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.WithTx(ctx, nil, func(tx *sql.Tx, _ *Changes) error {
		return fn(tx)
	})
}
