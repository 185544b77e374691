package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/courier/internal/model"
)

// StoreGroupState upserts the opaque engine state for a group.
func StoreGroupState(ctx context.Context, ex Executor, groupID model.GroupID, state []byte) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO chat_groups (group_id, state) VALUES (?, ?)
		ON CONFLICT(group_id) DO UPDATE SET state = excluded.state
	`, string(groupID), state)
	if err != nil {
		return fmt.Errorf("store group %s: %w", groupID, err)
	}
	return nil
}

// LoadGroupState reads the engine state for a group. Returns ErrNotFound if absent.
func LoadGroupState(ctx context.Context, ex Executor, groupID model.GroupID) ([]byte, error) {
	var state []byte
	err := ex.QueryRowContext(ctx, `SELECT state FROM chat_groups WHERE group_id = ?`, string(groupID)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load group %s: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load group %s: %w", groupID, err)
	}
	return state, nil
}

// DeleteGroupState removes the engine state for a group.
func DeleteGroupState(ctx context.Context, ex Executor, groupID model.GroupID) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM chat_groups WHERE group_id = ?`, string(groupID)); err != nil {
		return fmt.Errorf("delete group %s: %w", groupID, err)
	}
	return nil
}
