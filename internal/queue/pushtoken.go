package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/courier/internal/store"
)

// MaxPushTokenRetryDelay caps how far in the future a retry may be
// scheduled. A stored retry time beyond it (e.g. after a clock jump) is
// treated as due.
const MaxPushTokenRetryDelay = time.Hour

// PushToken is the platform push registration of this client.
type PushToken struct {
	Operator string
	Token    string
}

// PushTokenState is the single pending-update flag for the push token.
// A nil Token means the registration should be removed remotely.
type PushTokenState struct {
	Token   *PushToken
	Pending bool
	RetryAt time.Time
}

// SetPushToken stores token and marks it pending if it differs from the
// stored one. Returns whether it changed.
func SetPushToken(ctx context.Context, ex store.Executor, token *PushToken, now time.Time) (bool, error) {
	current, err := LoadPushTokenState(ctx, ex)
	if err != nil {
		return false, err
	}
	if current != nil && samePushToken(current.Token, token) {
		return false, nil
	}

	var operator, value sql.NullString
	if token != nil {
		operator = sql.NullString{String: token.Operator, Valid: true}
		value = sql.NullString{String: token.Token, Valid: true}
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO push_token_state (id, operator, token, pending, retry_at)
		VALUES (1, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			operator = excluded.operator,
			token = excluded.token,
			pending = 1,
			retry_at = excluded.retry_at
	`, operator, value, store.Millis(now))
	if err != nil {
		return false, fmt.Errorf("set push token: %w", err)
	}
	return true, nil
}

// LoadPushTokenState returns the stored state, or nil if none was ever set.
func LoadPushTokenState(ctx context.Context, ex store.Executor) (*PushTokenState, error) {
	var operator, token sql.NullString
	var pending bool
	var retryAt int64
	err := ex.QueryRowContext(ctx, `
		SELECT operator, token, pending, retry_at FROM push_token_state WHERE id = 1
	`).Scan(&operator, &token, &pending, &retryAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load push token state: %w", err)
	}

	state := &PushTokenState{Pending: pending, RetryAt: store.FromMillis(retryAt)}
	if operator.Valid {
		state.Token = &PushToken{Operator: operator.String, Token: token.String}
	}
	return state, nil
}

// DuePushToken returns the state if an update is pending and due at now.
func DuePushToken(ctx context.Context, ex store.Executor, now time.Time) (*PushTokenState, error) {
	state, err := LoadPushTokenState(ctx, ex)
	if err != nil || state == nil || !state.Pending {
		return nil, err
	}
	if state.RetryAt.After(now) && !state.RetryAt.After(now.Add(MaxPushTokenRetryDelay)) {
		return nil, nil
	}
	return state, nil
}

// ClearPushTokenPending marks the stored token as synchronized if it is
// still sent, the token that was pushed. A token set after sent was loaded
// stays pending. Returns whether the flag was cleared.
func ClearPushTokenPending(ctx context.Context, ex store.Executor, sent *PushToken) (bool, error) {
	var operator, value sql.NullString
	if sent != nil {
		operator = sql.NullString{String: sent.Operator, Valid: true}
		value = sql.NullString{String: sent.Token, Valid: true}
	}
	res, err := ex.ExecContext(ctx, `
		UPDATE push_token_state SET pending = 0
		WHERE id = 1 AND operator IS ? AND token IS ?
	`, operator, value)
	if err != nil {
		return false, fmt.Errorf("clear push token pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear push token pending: %w", err)
	}
	return n > 0, nil
}

// SchedulePushTokenRetry keeps the update pending and defers it until at.
func SchedulePushTokenRetry(ctx context.Context, ex store.Executor, at time.Time) error {
	if _, err := ex.ExecContext(ctx, `UPDATE push_token_state SET retry_at = ? WHERE id = 1`, store.Millis(at)); err != nil {
		return fmt.Errorf("schedule push token retry: %w", err)
	}
	return nil
}

func samePushToken(a, b *PushToken) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
