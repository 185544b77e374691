package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/store"
)

// OperationKind decides what the remote call is and what local cleanup a
// successful call needs.
type OperationKind string

const (
	// OperationLeave is a self-remove proposal; no commit to merge.
	OperationLeave OperationKind = "leave"
	// OperationDelete is a commit that also deactivates the chat.
	OperationDelete OperationKind = "delete"
	// OperationOther is any other commit (add, remove, update).
	OperationOther OperationKind = "other"
)

// IsCommit reports whether the operation carries a commit to merge.
func (k OperationKind) IsCommit() bool { return k != OperationLeave }

// RequestStatus is the retry state of a pending operation.
type RequestStatus string

const (
	StatusReadyToRetry RequestStatus = "ready_to_retry"
	// StatusWaitingForQueueResponse parks the operation until inbound queue
	// messages have been processed. Such rows are never claimed.
	StatusWaitingForQueueResponse RequestStatus = "waiting_for_queue_response"
)

// PendingRetryDelay is how long an attempt holds the operation off the
// retry queue.
const PendingRetryDelay = 5 * time.Second

// MaxPendingAttempts bounds the sends of one operation, whatever the
// failure.
const MaxPendingAttempts = 5

// MaxStaleEpochs is how many stale epoch rejections an operation survives.
// The first parks it until the queue is drained. A second one after that
// means the staged commit can never be accepted.
const MaxStaleEpochs = 1

// PendingOperation is a group operation awaiting remote acknowledgement.
type PendingOperation struct {
	GroupID     model.GroupID
	ChatID      model.ChatID
	Kind        OperationKind
	Payload     []byte // commit or proposal to send
	GroupState  []byte // engine state with the operation staged
	Status      RequestStatus
	RetryDueAt  time.Time
	LastAttempt time.Time // zero if never attempted
	Attempts    int
	StaleEpochs int // stale epoch rejections so far
	CreatedAt   time.Time
}

const pendingColumns = `group_id, chat_id, operation_kind, payload, group_state, request_status,
	retry_due_at, COALESCE(last_attempt, 0), attempts, stale_epochs, created_at`

// StorePending persists op claimed by c, so that no retry worker picks it up
// while the creator is still executing it. An existing operation for the
// same group is replaced.
func StorePending(ctx context.Context, ex store.Executor, op *PendingOperation, c Claim) error {
	if op.Status == "" {
		op.Status = StatusReadyToRetry
	}
	var lastAttempt sql.NullInt64
	if !op.LastAttempt.IsZero() {
		lastAttempt = sql.NullInt64{Int64: store.Millis(op.LastAttempt), Valid: true}
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO pending_chat_operations
		(group_id, chat_id, operation_kind, payload, group_state, request_status,
		 retry_due_at, last_attempt, attempts, stale_epochs, created_at, locked_by, locked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			chat_id = excluded.chat_id,
			operation_kind = excluded.operation_kind,
			payload = excluded.payload,
			group_state = excluded.group_state,
			request_status = excluded.request_status,
			retry_due_at = excluded.retry_due_at,
			last_attempt = excluded.last_attempt,
			attempts = excluded.attempts,
			stale_epochs = excluded.stale_epochs,
			locked_by = excluded.locked_by,
			locked_at = excluded.locked_at
	`,
		string(op.GroupID),
		op.ChatID.String(),
		string(op.Kind),
		op.Payload,
		op.GroupState,
		string(op.Status),
		store.Millis(op.RetryDueAt),
		lastAttempt,
		op.Attempts,
		op.StaleEpochs,
		store.Millis(op.CreatedAt),
		c.owner(),
		c.now(),
	)
	if err != nil {
		return fmt.Errorf("store pending operation %s: %w", op.GroupID, err)
	}
	return nil
}

// LoadPendingForChat returns the pending operation of a chat, or nil.
func LoadPendingForChat(ctx context.Context, ex store.Executor, chatID model.ChatID) (*PendingOperation, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_chat_operations WHERE chat_id = ?`, chatID.String())
	op, err := scanPending(row)
	if err != nil {
		return nil, fmt.Errorf("load pending operation for chat %s: %w", chatID, err)
	}
	return op, nil
}

// LoadPending returns the pending operation of a group, or nil.
func LoadPending(ctx context.Context, ex store.Executor, groupID model.GroupID) (*PendingOperation, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_chat_operations WHERE group_id = ?`, string(groupID))
	op, err := scanPending(row)
	if err != nil {
		return nil, fmt.Errorf("load pending operation %s: %w", groupID, err)
	}
	return op, nil
}

// ClaimPending claims the ready operation with the earliest passed retry
// due date. Returns nil if none is due.
func ClaimPending(ctx context.Context, ex store.Executor, c Claim) (*PendingOperation, error) {
	row := ex.QueryRowContext(ctx, `
		UPDATE pending_chat_operations SET locked_by = ?, locked_at = ?
		WHERE group_id = (
			SELECT group_id FROM pending_chat_operations
			WHERE request_status = ?
			  AND retry_due_at <= ?
			  AND (locked_by IS NULL OR (locked_by != ? AND locked_at < ?))
			ORDER BY retry_due_at ASC, created_at ASC
			LIMIT 1
		)
		RETURNING `+pendingColumns,
		c.owner(), c.now(), string(StatusReadyToRetry), c.now(), c.owner(), c.cutoff())
	op, err := scanPending(row)
	if err != nil {
		return nil, fmt.Errorf("claim pending operation: %w", err)
	}
	return op, nil
}

// ClaimPendingForGroup claims the operation of one group regardless of its
// retry due date. Returns nil if there is none or another worker holds it.
func ClaimPendingForGroup(ctx context.Context, ex store.Executor, groupID model.GroupID, c Claim) (*PendingOperation, error) {
	row := ex.QueryRowContext(ctx, `
		UPDATE pending_chat_operations SET locked_by = ?, locked_at = ?
		WHERE group_id = ?
		  AND (locked_by IS NULL OR locked_by = ? OR locked_at < ?)
		RETURNING `+pendingColumns,
		c.owner(), c.now(), string(groupID), c.owner(), c.cutoff())
	op, err := scanPending(row)
	if err != nil {
		return nil, fmt.Errorf("claim pending operation %s: %w", groupID, err)
	}
	return op, nil
}

// MarkAttempt stamps an attempt at now: retry_due_at moves PendingRetryDelay
// out and attempts is incremented. op is updated in place.
func MarkAttempt(ctx context.Context, ex store.Executor, op *PendingOperation, now time.Time) error {
	due := now.Add(PendingRetryDelay)
	_, err := ex.ExecContext(ctx, `
		UPDATE pending_chat_operations
		SET retry_due_at = ?, last_attempt = ?, attempts = attempts + 1
		WHERE group_id = ?
	`, store.Millis(due), store.Millis(now), string(op.GroupID))
	if err != nil {
		return fmt.Errorf("mark attempt %s: %w", op.GroupID, err)
	}
	op.RetryDueAt = store.FromMillis(store.Millis(due))
	op.LastAttempt = store.FromMillis(store.Millis(now))
	op.Attempts++
	return nil
}

// SetRequestStatus updates the retry state of a group's pending operation.
func SetRequestStatus(ctx context.Context, ex store.Executor, groupID model.GroupID, status RequestStatus) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE pending_chat_operations SET request_status = ? WHERE group_id = ?
	`, string(status), string(groupID))
	if err != nil {
		return fmt.Errorf("set request status %s: %w", groupID, err)
	}
	return nil
}

// MarkStaleEpoch counts a stale epoch rejection of op and parks it until
// inbound queue messages have been processed. op is updated in place.
func MarkStaleEpoch(ctx context.Context, ex store.Executor, op *PendingOperation) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE pending_chat_operations
		SET stale_epochs = stale_epochs + 1, request_status = ?
		WHERE group_id = ?
	`, string(StatusWaitingForQueueResponse), string(op.GroupID))
	if err != nil {
		return fmt.Errorf("mark stale epoch %s: %w", op.GroupID, err)
	}
	op.StaleEpochs++
	op.Status = StatusWaitingForQueueResponse
	return nil
}

// ResumeWaiting returns every operation parked for a queue response to the
// retry queue. Returns the number of operations resumed.
func ResumeWaiting(ctx context.Context, ex store.Executor) (int64, error) {
	res, err := ex.ExecContext(ctx, `
		UPDATE pending_chat_operations SET request_status = ? WHERE request_status = ?
	`, string(StatusReadyToRetry), string(StatusWaitingForQueueResponse))
	if err != nil {
		return 0, fmt.Errorf("resume waiting operations: %w", err)
	}
	return res.RowsAffected()
}

// DeletePending removes the pending operation of a group.
func DeletePending(ctx context.Context, ex store.Executor, groupID model.GroupID) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM pending_chat_operations WHERE group_id = ?`, string(groupID)); err != nil {
		return fmt.Errorf("delete pending operation %s: %w", groupID, err)
	}
	return nil
}

func scanPending(row *sql.Row) (*PendingOperation, error) {
	var (
		groupID, chatID, kind, status      string
		payload, state                     []byte
		retryDueAt, lastAttempt, createdAt int64
		attempts, staleEpochs              int
	)
	err := row.Scan(&groupID, &chatID, &kind, &payload, &state, &status,
		&retryDueAt, &lastAttempt, &attempts, &staleEpochs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	op := &PendingOperation{
		GroupID:     model.GroupID(groupID),
		Kind:        OperationKind(kind),
		Payload:     payload,
		GroupState:  state,
		Status:      RequestStatus(status),
		RetryDueAt:  store.FromMillis(retryDueAt),
		Attempts:    attempts,
		StaleEpochs: staleEpochs,
		CreatedAt:   store.FromMillis(createdAt),
	}
	if lastAttempt != 0 {
		op.LastAttempt = store.FromMillis(lastAttempt)
	}
	if op.ChatID, err = model.ParseChatID(chatID); err != nil {
		return nil, err
	}
	return op, nil
}
