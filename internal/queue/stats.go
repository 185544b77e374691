package queue

import (
	"context"
	"fmt"

	"github.com/roach88/courier/internal/store"
)

// Stats is a snapshot of the queue depths.
type Stats struct {
	ChatMessages      int         `json:"chat_messages"`
	Receipts          int         `json:"receipts"`
	PendingOperations int         `json:"pending_operations"`
	WaitingOperations int         `json:"waiting_operations"`
	PushTokenPending  bool        `json:"push_token_pending"`
	TimedTasks        []TimedTask `json:"timed_tasks"`
}

// CollectStats counts the records in every queue.
func CollectStats(ctx context.Context, ex store.Executor) (*Stats, error) {
	var s Stats
	var pushPending int
	err := ex.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM chat_message_queue),
			(SELECT COUNT(*) FROM receipt_queue),
			(SELECT COUNT(*) FROM pending_chat_operations),
			(SELECT COUNT(*) FROM pending_chat_operations WHERE request_status = ?),
			(SELECT COUNT(*) FROM push_token_state WHERE pending = 1)
	`, string(StatusWaitingForQueueResponse)).Scan(
		&s.ChatMessages, &s.Receipts, &s.PendingOperations, &s.WaitingOperations, &pushPending,
	)
	if err != nil {
		return nil, fmt.Errorf("collect queue stats: %w", err)
	}
	s.PushTokenPending = pushPending > 0

	s.TimedTasks, err = ListTimedTasks(ctx, ex)
	if err != nil {
		return nil, err
	}
	if s.TimedTasks == nil {
		s.TimedTasks = []TimedTask{}
	}
	return &s, nil
}
