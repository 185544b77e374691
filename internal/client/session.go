package client

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/roach88/courier/internal/eventloop"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
)

// sessionRef is the event loop's handle on the client. Upgrade fails once
// the client is closed.
type sessionRef struct {
	c *Client
}

func (r sessionRef) Upgrade() (eventloop.Session, bool) {
	if r.c.closed.Load() {
		return nil, false
	}
	return session{r.c}, true
}

// session is the client as seen from inside the event loop.
type session struct {
	c *Client
}

// ProcessQueueMessages runs each message through the inbound processor.
// Rejected messages are dropped; the rest of the batch continues.
func (s session) ProcessQueueMessages(ctx context.Context, msgs []eventloop.QueueMessage) (processed, dropped int, err error) {
	for _, m := range msgs {
		if err := s.c.inbound.ProcessQueueMessage(ctx, m); err != nil {
			slog.Warn("dropping queue message", "seq", m.SequenceNumber, "error", err)
			dropped++
			continue
		}
		processed++
	}

	// The queue has caught up; operations parked on a stale epoch may retry.
	var resumed int64
	err = s.c.store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		var err error
		resumed, err = queue.ResumeWaiting(ctx, tx)
		return err
	})
	if err != nil {
		slog.Error("failed to resume waiting operations", "error", err)
	} else if resumed > 0 {
		slog.Debug("resumed waiting operations", "count", resumed)
	}
	return processed, dropped, nil
}

func (s session) ProcessHandleMessage(ctx context.Context, handle eventloop.HandleID, msg eventloop.HandleMessage) (model.ChatID, error) {
	return s.c.inbound.ProcessHandleMessage(ctx, handle, msg)
}

func (s session) NotifyWork() { s.c.NotifyWork() }
