package outbound

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/courier/internal/fault"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
)

func (s *Service) sendNextChatMessage(ctx context.Context, owner uuid.UUID) (bool, error) {
	var entry *queue.ChatMessageEntry
	err := s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = queue.ClaimChatMessage(ctx, tx, s.claim(owner))
		return err
	})
	if err != nil {
		return false, fault.NewFatal("claim chat message", err)
	}
	if entry == nil {
		return false, nil
	}

	err = s.sendChatMessage(ctx, entry)
	if fault.IsFatal(err) {
		s.failChatMessage(ctx, entry, err)
	}
	return true, err
}

// sendChatMessage encrypts and sends one queued message, then marks it sent
// and advances the read marker to it.
func (s *Service) sendChatMessage(ctx context.Context, entry *queue.ChatMessageEntry) error {
	db := s.deps.Store.DB()

	chat, err := store.LoadChat(ctx, db, entry.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("dropping queued message of deleted chat", "message_id", entry.MessageID)
		return s.removeChatMessage(ctx, entry)
	}
	if err != nil {
		return fault.NewFatal("load chat", err)
	}
	if chat.IsBlocked() {
		slog.Info("dropping queued message of blocked chat", "chat_id", chat.ID, "message_id", entry.MessageID)
		return s.removeChatMessage(ctx, entry)
	}

	msg, err := store.LoadMessage(ctx, db, entry.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return s.removeChatMessage(ctx, entry)
	}
	if err != nil {
		return fault.NewFatal("load message", err)
	}
	if msg.Status != model.MessageStatusUnsent {
		slog.Debug("queued message already sent", "message_id", msg.ID, "status", msg.Status)
		return s.removeChatMessage(ctx, entry)
	}

	var ciphertext []byte
	err = s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		state, err := store.LoadGroupState(ctx, tx, chat.GroupID)
		if err != nil {
			return err
		}
		state, ciphertext, err = s.deps.Engine.Encrypt(state, []byte(msg.Body))
		if err != nil {
			return err
		}
		return store.StoreGroupState(ctx, tx, chat.GroupID, state)
	})
	if err != nil {
		return fault.NewFatal("encrypt message", err)
	}

	client, err := s.client(chat.GroupID)
	if err != nil {
		return err
	}
	if err := s.throttle(ctx); err != nil {
		return err
	}
	ts, err := client.SendMessage(ctx, chat.GroupID, ciphertext)
	if err != nil {
		return remote.ToFault("send message", err)
	}

	err = s.deps.Store.WithTx(ctx, s.deps.Notifier, func(tx *sql.Tx, c *store.Changes) error {
		if err := store.MarkMessageSent(ctx, tx, msg.ID, ts, c); err != nil {
			return err
		}
		if err := store.MarkReadUntil(ctx, tx, chat.ID, msg.ID, c); err != nil {
			return err
		}
		return queue.RemoveChatMessage(ctx, tx, entry.MessageID)
	})
	if err != nil {
		return fault.NewFatal("mark message sent", err)
	}

	slog.Debug("message sent", "chat_id", chat.ID, "message_id", msg.ID, "timestamp", ts)
	return nil
}

func (s *Service) removeChatMessage(ctx context.Context, entry *queue.ChatMessageEntry) error {
	err := s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		return queue.RemoveChatMessage(ctx, tx, entry.MessageID)
	})
	return fault.NewFatal("remove chat message", err)
}

// failChatMessage drops the entry and marks the message failed so the user
// sees it. Runs even after cancellation.
func (s *Service) failChatMessage(ctx context.Context, entry *queue.ChatMessageEntry, cause error) {
	ctx = context.WithoutCancel(ctx)
	err := s.deps.Store.WithTx(ctx, s.deps.Notifier, func(tx *sql.Tx, c *store.Changes) error {
		if err := queue.RemoveChatMessage(ctx, tx, entry.MessageID); err != nil {
			return err
		}
		err := store.SetMessageStatus(ctx, tx, entry.MessageID, model.MessageStatusFailed, c)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		slog.Error("failed to mark message failed",
			"message_id", entry.MessageID,
			"cause", cause,
			"error", err,
		)
	}
}
