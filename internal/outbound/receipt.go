package outbound

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/courier/internal/fault"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
)

// receiptPayload is the plaintext of a receipt message.
type receiptPayload struct {
	Statuses []store.StatusReport `json:"statuses"`
}

func (s *Service) sendNextReceipts(ctx context.Context, owner uuid.UUID) (bool, error) {
	var batch *queue.ReceiptBatch
	err := s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		var err error
		batch, err = queue.ClaimReceipts(ctx, tx, s.claim(owner))
		return err
	})
	if err != nil {
		return false, fault.NewFatal("claim receipts", err)
	}
	if batch == nil {
		return false, nil
	}

	err = s.sendReceipts(ctx, batch)
	if fault.IsFatal(err) {
		if rerr := s.removeReceipts(context.WithoutCancel(ctx), batch); rerr != nil {
			slog.Error("failed to drop receipts", "chat_id", batch.ChatID, "error", rerr)
		}
	}
	return true, err
}

// sendReceipts sends every status of the batch in one message and records
// them as our own status reports.
func (s *Service) sendReceipts(ctx context.Context, batch *queue.ReceiptBatch) error {
	if len(batch.Receipts) == 0 {
		return fault.NewFatal("remove receipts", s.removeReceipts(ctx, batch))
	}

	reports := make([]store.StatusReport, len(batch.Receipts))
	for i, r := range batch.Receipts {
		reports[i] = store.StatusReport{MessageID: r.MessageID, MimiID: r.MimiID, Status: r.Status}
	}
	plaintext, err := json.Marshal(receiptPayload{Statuses: reports})
	if err != nil {
		return fault.NewFatal("encode receipts", err)
	}

	chat, err := store.LoadChat(ctx, s.deps.Store.DB(), batch.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return fault.NewFatal("remove receipts", s.removeReceipts(ctx, batch))
	}
	if err != nil {
		return fault.NewFatal("load chat", err)
	}
	if chat.IsBlocked() {
		slog.Info("dropping queued receipts of blocked chat", "chat_id", chat.ID, "count", len(batch.Receipts))
		return fault.NewFatal("remove receipts", s.removeReceipts(ctx, batch))
	}

	var ciphertext []byte
	err = s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		state, err := store.LoadGroupState(ctx, tx, chat.GroupID)
		if err != nil {
			return err
		}
		state, ciphertext, err = s.deps.Engine.Encrypt(state, plaintext)
		if err != nil {
			return err
		}
		return store.StoreGroupState(ctx, tx, chat.GroupID, state)
	})
	if err != nil {
		return fault.NewFatal("encrypt receipts", err)
	}

	client, err := s.client(chat.GroupID)
	if err != nil {
		return err
	}
	if err := s.throttle(ctx); err != nil {
		return err
	}
	if _, err := client.SendMessage(ctx, chat.GroupID, ciphertext); err != nil {
		return remote.ToFault("send receipts", err)
	}

	err = s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		if err := queue.RemoveReceipts(ctx, tx, batch.DequeueID); err != nil {
			return err
		}
		return store.StoreStatusReport(ctx, tx, s.deps.Self, reports, s.now())
	})
	if err != nil {
		return fault.NewFatal("store status report", err)
	}

	slog.Debug("receipts sent", "chat_id", chat.ID, "count", len(reports))
	return nil
}

func (s *Service) removeReceipts(ctx context.Context, batch *queue.ReceiptBatch) error {
	return s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		return queue.RemoveReceipts(ctx, tx, batch.DequeueID)
	})
}
