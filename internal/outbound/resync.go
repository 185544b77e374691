package outbound

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/courier/internal/fault"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/store"
)

func (s *Service) resyncNextGroup(ctx context.Context, owner uuid.UUID) (bool, error) {
	var entry *queue.ResyncEntry
	err := s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = queue.ClaimResync(ctx, tx, s.claim(owner))
		return err
	})
	if err != nil {
		return false, fault.NewFatal("claim resync", err)
	}
	if entry == nil {
		return false, nil
	}

	err = s.resync(ctx, entry)
	if fault.IsFatal(err) {
		if rerr := s.removeResync(context.WithoutCancel(ctx), entry); rerr != nil {
			slog.Error("failed to drop resync", "group_id", entry.GroupID, "error", rerr)
		}
	}
	return true, err
}

// resync rejoins the group with an external commit. The local group state
// is replaced only once the remote service accepted the commit, so a
// failed attempt leaves the old state in place for the next one.
func (s *Service) resync(ctx context.Context, entry *queue.ResyncEntry) error {
	_, err := store.LoadChat(ctx, s.deps.Store.DB(), entry.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("dropping resync of deleted chat", "group_id", entry.GroupID)
		return fault.NewFatal("remove resync", s.removeResync(ctx, entry))
	}
	if err != nil {
		return fault.NewFatal("load chat", err)
	}

	client, err := s.client(entry.GroupID)
	if err != nil {
		return err
	}
	if err := s.throttle(ctx); err != nil {
		return err
	}
	info, err := client.ExternalCommitInfo(ctx, entry.GroupID)
	if err != nil {
		return fault.NewRecoverable("fetch external commit info", err)
	}

	staged, err := s.deps.Engine.JoinExternal(entry.GroupID, s.deps.Self, info)
	if err != nil {
		return fault.NewFatal("join group externally", err)
	}

	if err := s.throttle(ctx); err != nil {
		return err
	}
	if _, err := client.Resync(ctx, entry.GroupID, staged.Message); err != nil {
		return fault.NewRecoverable("send resync", err)
	}

	err = s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		if err := store.StoreGroupState(ctx, tx, entry.GroupID, staged.State); err != nil {
			return err
		}
		return queue.RemoveResync(ctx, tx, entry.GroupID)
	})
	if err != nil {
		return fault.NewFatal("store resynced group", err)
	}

	slog.Info("group resynced", "chat_id", entry.ChatID, "group_id", entry.GroupID)
	return nil
}

func (s *Service) removeResync(ctx context.Context, entry *queue.ResyncEntry) error {
	return s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		return queue.RemoveResync(ctx, tx, entry.GroupID)
	})
}
