package outbound

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/courier/internal/fault"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
)

// KeyPackageCount is the number of regular key packages per upload. One
// last-resort key package is uploaded in addition.
const KeyPackageCount = 100

func (s *Service) runNextTimedTask(ctx context.Context, owner uuid.UUID) (bool, error) {
	var task *queue.TimedTask
	err := s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = queue.ClaimTimedTask(ctx, tx, s.claim(owner))
		return err
	})
	if err != nil {
		return false, fault.NewFatal("claim timed task", err)
	}
	if task == nil {
		return false, nil
	}

	switch task.Kind {
	case queue.KeyPackageUpload:
		err = s.uploadKeyPackages(ctx)
	default:
		err = fault.NewFatal("run timed task", fmt.Errorf("unknown task kind %q", task.Kind))
	}

	if fault.IsFatal(err) {
		// Try again at the regular interval rather than on every pass.
		next := s.now().Add(queue.KeyPackageUploadInterval)
		rctx := context.WithoutCancel(ctx)
		rerr := s.deps.Store.WithImmediateTx(rctx, func(tx *sql.Tx) error {
			return queue.SetDueDate(rctx, tx, task.Kind, next)
		})
		if rerr != nil {
			slog.Error("failed to reschedule timed task", "kind", task.Kind, "error", rerr)
		}
	}
	return true, err
}

// uploadKeyPackages publishes a fresh set of key packages. The previous
// live set is deleted only after the remote accepted the new one.
func (s *Service) uploadKeyPackages(ctx context.Context) error {
	kps := make([]store.KeyPackage, 0, KeyPackageCount+1)
	for i := 0; i <= KeyPackageCount; i++ {
		kp, err := s.deps.Engine.GenerateKeyPackage(i == KeyPackageCount)
		if err != nil {
			return fault.NewFatal("generate key package", err)
		}
		kps = append(kps, kp)
	}
	ids := make([]string, len(kps))
	for i, kp := range kps {
		ids[i] = kp.ID
	}

	now := s.now()
	err := s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		return store.StoreKeyPackages(ctx, tx, kps, now)
	})
	if err != nil {
		return fault.NewFatal("store key packages", err)
	}

	if err := s.throttle(ctx); err != nil {
		s.discardKeyPackages(ctx, ids)
		return err
	}
	if err := s.deps.Clients.Default().PublishKeyPackages(ctx, kps); err != nil {
		s.discardKeyPackages(ctx, ids)
		return remote.ToFault("publish key packages", err)
	}

	err = s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		if err := store.ReplaceLiveKeyPackages(ctx, tx, ids); err != nil {
			return err
		}
		return queue.SetDueDate(ctx, tx, queue.KeyPackageUpload, now.Add(queue.KeyPackageUploadInterval))
	})
	if err != nil {
		return fault.NewFatal("mark key packages live", err)
	}

	slog.Info("key packages uploaded", "count", len(kps))
	return nil
}

func (s *Service) discardKeyPackages(ctx context.Context, ids []string) {
	ctx = context.WithoutCancel(ctx)
	err := s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		return store.DeleteKeyPackages(ctx, tx, ids)
	})
	if err != nil {
		slog.Error("failed to delete unpublished key packages", "count", len(ids), "error", err)
	}
}
