package outbound

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/courier/internal/fault"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
)

// sendPushToken pushes a pending push-token change. Recoverable failures
// defer the update by queue.MaxPushTokenRetryDelay; fatal ones give it up.
// A token stored while the call was in flight stays pending.
func (s *Service) sendPushToken(ctx context.Context, _ uuid.UUID) (bool, error) {
	state, err := queue.DuePushToken(ctx, s.deps.Store.DB(), s.now())
	if err != nil {
		return false, fault.NewFatal("load push token", err)
	}
	if state == nil {
		return false, nil
	}

	if err := s.throttle(ctx); err != nil {
		return true, err
	}
	err = s.deps.Clients.Default().UpdateClient(ctx, state.Token)
	ferr := remote.ToFault("update push token", err)

	rctx := context.WithoutCancel(ctx)
	var serr error
	switch fault.KindOf(ferr) {
	case 0, fault.Fatal:
		serr = s.deps.Store.WithImmediateTx(rctx, func(tx *sql.Tx) error {
			cleared, err := queue.ClearPushTokenPending(rctx, tx, state.Token)
			if err == nil && !cleared {
				slog.Info("push token changed during update, keeping it pending")
			}
			return err
		})
	case fault.Recoverable:
		serr = s.deps.Store.WithImmediateTx(rctx, func(tx *sql.Tx) error {
			return queue.SchedulePushTokenRetry(rctx, tx, s.now().Add(queue.MaxPushTokenRetryDelay))
		})
	}
	if serr != nil {
		slog.Error("failed to update push token state", "cause", ferr, "error", serr)
		return true, fault.NewFatal("update push token state", serr)
	}
	return true, ferr
}
