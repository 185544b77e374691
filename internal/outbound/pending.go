package outbound

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/roach88/courier/internal/fault"
	"github.com/roach88/courier/internal/job"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
)

// retryNextPending executes the next due pending operation. The job itself
// deletes or parks the record, so nothing is removed here.
func (s *Service) retryNextPending(ctx context.Context, owner uuid.UUID) (bool, error) {
	var op *queue.PendingOperation
	err := s.deps.Store.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		var err error
		op, err = queue.ClaimPending(ctx, tx, s.claim(owner))
		return err
	})
	if err != nil {
		return false, fault.NewFatal("claim pending operation", err)
	}
	if op == nil {
		return false, nil
	}

	if err := s.throttle(ctx); err != nil {
		return true, err
	}
	_, err = job.Execute[[]model.Message](ctx, s.jobContext(owner), &job.PendingOperation{Op: op})
	return true, err
}
