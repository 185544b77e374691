// Package job runs operations that prepare local state, make exactly one
// remote call, and merge the result back.
//
// A Job declares idempotent dependencies and its logic; Execute runs them
// in that order. Every concrete job follows the same shape inside its logic:
//
//	local prepare (one IMMEDIATE transaction)
//	remote call
//	local merge (one IMMEDIATE transaction), or compensation on failure
//
// Errors returned by jobs are classified with package fault. Storage and
// engine errors are Fatal. Remote errors are classified by package remote,
// refined per job where the retry policy depends on the operation.
package job

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/courier/internal/group"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
)

// Job is a unit of work with a dependencies step and a logic step.
type Job[T any] interface {
	// ExecuteDependencies prepares the job. Must be safe to repeat.
	ExecuteDependencies(ctx context.Context, jc *Context) error

	// ExecuteLogic runs the job's protocol flow.
	ExecuteLogic(ctx context.Context, jc *Context) (T, error)
}

// Execute runs j's dependencies, then its logic.
func Execute[T any](ctx context.Context, jc *Context, j Job[T]) (T, error) {
	if err := j.ExecuteDependencies(ctx, jc); err != nil {
		var zero T
		return zero, err
	}
	return j.ExecuteLogic(ctx, jc)
}

// Context carries the collaborators a job needs. It belongs to one
// execution and is never shared between concurrent jobs.
type Context struct {
	Clients  *remote.Clients
	Store    *store.Store
	Notifier *store.Notifier
	Engine   group.Engine

	// Self is the identity the engine signs for.
	Self model.UserID

	// Owner is the claim owner used for pending operations. A zero Owner is
	// replaced by a fresh one on first use.
	Owner uuid.UUID

	// Now defaults to time.Now.
	Now func() time.Time
}

func (jc *Context) now() time.Time {
	if jc.Now != nil {
		return jc.Now()
	}
	return time.Now()
}

func (jc *Context) claim() queue.Claim {
	if jc.Owner == uuid.Nil {
		jc.Owner = uuid.New()
	}
	return queue.Claim{Owner: jc.Owner, Now: jc.now(), Lease: queue.DefaultLease}
}

func (jc *Context) client(groupID model.GroupID) (remote.Client, error) {
	return jc.Clients.Get(groupID.Domain())
}
