package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/courier/internal/store"
)

// DefaultLease is how long a claim is honored before another worker may
// take the record over.
const DefaultLease = 30 * time.Second

// Claim identifies one worker pass. All records claimed during the pass
// carry Owner in locked_by.
type Claim struct {
	Owner uuid.UUID
	Now   time.Time
	Lease time.Duration
}

// NewClaim returns a claim with a fresh owner id and DefaultLease.
func NewClaim(now time.Time) Claim {
	return Claim{Owner: uuid.New(), Now: now, Lease: DefaultLease}
}

// At returns a copy of c observed at now. The owner is unchanged.
func (c Claim) At(now time.Time) Claim {
	c.Now = now
	return c
}

func (c Claim) owner() string { return c.Owner.String() }

func (c Claim) now() int64 { return store.Millis(c.Now) }

// cutoff is the newest locked_at that counts as expired.
func (c Claim) cutoff() int64 {
	lease := c.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	return store.Millis(c.Now.Add(-lease))
}

// ReleaseClaims clears the locks held by owner on every queue but receipts,
// so the next pass can pick them up. Receipt claims expire with their lease.
func ReleaseClaims(ctx context.Context, ex store.Executor, owner uuid.UUID) error {
	for _, table := range []string{"chat_message_queue", "timed_tasks", "pending_chat_operations", "resync_queue"} {
		_, err := ex.ExecContext(ctx,
			`UPDATE `+table+` SET locked_by = NULL, locked_at = NULL WHERE locked_by = ?`,
			owner.String(),
		)
		if err != nil {
			return fmt.Errorf("release claims in %s: %w", table, err)
		}
	}
	return nil
}
