// Package queue implements the durable outbound work queues.
//
// Four queue kinds share one shape: a persisted row per outstanding unit of
// work, idempotent enqueue, and an atomic claim that stamps the row with the
// claiming worker's id.
//
//   - chat_message_queue: one row per unsent outbound message
//   - receipt_queue: one row per (message, status); a claim takes every
//     eligible row of one chat at once and is removed by its dequeue id
//   - timed_tasks: one row per maintenance task kind, claimable once due
//   - pending_chat_operations: group operations awaiting remote
//     acknowledgement, with the group snapshot needed to resume
//
// The push token state is a single flag row rather than a queue.
//
// # Claims
//
// A claim is an UPDATE ... RETURNING over a sub-select of the oldest
// eligible row, so at most one worker holds a given row. A row stays
// claimed until its owner removes or releases it, or until DefaultLease has
// elapsed since it was stamped. Rows locked by the current owner are never
// handed back to that owner within the same pass, which keeps a
// recoverable failure from being retried in a tight loop.
//
// Every function takes a store.Executor; functions documented as requiring
// a transaction run more than one statement and must be given a *sql.Tx.
package queue
