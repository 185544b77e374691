// Package store provides SQLite-backed durable storage for the client.
//
// The store holds:
//   - Chats and their backing group state (opaque engine bytes)
//   - Messages, including synthesized system messages
//   - Receipt statuses and locally generated key packages
//   - The outbound work queues (see package queue for their semantics)
//
// # Critical Patterns
//
// Idempotent writes
//   - Queue enqueues use INSERT ... ON CONFLICT DO NOTHING
//   - Re-enqueueing an already queued item never duplicates work
//
// One transaction per invariant
//   - Every cross-row invariant (claim-then-process, speculative write then
//     compensate, merge then delete pending) is one WithTx call
//   - Transactions are BEGIN IMMEDIATE, so the write lock is held from the
//     first statement
//
// Notify after commit
//   - WithTx collects Changes and publishes them to a Notifier only once
//     the commit succeeded
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Row helpers are package functions over Executor so they compose inside a
// transaction.
package store
