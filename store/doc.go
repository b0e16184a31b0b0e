// Package store provides a DynamoDB data access layer for catalog documents.
//
// Carrel keeps denormalized counters on parent documents consistent with
// their dependent collections. The store exposes exactly the primitives the
// consistency engine needs and nothing else:
//
//   - Single-document reads and conditional writes ([Store.Get],
//     [Store.Put], [Store.Merge])
//   - All-or-none batches with no pre-read ([Store.Batch])
//   - Read-then-write transactions with automatic retry on optimistic
//     conflict ([Store.Transact])
//   - Store-native atomic counter deltas ([AddDelta]) that compose under
//     concurrent writers
//
// # Batches vs. transactions
//
// A batch is a set of guarded writes submitted blindly: per-item condition
// expressions decide success, and either every write lands or none does.
// Use [FailedConditionIndex] to learn which item's condition failed.
//
// A transaction re-reads: [Store.Transact] runs a body that reads current
// state and returns the guarded writes to commit. When the commit is
// cancelled because a condition was invalidated after the read (or by a
// write-write conflict), the body re-runs against fresh state, up to
// [Config.MaxTxAttempts]. A body that observes a terminal state returns an
// error, which propagates unchanged with no writes applied.
//
// # Errors
//
// The package defines domain-neutral sentinel errors:
//
//   - [ErrNotFound] - document doesn't exist
//   - [ErrAlreadyExists] - create collided with an existing id
//   - [ErrTransient] - transaction retries exhausted
package store
