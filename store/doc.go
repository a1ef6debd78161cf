// Package store provides the single-table DynamoDB storage engine for accounts.
//
// The engine knows nothing about users or emails. It offers four primitives
// over typed keys from the keys package:
//
//   - [Engine.Get] reads one item, strongly consistent
//   - [Engine.Update] applies a conditional update guarded by an optimistic lock
//   - [Engine.TransactPut] writes several items all-or-nothing, each with its
//     own existence condition
//   - [Engine.QueryIndex] and [Engine.QueryPartition] read from the GSI1 index
//     and the base table
//
// # Optimistic Locking
//
// Every item written through the engine carries a numeric "version"
// attribute. [Update] always increments it by one and only applies when the
// stored version equals [Update.ExpectedVersion]:
//
//	item, err := engine.Update(ctx, store.Update{
//	    Key:             keys.User(userID),
//	    Set:             map[string]any{"firstName": "Jane"},
//	    ExpectedVersion: 3,
//	})
//	if errors.Is(err, store.ErrConditionFailed) {
//	    // re-read and retry at a higher layer
//	}
//
// # Implementations
//
// [Store] talks to DynamoDB. [Memory] keeps items in a map and enforces the
// same conditions, so higher layers can be tested without a live table.
//
// # Errors
//
//   - [ErrNotFound] - no item at the key
//   - [ErrConditionFailed] - an update or put condition did not hold
//   - [TxConditionError] - a transactional put failed its condition (wraps [ErrConditionFailed])
//   - [ErrTransactionConflict] - another transaction touched the same item concurrently
//
// No operation is retried here; every failure reaches the caller unchanged.
package store
