package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no item exists at the requested key.
	ErrNotFound = errors.New("store: item not found")

	// ErrConditionFailed is returned when a conditional write did not apply.
	ErrConditionFailed = errors.New("store: condition check failed")

	// ErrTransactionConflict is returned when DynamoDB cancels a transaction
	// because another transaction was in flight on one of its items.
	ErrTransactionConflict = errors.New("store: conflicting transaction in progress")

	// ErrInvalidWrite is returned when a write touches key or version attributes.
	ErrInvalidWrite = errors.New("store: write touches managed attributes")
)

// TxConditionError reports which put of a transaction failed its condition.
type TxConditionError struct {
	// Index is the position of the failing put in the TransactPut call.
	Index int
}

func (e *TxConditionError) Error() string {
	return fmt.Sprintf("store: transaction item %d failed its condition", e.Index)
}

// Is reports ErrConditionFailed so callers can test either form.
func (e *TxConditionError) Is(target error) bool {
	return target == ErrConditionFailed
}
