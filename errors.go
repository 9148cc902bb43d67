package txprop

import "errors"

var (
	// ErrIllegalTransactionState is returned when a status is finalized twice, finalized out of
	// order, used from another goroutine, or when the propagation rules reject a request.
	ErrIllegalTransactionState = errors.New("txprop: illegal transaction state")

	// ErrUnexpectedRollback is returned by the outermost Commit when a participating
	// transaction marked the physical transaction rollback-only. The data was rolled back.
	ErrUnexpectedRollback = errors.New("txprop: transaction silently rolled back because it has been marked as rollback-only")

	// ErrCannotCreateTransaction wraps failures of Resource.Begin.
	ErrCannotCreateTransaction = errors.New("txprop: could not open transaction")

	// ErrTransactionSystem wraps failures of the physical commit, rollback or savepoint calls.
	ErrTransactionSystem = errors.New("txprop: transaction system error")

	// ErrNestedNotSupported is returned when PropagationNested meets a handle without savepoints.
	ErrNestedNotSupported = errors.New("txprop: nested transactions are not supported by the resource")
)
