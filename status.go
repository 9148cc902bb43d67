package txprop

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Status is a logical transaction. It is returned by Begin and consumed by exactly one
// Commit or Rollback.
type Status struct {
	id      string
	options *Options
	scope   *scope

	// txc is the context this status participates in, nil when non-transactional.
	txc *txContext

	// newTransaction marks a status that created a handle or suspended the prior context.
	newTransaction bool

	// outermost marks the status that owns finalization of txc's handle.
	outermost bool

	// suspended is the context parked by this status, restored on completion.
	suspended *txContext

	// stackDepth is the length of the suspension stack right after this status began.
	stackDepth int

	savepoint string

	// rollbackOnly is the local flag set through SetRollbackOnly.
	rollbackOnly bool

	// completed marks this logical tx as committed or rolled back. Later completion is not allowed.
	completed bool

	span trace.Span
}

func (s *Status) String() string {
	return fmt.Sprintf("tx-%s", s.id)
}

// ID is the unique id of this logical transaction.
func (s *Status) ID() string { return s.id }

// Options returns the definition this status was begun with.
func (s *Status) Options() Options { return *s.options }

func (s *Status) IsNewTransaction() bool { return s.newTransaction }

func (s *Status) IsOutermost() bool { return s.outermost }

// HasTransaction reports whether a physical transaction backs this status.
func (s *Status) HasTransaction() bool { return s.txc != nil }

func (s *Status) HasSavepoint() bool { return s.savepoint != "" }

func (s *Status) IsCompleted() bool { return s.completed }

// IsRollbackOnly reports the local flag or the rollback-only mark of the shared transaction.
func (s *Status) IsRollbackOnly() bool {
	return s.rollbackOnly || (s.txc != nil && s.txc.rollbackOnly)
}

// SetRollbackOnly makes a later Commit of this status behave as Rollback.
func (s *Status) SetRollbackOnly() {
	s.rollbackOnly = true
}

// TransactionID identifies the physical transaction, empty when non-transactional.
func (s *Status) TransactionID() string {
	if s.txc == nil {
		return ""
	}
	return s.txc.id
}

func (s *Status) depth() int {
	if s.txc == nil {
		return 0
	}
	return s.txc.depth
}
