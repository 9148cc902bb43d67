package txprop

import (
	"context"

	"github.com/google/uuid"
)

// txContext is the state shared by every logical transaction joined to one physical handle.
type txContext struct {
	id      string
	handle  Handle
	options *Options

	// depth counts the logical transactions currently sharing handle.
	depth int

	// rollbackOnly is set by a participant's rollback and never cleared.
	rollbackOnly bool
}

func newTxContext(handle Handle, opts *Options) *txContext {
	return &txContext{
		id:      uuid.NewString(),
		handle:  handle,
		options: opts,
		depth:   1,
	}
}

// suspensionStack parks the contexts displaced by RequiresNew and NotSupported.
type suspensionStack []*txContext

func (s *suspensionStack) push(c *txContext) {
	*s = append(*s, c)
}

func (s *suspensionStack) pop() *txContext {
	old := *s
	if len(old) == 0 {
		return nil
	}
	top := old[len(old)-1]
	old[len(old)-1] = nil
	*s = old[:len(old)-1]
	return top
}

func (s suspensionStack) peek() *txContext {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// scope is the per-execution transaction state: the active context, if any, and the
// contexts suspended underneath it. It is confined to the goroutine that created it.
type scope struct {
	owner     uint64
	active    *txContext
	suspended suspensionStack
}

func newScope() *scope {
	return &scope{owner: curGoroutineID()}
}

func (sc *scope) ownedByCaller() bool {
	return sc.owner == curGoroutineID()
}

// suspend detaches the active context and returns it.
func (sc *scope) suspend() *txContext {
	c := sc.active
	sc.suspended.push(c)
	sc.active = nil
	return c
}

// resume makes c active again. c must be the most recently suspended context.
func (sc *scope) resume(c *txContext) bool {
	if sc.suspended.peek() != c {
		return false
	}
	sc.active = sc.suspended.pop()
	return true
}

// scopeKey is the context key of a manager's scope. Each manager keeps its own scope.
type scopeKey struct {
	tm *TxManager
}

func (tm *TxManager) scopeFrom(ctx context.Context) *scope {
	sc, _ := ctx.Value(scopeKey{tm}).(*scope)
	return sc
}

// Detach returns a context without tm's transaction scope. Goroutines spawned from
// transactional code must use it before opening transactions of their own.
func (tm *TxManager) Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{tm}, (*scope)(nil))
}

// Handle returns the physical handle active in ctx, or nil outside a transaction.
func (tm *TxManager) Handle(ctx context.Context) Handle {
	if sc := tm.scopeFrom(ctx); sc != nil && sc.active != nil {
		return sc.active.handle
	}
	return nil
}

// InTransaction reports whether ctx currently runs inside a physical transaction.
func (tm *TxManager) InTransaction(ctx context.Context) bool {
	return tm.Handle(ctx) != nil
}
