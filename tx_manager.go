package txprop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/oligo/txprop"

// Config tunes a TxManager. The zero value is usable.
type Config struct {
	Logger  *zap.Logger
	Tracer  trace.Tracer
	Metrics *Metrics

	// DefaultOptions is used by Begin and Exec when they are given nil options.
	DefaultOptions *Options

	// ValidateExistingTransaction rejects joins whose isolation level or read-only flag
	// contradicts the transaction being joined.
	ValidateExistingTransaction bool
}

// TxManager maps nested logical transactions onto physical transactions of one Resource.
// The per-execution state lives in the context returned by Begin, so one TxManager serves
// any number of goroutines.
type TxManager struct {
	resource Resource
	log      *zap.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	defaults *Options
	validate bool
}

func NewTxManager(resource Resource, cfg *Config) *TxManager {
	if cfg == nil {
		cfg = &Config{}
	}

	tm := &TxManager{
		resource: resource,
		log:      cfg.Logger,
		tracer:   cfg.Tracer,
		metrics:  cfg.Metrics,
		defaults: cfg.DefaultOptions,
		validate: cfg.ValidateExistingTransaction,
	}
	if tm.log == nil {
		tm.log = zap.NewNop()
	}
	if tm.tracer == nil {
		tm.tracer = otel.Tracer(tracerName)
	}
	if tm.defaults == nil {
		tm.defaults = DefaultOptions()
	}

	return tm
}

// Begin starts a logical transaction according to opts.Propagation. The returned context
// carries the transaction scope and must be passed to nested Begin calls and to Commit
// or Rollback of the returned status.
func (tm *TxManager) Begin(ctx context.Context, opts *Options) (context.Context, *Status, error) {
	if ctx == nil {
		panic("context must not be nil")
	}
	if opts == nil {
		opts = tm.defaults
	}

	policy, ok := PolicyFor(opts.Propagation)
	if !ok {
		return ctx, nil, fmt.Errorf("%w: unknown propagation %s", ErrIllegalTransactionState, opts.Propagation)
	}

	sc := tm.scopeFrom(ctx)
	if sc == nil {
		sc = newScope()
		ctx = context.WithValue(ctx, scopeKey{tm}, sc)
	} else if !sc.ownedByCaller() {
		return ctx, nil, fmt.Errorf("%w: transaction scope used outside the goroutine that created it", ErrIllegalTransactionState)
	}

	active := sc.active
	action := policy.action(active != nil)
	tm.metrics.decision(opts.Propagation, action)

	var (
		status *Status
		err    error
	)

	switch action {
	case ActionStartNew:
		status, err = tm.startNew(ctx, sc, opts, nil)

	case ActionSuspendAndStartNew:
		suspended := sc.suspend()
		status, err = tm.startNew(ctx, sc, opts, suspended)
		if err != nil {
			sc.resume(suspended)
		}

	case ActionJoin:
		status, err = tm.join(sc, active, opts)

	case ActionSavepoint:
		status, err = tm.savepoint(ctx, sc, active, opts)

	case ActionNonTransactional:
		status = tm.newStatus(sc, nil, opts)

	case ActionSuspendNonTransactional:
		status = tm.newStatus(sc, nil, opts)
		status.suspended = sc.suspend()
		status.newTransaction = true

	case ActionFail:
		if active != nil {
			err = fmt.Errorf("%w: existing transaction found for propagation %s", ErrIllegalTransactionState, opts.Propagation)
		} else {
			err = fmt.Errorf("%w: no existing transaction found for propagation %s", ErrIllegalTransactionState, opts.Propagation)
		}
	}

	if err != nil {
		return ctx, nil, err
	}
	status.stackDepth = len(sc.suspended)

	ctx, status.span = tm.tracer.Start(ctx, "txprop."+opts.label(),
		trace.WithAttributes(
			attribute.String("tx.propagation", opts.Propagation.String()),
			attribute.String("tx.action", action.String()),
			attribute.Bool("tx.new", status.newTransaction),
			attribute.Bool("tx.outermost", status.outermost),
		))

	tm.log.Debug("transaction started",
		zap.Stringer("tx", status),
		zap.String("physical_tx", status.TransactionID()),
		zap.Stringer("propagation", opts.Propagation),
		zap.Stringer("action", action),
		zap.Int("depth", status.depth()),
	)

	return ctx, status, nil
}

func (tm *TxManager) newStatus(sc *scope, txc *txContext, opts *Options) *Status {
	return &Status{
		id:      uuid.NewString(),
		options: opts,
		scope:   sc,
		txc:     txc,
	}
}

func (tm *TxManager) startNew(ctx context.Context, sc *scope, opts *Options, suspended *txContext) (*Status, error) {
	handle, err := tm.resource.Begin(ctx, opts)
	if err == nil && handle == nil {
		err = errors.New("resource returned no handle")
	}
	if err != nil {
		tm.metrics.failure("begin")
		return nil, fmt.Errorf("%w: %w", ErrCannotCreateTransaction, err)
	}
	tm.metrics.begin()

	txc := newTxContext(handle, opts)
	sc.active = txc

	status := tm.newStatus(sc, txc, opts)
	status.newTransaction = true
	status.outermost = true
	status.suspended = suspended

	return status, nil
}

func (tm *TxManager) join(sc *scope, active *txContext, opts *Options) (*Status, error) {
	if tm.validate {
		if err := validateJoin(active.options, opts); err != nil {
			return nil, err
		}
	}

	active.depth++
	return tm.newStatus(sc, active, opts), nil
}

func validateJoin(existing, requested *Options) error {
	if requested.IsolationLevel != sql.LevelDefault && requested.IsolationLevel != existing.IsolationLevel {
		return fmt.Errorf("%w: participating transaction asks for isolation %s, existing transaction uses %s",
			ErrIllegalTransactionState, requested.IsolationLevel, existing.IsolationLevel)
	}
	if !requested.ReadOnly && existing.ReadOnly {
		return fmt.Errorf("%w: participating transaction is not read-only but existing transaction is",
			ErrIllegalTransactionState)
	}
	return nil
}

func (tm *TxManager) savepoint(ctx context.Context, sc *scope, active *txContext, opts *Options) (*Status, error) {
	sp, ok := active.handle.(SavepointHandle)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNestedNotSupported, active.handle)
	}

	name, err := sp.CreateSavepoint(ctx)
	if err != nil {
		tm.metrics.failure("savepoint")
		return nil, fmt.Errorf("%w: create savepoint: %w", ErrTransactionSystem, err)
	}

	active.depth++
	status := tm.newStatus(sc, active, opts)
	status.savepoint = name
	return status, nil
}

// Commit completes status. Participants leave the physical transaction alone; the
// outermost status commits it, or rolls it back and returns ErrUnexpectedRollback when a
// participant marked it rollback-only.
func (tm *TxManager) Commit(ctx context.Context, status *Status) error {
	if err := tm.checkCompletable(status); err != nil {
		return err
	}

	if status.rollbackOnly {
		tm.log.Debug("transactional code has requested rollback", zap.Stringer("tx", status))
		return tm.processRollback(ctx, status, false)
	}

	if status.txc != nil && status.txc.rollbackOnly {
		tm.log.Debug("global transaction is marked as rollback-only but transactional code requested commit",
			zap.Stringer("tx", status))
		return tm.processRollback(ctx, status, true)
	}

	return tm.processCommit(ctx, status)
}

// Rollback completes status. Participants only mark the shared transaction rollback-only;
// the outermost status rolls the physical transaction back.
func (tm *TxManager) Rollback(ctx context.Context, status *Status) error {
	if err := tm.checkCompletable(status); err != nil {
		return err
	}

	return tm.processRollback(ctx, status, false)
}

func (tm *TxManager) checkCompletable(status *Status) error {
	if status == nil {
		return fmt.Errorf("%w: nil transaction status", ErrIllegalTransactionState)
	}
	if status.completed {
		return fmt.Errorf("%w: %s is already committed or rolled back", ErrIllegalTransactionState, status)
	}
	if !status.scope.ownedByCaller() {
		return fmt.Errorf("%w: %s completed outside the goroutine that began it", ErrIllegalTransactionState, status)
	}
	if status.scope.active != status.txc {
		return fmt.Errorf("%w: %s is not the innermost active transaction", ErrIllegalTransactionState, status)
	}
	return nil
}

func (tm *TxManager) processCommit(ctx context.Context, status *Status) error {
	var err error

	switch {
	case status.txc == nil:
		// non-transactional, nothing to finalize

	case status.HasSavepoint():
		if rerr := status.txc.handle.(SavepointHandle).ReleaseSavepoint(ctx, status.savepoint); rerr != nil {
			tm.metrics.failure("release_savepoint")
			err = fmt.Errorf("%w: release savepoint: %w", ErrTransactionSystem, rerr)
		}

	case status.outermost:
		if cerr := status.txc.handle.Commit(ctx); cerr != nil {
			tm.metrics.failure("commit")
			err = fmt.Errorf("%w: commit: %w", ErrTransactionSystem, cerr)
		} else {
			tm.metrics.commit()
		}
	}

	tm.completed(status, "committed", err)
	return err
}

func (tm *TxManager) processRollback(ctx context.Context, status *Status, unexpected bool) error {
	var err error

	switch {
	case status.txc == nil:

	case status.HasSavepoint():
		if rerr := status.txc.handle.(SavepointHandle).RollbackToSavepoint(ctx, status.savepoint); rerr != nil {
			tm.metrics.failure("rollback_savepoint")
			err = fmt.Errorf("%w: rollback to savepoint: %w", ErrTransactionSystem, rerr)
		}

	case status.outermost:
		if rerr := status.txc.handle.Rollback(ctx); rerr != nil {
			tm.metrics.failure("rollback")
			tm.log.Error("rollback failed", zap.Stringer("tx", status), zap.Error(rerr))
			err = fmt.Errorf("%w: rollback: %w", ErrTransactionSystem, rerr)
		} else {
			tm.metrics.rollback()
		}

	default:
		if !status.txc.rollbackOnly {
			tm.log.Warn("participating transaction failed, marking existing transaction as rollback-only",
				zap.Stringer("tx", status),
				zap.String("physical_tx", status.txc.id),
			)
		}
		status.txc.rollbackOnly = true
	}

	tm.completed(status, "rolled back", err)
	if err != nil {
		return err
	}

	if unexpected && status.outermost {
		tm.metrics.unexpectedRollback()
		return fmt.Errorf("%w: %s", ErrUnexpectedRollback, status)
	}

	return nil
}

// completed marks status done, releases its share of the context and resumes whatever
// it suspended.
func (tm *TxManager) completed(status *Status, outcome string, err error) {
	status.completed = true
	sc := status.scope

	if txc := status.txc; txc != nil {
		txc.depth--
		if status.outermost {
			if txc.depth > 0 {
				tm.log.Warn("transaction finalized with open participants",
					zap.Stringer("tx", status), zap.Int("open", txc.depth))
			}
			sc.active = nil
		}
	}

	if status.suspended != nil && !sc.resume(status.suspended) {
		tm.log.Error("suspended transaction is not on top of the suspension stack", zap.Stringer("tx", status))
	}

	if err != nil {
		status.span.RecordError(err)
		status.span.SetStatus(codes.Error, err.Error())
	}
	status.span.End()

	tm.log.Debug("transaction "+outcome,
		zap.Stringer("tx", status),
		zap.Bool("outermost", status.outermost),
		zap.Bool("rollback_only", status.IsRollbackOnly()),
		zap.Error(err),
	)
}

// Exec runs txFunc in a logical transaction. Any error returned by txFunc rolls the
// logical transaction back; a panic rolls it back and is re-raised. Transactions begun
// inside txFunc and left open are rolled back first.
func (tm *TxManager) Exec(ctx context.Context, txFunc func(ctx context.Context) error, options *Options) error {
	if ctx == nil {
		panic("context must not be nil")
	}

	tm.log.Debug("tx caller", zap.String("caller", getCaller()))

	txCtx, status, err := tm.Begin(ctx, options)
	if err != nil {
		return err
	}

	// rollback the tx when txFunc panics before it is committed or rolled back.
	defer func() {
		if r := recover(); r != nil {
			if !status.completed {
				tm.unwind(txCtx, status)
				if err := tm.Rollback(txCtx, status); err != nil {
					tm.log.Error("rollback failure", zap.Stringer("tx", status), zap.Error(err))
				}
			}
			panic(r)
		}
	}()

	if err := txFunc(txCtx); err != nil {
		if !status.completed {
			tm.unwind(txCtx, status)
		}
		if rbErr := tm.Rollback(txCtx, status); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}

	if !status.completed && tm.unwind(txCtx, status) > 0 {
		err := fmt.Errorf("%w: %s returned with inner transactions still open", ErrIllegalTransactionState, status)
		if rbErr := tm.Rollback(txCtx, status); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}

	return tm.Commit(txCtx, status)
}

// unwind rolls back the physical transactions that logical transactions begun under status
// left open, and restores the scope to the state status saw after its own Begin. It returns
// the number of scope levels it had to restore.
func (tm *TxManager) unwind(ctx context.Context, status *Status) int {
	sc := status.scope
	restored := 0

	abandon := func(c *txContext) {
		if c == nil || c == status.txc {
			return
		}
		tm.log.Warn("rolling back transaction left open by transactional code",
			zap.Stringer("tx", status),
			zap.String("physical_tx", c.id),
			zap.Int("open", c.depth),
		)
		if err := c.handle.Rollback(ctx); err != nil {
			tm.metrics.failure("rollback")
			tm.log.Error("rollback of abandoned transaction failed",
				zap.String("physical_tx", c.id), zap.Error(err))
		} else {
			tm.metrics.rollback()
		}
		c.rollbackOnly = true
		c.depth = 0
	}

	for len(sc.suspended) > status.stackDepth {
		abandon(sc.active)
		sc.active = sc.suspended.pop()
		restored++
	}
	if sc.active != status.txc {
		abandon(sc.active)
		sc.active = status.txc
		restored++
	}

	return restored
}
