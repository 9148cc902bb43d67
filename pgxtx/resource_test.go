package pgxtx

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oligo/txprop"
)

// stubTx records statements and the final outcome. Methods it does not override panic
// through the nil embedded interface.
type stubTx struct {
	pgx.Tx
	execs      []string
	commits    int
	rollbacks  int
	rollbackOK bool
	execErr    error
}

func (s *stubTx) Exec(_ context.Context, query string, _ ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, query)
	return pgconn.CommandTag{}, s.execErr
}

func (s *stubTx) Commit(context.Context) error {
	s.commits++
	return nil
}

func (s *stubTx) Rollback(ctx context.Context) error {
	s.rollbacks++
	s.rollbackOK = ctx.Err() == nil
	return nil
}

type stubBeginner struct {
	txs  []*stubTx
	opts []pgx.TxOptions
	err  error
}

func (b *stubBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	tx := &stubTx{}
	b.txs = append(b.txs, tx)
	b.opts = append(b.opts, opts)
	return tx, nil
}

func TestTxOptions(t *testing.T) {
	cases := []struct {
		level sql.IsolationLevel
		want  pgx.TxIsoLevel
	}{
		{sql.LevelDefault, ""},
		{sql.LevelReadUncommitted, pgx.ReadUncommitted},
		{sql.LevelReadCommitted, pgx.ReadCommitted},
		{sql.LevelRepeatableRead, pgx.RepeatableRead},
		{sql.LevelSerializable, pgx.Serializable},
	}
	for _, tc := range cases {
		t.Run(tc.level.String(), func(t *testing.T) {
			got, err := TxOptions(&txprop.Options{IsolationLevel: tc.level})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.IsoLevel)
			assert.Equal(t, pgx.ReadWrite, got.AccessMode)
		})
	}

	got, err := TxOptions(&txprop.Options{ReadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, pgx.ReadOnly, got.AccessMode)

	_, err = TxOptions(&txprop.Options{IsolationLevel: sql.LevelLinearizable})
	require.Error(t, err)
}

func TestBeginSetsStatementTimeout(t *testing.T) {
	b := &stubBeginner{}
	res := NewResource(b)

	opts := txprop.DefaultOptions()
	opts.Timeout = 1500 * time.Millisecond
	h, err := res.Begin(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, b.txs, 1)
	assert.Equal(t, []string{"SET LOCAL statement_timeout = '1500ms'"}, b.txs[0].execs)
	require.NoError(t, h.Commit(context.Background()))
	assert.Equal(t, 1, b.txs[0].commits)
}

func TestBeginFailures(t *testing.T) {
	b := &stubBeginner{err: errors.New("pool closed")}
	tm := txprop.NewTxManager(NewResource(b), &txprop.Config{Logger: zaptest.NewLogger(t)})

	_, _, err := tm.Begin(context.Background(), nil)
	require.ErrorIs(t, err, txprop.ErrCannotCreateTransaction)

	_, _, err = tm.Begin(context.Background(), &txprop.Options{IsolationLevel: sql.LevelSnapshot})
	require.ErrorIs(t, err, txprop.ErrCannotCreateTransaction)
}

func TestRollbackIgnoresCancelledContext(t *testing.T) {
	b := &stubBeginner{}
	h, err := NewResource(b).Begin(context.Background(), txprop.DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Rollback(ctx))
	assert.True(t, b.txs[0].rollbackOK)
}

func TestNestedUsesSavepoints(t *testing.T) {
	b := &stubBeginner{}
	tm := txprop.NewTxManager(NewResource(b), &txprop.Config{Logger: zaptest.NewLogger(t)})

	ctx, outer, err := tm.Begin(context.Background(), nil)
	require.NoError(t, err)
	innerCtx, inner, err := tm.Begin(ctx, txprop.DefaultOptions().WithPropagation(txprop.PropagationNested))
	require.NoError(t, err)

	var fallback Querier
	q := GetQuerier(innerCtx, tm, fallback)
	assert.Same(t, b.txs[0], q)

	require.NoError(t, tm.Rollback(innerCtx, inner))
	require.NoError(t, tm.Commit(ctx, outer))

	tx := b.txs[0]
	require.Len(t, tx.execs, 2)
	assert.Regexp(t, `^SAVEPOINT sp_[0-9a-f]{32}$`, tx.execs[0])
	assert.Equal(t, "ROLLBACK TO "+tx.execs[0], tx.execs[1])
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, 0, tx.rollbacks)

	assert.Nil(t, GetQuerier(context.Background(), tm, fallback))
}

func TestSavepointFailure(t *testing.T) {
	b := &stubBeginner{}
	tm := txprop.NewTxManager(NewResource(b), &txprop.Config{Logger: zaptest.NewLogger(t)})

	ctx, outer, err := tm.Begin(context.Background(), nil)
	require.NoError(t, err)
	b.txs[0].execErr = errors.New("connection lost")

	_, _, err = tm.Begin(ctx, txprop.DefaultOptions().WithPropagation(txprop.PropagationNested))
	require.ErrorIs(t, err, txprop.ErrTransactionSystem)
	require.NoError(t, tm.Rollback(ctx, outer))
	assert.Equal(t, 1, b.txs[0].rollbacks)
}
