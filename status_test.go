package txprop

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusAccessors(t *testing.T) {
	var begun []*Options
	res := ResourceFunc(func(_ context.Context, opts *Options) (Handle, error) {
		begun = append(begun, opts)
		return &fakeHandle{opts: opts}, nil
	})
	tm := NewTxManager(res, nil)

	opts := &Options{Propagation: PropagationRequired, IsolationLevel: sql.LevelSerializable, Name: "transfer"}
	ctx, status, err := tm.Begin(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, begun, 1)
	assert.Same(t, opts, begun[0])

	assert.NotEmpty(t, status.ID())
	assert.Equal(t, "tx-"+status.ID(), status.String())
	assert.NotEmpty(t, status.TransactionID())
	assert.True(t, status.HasTransaction())
	assert.False(t, status.HasSavepoint())

	copied := status.Options()
	copied.Name = "changed"
	assert.Equal(t, "transfer", status.Options().Name)
	assert.Equal(t, sql.LevelSerializable, status.Options().IsolationLevel)

	innerCtx, inner, err := tm.Begin(ctx, nil)
	require.NoError(t, err)
	assert.NotEqual(t, status.ID(), inner.ID())
	assert.Equal(t, status.TransactionID(), inner.TransactionID())
	require.NoError(t, tm.Commit(innerCtx, inner))
	require.NoError(t, tm.Commit(ctx, status))

	ctx, nonTx, err := tm.Begin(context.Background(), DefaultOptions().WithPropagation(PropagationSupports))
	require.NoError(t, err)
	assert.Empty(t, nonTx.TransactionID())
	assert.False(t, nonTx.IsRollbackOnly())
	require.NoError(t, tm.Commit(ctx, nonTx))
}

func TestResourceReturningNilHandle(t *testing.T) {
	tm := NewTxManager(ResourceFunc(func(context.Context, *Options) (Handle, error) {
		return nil, nil
	}), nil)

	_, _, err := tm.Begin(context.Background(), nil)
	require.ErrorIs(t, err, ErrCannotCreateTransaction)
}
