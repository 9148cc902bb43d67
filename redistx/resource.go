// Package redistx treats a Redis MULTI/EXEC block as a txprop physical transaction.
// Commands issued inside a transaction are queued and only applied on commit, so reads
// made through the pipeline return no values before commit. Savepoints are not supported.
package redistx

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/oligo/txprop"
)

var _ txprop.Resource = (*Resource)(nil)

// Resource opens MULTI/EXEC pipelines on client.
type Resource struct {
	client redis.UniversalClient
}

func NewResource(client redis.UniversalClient) *Resource {
	return &Resource{client: client}
}

func (r *Resource) Begin(_ context.Context, _ *txprop.Options) (txprop.Handle, error) {
	return &Tx{Pipeliner: r.client.TxPipeline()}, nil
}

// Tx is a queued MULTI/EXEC block.
type Tx struct {
	redis.Pipeliner
}

// Commit sends the queued commands wrapped in MULTI/EXEC.
func (t *Tx) Commit(ctx context.Context) error {
	_, err := t.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Rollback drops the queued commands. Nothing reached the server yet.
func (t *Tx) Rollback(_ context.Context) error {
	t.Discard()
	return nil
}

// Cmdable returns the pipeline active in ctx, or client outside transactions.
func Cmdable(ctx context.Context, tm *txprop.TxManager, client redis.Cmdable) redis.Cmdable {
	if tx, ok := tm.Handle(ctx).(*Tx); ok {
		return tx.Pipeliner
	}
	return client
}
