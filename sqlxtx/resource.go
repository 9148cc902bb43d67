// Package sqlxtx plugs jmoiron/sqlx databases into txprop.
package sqlxtx

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/oligo/txprop"
)

// Compile-time checks.
var (
	_ txprop.Resource        = (*Resource)(nil)
	_ txprop.SavepointHandle = (*Tx)(nil)
)

// ErrTxDone is returned when a handle is finalized twice.
var ErrTxDone = errors.New("sqlxtx: tx is already committed or rolled back")

// Resource opens *sqlx.Tx transactions on db.
type Resource struct {
	db *sqlx.DB
}

func NewResource(db *sqlx.DB) *Resource {
	return &Resource{db: db}
}

func (r *Resource) Begin(ctx context.Context, opts *txprop.Options) (txprop.Handle, error) {
	cancel := context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return &Tx{Tx: tx, cancel: cancel}, nil
}

// Tx is the physical transaction handle.
type Tx struct {
	*sqlx.Tx

	cancel context.CancelFunc
	// done marks the tx as committed or rolled back
	done bool
}

func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.cancel()

	return t.Tx.Commit()
}

func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.cancel()

	return t.Tx.Rollback()
}

func (t *Tx) CreateSavepoint(ctx context.Context) (string, error) {
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := t.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return "", err
	}
	return name, nil
}

func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := t.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := t.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}
