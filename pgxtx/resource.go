// Package pgxtx plugs PostgreSQL pools (jackc/pgx/v5) into txprop.
package pgxtx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oligo/txprop"
)

// Compile-time checks.
var (
	_ txprop.Resource        = (*Resource)(nil)
	_ txprop.SavepointHandle = (*Tx)(nil)
	_ Beginner               = (*pgxpool.Pool)(nil)
)

// Beginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Resource opens pgx transactions.
type Resource struct {
	db Beginner
}

func NewResource(db Beginner) *Resource {
	return &Resource{db: db}
}

func (r *Resource) Begin(ctx context.Context, opts *txprop.Options) (txprop.Handle, error) {
	txOpts, err := TxOptions(opts)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	// Set statement timeout for protection against runaway queries
	if opts.Timeout > 0 {
		_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.Timeout.Milliseconds()))
		if err != nil {
			_ = tx.Rollback(context.Background())
			return nil, fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	return &Tx{Tx: tx}, nil
}

// TxOptions maps txprop options onto pgx ones.
func TxOptions(opts *txprop.Options) (pgx.TxOptions, error) {
	var txOpts pgx.TxOptions

	switch opts.IsolationLevel {
	case sql.LevelDefault:
	case sql.LevelReadUncommitted:
		txOpts.IsoLevel = pgx.ReadUncommitted
	case sql.LevelReadCommitted:
		txOpts.IsoLevel = pgx.ReadCommitted
	case sql.LevelRepeatableRead:
		txOpts.IsoLevel = pgx.RepeatableRead
	case sql.LevelSerializable:
		txOpts.IsoLevel = pgx.Serializable
	default:
		return txOpts, fmt.Errorf("pgxtx: isolation level %s is not supported by PostgreSQL", opts.IsolationLevel)
	}

	if opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	} else {
		txOpts.AccessMode = pgx.ReadWrite
	}

	return txOpts, nil
}

// Tx wraps pgx.Tx as a txprop handle.
type Tx struct {
	pgx.Tx
}

// Rollback uses a background context so the rollback completes even when ctx was cancelled.
func (t *Tx) Rollback(_ context.Context) error {
	return t.Tx.Rollback(context.Background())
}

func (t *Tx) CreateSavepoint(ctx context.Context) (string, error) {
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := t.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return "", fmt.Errorf("create savepoint: %w", err)
	}
	return name, nil
}

func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	if _, err := t.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("rollback to savepoint: %w", err)
	}
	return nil
}

func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	if _, err := t.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// Querier is implemented by pgx.Tx and *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetQuerier returns the transaction active in ctx, or fallback outside transactions.
// This allows repos to work both inside and outside transactions.
func GetQuerier(ctx context.Context, tm *txprop.TxManager, fallback Querier) Querier {
	if tx, ok := tm.Handle(ctx).(*Tx); ok {
		return tx.Tx
	}
	return fallback
}
