package sqlxtx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/oligo/txprop"
)

// ErrNoRowsAffected is returned by Delete when nothing matched.
var ErrNoRowsAffected = errors.New("sqlxtx: no rows affected")

// queryer is the part of the sqlx API shared by *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DB runs queries in the transaction that is active in the context, or directly on the
// database when there is none.
type DB struct {
	db  *sqlx.DB
	tm  *txprop.TxManager
	log *zap.Logger
}

func New(db *sqlx.DB, tm *txprop.TxManager, log *zap.Logger) *DB {
	if log == nil {
		log = zap.NewNop()
	}
	return &DB{db: db, tm: tm, log: log}
}

func (d *DB) queryer(ctx context.Context) queryer {
	if tx, ok := d.tm.Handle(ctx).(*Tx); ok && !tx.done {
		return tx
	}
	return d.db
}

// GetOne is the sqlx.Get wrapper
func (d *DB) GetOne(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	// dest should be a pointer to a struct/map
	return d.queryer(ctx).GetContext(ctx, dest, query, args...)
}

// Insert implements sql insert logic and returns generated ID
func (d *DB) Insert(ctx context.Context, query string, arg interface{}) (int64, error) {
	result, err := d.queryer(ctx).NamedExecContext(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("insert failed: %w", err)
	}

	resultID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert failed: %w", err)
	}

	return resultID, nil
}

func (d *DB) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := d.queryer(ctx).SelectContext(ctx, dest, query, args...); err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return nil
}

// Update execute a update sql using sqlx NamedExec. Docs from sqlx doc:
//
// Named queries are common to many other database packages. They allow you to use a bindvar syntax which refers
// to the names of struct fields or map keys to bind variables a query, rather than having to refer to everything
// positionally. The struct field naming conventions follow that of StructScan, using the NameMapper and the db struct tag.
func (d *DB) Update(ctx context.Context, query string, arg interface{}) (int64, error) {
	result, err := d.queryer(ctx).NamedExecContext(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("update failed: %w", err)
	}

	updatedRows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update entity failed: %w", err)
	}

	return updatedRows, nil
}

func (d *DB) Delete(ctx context.Context, query string, arg interface{}) error {
	result, err := d.queryer(ctx).NamedExecContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}

	deletedRows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entity failed: %w", err)
	}
	if deletedRows <= 0 {
		d.log.Debug("delete matched no rows", zap.String("query", query))
		return ErrNoRowsAffected
	}

	return nil
}

// Exec runs a positional statement, for SQL built outside sqlx (squirrel, DDL).
func (d *DB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.queryer(ctx).ExecContext(ctx, query, args...)
}

// Unwrap returns the underlying database.
func (d *DB) Unwrap() *sqlx.DB {
	return d.db
}
