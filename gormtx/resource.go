// Package gormtx plugs GORM databases into txprop.
package gormtx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oligo/txprop"
)

var (
	_ txprop.Resource        = (*Resource)(nil)
	_ txprop.SavepointHandle = (*Tx)(nil)
)

// Resource opens GORM transactions.
type Resource struct {
	db *gorm.DB
}

func NewResource(db *gorm.DB) *Resource {
	return &Resource{db: db}
}

func (r *Resource) Begin(ctx context.Context, opts *txprop.Options) (txprop.Handle, error) {
	cancel := context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	tx := r.db.WithContext(ctx).Begin(&sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if tx.Error != nil {
		cancel()
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	return &Tx{DB: tx, cancel: cancel}, nil
}

// Tx is a GORM session bound to one database transaction.
type Tx struct {
	DB     *gorm.DB
	cancel context.CancelFunc
}

func (t *Tx) Commit(_ context.Context) error {
	defer t.cancel()
	return t.DB.Commit().Error
}

func (t *Tx) Rollback(_ context.Context) error {
	defer t.cancel()
	return t.DB.Rollback().Error
}

func (t *Tx) CreateSavepoint(_ context.Context) (string, error) {
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := t.DB.SavePoint(name).Error; err != nil {
		return "", err
	}
	return name, nil
}

func (t *Tx) RollbackToSavepoint(_ context.Context, name string) error {
	return t.DB.RollbackTo(name).Error
}

// ReleaseSavepoint issues RELEASE SAVEPOINT directly; GORM has no API for it.
func (t *Tx) ReleaseSavepoint(_ context.Context, name string) error {
	return t.DB.Exec("RELEASE SAVEPOINT " + name).Error
}

// GetDB returns the transaction active in ctx, otherwise fallback bound to ctx.
func GetDB(ctx context.Context, tm *txprop.TxManager, fallback *gorm.DB) *gorm.DB {
	if tx, ok := tm.Handle(ctx).(*Tx); ok {
		return tx.DB.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}
