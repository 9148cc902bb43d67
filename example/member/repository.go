package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/oligo/txprop"
	"github.com/oligo/txprop/sqlxtx"
)

// MemberRepository stores members. Save runs in its own logical transaction.
type MemberRepository struct {
	db   *sqlxtx.DB
	tm   *txprop.TxManager
	sb   sq.StatementBuilderType
	opts *txprop.Options
}

// NewMemberRepository saves under PropagationRequired with base's timeout and isolation.
// A nil base means txprop.DefaultOptions().
func NewMemberRepository(db *sqlxtx.DB, tm *txprop.TxManager, sb sq.StatementBuilderType, base *txprop.Options) *MemberRepository {
	return &MemberRepository{db: db, tm: tm, sb: sb, opts: baseOptions(base).WithPropagation(txprop.PropagationRequired)}
}

func (r *MemberRepository) Save(ctx context.Context, m *Member) error {
	return r.tm.Exec(ctx, func(ctx context.Context) error {
		query, args, err := r.sb.Insert("member").Columns("username").Values(m.Username).ToSql()
		if err != nil {
			return fmt.Errorf("build member insert: %w", err)
		}
		if _, err := r.db.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		return nil
	}, r.opts)
}

func (r *MemberRepository) Find(ctx context.Context, username string) (*Member, error) {
	query, args, err := r.sb.Select("id", "username").From("member").Where(sq.Eq{"username": username}).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build member select: %w", err)
	}

	var m Member
	if err := r.db.GetOne(ctx, &m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// LogRepository stores audit logs. Its propagation is configurable so the log write can
// join the caller's transaction or run independently of it.
type LogRepository struct {
	db   *sqlxtx.DB
	tm   *txprop.TxManager
	sb   sq.StatementBuilderType
	opts *txprop.Options
}

// NewLogRepository saves with base's timeout and isolation under the given propagation.
func NewLogRepository(db *sqlxtx.DB, tm *txprop.TxManager, sb sq.StatementBuilderType, base *txprop.Options, propagation txprop.PropagationType) *LogRepository {
	return &LogRepository{
		db:   db,
		tm:   tm,
		sb:   sb,
		opts: baseOptions(base).WithPropagation(propagation),
	}
}

// Save inserts the log and then fails when the message carries a failure marker, so the
// insert is only undone by the transaction rollback.
func (r *LogRepository) Save(ctx context.Context, l *Log) error {
	return r.tm.Exec(ctx, func(ctx context.Context) error {
		query, args, err := r.sb.Insert("log").Columns("message").Values(l.Message).ToSql()
		if err != nil {
			return fmt.Errorf("build log insert: %w", err)
		}
		if _, err := r.db.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert log: %w", err)
		}

		if shouldFailLog(l.Message) {
			return fmt.Errorf("%w: %q", ErrLogFailure, l.Message)
		}
		return nil
	}, r.opts)
}

func (r *LogRepository) Find(ctx context.Context, message string) (*Log, error) {
	query, args, err := r.sb.Select("id", "message").From("log").Where(sq.Eq{"message": message}).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build log select: %w", err)
	}

	var l Log
	if err := r.db.GetOne(ctx, &l, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func baseOptions(base *txprop.Options) *txprop.Options {
	if base == nil {
		return txprop.DefaultOptions()
	}
	return base
}
