package member

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	sqliteDriverName = "sqlite3_member"
)

var sqliteDrivers atomic.Int64

// Store is an opened database plus the statement builder matching its placeholders.
type Store struct {
	DB      *sqlx.DB
	Builder sq.StatementBuilderType
	driver  string
}

// Open connects to the database. For sqlite, dsn is a directory holding member.db and
// log.db; the log table lives in its own attached file so that a RequiresNew log write
// does not wait on the member write lock of the outer transaction.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		// each directory gets its own driver so the connect hook knows which log.db to attach
		name := fmt.Sprintf("%s_%d", sqliteDriverName, sqliteDrivers.Add(1))
		logPath := filepath.Join(dsn, "log.db")
		sqlx.BindDriver(name, sqlx.QUESTION)
		sql.Register(name, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				_, err := conn.Exec(fmt.Sprintf("ATTACH DATABASE '%s' AS logdb", logPath), nil)
				return err
			},
		})

		db, err := sqlx.ConnectContext(ctx, name, "file:"+filepath.Join(dsn, "member.db")+"?_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &Store{DB: db, Builder: sq.StatementBuilder.PlaceholderFormat(sq.Question), driver: driver}, nil

	case DriverPostgres:
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Store{DB: db, Builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar), driver: driver}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate creates the member and log tables.
func (s *Store) Migrate(ctx context.Context) error {
	var stmts []string
	switch s.driver {
	case DriverSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS member (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT NOT NULL)`,
			`CREATE TABLE IF NOT EXISTS logdb.log (id INTEGER PRIMARY KEY AUTOINCREMENT, message TEXT NOT NULL)`,
		}
	default:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS member (id BIGSERIAL PRIMARY KEY, username TEXT NOT NULL)`,
			`CREATE TABLE IF NOT EXISTS log (id BIGSERIAL PRIMARY KEY, message TEXT NOT NULL)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}
