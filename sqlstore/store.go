// Package sqlstore persists checkpoints and activity logs in a SQL database
// through sqlx. SQLite, PostgreSQL and MySQL are supported.
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	checkpointsTable = "asynctask_checkpoints"
	activityTable    = "asynctask_activity_log"
)

// Store implements asynctask.Checkpointer and asynctask.ActivityLogger. Only
// the latest checkpoint of each execution is kept.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *slog.Logger
}

// Options configures a Store.
type Options struct {
	Logger *slog.Logger
}

// Open connects to the database and creates the tables if needed.
func Open(ctx context.Context, dialectName, dsn string, opts Options) (*Store, error) {
	dialect, err := DialectFor(dialectName)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect.Name() == "sqlite" {
		// An in-memory database exists once per connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure database: %w", err)
		}
	}
	store, err := New(ctx, db, dialect, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open connection and creates the tables if needed.
func New(ctx context.Context, db *sqlx.DB, dialect Dialect, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{db: db, dialect: dialect, logger: opts.Logger.With("component", "sqlstore", "dialect", dialect.Name())}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB returns the underlying connection.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes used by the store.
func (s *Store) Migrate(ctx context.Context) error {
	text := s.dialect.LargeTextType()
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			execution_id VARCHAR(64) PRIMARY KEY,
			workflow_name VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			checkpoint_id VARCHAR(32) NOT NULL,
			data %s NOT NULL,
			updated_at BIGINT NOT NULL
		)`, checkpointsTable, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq %s,
			id VARCHAR(64) NOT NULL,
			execution_id VARCHAR(64) NOT NULL,
			step_name VARCHAR(255) NOT NULL,
			event VARCHAR(32) NOT NULL,
			data %s NOT NULL,
			created_at BIGINT NOT NULL
		)`, activityTable, s.dialect.SerialPrimaryKey(), text),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	if err := s.createIndex(ctx, "idx_asynctask_activity_execution", activityTable, "execution_id"); err != nil {
		return err
	}
	return s.createIndex(ctx, "idx_asynctask_checkpoints_status", checkpointsTable, "status")
}

func (s *Store) createIndex(ctx context.Context, name, table, column string) error {
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, column)
	if s.dialect.Name() == "mysql" {
		// MySQL has no IF NOT EXISTS for indexes.
		var count int
		err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM information_schema.statistics
			WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`), table, name)
		if err != nil {
			return fmt.Errorf("failed to inspect indexes: %w", err)
		}
		if count > 0 {
			return nil
		}
		stmt = fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, column)
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	return nil
}
