package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between the supported databases.
// Queries are written with ? placeholders and rebound by sqlx for the
// driver in use.
type Dialect interface {
	// Name returns the dialect name used in configuration.
	Name() string

	// DriverName returns the database/sql driver name.
	DriverName() string

	// SerialPrimaryKey returns the column definition of an auto
	// incrementing integer primary key.
	SerialPrimaryKey() string

	// LargeTextType returns the type used for JSON documents.
	LargeTextType() string

	// UpsertSQL returns an insert that updates updateColumns when a row
	// with the same conflictColumn exists. Values use named parameters.
	UpsertSQL(table string, columns []string, conflictColumn string, updateColumns []string) string

	// ConfigureDB returns statements run once after connecting.
	ConfigureDB() []string
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLiteDialect{}, nil
	case "postgres", "postgresql":
		return PostgresDialect{}, nil
	case "mysql":
		return MySQLDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", name)
	}
}

func namedPlaceholders(columns []string) string {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = ":" + col
	}
	return strings.Join(names, ", ")
}

// SQLiteDialect targets github.com/mattn/go-sqlite3.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string       { return "sqlite" }
func (SQLiteDialect) DriverName() string { return "sqlite3" }

func (SQLiteDialect) SerialPrimaryKey() string {
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (SQLiteDialect) LargeTextType() string { return "TEXT" }

func (SQLiteDialect) UpsertSQL(table string, columns []string, conflictColumn string, updateColumns []string) string {
	return onConflictUpsert(table, columns, conflictColumn, updateColumns, "excluded")
}

func (SQLiteDialect) ConfigureDB() []string {
	return []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
		"PRAGMA synchronous=NORMAL;",
	}
}

// PostgresDialect targets github.com/lib/pq.
type PostgresDialect struct{}

func (PostgresDialect) Name() string       { return "postgres" }
func (PostgresDialect) DriverName() string { return "postgres" }

func (PostgresDialect) SerialPrimaryKey() string { return "BIGSERIAL PRIMARY KEY" }

func (PostgresDialect) LargeTextType() string { return "TEXT" }

func (PostgresDialect) UpsertSQL(table string, columns []string, conflictColumn string, updateColumns []string) string {
	return onConflictUpsert(table, columns, conflictColumn, updateColumns, "EXCLUDED")
}

func (PostgresDialect) ConfigureDB() []string {
	return []string{"SET timezone = 'UTC';"}
}

// MySQLDialect targets github.com/go-sql-driver/mysql.
type MySQLDialect struct{}

func (MySQLDialect) Name() string       { return "mysql" }
func (MySQLDialect) DriverName() string { return "mysql" }

func (MySQLDialect) SerialPrimaryKey() string {
	return "BIGINT AUTO_INCREMENT PRIMARY KEY"
}

func (MySQLDialect) LargeTextType() string { return "LONGTEXT" }

func (MySQLDialect) UpsertSQL(table string, columns []string, conflictColumn string, updateColumns []string) string {
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table,
		strings.Join(columns, ", "),
		namedPlaceholders(columns),
		strings.Join(updates, ", "),
	)
}

func (MySQLDialect) ConfigureDB() []string {
	return []string{"SET time_zone = '+00:00';"}
}

func onConflictUpsert(table string, columns []string, conflictColumn string, updateColumns []string, excluded string) string {
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = %s.%s", col, excluded, col)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(columns, ", "),
		namedPlaceholders(columns),
		conflictColumn,
		strings.Join(updates, ", "),
	)
}

var (
	_ Dialect = SQLiteDialect{}
	_ Dialect = PostgresDialect{}
	_ Dialect = MySQLDialect{}
)
