package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var placeholder = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $N placeholders into the dialect's native form. SQLite
// accepts ?NNN, which keeps argument positions identical.
func (d Dialect) Rebind(query string) string {
	if d != DialectSQLite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

// DialectFor picks the backend from a DATABASE_URL.
func DialectFor(databaseURL string) (Dialect, error) {
	value := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(value, "postgres://"), strings.HasPrefix(value, "postgresql://"):
		return DialectPostgres, nil
	case strings.HasPrefix(value, "sqlite://"), strings.HasPrefix(value, "file:"):
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database url %q", databaseURL)
}

func Open(ctx context.Context, databaseURL string) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(databaseURL)
	if err != nil {
		return nil, "", err
	}

	var db *sql.DB
	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(databaseURL))
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite db: %w", err)
		}
		// One writer keeps conditional writes strictly serialized.
		db.SetMaxOpenConns(1)
	default:
		db, err = sql.Open("pgx", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open db: %w", err)
		}
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping db: %w", err)
	}
	return db, dialect, nil
}

func sqliteDSN(databaseURL string) string {
	value := strings.TrimSpace(databaseURL)
	if strings.HasPrefix(value, "file:") {
		return value
	}
	path := filepath.Clean(strings.TrimPrefix(value, "sqlite://"))
	return path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
