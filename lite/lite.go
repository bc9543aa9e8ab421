// Package lite provides the SQLite backend through mattn/go-sqlite3.
package lite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"batchbench/bench"
	"batchbench/sqlexec"

	_ "github.com/mattn/go-sqlite3"
)

const Backend = "sqlite"

// Capabilities of SQLite: one writer at a time, so only read-uncommitted
// (shared cache) and serializable are meaningful.
var Capabilities = bench.Capabilities{
	Isolation:  []bench.Isolation{bench.ReadUncommitted, bench.Serializable},
	Strategies: []bench.Strategy{bench.StrategyDirect, bench.StrategyBatched, bench.StrategyRewrite},
	Cursors:    sqlexec.DefaultModes,
}

// DSN picks c.DSN when set, else treats c.Database as a file path. An empty
// config opens a private in-memory database.
func DSN(c bench.ConnConfig) string {
	switch {
	case len(c.DSN) > 0:
		return c.DSN
	case len(c.Database) > 0:
		return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", c.Database)
	default:
		return "file::memory:?_foreign_keys=on"
	}
}

func Connect(ctx context.Context, c bench.ConnConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", DSN(c))
	if err != nil {
		return nil, err
	}
	// Every session shares the single connection, which also keeps an
	// in-memory database alive between sessions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func NewProvider(ctx context.Context, name string, c bench.ConnConfig) (*sqlexec.Provider, error) {
	db, err := Connect(ctx, c)
	if err != nil {
		return nil, err
	}
	return sqlexec.NewProvider(sqlexec.ProviderConfig{
		Name:         name,
		DB:           db,
		Capabilities: Capabilities,
		Isolation:    setIsolation,
		Reset:        "PRAGMA read_uncommitted = 0",
	}), nil
}

func setIsolation(ctx context.Context, conn *sql.Conn, level bench.Isolation) error {
	switch level {
	case bench.ReadUncommitted:
		_, err := conn.ExecContext(ctx, "PRAGMA read_uncommitted = 1")
		return err
	case bench.Serializable:
		_, err := conn.ExecContext(ctx, "PRAGMA read_uncommitted = 0")
		return err
	default:
		return &bench.UnsupportedIsolationError{Backend: Backend, Level: level}
	}
}
