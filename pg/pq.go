package pg

import (
	"context"
	"database/sql"
	"time"

	"batchbench/bench"
	"batchbench/sqlexec"

	_ "github.com/lib/pq"
)

// PQCapabilities: lib/pq has no client statement cache and database/sql
// exposes no server-side cursors.
var PQCapabilities = bench.Capabilities{
	Isolation:  bench.StandardIsolation,
	Strategies: []bench.Strategy{bench.StrategyDirect, bench.StrategyBatched, bench.StrategyRewrite},
	Cursors:    sqlexec.DefaultModes,
}

func ConnectPQ(ctx context.Context, c bench.ConnConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", DSN(c))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func NewPQProvider(ctx context.Context, name string, c bench.ConnConfig) (*sqlexec.Provider, error) {
	db, err := ConnectPQ(ctx, c)
	if err != nil {
		return nil, err
	}
	return sqlexec.NewProvider(sqlexec.ProviderConfig{
		Name:         name,
		DB:           db,
		Capabilities: PQCapabilities,
		Isolation:    sqlexec.SessionIsolation(setIsolation),
		Reset:        resetIsolation,
	}), nil
}
