// Package pg provides the PostgreSQL backends: pgx through pgxpool, and
// lib/pq through database/sql.
package pg

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"batchbench/bench"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	Backend   = "postgres"
	BackendPQ = "postgres-pq"
)

// Options recognized in bench.ConnConfig.Options.
const (
	OptStatementCache = "statement_cache"
	OptSSLMode        = "sslmode"
	OptMaxConns       = "max_conns"
)

var execModes = map[string]pgx.QueryExecMode{
	"cache_statement": pgx.QueryExecModeCacheStatement,
	"cache_describe":  pgx.QueryExecModeCacheDescribe,
	"describe_exec":   pgx.QueryExecModeDescribeExec,
	"exec":            pgx.QueryExecModeExec,
	"simple_protocol": pgx.QueryExecModeSimpleProtocol,
}

// ExecMode maps a statement_cache option value to a pgx query exec mode. The
// empty value is pgx's default, an automatic prepared statement cache.
func ExecMode(name string) (pgx.QueryExecMode, error) {
	if len(name) == 0 {
		return pgx.QueryExecModeCacheStatement, nil
	}
	mode, ok := execModes[name]
	if !ok {
		return 0, fmt.Errorf("unknown %s %q", OptStatementCache, name)
	}
	return mode, nil
}

// DSN builds a postgres:// URL from c unless c.DSN is set.
func DSN(c bench.ConnConfig) string {
	if len(c.DSN) > 0 {
		return c.DSN
	}

	sslmode := c.Options[OptSSLMode]
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String()
}

func Connect(ctx context.Context, c bench.ConnConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(DSN(c))
	if err != nil {
		return nil, err
	}

	mode, err := ExecMode(c.Options[OptStatementCache])
	if err != nil {
		return nil, err
	}
	config.ConnConfig.DefaultQueryExecMode = mode

	config.MaxConns = 10
	config.MinConns = 2
	if v, ok := c.Options[OptMaxConns]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", OptMaxConns, err)
		}
		config.MaxConns = int32(n)
		config.MinConns = min(config.MinConns, config.MaxConns)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
