// Package my provides the MySQL backend through go-sql-driver/mysql.
package my

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"batchbench/bench"
	"batchbench/sqlexec"

	"github.com/go-sql-driver/mysql"
)

const Backend = "mysql"

// Options recognized in bench.ConnConfig.Options.
const (
	// OptServerPrepare sends bind values through server-side prepared
	// statements instead of interpolating them client-side.
	OptServerPrepare = "server_prepare"
	OptMaxConns      = "max_conns"
)

var Capabilities = bench.Capabilities{
	Isolation:  bench.StandardIsolation,
	Strategies: []bench.Strategy{bench.StrategyDirect, bench.StrategyBatched, bench.StrategyRewrite},
	Cursors:    sqlexec.DefaultModes,
}

func DSN(c bench.ConnConfig) (string, error) {
	if len(c.DSN) > 0 {
		return c.DSN, nil
	}

	serverPrepare := false
	if v, ok := c.Options[OptServerPrepare]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", fmt.Errorf("%s: %w", OptServerPrepare, err)
		}
		serverPrepare = b
	}

	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.InterpolateParams = !serverPrepare
	cfg.AllowCleartextPasswords = true
	cfg.Timeout = 30 * time.Second
	return cfg.FormatDSN(), nil
}

func Connect(ctx context.Context, c bench.ConnConfig) (*sql.DB, error) {
	dsn, err := DSN(c)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	maxConns := 10
	if v, ok := c.Options[OptMaxConns]; ok {
		if maxConns, err = strconv.Atoi(v); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", OptMaxConns, err)
		}
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(maxConns/2, 1))
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewProvider connects and wraps the pool. Sessions that changed their
// isolation level are dropped on release rather than reset, since the server
// default is not known here.
func NewProvider(ctx context.Context, name string, c bench.ConnConfig) (*sqlexec.Provider, error) {
	db, err := Connect(ctx, c)
	if err != nil {
		return nil, err
	}
	return sqlexec.NewProvider(sqlexec.ProviderConfig{
		Name:         name,
		DB:           db,
		Capabilities: Capabilities,
		Isolation:    sqlexec.SessionIsolation("SET SESSION TRANSACTION ISOLATION LEVEL"),
	}), nil
}
