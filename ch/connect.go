// Package ch provides the ClickHouse backend through clickhouse-go, with
// sessions drawn from a puddle pool of single-connection clients.
package ch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"batchbench/bench"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/puddle/v2"
)

const Backend = "clickhouse"

// Options recognized in bench.ConnConfig.Options. Anything else is passed
// through as a ClickHouse setting.
const (
	OptMaxConns        = "max_conns"
	OptMaxConnLifetime = "max_conn_lifetime"
)

func DSN(c bench.ConnConfig) string {
	if len(c.DSN) > 0 {
		return c.DSN
	}
	u := url.URL{
		Scheme: "clickhouse",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	return u.String()
}

func settings(c bench.ConnConfig) clickhouse.Settings {
	s := make(clickhouse.Settings)
	for k, v := range c.Options {
		switch k {
		case OptMaxConns, OptMaxConnLifetime:
		default:
			s[k] = v
		}
	}
	return s
}

func NewPool(ctx context.Context, c bench.ConnConfig) (*puddle.Pool[driver.Conn], error) {
	var (
		maxSize         = 10
		maxConnLifetime = time.Hour
		err             error
	)

	if v, ok := c.Options[OptMaxConns]; ok {
		if maxSize, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("%s: %w", OptMaxConns, err)
		}
	}
	if v, ok := c.Options[OptMaxConnLifetime]; ok {
		if maxConnLifetime, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("%s: %w", OptMaxConnLifetime, err)
		}
	}

	chopts, err := clickhouse.ParseDSN(DSN(c))
	if err != nil {
		return nil, err
	}
	chopts.MaxOpenConns = 1
	chopts.ConnMaxLifetime = maxConnLifetime * 2
	chopts.Settings = settings(c)

	poolConf := puddle.Config[driver.Conn]{
		MaxSize: int32(maxSize),
	}

	poolConf.Constructor = func(context.Context) (driver.Conn, error) {
		return clickhouse.Open(chopts)
	}

	poolConf.Destructor = func(conn driver.Conn) {
		conn.Close()
	}

	pool, err := puddle.NewPool(&poolConf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer res.Release()

	if err := res.Value().Ping(ctx); err != nil {
		res.Destroy()
		pool.Close()
		return nil, err
	}
	return pool, nil
}
