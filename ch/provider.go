package ch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"batchbench/batch"
	"batchbench/bench"
	"batchbench/cursor"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/puddle/v2"
	slogctx "github.com/veqryn/slog-context"
)

// Capabilities has no isolation levels: ClickHouse has no multi-statement
// transactions to isolate.
var Capabilities = bench.Capabilities{
	Strategies: []bench.Strategy{bench.StrategyDirect, bench.StrategyBatched},
	Cursors:    Modes,
}

type Provider struct {
	name string
	pool *puddle.Pool[driver.Conn]
}

func NewProvider(ctx context.Context, name string, c bench.ConnConfig) (*Provider, error) {
	pool, err := NewPool(ctx, c)
	if err != nil {
		return nil, err
	}
	return &Provider{name: name, pool: pool}, nil
}

func (p *Provider) Name() string                     { return p.name }
func (p *Provider) Capabilities() bench.Capabilities { return Capabilities }

func (p *Provider) Acquire(ctx context.Context) (bench.Session, func(), error) {
	sess, release, err := p.AcquireSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	return sess, release, nil
}

func (p *Provider) AcquireSession(ctx context.Context) (*Session, func(), error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	sess := &Session{name: p.name, conn: res.Value()}
	release := func() {
		if sess.broken {
			slogctx.FromCtx(ctx).Warn("dropping connection", "backend", p.name, "age", time.Since(res.CreationTime()))
			res.Destroy()
			return
		}
		res.Release()
	}
	return sess, release, nil
}

func (p *Provider) Close() error {
	p.pool.Close()
	return nil
}

type Session struct {
	name   string
	conn   driver.Conn
	broken bool
}

func (s *Session) Executor(_ context.Context, w bench.WriteConfig) (batch.Executor, error) {
	switch w.Strategy {
	case bench.StrategyDirect:
		return NewDirect(s.conn, w.Statement), nil
	case bench.StrategyBatched:
		return NewBatched(s.conn, w.Statement)
	default:
		return nil, fmt.Errorf("%w %q", bench.ErrUnsupportedStrategy, w.Strategy)
	}
}

func (s *Session) Cursors() cursor.Source {
	return NewSource(s.conn)
}

func (s *Session) SetIsolation(_ context.Context, level bench.Isolation) error {
	return &bench.UnsupportedIsolationError{Backend: s.name, Level: level}
}

// Exec runs a statement. A failed connection is destroyed instead of being
// returned to the pool.
func (s *Session) Exec(ctx context.Context, stmt string) error {
	var md QueryMetadata

	err := s.conn.Exec(md.WithProgress(ctx), stmt)
	LogQueryMetadata(ctx, slogctx.FromCtx(ctx), slog.LevelDebug, stmt, &md)

	if err != nil && s.conn.Ping(ctx) != nil {
		s.broken = true
	}
	return err
}

func (s *Session) Loader(_ context.Context, statement string) (batch.Executor, error) {
	return NewBatched(s.conn, statement)
}
