package sqlexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"batchbench/batch"
	"batchbench/bench"
	"batchbench/cursor"

	slogctx "github.com/veqryn/slog-context"
)

// IsolationFunc applies level to every following transaction on conn.
type IsolationFunc func(ctx context.Context, conn *sql.Conn, level bench.Isolation) error

// SessionIsolation returns an IsolationFunc issuing prefix followed by the
// level, e.g. "SET SESSION TRANSACTION ISOLATION LEVEL".
func SessionIsolation(prefix string) IsolationFunc {
	return func(ctx context.Context, conn *sql.Conn, level bench.Isolation) error {
		_, err := conn.ExecContext(ctx, prefix+" "+level.SQL())
		return err
	}
}

type ProviderConfig struct {
	Name         string
	DB           *sql.DB
	Capabilities bench.Capabilities
	Isolation    IsolationFunc
	// Reset restores the default isolation before a session's connection
	// returns to the pool. Without it, or when it fails, the connection is
	// discarded instead.
	Reset string
}

// Provider hands out dedicated *sql.Conn sessions from a pool.
type Provider struct {
	conf ProviderConfig
}

func NewProvider(conf ProviderConfig) *Provider {
	return &Provider{conf: conf}
}

func (p *Provider) Name() string                     { return p.conf.Name }
func (p *Provider) Capabilities() bench.Capabilities { return p.conf.Capabilities }
func (p *Provider) DB() *sql.DB                      { return p.conf.DB }

func (p *Provider) Acquire(ctx context.Context) (bench.Session, func(), error) {
	conn, err := p.conf.DB.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}

	sess := &Session{
		name:      p.conf.Name,
		conn:      conn,
		modes:     p.conf.Capabilities.Cursors,
		isolation: p.conf.Isolation,
	}

	release := func() {
		if err := p.release(ctx, sess); err != nil {
			slogctx.FromCtx(ctx).Warn("release connection", "backend", p.conf.Name, "error", err)
		}
	}
	return sess, release, nil
}

// AcquireSession is Acquire for callers that need the concrete session, such
// as seeding.
func (p *Provider) AcquireSession(ctx context.Context) (*Session, func(), error) {
	sess, release, err := p.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return sess.(*Session), release, nil
}

func (p *Provider) release(ctx context.Context, sess *Session) error {
	if !sess.isolated {
		return sess.conn.Close()
	}

	if len(p.conf.Reset) > 0 {
		_, err := sess.conn.ExecContext(ctx, p.conf.Reset)
		if err == nil {
			return sess.conn.Close()
		}
		slogctx.FromCtx(ctx).Warn("dropping connection", "backend", p.conf.Name, "error", err)
	}

	// Returning driver.ErrBadConn makes database/sql drop the connection.
	err := sess.conn.Raw(func(any) error { return driver.ErrBadConn })
	if errors.Is(err, driver.ErrBadConn) {
		return nil
	}
	return err
}

func (p *Provider) Close() error {
	return p.conf.DB.Close()
}

type Session struct {
	name      string
	conn      *sql.Conn
	modes     cursor.Modes
	isolation IsolationFunc
	isolated  bool
}

func (s *Session) Executor(_ context.Context, w bench.WriteConfig) (batch.Executor, error) {
	switch w.Strategy {
	case bench.StrategyDirect:
		return NewDirect(s.conn, w.Statement, DirectOptions{Prepared: w.Prepared, CacheStatements: w.CacheStatements}), nil
	case bench.StrategyBatched:
		return NewTxBatch(s.conn, w.Statement), nil
	case bench.StrategyRewrite:
		return NewRewrite(s.conn, w.Statement)
	default:
		return nil, fmt.Errorf("%w %q", bench.ErrUnsupportedStrategy, w.Strategy)
	}
}

func (s *Session) Cursors() cursor.Source {
	return NewSource(s.conn, s.modes)
}

func (s *Session) SetIsolation(ctx context.Context, level bench.Isolation) error {
	if s.isolation == nil {
		return &bench.UnsupportedIsolationError{Backend: s.name, Level: level}
	}
	s.isolated = true
	return s.isolation(ctx, s.conn, level)
}

func (s *Session) Exec(ctx context.Context, stmt string) error {
	_, err := s.conn.ExecContext(ctx, stmt)
	return err
}

// Loader batches seed rows in one transaction per flush.
func (s *Session) Loader(_ context.Context, statement string) (batch.Executor, error) {
	return NewTxBatch(s.conn, statement), nil
}
