package pg

import (
	"context"
	"fmt"

	"batchbench/batch"
	"batchbench/bench"
	"batchbench/cursor"
	"batchbench/sqlexec"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	slogctx "github.com/veqryn/slog-context"
)

const (
	setIsolation   = "SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL"
	resetIsolation = "RESET default_transaction_isolation"
)

// Capabilities for a pool running with the given exec mode. Only the
// default cache_statement mode prepares statements without being asked.
func Capabilities(mode pgx.QueryExecMode) bench.Capabilities {
	return bench.Capabilities{
		ImplicitStatementCache: mode == pgx.QueryExecModeCacheStatement,
		Isolation:              bench.StandardIsolation,
		Strategies:             []bench.Strategy{bench.StrategyDirect, bench.StrategyBatched, bench.StrategyRewrite},
		Cursors:                Modes,
	}
}

type Provider struct {
	name string
	pool *pgxpool.Pool
	caps bench.Capabilities
}

func NewProvider(ctx context.Context, name string, c bench.ConnConfig) (*Provider, error) {
	pool, err := Connect(ctx, c)
	if err != nil {
		return nil, err
	}
	return &Provider{
		name: name,
		pool: pool,
		caps: Capabilities(pool.Config().ConnConfig.DefaultQueryExecMode),
	}, nil
}

func (p *Provider) Name() string                     { return p.name }
func (p *Provider) Capabilities() bench.Capabilities { return p.caps }

func (p *Provider) Acquire(ctx context.Context) (bench.Session, func(), error) {
	sess, release, err := p.AcquireSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	return sess, release, nil
}

func (p *Provider) AcquireSession(ctx context.Context) (*Session, func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	sess := &Session{conn: conn.Conn()}
	release := func() {
		if sess.isolated {
			if _, err := sess.conn.Exec(ctx, resetIsolation); err != nil {
				slogctx.FromCtx(ctx).Warn("dropping connection", "backend", p.name, "error", err)
				conn.Hijack().Close(ctx)
				return
			}
		}
		conn.Release()
	}
	return sess, release, nil
}

func (p *Provider) Close() error {
	p.pool.Close()
	return nil
}

// Session wraps one pooled connection. An isolation level set on it is reset
// before the connection goes back to the pool.
type Session struct {
	conn     *pgx.Conn
	isolated bool
}

func (s *Session) Executor(_ context.Context, w bench.WriteConfig) (batch.Executor, error) {
	switch w.Strategy {
	case bench.StrategyDirect:
		return NewDirect(s.conn, w.Statement, sqlexec.DirectOptions{Prepared: w.Prepared, CacheStatements: w.CacheStatements}), nil
	case bench.StrategyBatched:
		return NewBatched(s.conn, w.Statement), nil
	case bench.StrategyRewrite:
		return NewRewrite(s.conn, w.Statement)
	default:
		return nil, fmt.Errorf("%w %q", bench.ErrUnsupportedStrategy, w.Strategy)
	}
}

func (s *Session) Cursors() cursor.Source {
	return NewSource(s.conn)
}

func (s *Session) SetIsolation(ctx context.Context, level bench.Isolation) error {
	if level.IsSnapshot() {
		return &bench.UnsupportedIsolationError{Backend: Backend, Level: level}
	}
	s.isolated = true
	_, err := s.conn.Exec(ctx, setIsolation+" "+level.SQL())
	return err
}

func (s *Session) Exec(ctx context.Context, stmt string) error {
	_, err := s.conn.Exec(ctx, stmt)
	return err
}

func (s *Session) Loader(_ context.Context, statement string) (batch.Executor, error) {
	return NewBatched(s.conn, statement), nil
}
