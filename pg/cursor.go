package pg

import (
	"context"
	"errors"
	"fmt"

	"batchbench/cursor"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Modes are the server-side cursor shapes PostgreSQL offers. Cursors are
// always insensitive, and FOR UPDATE cannot be combined with SCROLL.
var Modes = cursor.Modes{
	{Scrollability: cursor.ForwardOnly, Concurrency: cursor.ReadOnly},
	{Scrollability: cursor.ForwardOnly, Concurrency: cursor.Updatable},
	{Scrollability: cursor.ScrollInsensitive, Concurrency: cursor.ReadOnly},
}

// Source opens DECLAREd cursors, each inside its own transaction.
type Source struct {
	conn  Conn
	modes cursor.Modes
}

func NewSource(conn Conn) *Source {
	return &Source{conn: conn, modes: Modes}
}

func (s *Source) SupportsCursor(m cursor.Mode) bool {
	return s.modes.SupportsCursor(m)
}

func declare(name, query string, cfg cursor.Config) string {
	scroll := "NO SCROLL"
	if cfg.Scrollable() {
		scroll = "SCROLL"
	}
	stmt := fmt.Sprintf("DECLARE %s %s CURSOR WITHOUT HOLD FOR %s", name, scroll, query)
	if cfg.Concurrency == cursor.Updatable {
		stmt += " FOR UPDATE"
	}
	return stmt
}

func (s *Source) Open(ctx context.Context, query string, cfg cursor.Config, args ...any) (cursor.Cursor, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	name := nextName("cur")
	// Cursor statements go over the simple protocol so they never land in the
	// statement cache.
	declareArgs := append([]any{pgx.QueryExecModeSimpleProtocol}, args...)

	if _, err := tx.Exec(ctx, declare(name, query, cfg), declareArgs...); err != nil {
		err = unsupported(cfg, err)
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return nil, multierror.Append(err, rbErr)
		}
		return nil, err
	}

	return &serverCursor{tx: tx, name: name, fetch: cfg.FetchSize}, nil
}

// unsupported reports a cursor the server refuses for this query, such as
// FOR UPDATE over an aggregate, as an UnsupportedCursorError.
func unsupported(cfg cursor.Config, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.FeatureNotSupported {
		return &cursor.UnsupportedCursorError{Mode: cfg.Mode(), Reason: pgErr.Message}
	}
	return err
}

type serverCursor struct {
	tx    pgx.Tx
	name  string
	fetch int

	chunk [][]any
	idx   int
	done  bool
	cur   []any
	err   error
}

func (c *serverCursor) fetchStmt() string {
	if c.fetch <= 0 {
		return "FETCH ALL FROM " + c.name
	}
	return fmt.Sprintf("FETCH FORWARD %d FROM %s", c.fetch, c.name)
}

func (c *serverCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}

	if c.idx >= len(c.chunk) {
		if c.done {
			c.cur = nil
			return false
		}

		c.chunk, c.err = c.query(ctx, c.fetchStmt())
		c.idx = 0
		if c.err != nil {
			return false
		}
		if c.fetch <= 0 || len(c.chunk) < c.fetch {
			c.done = true
		}
		if len(c.chunk) == 0 {
			c.cur = nil
			return false
		}
	}

	c.cur = c.chunk[c.idx]
	c.idx++
	return true
}

func (c *serverCursor) Absolute(ctx context.Context, pos int) (bool, error) {
	rows, err := c.query(ctx, fmt.Sprintf("FETCH ABSOLUTE %d FROM %s", pos, c.name))
	if err != nil {
		return false, err
	}

	c.chunk, c.idx, c.done = nil, 0, false
	if len(rows) == 0 {
		c.cur = nil
		return false, nil
	}
	c.cur = rows[0]
	return true, nil
}

func (c *serverCursor) query(ctx context.Context, sql string) ([][]any, error) {
	rows, err := c.tx.Query(ctx, sql, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func (c *serverCursor) Values() ([]any, error) {
	if c.cur == nil {
		return nil, cursor.ErrNoCurrentRow
	}
	return c.cur, nil
}

func (c *serverCursor) Err() error { return c.err }

func (c *serverCursor) Close(ctx context.Context) error {
	var res *multierror.Error

	if _, err := c.tx.Exec(ctx, "CLOSE "+c.name, pgx.QueryExecModeSimpleProtocol); err != nil {
		res = multierror.Append(res, err)
		if rbErr := c.tx.Rollback(ctx); rbErr != nil {
			res = multierror.Append(res, rbErr)
		}
		return res.ErrorOrNil()
	}

	if err := c.tx.Commit(ctx); err != nil {
		res = multierror.Append(res, err)
	}
	return res.ErrorOrNil()
}
