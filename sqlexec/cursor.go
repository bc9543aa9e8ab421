package sqlexec

import (
	"context"
	"database/sql"
	"errors"

	"batchbench/cursor"
)

const defaultChunk = 256

var errForwardOnly = errors.New("forward-only cursor cannot reposition")

// DefaultModes is what database/sql can offer without driver cursors:
// streaming forward-only reads, and scroll-insensitive reads materialized
// on the client.
var DefaultModes = cursor.Modes{
	{Scrollability: cursor.ForwardOnly, Concurrency: cursor.ReadOnly},
	{Scrollability: cursor.ScrollInsensitive, Concurrency: cursor.ReadOnly},
}

type Source struct {
	conn  Conn
	modes cursor.Modes
}

func NewSource(conn Conn, modes cursor.Modes) *Source {
	if modes == nil {
		modes = DefaultModes
	}
	return &Source{conn: conn, modes: modes}
}

func (s *Source) SupportsCursor(m cursor.Mode) bool {
	return s.modes.SupportsCursor(m)
}

func (s *Source) Open(ctx context.Context, query string, cfg cursor.Config, args ...any) (cursor.Cursor, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}

	if !cfg.Scrollable() {
		return &rowsCursor{rows: rows, width: len(cols)}, nil
	}

	// database/sql has no fetch size knob; the hint sizes the client buffer.
	chunk := cfg.FetchSize
	if chunk <= 0 {
		chunk = defaultChunk
	}

	buffered := make([][]any, 0, chunk)
	for rows.Next() {
		vals, err := scanRow(rows, len(cols))
		if err != nil {
			rows.Close()
			return nil, err
		}
		if len(buffered) == cap(buffered) {
			grown := make([][]any, len(buffered), len(buffered)+chunk)
			copy(grown, buffered)
			buffered = grown
		}
		buffered = append(buffered, vals)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	return cursor.NewBuffered(buffered, nil), nil
}

func scanRow(rows *sql.Rows, width int) ([]any, error) {
	vals := make([]any, width)
	ptrs := make([]any, width)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

type rowsCursor struct {
	rows  *sql.Rows
	width int
	vals  []any
	err   error
}

func (c *rowsCursor) Next(context.Context) bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	c.vals, c.err = scanRow(c.rows, c.width)
	return c.err == nil
}

func (c *rowsCursor) Absolute(context.Context, int) (bool, error) {
	return false, errForwardOnly
}

func (c *rowsCursor) Values() ([]any, error) {
	if c.vals == nil {
		return nil, cursor.ErrNoCurrentRow
	}
	return c.vals, nil
}

func (c *rowsCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *rowsCursor) Close(context.Context) error {
	return c.rows.Close()
}
