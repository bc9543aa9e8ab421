package ch

import (
	"context"
	"errors"
	"log/slog"
	"reflect"

	"batchbench/cursor"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	slogctx "github.com/veqryn/slog-context"
)

// Modes holds the only shape ClickHouse offers: result blocks streamed
// forward over the native protocol.
var Modes = cursor.Modes{
	{Scrollability: cursor.ForwardOnly, Concurrency: cursor.ReadOnly},
}

var errForwardOnly = errors.New("clickhouse results are forward-only")

type Source struct {
	conn driver.Conn
}

func NewSource(conn driver.Conn) *Source {
	return &Source{conn: conn}
}

func (s *Source) SupportsCursor(m cursor.Mode) bool {
	return Modes.SupportsCursor(m)
}

// Open streams query with max_block_size set to the fetch size, which bounds
// the rows the server sends per block.
func (s *Source) Open(ctx context.Context, query string, cfg cursor.Config, args ...any) (cursor.Cursor, error) {
	if !s.SupportsCursor(cfg.Mode()) {
		return nil, &cursor.UnsupportedCursorError{Mode: cfg.Mode(), Reason: "not offered by clickhouse"}
	}

	var (
		md   = &QueryMetadata{}
		opts = []clickhouse.QueryOption{clickhouse.WithProgress(md.progressHandler)}
	)
	if cfg.FetchSize > 0 {
		opts = append(opts, clickhouse.WithSettings(clickhouse.Settings{
			"max_block_size": cfg.FetchSize,
		}))
	}

	rows, err := s.conn.Query(clickhouse.Context(ctx, opts...), query, args...)
	if err != nil {
		return nil, err
	}
	return &blockCursor{rows: rows, types: rows.ColumnTypes(), md: md}, nil
}

type blockCursor struct {
	rows  driver.Rows
	types []driver.ColumnType
	md    *QueryMetadata
	cur   []any
	err   error
}

func (c *blockCursor) Next(context.Context) bool {
	c.cur = nil
	if c.err != nil || !c.rows.Next() {
		return false
	}

	dest := make([]any, len(c.types))
	for i, t := range c.types {
		dest[i] = reflect.New(t.ScanType()).Interface()
	}
	if c.err = c.rows.Scan(dest...); c.err != nil {
		return false
	}

	vals := make([]any, len(dest))
	for i, d := range dest {
		vals[i] = reflect.ValueOf(d).Elem().Interface()
	}
	c.cur = vals
	return true
}

func (c *blockCursor) Absolute(context.Context, int) (bool, error) {
	return false, errForwardOnly
}

func (c *blockCursor) Values() ([]any, error) {
	if c.cur == nil {
		return nil, cursor.ErrNoCurrentRow
	}
	return c.cur, nil
}

func (c *blockCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *blockCursor) Close(ctx context.Context) error {
	err := c.rows.Close()
	LogQueryMetadata(ctx, slogctx.FromCtx(ctx), slog.LevelDebug, "cursor closed", c.md)
	return err
}
