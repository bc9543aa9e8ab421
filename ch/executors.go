package ch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"batchbench/batch"
	"batchbench/sqlexec"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var errNamed = errors.New("clickhouse executors take positional values")

// Direct runs one INSERT per unit. ClickHouse binds parameters client-side,
// so there is nothing to prepare or cache.
type Direct struct {
	conn   driver.Conn
	query  string
	counts []int64
}

func NewDirect(conn driver.Conn, query string) *Direct {
	return &Direct{conn: conn, query: query}
}

func (d *Direct) Accumulate(ctx context.Context, u batch.Unit) error {
	n, err := d.ExecuteImmediate(ctx, u)
	if err != nil {
		return err
	}
	d.counts = append(d.counts, n)
	return nil
}

func (d *Direct) ExecuteImmediate(ctx context.Context, u batch.Unit) (int64, error) {
	if u.IsNamed() {
		return 0, errNamed
	}
	if err := d.conn.Exec(ctx, d.query, u.Args()...); err != nil {
		return 0, err
	}
	// Exec reports no affected row count; an accepted INSERT wrote its row.
	return 1, nil
}

func (d *Direct) SendBatch(context.Context) (batch.Result, error) {
	res := batch.PerUnitResult(d.counts)
	d.counts = nil
	return res, nil
}

func (d *Direct) Close(context.Context) error { return nil }

// Batched appends units to a native column-oriented batch and sends it as one
// block per flush. Only the number of rows in the block is known.
type Batched struct {
	conn   driver.Conn
	insert string
	arity  int
	batch  driver.Batch
}

// insertPrefix drops the VALUES clause PrepareBatch does not expect.
func insertPrefix(tmpl sqlexec.InsertTemplate) string {
	prefix := strings.TrimSpace(tmpl.Prefix)
	if strings.HasSuffix(strings.ToUpper(prefix), "VALUES") {
		prefix = strings.TrimSpace(prefix[:len(prefix)-len("VALUES")])
	}
	return prefix
}

func NewBatched(conn driver.Conn, query string) (*Batched, error) {
	tmpl, err := sqlexec.ParseInsert(query)
	if err != nil {
		return nil, err
	}
	return &Batched{conn: conn, insert: insertPrefix(tmpl), arity: tmpl.Arity}, nil
}

func (b *Batched) Accumulate(ctx context.Context, u batch.Unit) error {
	if u.IsNamed() {
		return errNamed
	}
	if err := sqlexec.CheckArity(u, b.arity); err != nil {
		return err
	}

	if b.batch == nil {
		pb, err := b.conn.PrepareBatch(ctx, b.insert)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}
		b.batch = pb
	}
	return b.batch.Append(u.Args()...)
}

func (b *Batched) SendBatch(context.Context) (batch.Result, error) {
	pending := b.batch
	b.batch = nil

	if pending == nil {
		return batch.AggregateResult(0, 0), nil
	}

	rows := pending.Rows()
	if err := pending.Send(); err != nil {
		return batch.Result{}, err
	}
	return batch.AggregateResult(rows, int64(rows)), nil
}

func (b *Batched) Close(context.Context) error {
	if b.batch == nil || b.batch.IsSent() {
		return nil
	}
	err := b.batch.Abort()
	b.batch = nil
	return err
}
