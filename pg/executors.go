package pg

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"batchbench/batch"
	"batchbench/sqlexec"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is the part of *pgx.Conn the executors and cursors use.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error)
	Deallocate(ctx context.Context, name string) error
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	errPreparedNamed = errors.New("prepared statements take positional values")
	errRewriteNamed  = errors.New("multi-row rewrite needs positional values")

	seq atomic.Uint64
)

func nextName(prefix string) string {
	return fmt.Sprintf("batchbench_%s_%d", prefix, seq.Add(1))
}

// args binds named units through pgx.NamedArgs, which rewrites @name
// placeholders.
func args(u batch.Unit) []any {
	if u.IsNamed() {
		return []any{pgx.NamedArgs(u.NamedArgs())}
	}
	return u.Args()
}

// Direct sends every unit on its own round trip as soon as it is accumulated.
type Direct struct {
	conn     Conn
	query    string
	opts     sqlexec.DirectOptions
	name     string
	prepared bool
	counts   []int64
}

func NewDirect(conn Conn, query string, opts sqlexec.DirectOptions) *Direct {
	return &Direct{conn: conn, query: query, opts: opts, name: nextName("stmt")}
}

func (d *Direct) Accumulate(ctx context.Context, u batch.Unit) error {
	n, err := d.ExecuteImmediate(ctx, u)
	if err != nil {
		return err
	}
	d.counts = append(d.counts, n)
	return nil
}

func (d *Direct) SendBatch(context.Context) (batch.Result, error) {
	res := batch.PerUnitResult(d.counts)
	d.counts = nil
	return res, nil
}

func (d *Direct) ExecuteImmediate(ctx context.Context, u batch.Unit) (int64, error) {
	if !d.opts.Prepared {
		tag, err := d.conn.Exec(ctx, d.query, args(u)...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}

	if u.IsNamed() {
		return 0, errPreparedNamed
	}

	if !d.prepared {
		if _, err := d.conn.Prepare(ctx, d.name, d.query); err != nil {
			return 0, fmt.Errorf("prepare: %w", err)
		}
		d.prepared = true
	}

	tag, err := d.conn.Exec(ctx, d.name, u.Args()...)

	if !d.opts.CacheStatements {
		if deallocErr := d.deallocate(ctx); err == nil && deallocErr != nil {
			err = deallocErr
		}
	}
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (d *Direct) deallocate(ctx context.Context) error {
	if !d.prepared {
		return nil
	}
	d.prepared = false
	return d.conn.Deallocate(ctx, d.name)
}

func (d *Direct) Close(ctx context.Context) error {
	return d.deallocate(ctx)
}

// Batched queues units into a pgx.Batch and pipelines them in one round trip
// per SendBatch. The batch runs in an implicit transaction.
type Batched struct {
	conn  Conn
	query string
	batch *pgx.Batch
}

func NewBatched(conn Conn, query string) *Batched {
	return &Batched{conn: conn, query: query}
}

func (b *Batched) Accumulate(_ context.Context, u batch.Unit) error {
	if b.batch == nil {
		b.batch = &pgx.Batch{}
	}
	b.batch.Queue(b.query, args(u)...)
	return nil
}

func (b *Batched) SendBatch(ctx context.Context) (res batch.Result, err error) {
	queued := b.batch
	b.batch = nil

	if queued == nil || queued.Len() == 0 {
		return batch.PerUnitResult(nil), nil
	}

	br := b.conn.SendBatch(ctx, queued)
	defer func() {
		if closeErr := br.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	counts := make([]int64, 0, queued.Len())
	for i := 0; i < queued.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			return batch.Result{}, fmt.Errorf("batch entry %d: %w", i, err)
		}
		counts = append(counts, tag.RowsAffected())
	}
	return batch.PerUnitResult(counts), nil
}

func (b *Batched) Close(context.Context) error { return nil }

// Rewrite folds the queued units into one multi-row INSERT with renumbered
// parameters.
type Rewrite struct {
	conn   Conn
	tmpl   sqlexec.InsertTemplate
	queued [][]any
}

func NewRewrite(conn Conn, query string) (*Rewrite, error) {
	tmpl, err := sqlexec.ParseInsert(query)
	if err != nil {
		return nil, err
	}
	return &Rewrite{conn: conn, tmpl: tmpl}, nil
}

func (r *Rewrite) Accumulate(_ context.Context, u batch.Unit) error {
	if u.IsNamed() {
		return errRewriteNamed
	}
	if err := sqlexec.CheckArity(u, r.tmpl.Arity); err != nil {
		return err
	}
	r.queued = append(r.queued, u.Args())
	return nil
}

func (r *Rewrite) SendBatch(ctx context.Context) (batch.Result, error) {
	queued := r.queued
	r.queued = nil

	if len(queued) == 0 {
		return batch.AggregateResult(0, 0), nil
	}

	flat := make([]any, 0, len(queued)*r.tmpl.Arity)
	for _, a := range queued {
		flat = append(flat, a...)
	}

	tag, err := r.conn.Exec(ctx, r.tmpl.Render(len(queued)), flat...)
	if err != nil {
		return batch.Result{}, err
	}
	return batch.AggregateResult(len(queued), tag.RowsAffected()), nil
}

func (r *Rewrite) Close(context.Context) error { return nil }
