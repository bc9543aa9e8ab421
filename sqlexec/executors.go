package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"batchbench/batch"

	"github.com/hashicorp/go-multierror"
)

type DirectOptions struct {
	// Prepared executes through a *sql.Stmt instead of a plain statement.
	Prepared bool
	// CacheStatements reuses one prepared statement for every unit instead
	// of preparing and closing it per unit. Ignored unless Prepared.
	CacheStatements bool
}

// Direct executes each unit as soon as it is accumulated.
type Direct struct {
	conn   Conn
	query  string
	opts   DirectOptions
	stmt   *sql.Stmt
	counts []int64
}

func NewDirect(conn Conn, query string, opts DirectOptions) *Direct {
	return &Direct{conn: conn, query: query, opts: opts}
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
		res, err := d.conn.ExecContext(ctx, d.query, args(u)...)
		if err != nil {
			return 0, err
		}
		return rowsAffected(res), nil
	}

	if !d.opts.CacheStatements {
		stmt, err := d.conn.PrepareContext(ctx, d.query)
		if err != nil {
			return 0, fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()
		res, err := stmt.ExecContext(ctx, args(u)...)
		if err != nil {
			return 0, err
		}
		return rowsAffected(res), nil
	}

	if d.stmt == nil {
		stmt, err := d.conn.PrepareContext(ctx, d.query)
		if err != nil {
			return 0, fmt.Errorf("prepare: %w", err)
		}
		d.stmt = stmt
	}

	res, err := d.stmt.ExecContext(ctx, args(u)...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func (d *Direct) Close(context.Context) error {
	if d.stmt == nil {
		return nil
	}
	err := d.stmt.Close()
	d.stmt = nil
	return err
}

// TxBatch queues units against a prepared statement and executes them inside
// one transaction per SendBatch, reporting per-unit counts.
type TxBatch struct {
	conn   Conn
	query  string
	stmt   *sql.Stmt
	queued [][]any
}

func NewTxBatch(conn Conn, query string) *TxBatch {
	return &TxBatch{conn: conn, query: query}
}

func (b *TxBatch) Accumulate(ctx context.Context, u batch.Unit) error {
	if b.stmt == nil {
		stmt, err := b.conn.PrepareContext(ctx, b.query)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		b.stmt = stmt
	}
	b.queued = append(b.queued, args(u))
	return nil
}

func (b *TxBatch) SendBatch(ctx context.Context) (batch.Result, error) {
	queued := b.queued
	b.queued = nil

	if len(queued) == 0 {
		return batch.PerUnitResult(nil), nil
	}

	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return batch.Result{}, fmt.Errorf("begin: %w", err)
	}

	stmt := tx.StmtContext(ctx, b.stmt)
	counts := make([]int64, 0, len(queued))

	for i, a := range queued {
		res, err := stmt.ExecContext(ctx, a...)
		if err != nil {
			return batch.Result{}, rollback(tx, fmt.Errorf("batch entry %d: %w", i, err))
		}
		counts = append(counts, rowsAffected(res))
	}

	if err := tx.Commit(); err != nil {
		return batch.Result{}, fmt.Errorf("commit: %w", err)
	}
	return batch.PerUnitResult(counts), nil
}

func (b *TxBatch) Close(context.Context) error {
	if b.stmt == nil {
		return nil
	}
	err := b.stmt.Close()
	b.stmt = nil
	return err
}

// Rewrite folds every queued unit into one multi-row INSERT. Drivers only
// report the aggregate affected row count for it.
type Rewrite struct {
	conn   Conn
	tmpl   InsertTemplate
	queued [][]any
}

var errRewriteNamed = errors.New("multi-row rewrite needs positional values")

func NewRewrite(conn Conn, query string) (*Rewrite, error) {
	tmpl, err := ParseInsert(query)
	if err != nil {
		return nil, err
	}
	return &Rewrite{conn: conn, tmpl: tmpl}, nil
}

func (r *Rewrite) Accumulate(_ context.Context, u batch.Unit) error {
	if u.IsNamed() {
		return errRewriteNamed
	}
	if err := CheckArity(u, r.tmpl.Arity); err != nil {
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

	res, err := r.conn.ExecContext(ctx, r.tmpl.Render(len(queued)), flat...)
	if err != nil {
		return batch.Result{}, err
	}
	return batch.AggregateResult(len(queued), rowsAffected(res)), nil
}

func (r *Rewrite) Close(context.Context) error { return nil }

func rollback(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return multierror.Append(err, rbErr)
	}
	return err
}
