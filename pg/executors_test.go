package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"batchbench/batch"
	"batchbench/cursor"
	"batchbench/sqlexec"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeConn struct {
	execs       []execCall
	prepared    map[string]string
	deallocated []string
	batches     []*pgx.Batch
	failEntry   int
	tx          *fakeTx
}

func newFakeConn() *fakeConn {
	return &fakeConn{prepared: map[string]string{}, failEntry: -1}
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, execCall{sql: sql, args: args})
	if q, ok := c.prepared[sql]; ok {
		sql = q
	}
	// One row per value tuple, as the server would report.
	rows := 1 + strings.Count(sql, "),(")
	return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", rows)), nil
}

func (c *fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) Prepare(_ context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	c.prepared[name] = sql
	return &pgconn.StatementDescription{Name: name, SQL: sql}, nil
}

func (c *fakeConn) Deallocate(_ context.Context, name string) error {
	delete(c.prepared, name)
	c.deallocated = append(c.deallocated, name)
	return nil
}

func (c *fakeConn) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	c.batches = append(c.batches, b)
	return &fakeBatchResults{n: b.Len(), failEntry: c.failEntry}
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	if c.tx == nil {
		return nil, errors.New("not implemented")
	}
	return c.tx, nil
}

type fakeTx struct {
	pgx.Tx
	execErr    error
	execs      []string
	rolledBack bool
}

func (tx *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, sql)
	return pgconn.CommandTag{}, tx.execErr
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.rolledBack = true
	return nil
}

type fakeBatchResults struct {
	n, i      int
	failEntry int
	closed    bool
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	defer func() { r.i++ }()
	if r.i == r.failEntry {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: pgerrcode.UniqueViolation, Message: "duplicate key value violates unique constraint"}
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (r *fakeBatchResults) Close() error             { r.closed = true; return nil }

const insertPost = "INSERT INTO post (title, version, id) VALUES ($1, $2, $3)"

func post(i int) batch.Unit { return batch.Positional(fmt.Sprintf("Post no. %d", i), 0, int64(i)) }

func TestDirectCachedStatementPreparesOnce(t *testing.T) {
	var (
		ctx  = context.Background()
		conn = newFakeConn()
		exec = NewDirect(conn, insertPost, sqlexec.DirectOptions{Prepared: true, CacheStatements: true})
	)

	for i := 0; i < 3; i++ {
		n, err := exec.ExecuteImmediate(ctx, post(i))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	}

	require.Len(t, conn.prepared, 1)
	for _, call := range conn.execs {
		assert.Equal(t, exec.name, call.sql)
	}

	require.NoError(t, exec.Close(ctx))
	assert.Equal(t, []string{exec.name}, conn.deallocated)
}

func TestDirectPreparePerUnit(t *testing.T) {
	var (
		ctx  = context.Background()
		conn = newFakeConn()
		exec = NewDirect(conn, insertPost, sqlexec.DirectOptions{Prepared: true})
	)

	for i := 0; i < 3; i++ {
		_, err := exec.ExecuteImmediate(ctx, post(i))
		require.NoError(t, err)
	}
	assert.Len(t, conn.deallocated, 3)
	assert.Empty(t, conn.prepared)

	require.NoError(t, exec.Close(ctx))
	assert.Len(t, conn.deallocated, 3)

	_, err := exec.ExecuteImmediate(ctx, batch.Named(map[string]any{"id": 1}))
	assert.ErrorIs(t, err, errPreparedNamed)
}

func TestDirectPlainNamedArgs(t *testing.T) {
	var (
		ctx  = context.Background()
		conn = newFakeConn()
		exec = NewDirect(conn, "INSERT INTO post (title, id) VALUES (@title, @id)", sqlexec.DirectOptions{})
	)

	_, err := exec.ExecuteImmediate(ctx, batch.Named(map[string]any{"title": "t", "id": int64(1)}))
	require.NoError(t, err)
	require.Len(t, conn.execs, 1)
	assert.Equal(t, []any{pgx.NamedArgs{"title": "t", "id": int64(1)}}, conn.execs[0].args)
}

func TestBatchedPerUnitCounts(t *testing.T) {
	var (
		ctx  = context.Background()
		conn = newFakeConn()
	)

	stats, err := batch.Run(ctx, NewBatched(conn, insertPost), batch.Options{BatchSize: 50}, func(acc *batch.Accumulator) error {
		for i := 0; i < 120; i++ {
			if err := acc.Submit(ctx, post(i)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Flushes)
	assert.EqualValues(t, 120, stats.Rows)

	require.Len(t, conn.batches, 3)
	assert.Equal(t, 50, conn.batches[0].Len())
	assert.Equal(t, 20, conn.batches[2].Len())
	assert.Equal(t, insertPost, conn.batches[0].QueuedQueries[0].SQL)
	assert.Equal(t, []any{"Post no. 7", 0, int64(7)}, conn.batches[0].QueuedQueries[7].Arguments)
}

func TestBatchedEntryFailure(t *testing.T) {
	var (
		ctx  = context.Background()
		conn = newFakeConn()
		exec = NewBatched(conn, insertPost)
	)
	conn.failEntry = 2

	for i := 0; i < 4; i++ {
		require.NoError(t, exec.Accumulate(ctx, post(i)))
	}

	_, err := exec.SendBatch(ctx)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, pgerrcode.UniqueViolation, pgErr.Code)
	assert.Contains(t, err.Error(), "batch entry 2")
}

func TestRewriteRenumbers(t *testing.T) {
	var (
		ctx  = context.Background()
		conn = newFakeConn()
	)

	exec, err := NewRewrite(conn, insertPost)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, exec.Accumulate(ctx, post(i)))
	}
	res, err := exec.SendBatch(ctx)
	require.NoError(t, err)
	assert.False(t, res.PerUnit)
	assert.EqualValues(t, 3, res.Aggregate)

	require.Len(t, conn.execs, 1)
	assert.Equal(t,
		"INSERT INTO post (title, version, id) VALUES ($1, $2, $3),($4, $5, $6),($7, $8, $9)",
		conn.execs[0].sql)
	assert.Len(t, conn.execs[0].args, 9)
}

func TestCursorRefusedByServerIsUnsupported(t *testing.T) {
	var (
		ctx  = context.Background()
		conn = newFakeConn()
	)
	conn.tx = &fakeTx{execErr: &pgconn.PgError{
		Code:    pgerrcode.FeatureNotSupported,
		Message: "FOR UPDATE is not allowed with aggregate functions",
	}}

	cfg := cursor.Config{Concurrency: cursor.Updatable}
	_, err := NewSource(conn).Open(ctx, "SELECT count(*) FROM post", cfg)

	var unsupported *cursor.UnsupportedCursorError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, cfg.Mode(), unsupported.Mode)
	assert.True(t, conn.tx.rolledBack)
	require.Len(t, conn.tx.execs, 1)
	assert.Contains(t, conn.tx.execs[0], "NO SCROLL CURSOR WITHOUT HOLD FOR SELECT count(*) FROM post FOR UPDATE")
}
