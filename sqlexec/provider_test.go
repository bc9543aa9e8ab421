package sqlexec

import (
	"context"
	"database/sql"
	"testing"

	"batchbench/bench"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, reset string) *Provider {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	return NewProvider(ProviderConfig{
		Name: "sqlite",
		DB:   db,
		Capabilities: bench.Capabilities{
			Isolation: []bench.Isolation{bench.ReadUncommitted},
			Cursors:   DefaultModes,
		},
		Isolation: func(ctx context.Context, conn *sql.Conn, _ bench.Isolation) error {
			_, err := conn.ExecContext(ctx, "PRAGMA read_uncommitted = 1")
			return err
		},
		Reset: reset,
	})
}

func TestReleaseKeepsResetConnection(t *testing.T) {
	var (
		ctx  = context.Background()
		prov = newTestProvider(t, "PRAGMA read_uncommitted = 0")
	)

	sess, release, err := prov.AcquireSession(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.SetIsolation(ctx, bench.ReadUncommitted))
	release()

	assert.Equal(t, 1, prov.DB().Stats().OpenConnections)
}

func TestReleaseDropsConnectionWhenResetFails(t *testing.T) {
	var (
		ctx  = context.Background()
		prov = newTestProvider(t, "RESET read_uncommitted")
	)

	sess, release, err := prov.AcquireSession(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.SetIsolation(ctx, bench.ReadUncommitted))
	release()

	assert.Equal(t, 0, prov.DB().Stats().OpenConnections)

	sess, release, err = prov.AcquireSession(ctx)
	require.NoError(t, err)
	defer release()

	var uncommitted int
	require.NoError(t, sess.conn.QueryRowContext(ctx, "PRAGMA read_uncommitted").Scan(&uncommitted))
	assert.Zero(t, uncommitted)
}

func TestReleaseWithoutIsolationKeepsConnection(t *testing.T) {
	var (
		ctx  = context.Background()
		prov = newTestProvider(t, "")
	)

	_, release, err := prov.AcquireSession(ctx)
	require.NoError(t, err)
	release()

	assert.Equal(t, 1, prov.DB().Stats().OpenConnections)
}
