package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"batchbench/batch"
	"batchbench/bench"
	"batchbench/ch"
	"batchbench/lite"
	"batchbench/my"
	"batchbench/pg"
	"batchbench/workload"

	"github.com/hashicorp/go-multierror"
	slogctx "github.com/veqryn/slog-context"
)

type provider interface {
	bench.Provider
	Close() error
}

type opener func(ctx context.Context, name string, c bench.ConnConfig) (provider, error)

func wrap[P provider](f func(context.Context, string, bench.ConnConfig) (P, error)) opener {
	return func(ctx context.Context, name string, c bench.ConnConfig) (provider, error) {
		p, err := f(ctx, name, c)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var openers = map[string]opener{
	pg.Backend:   wrap(pg.NewProvider),
	pg.BackendPQ: wrap(pg.NewPQProvider),
	my.Backend:   wrap(my.NewProvider),
	lite.Backend: wrap(lite.NewProvider),
	ch.Backend:   wrap(ch.NewProvider),
}

func dialectOf(typ string) workload.Dialect {
	switch typ {
	case pg.Backend, pg.BackendPQ:
		return workload.Postgres
	case my.Backend:
		return workload.MySQL
	case ch.Backend:
		return workload.ClickHouse
	default:
		return workload.SQLite
	}
}

// Providers holds the opened backends of one run.
type Providers map[string]provider

func OpenProviders(ctx context.Context, backends map[string]BackendConfig) (Providers, error) {
	var res = make(Providers, len(backends))

	for name, b := range backends {
		open, ok := openers[b.Type]
		if !ok {
			return nil, multierror.Append(fmt.Errorf("%w %q", bench.ErrUnknownBackend, b.Type), res.Close())
		}

		p, err := open(ctx, name, b.Conn)
		if err != nil {
			return nil, multierror.Append(fmt.Errorf("open %s: %w", name, err), res.Close())
		}
		res[name] = p
	}
	return res, nil
}

func (ps Providers) Bench() map[string]bench.Provider {
	var res = make(map[string]bench.Provider, len(ps))
	for name, p := range ps {
		res[name] = p
	}
	return res
}

func (ps Providers) Close() error {
	var res *multierror.Error
	for _, p := range ps {
		if err := p.Close(); err != nil {
			res = multierror.Append(res, err)
		}
	}
	return res.ErrorOrNil()
}

// SeedBackend recreates the post schema on one session of p and loads it.
func SeedBackend(ctx context.Context, p bench.Provider, d workload.Dialect, conf workload.SeedConfig) error {
	sess, release, err := p.Acquire(ctx)
	if err != nil {
		return &bench.AcquisitionError{Backend: p.Name(), Err: err}
	}
	defer release()

	seeder, ok := sess.(workload.Session)
	if !ok {
		return fmt.Errorf("backend %s cannot load seed data", p.Name())
	}

	return workload.Seed(slogctx.With(ctx, "backend", p.Name()), seeder, d, conf)
}

// NextPostID reads the first free post id of p.
func NextPostID(ctx context.Context, p bench.Provider) (int, error) {
	sess, release, err := p.Acquire(ctx)
	if err != nil {
		return 0, &bench.AcquisitionError{Backend: p.Name(), Err: err}
	}
	defer release()

	return workload.NextPostID(ctx, sess.Cursors())
}

// postUnits numbers inserted posts from first upwards across every trial of
// the run, so repeated trials never collide on the primary key.
func postUnits(first int) func(int) batch.Unit {
	var next atomic.Int64
	next.Store(int64(first) - 1)

	return func(int) batch.Unit {
		return workload.Post(int(next.Add(1)))
	}
}
