package batch

import "context"

// Executor submits units of work to a backend. Accumulate binds a unit into
// the executor's reusable handle and queues it; SendBatch performs the bulk
// execution of everything queued since the previous call.
type Executor interface {
	Accumulate(ctx context.Context, u Unit) error
	SendBatch(ctx context.Context) (Result, error)
	Close(ctx context.Context) error
}

// DirectExecutor never defers work: Accumulate executes immediately and
// SendBatch only reports what ran since the last call. ExecuteImmediate runs
// a unit outside of any flush accounting, for raw non-batched baselines.
type DirectExecutor interface {
	Executor
	ExecuteImmediate(ctx context.Context, u Unit) (int64, error)
}

// Result describes one SendBatch call. Backends that cannot report
// per-unit counts set PerUnit to false and only fill Aggregate.
type Result struct {
	Units     int
	PerUnit   bool
	Counts    []int64
	Aggregate int64
}

// PerUnitResult builds a Result from per-unit affected row counts.
func PerUnitResult(counts []int64) Result {
	var total int64
	for _, c := range counts {
		total += c
	}
	return Result{Units: len(counts), PerUnit: true, Counts: counts, Aggregate: total}
}

// AggregateResult builds a Result for backends that only report a total.
func AggregateResult(units int, total int64) Result {
	return Result{Units: units, Aggregate: total}
}
