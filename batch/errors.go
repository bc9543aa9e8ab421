package batch

import (
	"errors"
	"fmt"
)

var (
	ErrEnded            = errors.New("accumulator already ended")
	ErrInvalidBatchSize = errors.New("batch size must be positive")
)

// ExecutionError is returned when the executor rejects a single unit. Units
// accumulated before it remain pending.
type ExecutionError struct {
	Index int
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("unit %d rejected: %v", e.Index, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// FlushError is returned when a bulk send fails. Lost is the number of units
// that were pending in the failed batch. It is fatal to the accumulator.
type FlushError struct {
	Lost int
	Err  error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush failed, %d pending units lost: %v", e.Lost, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }
