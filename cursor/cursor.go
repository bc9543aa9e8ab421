package cursor

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrPositionOutOfRange = errors.New("cursor position out of range")
	ErrInvalidFetchSize   = errors.New("fetch size must not be negative")
	ErrNoCurrentRow       = errors.New("cursor is not positioned on a row")
)

// Cursor is an open result stream. Absolute is only meaningful for
// scrollable cursors and takes a 1-based row position.
type Cursor interface {
	Next(ctx context.Context) bool
	Absolute(ctx context.Context, pos int) (bool, error)
	Values() ([]any, error)
	Err() error
	Close(ctx context.Context) error
}

type Source interface {
	Capabilities
	Open(ctx context.Context, query string, cfg Config, args ...any) (Cursor, error)
}

type UnsupportedCursorError struct {
	Mode   Mode
	Reason string
}

func (e *UnsupportedCursorError) Error() string {
	return fmt.Sprintf("unsupported cursor %s: %s", e.Mode, e.Reason)
}

// Buffered is a scrollable cursor over rows already materialized on the
// client.
type Buffered struct {
	rows    [][]any
	pos     int
	onClose func(ctx context.Context) error
}

func NewBuffered(rows [][]any, onClose func(ctx context.Context) error) *Buffered {
	return &Buffered{rows: rows, onClose: onClose}
}

func (b *Buffered) Next(context.Context) bool {
	if b.pos > len(b.rows) {
		return false
	}
	b.pos++
	return b.pos <= len(b.rows)
}

func (b *Buffered) Absolute(_ context.Context, pos int) (bool, error) {
	switch {
	case pos < 1:
		b.pos = 0
		return false, nil
	case pos > len(b.rows):
		b.pos = len(b.rows) + 1
		return false, nil
	}
	b.pos = pos
	return true, nil
}

func (b *Buffered) Values() ([]any, error) {
	if b.pos < 1 || b.pos > len(b.rows) {
		return nil, ErrNoCurrentRow
	}
	return b.rows[b.pos-1], nil
}

func (b *Buffered) Len() int { return len(b.rows) }

func (b *Buffered) Err() error { return nil }

func (b *Buffered) Close(ctx context.Context) error {
	if b.onClose == nil {
		return nil
	}
	return b.onClose(ctx)
}
