package cursor

import (
	"context"
	"errors"
)

var ErrNoRows = errors.New("query returned no rows")

// Scalar runs query on a forward-only read-only cursor and returns the first
// column of its first row.
func Scalar(ctx context.Context, src Source, query string, args ...any) (v any, err error) {
	cur, err := src.Open(ctx, query, Config{}, args...)
	if err != nil {
		return nil, err
	}
	defer func() { err = closeCursor(ctx, cur, err) }()

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoRows
	}

	vals, err := cur.Values()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrNoRows
	}
	return vals[0], nil
}
