package workload

import (
	"context"
	"fmt"
	"strconv"

	"batchbench/cursor"
)

// NextPostID returns the first post id not yet taken in src.
func NextPostID(ctx context.Context, src cursor.Source) (int, error) {
	v, err := cursor.Scalar(ctx, src, SelectMaxPostID)
	if err != nil {
		return 0, fmt.Errorf("read max post id: %w", err)
	}

	var id int64

	switch v := v.(type) {
	case nil:
	case int64:
		id = v
	case int32:
		id = int64(v)
	case int:
		id = int64(v)
	case uint64:
		id = int64(v)
	case []byte:
		id, err = strconv.ParseInt(string(v), 10, 64)
	case string:
		id, err = strconv.ParseInt(v, 10, 64)
	default:
		err = fmt.Errorf("unexpected type %T", v)
	}
	if err != nil {
		return 0, fmt.Errorf("read max post id: %w", err)
	}
	return int(id) + 1, nil
}
