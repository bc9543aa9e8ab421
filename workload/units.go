package workload

import (
	"fmt"
	"time"

	"batchbench/batch"
)

// Post is the i-th post row: title, version, id.
func Post(i int) batch.Unit {
	return batch.Positional(fmt.Sprintf("Post no. %d", i), int32(0), int64(i))
}

// PostDetails returns a generator of post_details rows stamped with now.
func PostDetails(now time.Time) func(i int) batch.Unit {
	return func(i int) batch.Unit {
		return batch.Positional(int64(i), now, int32(0))
	}
}

// PostComments returns a generator of perPost comments for each post. The
// i-th comment belongs to post i/perPost.
func PostComments(perPost int) func(i int) batch.Unit {
	perPost = max(perPost, 1)
	return func(i int) batch.Unit {
		return batch.Positional(int64(i/perPost), fmt.Sprintf("Post comment %d", i%perPost), int32(0), int64(i))
	}
}
