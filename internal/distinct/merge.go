package distinct

import (
	"bytes"
	"errors"
	"io"
)

// ValueSource yields successive ascending, already-deduplicated values
// from one sorted stream, returning io.EOF once exhausted. A
// totalDistinctReader's next method satisfies this directly. Any error
// other than io.EOF aborts the merge; MergeSortedUniqueCount returns it
// unchanged rather than treating it as end-of-stream.
type ValueSource func() ([]byte, error)

// MergeSortedUniqueCount k-way merges N sorted, deduplicated value
// sources and returns the count of distinct values across all of them,
// without materializing the merged sequence — the total-distinct
// specialization of §4.4 step 3's distinct-value merge, streamed since
// only the final count is needed. A non-io.EOF error from any source
// aborts the merge immediately and is returned to the caller; per §7,
// I/O errors during merge must propagate with the original cause
// attached rather than silently truncating the count.
func MergeSortedUniqueCount(sources []ValueSource) (int, error) {
	type head struct {
		value []byte
		done  bool
	}
	heads := make([]head, len(sources))
	for i, src := range sources {
		v, err := src()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return 0, err
			}
			heads[i].done = true
			continue
		}
		heads[i].value = v
	}

	count := 0
	var last []byte
	haveLast := false
	for {
		best := -1
		for i := range heads {
			if heads[i].done {
				continue
			}
			if best == -1 || bytes.Compare(heads[i].value, heads[best].value) < 0 {
				best = i
			}
		}
		if best == -1 {
			break
		}
		v := heads[best].value
		if !haveLast || !bytes.Equal(last, v) {
			count++
			last = v
			haveLast = true
		}
		nv, err := sources[best]()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return 0, err
			}
			heads[best].done = true
			continue
		}
		heads[best].value = nv
	}
	return count, nil
}
