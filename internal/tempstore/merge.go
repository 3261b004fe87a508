package tempstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/entreya/flowagg/internal/diag"
)

// CompareFn orders two packed key images; callers pass FieldList.Compare.
type CompareFn func(a, b []byte) int

// MergeFn folds src into acc in place and reports whether any entry
// saturated; callers pass FieldList.Merge.
type MergeFn func(acc, src []byte) (overflowed bool)

// Sink receives fully merged bins in ascending key order, matching §6's
// external sink contract.
type Sink func(b Bin) error

// cursor tracks one open Run's current, not-yet-consumed bin.
type cursor struct {
	reader *Reader
	run    Run
	cur    Bin
	eof    bool
}

func newCursor(run Run, layout Layout) (*cursor, error) {
	r, err := Open(run, layout)
	if err != nil {
		return nil, err
	}
	c := &cursor{reader: r, run: run}
	if err := c.advance(); err != nil && !errors.Is(err, io.EOF) {
		r.Close()
		return nil, err
	}
	return c, nil
}

func (c *cursor) advance() error {
	b, err := c.reader.ReadBin()
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.eof = true
			return io.EOF
		}
		return err
	}
	c.cur = b
	return nil
}

// mergeHeap is a manual min-heap of cursor indices ordered by each
// cursor's current key, kept out of container/heap the way the teacher's
// manualHeap avoids interface-boxing on the merge hot path
// (indexer/sorter.go).
type mergeHeap struct {
	idx []int
	cmp CompareFn
	cur []*cursor
}

func (h *mergeHeap) less(i, j int) bool {
	return h.cmp(h.cur[h.idx[i]].cur.Key, h.cur[h.idx[j]].cur.Key) < 0
}
func (h *mergeHeap) swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }

func (h *mergeHeap) push(i int) {
	h.idx = append(h.idx, i)
	j := len(h.idx) - 1
	for j > 0 {
		p := (j - 1) / 2
		if !h.less(j, p) {
			break
		}
		h.swap(j, p)
		j = p
	}
}

func (h *mergeHeap) pop() int {
	top := h.idx[0]
	n := len(h.idx) - 1
	h.idx[0] = h.idx[n]
	h.idx = h.idx[:n]
	i := 0
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < n && h.less(l, smallest) {
			smallest = l
		}
		if r < n && h.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			break
		}
		h.swap(i, smallest)
		i = smallest
	}
	return top
}

// openGroup opens readers for as many of the requested runs as possible,
// stopping early on a file-handle-exhaustion-shaped error rather than
// failing the whole pass. The unopened tail is returned so the caller can
// retry it in a later, smaller-fanout pass — the spec's "opens as many
// runs... as possible" resource-exhaustion behavior (§4.4, §9 errno note).
func openGroup(runs []Run, layout Layout) (cursors []*cursor, opened, remaining []Run) {
	for i, run := range runs {
		c, err := newCursor(run, layout)
		if err != nil {
			if isResourceExhausted(err) && i > 0 {
				diag.Tracef(diag.TagOOM, "stopped opening runs at %d/%d: %v", i, len(runs), err)
				return cursors, opened, runs[i:]
			}
			// The first run failed, or a later one failed for a reason
			// other than file-handle exhaustion: fatal.
			for _, oc := range cursors {
				oc.reader.Close()
			}
			return nil, nil, runs
		}
		cursors = append(cursors, c)
		opened = append(opened, run)
	}
	return cursors, opened, nil
}

// isResourceExhausted reports whether err looks like the process ran out
// of file descriptors opening a run, as opposed to the run itself being
// missing or unreadable — the two cases the spec wants told apart (§4.4's
// "opens as many runs ... as possible" vs. a genuinely corrupt temp file).
// EMFILE/ENFILE are checked directly through golang.org/x/sys/unix's
// errno constants rather than the narrower stdlib syscall.Errno values,
// since those are the specific errnos §9 calls out for this condition;
// anything else bubbling up through os.Open is treated as a real failure.
func isResourceExhausted(err error) bool {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == unix.EMFILE || errno == unix.ENFILE
	}
	return false
}

// MergeRuns performs the cascading k-way merge of §4.4: while more than
// maxFanIn runs remain, it folds them maxFanIn at a time into new
// intermediate runs; once a single pass suffices, it emits the final
// merged stream to sink and deletes every run it consumed along the way.
// A pass that fails returns its error and leaves that pass's input runs
// on disk.
func MergeRuns(ctx *Context, layout Layout, cmp CompareFn, merge MergeFn, runs []Run, maxFanIn int, sink Sink) error {
	return mergeGenerations(ctx, layout, cmp, merge, runs, maxFanIn, sink)
}

func mergeGenerations(ctx *Context, layout Layout, cmp CompareFn, merge MergeFn, runs []Run, maxFanIn int, sink Sink) error {
	for {
		if len(runs) == 0 {
			return nil
		}
		if len(runs) <= maxFanIn {
			diag.Tracef(diag.TagMerge, "final pass over %d runs", len(runs))
			if err := mergeFinal(layout, cmp, merge, runs, sink); err != nil {
				return err
			}
			for _, r := range runs {
				r.Discard()
			}
			return nil
		}

		diag.Tracef(diag.TagMerge, "intermediate pass over %d runs, fan-in %d", len(runs), maxFanIn)
		var next []Run
		remaining := runs
		for len(remaining) > 0 {
			groupSize := min(len(remaining), maxFanIn)
			group := remaining[:groupSize]
			remaining = remaining[groupSize:]

			newRun, err := mergeIntermediate(ctx, layout, cmp, merge, group)
			if err != nil {
				return err
			}
			next = append(next, newRun)
			for _, r := range group {
				r.Discard()
			}
		}
		runs = next
	}
}

// mergeFinal merges every run directly into the sink; no output run is
// produced.
func mergeFinal(layout Layout, cmp CompareFn, merge MergeFn, runs []Run, sink Sink) error {
	cursors, opened, unopened := openGroup(runs, layout)
	if len(unopened) > 0 {
		return fmt.Errorf("tempstore: could not open all %d runs for final merge (opened %d)", len(runs), len(opened))
	}
	defer func() {
		for _, c := range cursors {
			c.reader.Close()
		}
	}()

	return drive(cursors, cmp, merge, func(merged Bin, activeRuns int) error {
		return sink(merged)
	})
}

// mergeIntermediate merges one group of runs into a new Run.
func mergeIntermediate(ctx *Context, layout Layout, cmp CompareFn, merge MergeFn, group []Run) (Run, error) {
	cursors, opened, unopened := openGroup(group, layout)
	if len(unopened) > 0 {
		for _, c := range cursors {
			c.reader.Close()
		}
		return Run{}, fmt.Errorf("tempstore: could not open all %d runs in merge group (opened %d)", len(group), len(opened))
	}
	defer func() {
		for _, c := range cursors {
			c.reader.Close()
		}
	}()

	idx := ctx.NextIndex()
	w, err := NewWriter(ctx, layout, idx)
	if err != nil {
		return Run{}, err
	}

	err = drive(cursors, cmp, merge, func(merged Bin, activeRuns int) error {
		return w.WriteBin(merged)
	})
	if err != nil {
		w.Close()
		return Run{}, err
	}
	return w.Close()
}

// drive runs the shared heap-based merge loop over an already-open set of
// cursors, invoking emit once per distinct key with the fully merged bin.
func drive(cursors []*cursor, cmp CompareFn, merge MergeFn, emit func(Bin, int) error) error {
	h := &mergeHeap{cmp: cmp, cur: cursors}
	for i, c := range cursors {
		if !c.eof {
			h.push(i)
		}
	}

	for len(h.idx) > 0 {
		active := []int{h.pop()}
		minKey := cursors[active[0]].cur.Key
		for len(h.idx) > 0 && cmp(cursors[h.idx[0]].cur.Key, minKey) == 0 {
			active = append(active, h.pop())
		}

		merged, err := mergeActiveSet(cursors, active, cmp, merge)
		if err != nil {
			return err
		}
		if err := emit(merged, len(active)); err != nil {
			return err
		}

		for _, ci := range active {
			c := cursors[ci]
			if err := c.advance(); err == nil {
				h.push(ci)
			} else if err != io.EOF {
				return err
			}
		}
	}
	return nil
}

// mergeActiveSet merges the bins currently pointed to by the given cursor
// indices, all sharing the same key. A singleton active set is a pure
// byte copy per §4.4's "no merge is required" shortcut.
func mergeActiveSet(cursors []*cursor, active []int, cmp CompareFn, merge MergeFn) (Bin, error) {
	first := cursors[active[0]].cur
	if len(active) == 1 {
		return first, nil
	}

	value := append([]byte(nil), first.Value...)
	overflowed := false
	for _, ci := range active[1:] {
		if merge(value, cursors[ci].cur.Value) {
			overflowed = true
		}
	}
	if overflowed {
		diag.Tracef(diag.TagOverfl, "saturating add during merge of key %x", first.Key)
	}

	numDistinct := len(first.DistinctCounts)
	counts := make([]uint64, numDistinct)
	values := make([][][]byte, numDistinct)
	for field := 0; field < numDistinct; field++ {
		lists := make([][][]byte, 0, len(active))
		for _, ci := range active {
			lists = append(lists, cursors[ci].cur.DistinctValues[field])
		}
		merged := mergeSortedUnique(lists)
		values[field] = merged
		counts[field] = uint64(len(merged))
	}

	return Bin{Key: first.Key, Value: value, DistinctCounts: counts, DistinctValues: values}, nil
}

// mergeSortedUnique k-way merges already-sorted, already-deduplicated
// lists into one sorted, deduplicated list — the distinct-value merge of
// §4.4 step 3, scoped to the small number of lists active for one bin.
func mergeSortedUnique(lists [][][]byte) [][]byte {
	idxs := make([]int, len(lists))
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	out := make([][]byte, 0, total)

	for {
		best := -1
		for i, l := range lists {
			if idxs[i] >= len(l) {
				continue
			}
			if best == -1 || bytes.Compare(l[idxs[i]], lists[best][idxs[best]]) < 0 {
				best = i
			}
		}
		if best == -1 {
			break
		}
		v := lists[best][idxs[best]]
		if len(out) == 0 || !bytes.Equal(out[len(out)-1], v) {
			out = append(out, v)
		}
		idxs[best]++
	}
	return out
}

// SortBins sorts bins in place by key using the given comparator, the
// in-place sort §4.3 requires before a hash table is spilled.
func SortBins(bins []Bin, cmp CompareFn) {
	slices.SortFunc(bins, func(a, b Bin) int { return cmp(a.Key, b.Key) })
}
