// Package tempstore implements TempRun storage and the multi-way merge
// primitives described in §4.4 of the aggregation engine spec: spilling a
// sorted in-memory bin set to a pair of compressed temp files, and merging
// any number of such runs — recursively, in fan-in-limited passes — into a
// single ascending stream.
//
// Grounded on the teacher's indexer/sorter.go (chunked external sort,
// lz4-compressed chunk files, a hand-rolled min-heap to avoid
// container/heap's interface boxing on the merge hot path) and
// internal/common/cidx.go (the file-pair-as-one-object idiom, generalized
// here per the spec's Design Notes from "adjacent integer indices" to an
// explicit Run value).
package tempstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// Context assigns temp-file names for one Uniquifier's spills. The temp
// directory is a process-wide resource; per §5, instances sharing a
// directory coordinate names via a per-instance counter plus PID-based
// prefix, exactly as the spec describes.
type Context struct {
	dir     string
	prefix  string
	counter int64
}

// NewContext creates a naming context rooted at dir, creating it if
// necessary.
func NewContext(dir string) (*Context, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tempstore: create temp dir: %w", err)
	}
	return &Context{dir: dir, prefix: fmt.Sprintf("flowagg-%d", os.Getpid())}, nil
}

// NextIndex returns the next even main-file index. The paired
// distinct-file index (mainIndex+1) is derived by callers that need it;
// keeping the pairing as a pure function of the main index, rather than a
// second counter, is what guarantees the adjacency invariant always holds.
func (c *Context) NextIndex() int {
	return int(atomic.AddInt64(&c.counter, 2)) - 2
}

func (c *Context) mainPath(index int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s.run%06d.main", c.prefix, index))
}

func (c *Context) distinctPath(index int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s.run%06d.distinct", c.prefix, index+1))
}

// Dir reports the temp directory this context writes into.
func (c *Context) Dir() string { return c.dir }
