// Package distinct implements the adaptive per-field exact-distinct data
// structure described in §4.2 of the aggregation engine spec: a counter
// that starts cheap (a 256-bit bitmap for single-octet fields, or a small
// sorted array otherwise) and escalates to an open-addressed hash set once
// the working set grows past 32 values, never downgrading.
//
// Grounded on the teacher's indexer/sorter.go manualHeap (a hand-rolled
// data structure kept out of container/* to avoid interface boxing on a
// hot path) and internal/common/bloom.go (bit manipulation idiom, adapted
// here into a fast-reject prefilter rather than an approximate counter —
// the spec treats approximate cardinality as an explicit non-goal, so the
// HashSet itself remains the sole source of truth for Count).
package distinct

import "bytes"

// Representation names which backing structure currently holds a Counter's
// entries.
type Representation int

const (
	RepBitmap Representation = iota
	RepSortedSmallList
	RepHashSet
)

func (r Representation) String() string {
	switch r {
	case RepBitmap:
		return "Bitmap"
	case RepSortedSmallList:
		return "SortedSmallList"
	case RepHashSet:
		return "HashSet"
	default:
		return "Unknown"
	}
}

// InsertResult is the outcome of Counter.Insert.
type InsertResult int

const (
	Added InsertResult = iota
	AlreadyPresent
	OutOfMemory
)

// smallListCapacity is the escalation threshold from SortedSmallList to
// HashSet: the 33rd distinct value triggers the transition (§4.2 table).
const smallListCapacity = 32

// Counter is the exact-distinct counter for one (bin, distinct-field) pair.
type Counter struct {
	width int
	rep   Representation
	count int

	bitmap *bitmapSet  // non-nil iff rep == RepBitmap
	small  [][]byte    // non-nil iff rep == RepSortedSmallList
	hash   *hashSet    // non-nil iff rep == RepHashSet

	// maxEntries simulates the caller's memory budget. Zero means
	// unbounded. Go has no portable way to observe "the next allocation
	// would exhaust the heap" the way the teacher's C-shaped source does;
	// this is the idiomatic substitute that lets callers (and tests, see
	// TestInsertReportsOutOfMemoryAtMaxEntriesAndStaysUnchanged) drive the
	// same OutOfMemory → spill → retry protocol
	// deterministically. See DESIGN.md.
	maxEntries int
}

// New creates a Counter for a field of the given octet width. If
// maxEntries is non-zero, Insert returns OutOfMemory once count would
// exceed it, regardless of representation.
func New(width, maxEntries int) *Counter {
	c := &Counter{width: width, maxEntries: maxEntries}
	if width == 1 {
		c.rep = RepBitmap
		c.bitmap = newBitmapSet()
	} else {
		c.rep = RepSortedSmallList
		c.small = make([][]byte, 0, smallListCapacity)
	}
	return c
}

// Width reports the counter's field width in octets.
func (c *Counter) Width() int { return c.width }

// Representation reports the counter's current backing structure.
func (c *Counter) Representation() Representation { return c.rep }

// Count reports the number of distinct values inserted so far.
func (c *Counter) Count() int { return c.count }

// Insert adds value (exactly Width() bytes) to the set. It returns
// AlreadyPresent without side effects if value was already a member.
func (c *Counter) Insert(value []byte) InsertResult {
	if c.maxEntries > 0 && c.count >= c.maxEntries {
		if c.contains(value) {
			return AlreadyPresent
		}
		return OutOfMemory
	}

	switch c.rep {
	case RepBitmap:
		if c.bitmap.contains(value[0]) {
			return AlreadyPresent
		}
		c.bitmap.add(value[0])
		c.count++
		return Added

	case RepSortedSmallList:
		idx, found := searchSorted(c.small, value)
		if found {
			return AlreadyPresent
		}
		if len(c.small) >= smallListCapacity {
			c.escalate()
			return c.insertHash(value)
		}
		cp := append([]byte(nil), value...)
		c.small = append(c.small, nil)
		copy(c.small[idx+1:], c.small[idx:])
		c.small[idx] = cp
		c.count++
		return Added

	default: // RepHashSet
		return c.insertHash(value)
	}
}

func (c *Counter) insertHash(value []byte) InsertResult {
	added, ok := c.hash.insert(value)
	if !ok {
		return OutOfMemory
	}
	if added {
		c.count++
		return Added
	}
	return AlreadyPresent
}

func (c *Counter) contains(value []byte) bool {
	switch c.rep {
	case RepBitmap:
		return c.bitmap.contains(value[0])
	case RepSortedSmallList:
		_, found := searchSorted(c.small, value)
		return found
	default:
		return c.hash.contains(value)
	}
}

// escalate migrates a full SortedSmallList into a HashSet, preserving
// membership and count exactly. Bitmap never escalates (§4.2: terminal).
func (c *Counter) escalate() {
	h := newHashSet(c.width)
	for _, v := range c.small {
		h.insert(v)
	}
	c.hash = h
	c.small = nil
	c.rep = RepHashSet
}

// ForEachSorted emits distinct values in ascending bytewise order.
func (c *Counter) ForEachSorted(fn func(value []byte)) {
	switch c.rep {
	case RepBitmap:
		c.bitmap.forEachSorted(fn)
	case RepSortedSmallList:
		for _, v := range c.small {
			fn(v)
		}
	default:
		c.hash.forEachSorted(fn)
	}
}

// Reset empties the counter. For HashSet this reallocates the backing
// storage so the memory is actually released, matching §4.2's reset
// contract; the representation itself does not downgrade.
func (c *Counter) Reset() {
	c.count = 0
	switch c.rep {
	case RepBitmap:
		c.bitmap = newBitmapSet()
	case RepSortedSmallList:
		c.small = c.small[:0]
	case RepHashSet:
		c.hash = newHashSet(c.width)
	}
}

// searchSorted returns the insertion index and whether value is present,
// using bytewise lexicographic order (numerically correct for big-endian
// fixed-width values, same property FieldList.Compare relies on).
func searchSorted(list [][]byte, value []byte) (int, bool) {
	lo, hi := 0, len(list)
	for lo < hi {
		mid := (lo + hi) / 2
		c := bytes.Compare(list[mid], value)
		if c == 0 {
			return mid, true
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}
