package uniq

import (
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/entreya/flowagg/internal/distinct"
)

// slot is one hash-table entry: a packed key image, its value image, and
// one distinct.Counter per configured distinct field, held in the slot
// beside the value image rather than packed into its bytes.
type slot struct {
	used     bool
	key      []byte
	value    []byte
	counters []*distinct.Counter
}

// table is RandomUniq's open-addressed hash table: in-place storage,
// linear probing. Grounded on internal/distinct/hashset.go's
// bucket-probe shape, simplified to one key per slot since a bin's value
// image is large enough that the 8-per-bucket packing used for tiny
// distinct values isn't worthwhile here. Key identity is decided by cmp,
// not raw byte equality: per §3, bin identity compares key_image through
// the key FieldList's Compare function, since a plugin-defined key field
// (fieldtypes.Caller) can treat byte-different images as equal.
type table struct {
	slots []slot
	mask  uint64
	count int
	cap   int                   // hard ceiling; insert reports outOfMemory at this count
	cmp   func(a, b []byte) int // key identity comparison, from the key FieldList
}

type insertStatus int

const (
	statusFound insertStatus = iota
	statusCreated
	statusOutOfMemory
)

func newTable(capacity int, cmp func(a, b []byte) int) *table {
	n := nextPow2(capacity)
	return &table{slots: make([]slot, n), mask: uint64(n - 1), cap: capacity, cmp: cmp}
}

func nextPow2(n int) int {
	if n < 2 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func hashKey(key []byte) uint64 { return xxhash.Sum64(key) }

// insert finds the slot for key, creating one if absent. newTable
// allocates nextPow2(cap) slots up front, so the grow branch below never
// fires for a table built by newTable; once count reaches cap, further new
// keys report statusOutOfMemory, which is this
// implementation's deterministic substitute for real hash-table-full /
// allocation-failure behavior (see internal/distinct.Counter.maxEntries
// for the same idiom applied to a DistinctCounter).
func (t *table) insert(key []byte) (*slot, insertStatus) {
	if s := t.find(key); s != nil {
		return s, statusFound
	}
	if t.count >= t.cap {
		return nil, statusOutOfMemory
	}
	if (t.count+1)*4 >= len(t.slots)*3 && len(t.slots) < t.cap { // 0.75 load factor
		t.grow()
	}
	h := hashKey(key)
	for probe := uint64(0); probe < uint64(len(t.slots)); probe++ {
		idx := (h + probe) & t.mask
		s := &t.slots[idx]
		if !s.used {
			s.used = true
			s.key = append([]byte(nil), key...)
			t.count++
			return s, statusCreated
		}
	}
	return nil, statusOutOfMemory
}

func (t *table) find(key []byte) *slot {
	h := hashKey(key)
	for probe := uint64(0); probe < uint64(len(t.slots)); probe++ {
		idx := (h + probe) & t.mask
		s := &t.slots[idx]
		if !s.used {
			return nil
		}
		if t.cmp(s.key, key) == 0 {
			return s
		}
	}
	return nil
}

func (t *table) grow() {
	old := t.slots
	n := len(old) * 2
	if n > t.cap {
		n = nextPow2(t.cap)
	}
	t.slots = make([]slot, n)
	t.mask = uint64(n - 1)
	t.count = 0
	for i := range old {
		if !old[i].used {
			continue
		}
		h := hashKey(old[i].key)
		for probe := uint64(0); probe < uint64(len(t.slots)); probe++ {
			idx := (h + probe) & t.mask
			if !t.slots[idx].used {
				t.slots[idx] = old[i]
				t.count++
				break
			}
		}
	}
}

// forEach visits every occupied slot in table (insertion-adjacent, not
// guaranteed) order.
func (t *table) forEach(fn func(*slot)) {
	for i := range t.slots {
		if t.slots[i].used {
			fn(&t.slots[i])
		}
	}
}

// sorted returns every occupied slot ordered by cmp applied to the key,
// satisfying the "sort-in-place" requirement before a spill.
func (t *table) sorted(cmp func(a, b []byte) int) []*slot {
	out := make([]*slot, 0, t.count)
	t.forEach(func(s *slot) { out = append(out, s) })
	slices.SortFunc(out, func(a, b *slot) int { return cmp(a.key, b.key) })
	return out
}
