package distinct

import (
	"bytes"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// bucket is the fan-out unit: 8 neighbouring sub-keys packed into one
// bucket so a single cache line covers the common case, per §4.2's "8
// neighbouring sub-keys packed per slot" description. occupied is a
// bitmask over the 8 sub-slots (low 3 bits of the hash select the
// preferred sub-slot, hence "low 3 bits ... encoded into a bitmask").
type bucket struct {
	occupied uint8
	values   [8][]byte
}

// hashSet is the HashSet representation: open addressing over buckets of
// 8 sub-slots, keyed by a strong 64-bit hash. xxhash replaces the
// teacher's crc32 double-hashing scheme (internal/common/bloom.go) because
// this structure needs a single well-distributed hash, not two cheap ones
// for independent bit positions. A prefilter sits in front of every
// insert so a "definitely new" value skips straight to slot placement
// without an equality scan.
type hashSet struct {
	width   int
	buckets []bucket
	mask    uint64 // len(buckets)-1, buckets always a power of two
	count   int
	pf      *prefilter
}

const initialBuckets = 64

func newHashSet(width int) *hashSet {
	return &hashSet{
		width:   width,
		buckets: make([]bucket, initialBuckets),
		mask:    uint64(initialBuckets - 1),
		pf:      newPrefilter(initialBuckets * 8),
	}
}

func hashValue(value []byte) uint64 {
	return xxhash.Sum64(value)
}

// insert returns (added, ok). ok is always true here: growth is
// unconditional (doubling), since the Counter layer is what enforces the
// caller's memory budget and reports OutOfMemory before ever reaching an
// unbounded hashSet.insert.
func (h *hashSet) insert(value []byte) (added bool, ok bool) {
	if h.count*4 >= len(h.buckets)*8*3 { // load factor ~0.75
		h.grow()
	}

	skipEquality := !h.pf.mightContain(value)
	hv := hashValue(value)
	bi := hv & h.mask
	preferred := uint8(hv & 7)

	for probe := uint64(0); probe < uint64(len(h.buckets)); probe++ {
		idx := (bi + probe) & h.mask
		b := &h.buckets[idx]

		if !skipEquality {
			for off := uint8(0); off < 8; off++ {
				slot := (preferred + off) % 8
				bit := uint8(1) << slot
				if b.occupied&bit == 0 {
					continue
				}
				if bytes.Equal(b.values[slot], value) {
					return false, true
				}
			}
		}
		if b.occupied != 0xff {
			for off := uint8(0); off < 8; off++ {
				slot := (preferred + off) % 8
				bit := uint8(1) << slot
				if b.occupied&bit == 0 {
					b.values[slot] = append([]byte(nil), value...)
					b.occupied |= bit
					h.count++
					h.pf.add(value)
					return true, true
				}
			}
		}
	}
	// Every bucket full after a full probe cycle: grow and retry once.
	h.grow()
	return h.insert(value)
}

func (h *hashSet) contains(value []byte) bool {
	if !h.pf.mightContain(value) {
		return false
	}
	hv := hashValue(value)
	bi := hv & h.mask
	for probe := uint64(0); probe < uint64(len(h.buckets)); probe++ {
		idx := (bi + probe) & h.mask
		b := &h.buckets[idx]
		for slot := uint8(0); slot < 8; slot++ {
			if b.occupied&(1<<slot) == 0 {
				continue
			}
			if bytes.Equal(b.values[slot], value) {
				return true
			}
		}
		if b.occupied == 0 {
			return false
		}
	}
	return false
}

func (h *hashSet) grow() {
	old := h.buckets
	h.buckets = make([]bucket, len(old)*2)
	h.mask = uint64(len(h.buckets) - 1)
	h.count = 0
	h.pf = newPrefilter(len(h.buckets) * 8)
	for i := range old {
		b := &old[i]
		for slot := uint8(0); slot < 8; slot++ {
			if b.occupied&(1<<slot) != 0 {
				h.insert(b.values[slot])
			}
		}
	}
}

// forEachSorted collects every member, sorts it, and emits in ascending
// order. This is the one place the HashSet pays an O(n log n) cost, and
// only at flush/output time, never on the insert hot path.
func (h *hashSet) forEachSorted(fn func(value []byte)) {
	all := make([][]byte, 0, h.count)
	for i := range h.buckets {
		b := &h.buckets[i]
		for slot := uint8(0); slot < 8; slot++ {
			if b.occupied&(1<<slot) != 0 {
				all = append(all, b.values[slot])
			}
		}
	}
	slices.SortFunc(all, bytes.Compare)
	for _, v := range all {
		fn(v)
	}
}
