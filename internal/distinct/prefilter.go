package distinct

import "hash/crc32"

// prefilter is a fast-reject membership cache sitting in front of a
// hashSet's bucket probe. It can answer "definitely new" in O(1) without
// touching a bucket at all; a "maybe present" answer still falls through
// to the real probe. It never participates in Count — the hashSet buckets
// remain the sole source of truth, so false positives cost a wasted probe,
// never a wrong answer. Non-goals explicitly exclude approximate
// cardinality, so this stays an accelerator, not a counter.
//
// Adapted from internal/common/bloom.go's double-hashing construction
// (crc32 of the key, crc32 of the reversed key as the second hash), with
// the disk serialization half of that file dropped: a prefilter lives and
// dies with its hashSet, never persisted.
type prefilter struct {
	bits []byte
	size int
}

func newPrefilter(expected int) *prefilter {
	// m ~ 9.6n bits gives ~1% false positive rate; rounded up to a
	// byte boundary and floored so small counters don't pay for a
	// filter bigger than the set they're guarding.
	m := expected * 10
	if m < 512 {
		m = 512
	}
	m = ((m + 7) / 8) * 8
	return &prefilter{bits: make([]byte, m/8), size: m}
}

func (p *prefilter) positions(value []byte) (uint32, uint32) {
	h1 := crc32.ChecksumIEEE(value)
	var buf [256]byte
	rev := appendReversed(buf[:0], value)
	h2 := crc32.ChecksumIEEE(rev)
	return h1, h2
}

func (p *prefilter) add(value []byte) {
	h1, h2 := p.positions(value)
	for i := 0; i < 4; i++ {
		pos := (h1 + uint32(i)*h2) % uint32(p.size)
		p.bits[pos/8] |= 1 << (pos % 8)
	}
}

func (p *prefilter) mightContain(value []byte) bool {
	h1, h2 := p.positions(value)
	for i := 0; i < 4; i++ {
		pos := (h1 + uint32(i)*h2) % uint32(p.size)
		if p.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

func appendReversed(dst, s []byte) []byte {
	start := len(dst)
	dst = append(dst, s...)
	for i, j := start, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
	return dst
}
