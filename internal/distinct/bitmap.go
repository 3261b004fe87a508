package distinct

import "github.com/bits-and-blooms/bitset"

// bitmapSet is the Bitmap representation: one bit per possible byte value
// of a 1-octet field. Backed by github.com/bits-and-blooms/bitset rather
// than a hand-rolled [32]byte, the way PriyanshuSharma23-FlashLog and the
// kwertop-gostatix manifest both reach for that package for exact
// small-universe membership instead of rolling their own word-packed
// arrays.
type bitmapSet struct {
	bits *bitset.BitSet
}

func newBitmapSet() *bitmapSet {
	return &bitmapSet{bits: bitset.New(256)}
}

func (b *bitmapSet) contains(v byte) bool {
	return b.bits.Test(uint(v))
}

func (b *bitmapSet) add(v byte) {
	b.bits.Set(uint(v))
}

func (b *bitmapSet) forEachSorted(fn func(value []byte)) {
	for i, e := b.bits.NextSet(0); e; i, e = b.bits.NextSet(i + 1) {
		fn([]byte{byte(i)})
	}
}
