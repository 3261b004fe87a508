package tempstore_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entreya/flowagg/internal/tempstore"
)

func cmpKey(a, b []byte) int { return bytes.Compare(a, b) }

// mergeSum treats Value as one big-endian uint64 additive counter.
func mergeSum(acc, src []byte) bool {
	var a, s uint64
	for _, c := range acc {
		a = a<<8 | uint64(c)
	}
	for _, c := range src {
		s = s<<8 | uint64(c)
	}
	sum := a + s
	for i := len(acc) - 1; i >= 0; i-- {
		acc[i] = byte(sum)
		sum >>= 8
	}
	return false
}

func writeRun(t *testing.T, ctx *tempstore.Context, layout tempstore.Layout, bins []tempstore.Bin) tempstore.Run {
	t.Helper()
	w, err := tempstore.NewWriter(ctx, layout, ctx.NextIndex())
	require.NoError(t, err)
	for _, b := range bins {
		require.NoError(t, w.WriteBin(b))
	}
	run, err := w.Close()
	require.NoError(t, err)
	return run
}

func TestMergeRunsCombinesOverlappingKeysAdditively(t *testing.T) {
	ctx, err := tempstore.NewContext(t.TempDir())
	require.NoError(t, err)
	layout := tempstore.Layout{KeyWidth: 4, ValueWidth: 4}

	runA := writeRun(t, ctx, layout, []tempstore.Bin{
		{Key: u64(1), Value: u64(10)},
		{Key: u64(3), Value: u64(30)},
	})
	runB := writeRun(t, ctx, layout, []tempstore.Bin{
		{Key: u64(1), Value: u64(5)},
		{Key: u64(2), Value: u64(20)},
	})

	var got []tempstore.Bin
	err = tempstore.MergeRuns(ctx, layout, cmpKey, mergeSum, []tempstore.Run{runA, runB}, 8, func(b tempstore.Bin) error {
		got = append(got, tempstore.Bin{Key: append([]byte(nil), b.Key...), Value: append([]byte(nil), b.Value...)})
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.True(t, bytes.Equal(got[0].Key, u64(1)))
	require.True(t, bytes.Equal(got[0].Value, u64(15)))
	require.True(t, bytes.Equal(got[1].Key, u64(2)))
	require.True(t, bytes.Equal(got[2].Key, u64(3)))
}

// TestMergeRunsCascadesWhenFanInIsExceeded checks the generations loop:
// with a fan-in limit smaller than the run count, the merge must still
// produce the fully-merged, ascending, deduplicated stream.
func TestMergeRunsCascadesWhenFanInIsExceeded(t *testing.T) {
	ctx, err := tempstore.NewContext(t.TempDir())
	require.NoError(t, err)
	layout := tempstore.Layout{KeyWidth: 4, ValueWidth: 4}

	var runs []tempstore.Run
	for i := 0; i < 9; i++ {
		runs = append(runs, writeRun(t, ctx, layout, []tempstore.Bin{
			{Key: u64(uint64(i % 4)), Value: u64(1)},
		}))
	}

	var got []tempstore.Bin
	err = tempstore.MergeRuns(ctx, layout, cmpKey, mergeSum, runs, 3, func(b tempstore.Bin) error {
		got = append(got, tempstore.Bin{Key: append([]byte(nil), b.Key...), Value: append([]byte(nil), b.Value...)})
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 4)
	for i, b := range got {
		require.True(t, bytes.Equal(b.Key, u64(uint64(i))))
	}
	// key 0 appears 3 times, keys 1-3 twice (i%4 over 0..8: 0,1,2,3,0,1,2,3,0)
	require.True(t, bytes.Equal(got[0].Value, u64(3)))
	require.True(t, bytes.Equal(got[1].Value, u64(2)))
	require.True(t, bytes.Equal(got[2].Value, u64(2)))
	require.True(t, bytes.Equal(got[3].Value, u64(2)))
}

func TestMergeRunsDedupesDistinctValuesAcrossRuns(t *testing.T) {
	ctx, err := tempstore.NewContext(t.TempDir())
	require.NoError(t, err)
	layout := tempstore.Layout{KeyWidth: 4, ValueWidth: 4, DistinctWidths: []int{4}}

	runA := writeRun(t, ctx, layout, []tempstore.Bin{
		{Key: u64(1), Value: u64(0), DistinctCounts: []uint64{2}, DistinctValues: [][][]byte{{u64(1), u64(3)}}},
	})
	runB := writeRun(t, ctx, layout, []tempstore.Bin{
		{Key: u64(1), Value: u64(0), DistinctCounts: []uint64{2}, DistinctValues: [][][]byte{{u64(2), u64(3)}}},
	})

	var got tempstore.Bin
	err = tempstore.MergeRuns(ctx, layout, cmpKey, mergeSum, []tempstore.Run{runA, runB}, 8, func(b tempstore.Bin) error {
		got = b
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.DistinctCounts[0])
	require.Equal(t, [][]byte{u64(1), u64(2), u64(3)}, got.DistinctValues[0])
}

func TestSortBinsOrdersByKey(t *testing.T) {
	bins := []tempstore.Bin{
		{Key: u64(3)}, {Key: u64(1)}, {Key: u64(2)},
	}
	tempstore.SortBins(bins, cmpKey)
	require.True(t, bytes.Equal(bins[0].Key, u64(1)))
	require.True(t, bytes.Equal(bins[1].Key, u64(2)))
	require.True(t, bytes.Equal(bins[2].Key, u64(3)))
}
