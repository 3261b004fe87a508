package topn_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entreya/flowagg/internal/topn"
	"github.com/entreya/flowagg/internal/uniq"
)

func bin(sumBytes uint64) uniq.Bin {
	v := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		v[i] = byte(sumBytes)
		sumBytes >>= 8
	}
	return uniq.Bin{Value: v}
}

func aggSumBytes(b uniq.Bin) uint64 {
	var v uint64
	for _, x := range b.Value {
		v = v<<8 | uint64(x)
	}
	return v
}

// TestTopAndBottomThreeOverTenBinsIsS6 is Scenario S6: over ten bins with
// distinct sum_bytes values, top-3 and bottom-3 by that field must select
// the correct subsets in the correct preference order.
func TestTopAndBottomThreeOverTenBinsIsS6(t *testing.T) {
	var bins []uniq.Bin
	for i := uint64(1); i <= 10; i++ {
		bins = append(bins, bin(i*100))
	}

	top, err := topn.New(topn.Config{Mode: topn.ModeCount, Direction: topn.Top, K: 3, Aggregate: aggSumBytes})
	require.NoError(t, err)
	for _, b := range bins {
		top.Add(b)
	}
	topResult := top.Finalize()
	require.Len(t, topResult, 3)
	require.Equal(t, []uint64{1000, 900, 800}, []uint64{aggSumBytes(topResult[0]), aggSumBytes(topResult[1]), aggSumBytes(topResult[2])})

	bottom, err := topn.New(topn.Config{Mode: topn.ModeCount, Direction: topn.Bottom, K: 3, Aggregate: aggSumBytes})
	require.NoError(t, err)
	for _, b := range bins {
		bottom.Add(b)
	}
	bottomResult := bottom.Finalize()
	require.Len(t, bottomResult, 3)
	require.Equal(t, []uint64{100, 200, 300}, []uint64{aggSumBytes(bottomResult[0]), aggSumBytes(bottomResult[1]), aggSumBytes(bottomResult[2])})
}

func TestThresholdModeKeepsOnlyQualifyingBins(t *testing.T) {
	sel, err := topn.New(topn.Config{Mode: topn.ModeThreshold, Direction: topn.Top, Threshold: 500, Aggregate: aggSumBytes})
	require.NoError(t, err)
	for i := uint64(1); i <= 10; i++ {
		sel.Add(bin(i * 100))
	}
	result := sel.Finalize()
	require.Len(t, result, 6)
	require.Equal(t, uint64(1000), aggSumBytes(result[0]))
	require.Equal(t, uint64(500), aggSumBytes(result[5]))
}

func TestPercentageModeFiltersByShareOfTotal(t *testing.T) {
	sel, err := topn.New(topn.Config{
		Mode: topn.ModePercentage, Direction: topn.Top, Percentage: 50,
		Aggregate: aggSumBytes, DesignatedSupportsPercentage: true,
	})
	require.NoError(t, err)
	sel.Add(bin(10))
	sel.Add(bin(90))
	result := sel.Finalize()
	require.Len(t, result, 1)
	require.Equal(t, uint64(90), aggSumBytes(result[0]))
}

func TestPercentageModeRejectsPresortedInput(t *testing.T) {
	_, err := topn.New(topn.Config{
		Mode: topn.ModePercentage, PresortedInput: true,
		Aggregate: aggSumBytes, DesignatedSupportsPercentage: true,
	})
	require.Error(t, err)
}

func TestPercentageModeRejectsUnsupportedDesignatedField(t *testing.T) {
	_, err := topn.New(topn.Config{
		Mode: topn.ModePercentage, Aggregate: aggSumBytes, DesignatedSupportsPercentage: false,
	})
	require.Error(t, err)
}

func TestThresholdModeFallsBackToBoundedHeapAtMaxEntries(t *testing.T) {
	sel, err := topn.New(topn.Config{
		Mode: topn.ModeThreshold, Direction: topn.Top, Threshold: 0,
		Aggregate: aggSumBytes, MaxEntries: 3,
	})
	require.NoError(t, err)
	for i := uint64(1); i <= 10; i++ {
		sel.Add(bin(i * 100))
	}
	require.True(t, sel.FellBack())
	result := sel.Finalize()
	require.Len(t, result, 3)
	require.Equal(t, uint64(1000), aggSumBytes(result[0]))
}

func TestCountModeRequiresPositiveK(t *testing.T) {
	_, err := topn.New(topn.Config{Mode: topn.ModeCount, K: 0, Aggregate: aggSumBytes})
	require.Error(t, err)
}
