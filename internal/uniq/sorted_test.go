package uniq_test

import (
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entreya/flowagg/internal/fieldlist"
	"github.com/entreya/flowagg/internal/fieldtypes"
	"github.com/entreya/flowagg/internal/flow"
	"github.com/entreya/flowagg/internal/uniq"
)

// sliceStream is a uniq.RecordStream backed by a presorted in-memory slice.
type sliceStream struct {
	recs []flow.Record
	pos  int
}

func (s *sliceStream) Next() (fieldlist.Record, error) {
	if s.pos >= len(s.recs) {
		return nil, io.EOF
	}
	r := s.recs[s.pos]
	s.pos++
	return r, nil
}

func drainSorted(t *testing.T, u *uniq.SortedUniq) []uniq.Bin {
	t.Helper()
	it, err := u.Iter()
	require.NoError(t, err)
	var out []uniq.Bin
	for {
		b, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

// TestSortedUniqMatchesRandomUniqOutputIsS5 is Scenario S5: aggregating
// the same records sorted-by-key through SortedUniq must produce the same
// bins, in the same order, as RandomUniq(sort_output=true) over the
// unsorted input.
func TestSortedUniqMatchesRandomUniqOutputIsS5(t *testing.T) {
	recs := []flow.Record{
		{SrcAddr: flow.IPv4(10, 0, 0, 2), SumBytes: 200, SumPackets: 2},
		{SrcAddr: flow.IPv4(10, 0, 0, 1), SumBytes: 100, SumPackets: 1},
		{SrcAddr: flow.IPv4(10, 0, 0, 1), SumBytes: 50, SumPackets: 1},
	}

	randCfg := newBasicConfig(t, 0)
	randCfg.SortOutput = true
	ru, err := uniq.New(randCfg)
	require.NoError(t, err)
	defer ru.Teardown()
	for _, r := range recs {
		require.NoError(t, ru.Add(r))
	}
	require.NoError(t, ru.PrepareForOutput())
	randBins := drain(t, ru)

	sortedRecs := append([]flow.Record(nil), recs...)
	sort.SliceStable(sortedRecs, func(i, j int) bool {
		return beAddr(sortedRecs[i].SrcAddr) < beAddr(sortedRecs[j].SrcAddr)
	})

	sortCfg := newBasicConfig(t, 0)
	su, err := uniq.NewSorted(sortCfg)
	require.NoError(t, err)
	defer su.Teardown()
	require.NoError(t, su.Merge([]uniq.RecordStream{&sliceStream{recs: sortedRecs}}))
	require.NoError(t, su.PrepareForOutput())
	sortedBins := drainSorted(t, su)

	require.Equal(t, len(randBins), len(sortedBins))
	for i := range randBins {
		require.True(t, string(randBins[i].Key) == string(sortedBins[i].Key))
		require.True(t, string(randBins[i].Value) == string(sortedBins[i].Value))
	}
}

func TestSortedUniqMergesMultiplePresortedStreams(t *testing.T) {
	cfg := newBasicConfig(t, 0)
	u, err := uniq.NewSorted(cfg)
	require.NoError(t, err)
	defer u.Teardown()

	s1 := &sliceStream{recs: []flow.Record{
		{SrcAddr: flow.IPv4(10, 0, 0, 1), SumBytes: 10},
		{SrcAddr: flow.IPv4(10, 0, 0, 3), SumBytes: 30},
	}}
	s2 := &sliceStream{recs: []flow.Record{
		{SrcAddr: flow.IPv4(10, 0, 0, 1), SumBytes: 5},
		{SrcAddr: flow.IPv4(10, 0, 0, 2), SumBytes: 20},
	}}

	require.NoError(t, u.Merge([]uniq.RecordStream{s1, s2}))
	require.NoError(t, u.PrepareForOutput())
	bins := drainSorted(t, u)

	require.Len(t, bins, 3)
	require.Equal(t, uint64(15), beUint(bins[0].Value[:8]))
	require.Equal(t, uint64(20), beUint(bins[1].Value[:8]))
	require.Equal(t, uint64(30), beUint(bins[2].Value[:8]))
}

func beAddr(a [16]byte) uint64 {
	var v uint64
	for _, b := range a {
		v = v<<8 | uint64(b)
	}
	return v
}
