package distinct_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entreya/flowagg/internal/distinct"
)

func sourceFrom(values [][]byte) distinct.ValueSource {
	i := 0
	return func() ([]byte, error) {
		if i >= len(values) {
			return nil, io.EOF
		}
		v := values[i]
		i++
		return v, nil
	}
}

func TestMergeSortedUniqueCountDedupesAcrossSources(t *testing.T) {
	a := sourceFrom([][]byte{{1}, {3}, {5}})
	b := sourceFrom([][]byte{{2}, {3}, {4}})
	count, err := distinct.MergeSortedUniqueCount([]distinct.ValueSource{a, b})
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func TestMergeSortedUniqueCountHandlesEmptySources(t *testing.T) {
	a := sourceFrom(nil)
	b := sourceFrom([][]byte{{1}})
	count, err := distinct.MergeSortedUniqueCount([]distinct.ValueSource{a, b})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMergeSortedUniqueCountOfNoSourcesIsZero(t *testing.T) {
	count, err := distinct.MergeSortedUniqueCount(nil)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestMergeSortedUniqueCountPropagatesNonEOFErrorFromInitialFill(t *testing.T) {
	boom := errors.New("disk read failed")
	bad := distinct.ValueSource(func() ([]byte, error) { return nil, boom })
	good := sourceFrom([][]byte{{1}})

	_, err := distinct.MergeSortedUniqueCount([]distinct.ValueSource{bad, good})
	require.ErrorIs(t, err, boom)
}

func TestMergeSortedUniqueCountPropagatesNonEOFErrorMidMerge(t *testing.T) {
	boom := errors.New("truncated run")
	calls := 0
	flaky := distinct.ValueSource(func() ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte{9}, nil
		}
		return nil, boom
	})
	good := sourceFrom([][]byte{{1}, {2}})

	_, err := distinct.MergeSortedUniqueCount([]distinct.ValueSource{flaky, good})
	require.ErrorIs(t, err, boom)
}
