package writer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entreya/flowagg/internal/fieldlist"
	"github.com/entreya/flowagg/internal/fieldtypes"
	"github.com/entreya/flowagg/internal/flow"
	"github.com/entreya/flowagg/internal/uniq"
	"github.com/entreya/flowagg/internal/writer"
)

func TestWriteAllProducesHeaderAndOneRowPerBin(t *testing.T) {
	keys := fieldlist.New(fieldtypes.RoleKey)
	_, err := keys.AddField(fieldtypes.SrcAddr, nil)
	require.NoError(t, err)
	values := fieldlist.New(fieldtypes.RoleValue)
	_, err = values.AddField(fieldtypes.SumBytes, nil)
	require.NoError(t, err)

	keyBuf := keys.NewBuffer()
	keys.Pack(flow.Record{SrcAddr: flow.IPv4(10, 0, 0, 1)}, keyBuf)
	valBuf := values.NewBuffer()
	values.Initialize(valBuf)
	srcBuf := values.NewBuffer()
	values.Pack(flow.Record{SumBytes: 1234}, srcBuf)
	values.Merge(valBuf, srcBuf)

	bins := []uniq.Bin{
		{Key: keyBuf, Value: valBuf, DistinctCounts: []uint64{7}},
	}

	out := filepath.Join(t.TempDir(), "out.csv")
	w := writer.New(writer.Config{Path: out}, keys, values, []fieldtypes.ID{fieldtypes.DstAddr})
	require.NoError(t, w.WriteAll(bins))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "src_addr")
	require.Contains(t, content, "sum_bytes")
	require.Contains(t, content, "distinct_dst_addr")
	require.Contains(t, content, "1234")
	require.Contains(t, content, "7")
}
