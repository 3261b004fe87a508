package schema_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entreya/flowagg/internal/schema"
)

const doc = `{
	"key": [{"field": "src_addr"}],
	"value": [{"field": "sum_bytes"}, {"field": "sum_packets"}],
	"distinct": [{"field": "dst_addr"}],
	"sort_output": true,
	"total_distinct_enabled": true,
	"initial_capacity": 64
}`

func TestLoadAndBuildResolvesFieldNamesAgainstCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := schema.Load(path)
	require.NoError(t, err)

	cfg, err := s.Build()
	require.NoError(t, err)
	require.Len(t, cfg.Keys.Entries(), 1)
	require.Len(t, cfg.Values.Entries(), 2)
	require.Len(t, cfg.Distinct, 1)
	require.True(t, cfg.SortOutput)
	require.True(t, cfg.TotalDistinctEnabled)
	require.Equal(t, 64, cfg.InitialCapacity)
}

func TestBuildRejectsUnknownFieldName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"key":[{"field":"not_a_real_field"}]}`), 0o644))

	s, err := schema.Load(path)
	require.NoError(t, err)
	_, err = s.Build()
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := schema.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
