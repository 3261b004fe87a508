// Package schema loads a declarative JSON description of a Uniquifier's
// key/value/distinct field configuration, so callers can describe an
// aggregation without hand-writing FieldList.AddField calls.
//
// Adapted from the teacher's schema.Load/Save (a JSON sidecar file
// tracking virtual-column metadata for a CSV): the persistence shape
// survives — load a small JSON document describing field declarations —
// but the content changes from ad hoc virtual columns to the closed
// fieldtypes.ID catalog, and Save is dropped since a schema here is an
// input to configuration, never state the engine itself produces.
package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/entreya/flowagg/internal/engineerr"
	"github.com/entreya/flowagg/internal/fieldlist"
	"github.com/entreya/flowagg/internal/fieldtypes"
	"github.com/entreya/flowagg/internal/uniq"
)

// FieldDecl names one field by its catalog name (fieldtypes.ID.String()).
type FieldDecl struct {
	Field string `json:"field"`
	Width int    `json:"width,omitempty"` // only meaningful for plugin fields, unsupported here
}

// Schema is the JSON-decoded shape of a Uniquifier configuration.
type Schema struct {
	Key      []FieldDecl `json:"key"`
	Value    []FieldDecl `json:"value"`
	Distinct []FieldDecl `json:"distinct"`

	SortOutput           bool   `json:"sort_output"`
	TempDir              string `json:"temp_dir"`
	TotalDistinctEnabled bool   `json:"total_distinct_enabled"`
	InitialCapacity      int    `json:"initial_capacity"`
}

var byName = func() map[string]fieldtypes.ID {
	m := make(map[string]fieldtypes.ID)
	all := []fieldtypes.ID{
		fieldtypes.SrcAddr, fieldtypes.DstAddr, fieldtypes.SrcPort, fieldtypes.DstPort,
		fieldtypes.Protocol, fieldtypes.SrcAS, fieldtypes.DstAS, fieldtypes.Input, fieldtypes.Output,
		fieldtypes.TCPFlags, fieldtypes.ApplicationID, fieldtypes.SumBytes, fieldtypes.SumPackets,
		fieldtypes.RecordCount, fieldtypes.FirstSeenMsec, fieldtypes.LastSeenMsec,
		fieldtypes.SumElapsedSeconds, fieldtypes.SumElapsedMsec, fieldtypes.BytesPerPacket,
	}
	for _, id := range all {
		m[id.String()] = id
	}
	return m
}()

// Load reads and parses a schema document from path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", path, err)
	}
	return &s, nil
}

// Build compiles the schema into a uniq.Config, resolving every field name
// against the closed catalog. Unknown field names or catalog lookups that
// fail fieldtypes.Allowed surface as InvalidConfiguration, the same kind
// FieldList.AddField itself reports.
func (s *Schema) Build() (uniq.Config, error) {
	const op = "schema.Build"
	keys := fieldlist.New(fieldtypes.RoleKey)
	values := fieldlist.New(fieldtypes.RoleValue)

	for _, d := range s.Key {
		id, ok := byName[d.Field]
		if !ok {
			return uniq.Config{}, engineerr.New(engineerr.InvalidConfiguration, op, "unknown key field: "+d.Field)
		}
		if _, err := keys.AddField(id, nil); err != nil {
			return uniq.Config{}, engineerr.Wrap(engineerr.InvalidConfiguration, op, "add key field", err)
		}
	}
	for _, d := range s.Value {
		id, ok := byName[d.Field]
		if !ok {
			return uniq.Config{}, engineerr.New(engineerr.InvalidConfiguration, op, "unknown value field: "+d.Field)
		}
		if _, err := values.AddField(id, nil); err != nil {
			return uniq.Config{}, engineerr.Wrap(engineerr.InvalidConfiguration, op, "add value field", err)
		}
	}

	var distinct []uniq.DistinctSpec
	for _, d := range s.Distinct {
		id, ok := byName[d.Field]
		if !ok {
			return uniq.Config{}, engineerr.New(engineerr.InvalidConfiguration, op, "unknown distinct field: "+d.Field)
		}
		if !fieldtypes.Allowed(fieldtypes.RoleDistinct, id) {
			return uniq.Config{}, engineerr.New(engineerr.InvalidConfiguration, op, "field not allowed as distinct: "+d.Field)
		}
		distinct = append(distinct, uniq.DistinctSpec{ID: id, Width: fieldtypes.Describe(id).Width})
	}

	return uniq.Config{
		Keys:                 keys,
		Values:               values,
		Distinct:             distinct,
		SortOutput:           s.SortOutput,
		TempDir:              s.TempDir,
		TotalDistinctEnabled: s.TotalDistinctEnabled,
		InitialCapacity:      s.InitialCapacity,
	}, nil
}
