// Package writer implements the CSV text sink the spec's §6 leaves to
// callers: decoding (key_bytes, value_bytes, distinct_counts_bytes)
// triples into text is explicitly not the core's job, so this package is
// one concrete implementation of that boundary.
//
// Adapted from the teacher's CSV writer (append-only, header-validated
// file output); the file-locking half of that implementation is dropped
// since §5 fixes the core to single-threaded, synchronous operation — a
// Uniquifier's output is already serialized by construction, so there is
// never a concurrent writer to lock against.
package writer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/entreya/flowagg/internal/fieldlist"
	"github.com/entreya/flowagg/internal/fieldtypes"
	"github.com/entreya/flowagg/internal/uniq"
)

// Config configures a CsvWriter.
type Config struct {
	Path      string
	Separator string
}

// CsvWriter decodes uniq.Bin triples into CSV rows, one row per bin.
type CsvWriter struct {
	cfg     Config
	keys    *fieldlist.FieldList
	values  *fieldlist.FieldList
	distinc []fieldtypes.ID
}

// New creates a CsvWriter that decodes bins produced against the given
// key/value FieldLists and distinct field identifiers, in the same order
// those were configured on the Uniquifier.
func New(cfg Config, keys, values *fieldlist.FieldList, distinct []fieldtypes.ID) *CsvWriter {
	if cfg.Separator == "" {
		cfg.Separator = ","
	}
	return &CsvWriter{cfg: cfg, keys: keys, values: values, distinc: distinct}
}

func (w *CsvWriter) headers() []string {
	var h []string
	for _, e := range w.keys.Entries() {
		h = append(h, e.ID.String())
	}
	for _, e := range w.values.Entries() {
		h = append(h, e.ID.String())
	}
	for _, id := range w.distinc {
		h = append(h, "distinct_"+id.String())
	}
	return h
}

// WriteAll truncates the output file and writes a header row followed by
// one row per bin.
func (w *CsvWriter) WriteAll(bins []uniq.Bin) error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("writer: create output directory: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("writer: open output file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	cw.Comma = rune(w.cfg.Separator[0])

	headers := w.headers()
	if err := cw.Write(headers); err != nil {
		return err
	}

	for _, b := range bins {
		row := w.row(b)
		if len(row) != len(headers) {
			return fmt.Errorf("writer: row width %d does not match header width %d", len(row), len(headers))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *CsvWriter) row(b uniq.Bin) []string {
	var row []string
	for _, e := range w.keys.Entries() {
		row = append(row, formatField(e, b.Key))
	}
	for _, e := range w.values.Entries() {
		row = append(row, formatField(e, b.Value))
	}
	for i := range w.distinc {
		if i < len(b.DistinctCounts) {
			row = append(row, fmt.Sprintf("%d", b.DistinctCounts[i]))
		} else {
			row = append(row, "0")
		}
	}
	return row
}

func formatField(e fieldlist.Entry, buf []byte) string {
	field := buf[e.Handle.Offset : e.Handle.Offset+e.Handle.Width]
	if e.Handle.Width == 16 {
		return fmt.Sprintf("%x", field)
	}
	var v uint64
	for _, b := range field {
		v = v<<8 | uint64(b)
	}
	return fmt.Sprintf("%d", v)
}
