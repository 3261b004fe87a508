package uniq

import "github.com/entreya/flowagg/internal/fieldlist"

// RecordStream yields records in ascending key order, per §4.5's contract
// that the caller guarantees presorted input. Next returns io.EOF (via the
// standard library's io.EOF sentinel) once the stream is exhausted.
type RecordStream interface {
	Next() (fieldlist.Record, error)
}

// streamCursor pairs a RecordStream with its most-recently-read record
// and that record's packed key image, so the merge heap can compare keys
// without repacking on every comparison.
type streamCursor struct {
	stream RecordStream
	rec    fieldlist.Record
	key    []byte
	eof    bool
}
