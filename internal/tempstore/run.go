package tempstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
)

// Bin is one (key, value, distinct-values) triple as read from or written
// to a Run. DistinctValues[i] holds DistinctCounts[i] raw, width-fixed,
// ascending-sorted values for the i-th configured distinct field.
type Bin struct {
	Key            []byte
	Value          []byte
	DistinctCounts []uint64
	DistinctValues [][][]byte
}

// Layout fixes the fixed-width shape every Run in one Uniquifier instance
// shares: key/value buffer widths (from the key/value FieldLists) and the
// octet width of each configured distinct field, in declaration order.
type Layout struct {
	KeyWidth        int
	ValueWidth      int
	DistinctWidths  []int
}

// Run names the pair of files backing one spilled, sorted set of bins (or
// the single main file when no distinct fields are configured). Grouping
// the pair in one object is the spec's Design Notes fix for the file-pair
// invariant: index adjacency is an implementation detail of Context, never
// something a caller has to reconstruct.
type Run struct {
	Index        int
	MainPath     string
	DistinctPath string // "" iff no distinct fields configured
}

// Writer appends Bins to a Run's files in ascending key order. The caller
// is responsible for presenting bins already sorted; Writer only encodes.
type Writer struct {
	layout Layout
	run    Run

	mainFile *os.File
	mainLZ   *lz4.Writer
	mainBuf  *bufio.Writer

	distFile *os.File
	distLZ   *lz4.Writer
	distBuf  *bufio.Writer
}

// NewWriter opens (creating) the files for a new Run at the given index.
func NewWriter(ctx *Context, layout Layout, index int) (*Writer, error) {
	run := Run{Index: index, MainPath: ctx.mainPath(index)}
	mf, err := os.Create(run.MainPath)
	if err != nil {
		return nil, fmt.Errorf("tempstore: create main run file: %w", err)
	}
	mlz := lz4.NewWriter(mf)
	w := &Writer{
		layout:   layout,
		run:      run,
		mainFile: mf,
		mainLZ:   mlz,
		mainBuf:  bufio.NewWriterSize(mlz, 256*1024),
	}

	if len(layout.DistinctWidths) > 0 {
		run.DistinctPath = ctx.distinctPath(index)
		df, err := os.Create(run.DistinctPath)
		if err != nil {
			mf.Close()
			return nil, fmt.Errorf("tempstore: create distinct run file: %w", err)
		}
		dlz := lz4.NewWriter(df)
		w.distFile = df
		w.distLZ = dlz
		w.distBuf = bufio.NewWriterSize(dlz, 256*1024)
		w.run = run
	}
	return w, nil
}

// Run returns the Run this Writer is producing. Valid any time after
// construction; paths are fixed up front.
func (w *Writer) Run() Run { return w.run }

// WriteBin appends one bin. Keys must be strictly ascending across calls
// (callers sort before spilling); Writer does not re-validate this.
func (w *Writer) WriteBin(b Bin) error {
	if _, err := w.mainBuf.Write(b.Key); err != nil {
		return err
	}
	if _, err := w.mainBuf.Write(b.Value); err != nil {
		return err
	}
	var countBuf [8]byte
	for _, c := range b.DistinctCounts {
		binary.NativeEndian.PutUint64(countBuf[:], c)
		if _, err := w.mainBuf.Write(countBuf[:]); err != nil {
			return err
		}
	}

	for _, values := range b.DistinctValues {
		for _, v := range values {
			if _, err := w.distBuf.Write(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes and closes both files, returning the finished Run.
func (w *Writer) Close() (Run, error) {
	if err := w.mainBuf.Flush(); err != nil {
		return Run{}, err
	}
	if err := w.mainLZ.Close(); err != nil {
		return Run{}, err
	}
	if err := w.mainFile.Close(); err != nil {
		return Run{}, err
	}
	if w.distFile != nil {
		if err := w.distBuf.Flush(); err != nil {
			return Run{}, err
		}
		if err := w.distLZ.Close(); err != nil {
			return Run{}, err
		}
		if err := w.distFile.Close(); err != nil {
			return Run{}, err
		}
	}
	return w.run, nil
}

// Discard deletes a Run's files; it does not require a prior successful
// Close and holds no file handles to close.
func (r Run) Discard() {
	os.Remove(r.MainPath)
	if r.DistinctPath != "" {
		os.Remove(r.DistinctPath)
	}
}

// Reader streams Bins back out of a Run in the order they were written.
type Reader struct {
	layout Layout

	mainFile *os.File
	mainR    *bufio.Reader

	distFile *os.File
	distR    *bufio.Reader
}

// Open opens a Run for sequential reading.
func Open(run Run, layout Layout) (*Reader, error) {
	mf, err := os.Open(run.MainPath)
	if err != nil {
		return nil, fmt.Errorf("tempstore: open main run file: %w", err)
	}
	r := &Reader{
		layout:   layout,
		mainFile: mf,
		mainR:    bufio.NewReaderSize(lz4.NewReader(mf), 64*1024),
	}
	if run.DistinctPath != "" {
		df, err := os.Open(run.DistinctPath)
		if err != nil {
			mf.Close()
			return nil, fmt.Errorf("tempstore: open distinct run file: %w", err)
		}
		r.distFile = df
		r.distR = bufio.NewReaderSize(lz4.NewReader(df), 64*1024)
	}
	return r, nil
}

// ReadBin reads the next bin, returning io.EOF when the run is exhausted.
func (r *Reader) ReadBin() (Bin, error) {
	key := make([]byte, r.layout.KeyWidth)
	if _, err := io.ReadFull(r.mainR, key); err != nil {
		return Bin{}, err
	}
	value := make([]byte, r.layout.ValueWidth)
	if _, err := io.ReadFull(r.mainR, value); err != nil {
		return Bin{}, fmt.Errorf("tempstore: short read on value after key: %w", err)
	}

	counts := make([]uint64, len(r.layout.DistinctWidths))
	var countBuf [8]byte
	for i := range counts {
		if _, err := io.ReadFull(r.mainR, countBuf[:]); err != nil {
			return Bin{}, fmt.Errorf("tempstore: short read on distinct count: %w", err)
		}
		counts[i] = binary.NativeEndian.Uint64(countBuf[:])
	}

	values := make([][][]byte, len(r.layout.DistinctWidths))
	for i, width := range r.layout.DistinctWidths {
		vs := make([][]byte, counts[i])
		for j := range vs {
			v := make([]byte, width)
			if _, err := io.ReadFull(r.distR, v); err != nil {
				return Bin{}, fmt.Errorf("tempstore: short read on distinct value: %w", err)
			}
			vs[j] = v
		}
		values[i] = vs
	}

	return Bin{Key: key, Value: value, DistinctCounts: counts, DistinctValues: values}, nil
}

// Close releases both file handles.
func (r *Reader) Close() error {
	var err error
	if r.mainFile != nil {
		err = r.mainFile.Close()
	}
	if r.distFile != nil {
		if derr := r.distFile.Close(); err == nil {
			err = derr
		}
	}
	return err
}
