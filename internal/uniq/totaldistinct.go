package uniq

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/entreya/flowagg/internal/diag"
	"github.com/entreya/flowagg/internal/distinct"
	"github.com/entreya/flowagg/internal/engineerr"
)

// totalDistinctRun is one spilled, sorted, deduplicated batch of values
// for the total-distinct side channel. It uses a single flat file rather
// than tempstore's paired main/distinct layout, since there is no key or
// value image here — only a flat sorted sequence of fixed-width values,
// per §4.4's "serialize its current sorted distinct values to its own
// temp-file" description.
type totalDistinctRun struct {
	path  string
	width int
}

func (r totalDistinctRun) discard() { os.Remove(r.path) }

// spillTotalDistinct drains u.totalCtr to a new totalDistinctRun and
// resets the counter, mirroring RandomUniq.spillTable's spill-and-reset
// shape but for the single cross-bin counter.
func (u *RandomUniq) spillTotalDistinct() error {
	width := u.cfg.Distinct[0].Width
	idx := u.tempCtx.NextIndex()
	path := filepath.Join(u.tempCtx.Dir(), fmt.Sprintf("flowagg-total.%06d", idx))

	f, err := os.Create(path)
	if err != nil {
		return engineerr.Wrap(engineerr.ResourceExhausted, "RandomUniq.spillTotalDistinct", "create total-distinct run", err)
	}
	lz := lz4.NewWriter(f)
	bw := bufio.NewWriterSize(lz, 64*1024)

	n := 0
	u.totalCtr.ForEachSorted(func(v []byte) {
		bw.Write(v)
		n++
	})
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := lz.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	diag.Tracef(diag.TagSpill, "total-distinct spill: %d values to %s", n, path)
	u.totalRuns = append(u.totalRuns, totalDistinctRun{path: path, width: width})
	u.totalCtr.Reset()
	return nil
}

// drainTotalDistinct folds any in-memory remainder into one last run (if
// spills already happened) and then streams a k-way merge-unique across
// every run, returning the final count without materializing the merged
// value set — the distinct-value merge of §4.4 step 3, specialized to a
// single cross-bin counter instead of per-bin counters.
func (u *RandomUniq) drainTotalDistinct() (uint64, error) {
	if len(u.totalRuns) == 0 {
		return uint64(u.totalCtr.Count()), nil
	}
	if u.totalCtr.Count() > 0 {
		if err := u.spillTotalDistinct(); err != nil {
			return 0, err
		}
	}

	readers := make([]*totalDistinctReader, 0, len(u.totalRuns))
	for _, r := range u.totalRuns {
		tr, err := openTotalDistinctReader(r)
		if err != nil {
			for _, o := range readers {
				o.close()
			}
			return 0, engineerr.Wrap(engineerr.CorruptTempFile, "RandomUniq.drainTotalDistinct", "open total-distinct run", err)
		}
		readers = append(readers, tr)
	}
	defer func() {
		for _, r := range readers {
			r.close()
		}
	}()

	count, err := distinct.MergeSortedUniqueCount(toValueSources(readers))
	if err != nil {
		return 0, engineerr.Wrap(engineerr.CorruptTempFile, "RandomUniq.drainTotalDistinct", "merge total-distinct runs", err)
	}
	return uint64(count), nil
}

// totalDistinctReader streams one totalDistinctRun's fixed-width values.
type totalDistinctReader struct {
	f     *os.File
	r     *bufio.Reader
	width int
}

func openTotalDistinctReader(run totalDistinctRun) (*totalDistinctReader, error) {
	f, err := os.Open(run.path)
	if err != nil {
		return nil, err
	}
	return &totalDistinctReader{f: f, r: bufio.NewReaderSize(lz4.NewReader(f), 32*1024), width: run.width}, nil
}

func (r *totalDistinctReader) next() ([]byte, error) {
	buf := make([]byte, r.width)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *totalDistinctReader) close() { r.f.Close() }

func toValueSources(readers []*totalDistinctReader) []distinct.ValueSource {
	out := make([]distinct.ValueSource, len(readers))
	for i, r := range readers {
		out[i] = r.next
	}
	return out
}
