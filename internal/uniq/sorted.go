package uniq

import (
	"errors"
	"io"

	"github.com/entreya/flowagg/internal/diag"
	"github.com/entreya/flowagg/internal/distinct"
	"github.com/entreya/flowagg/internal/engineerr"
	"github.com/entreya/flowagg/internal/fieldlist"
	"github.com/entreya/flowagg/internal/tempstore"
)

// SortedUniq aggregates N input streams already sorted by the key
// FieldList's compare, per §4.5. Every completed bin — whether or not a
// mid-bin distinct-counter allocation failure forced an early flush — is
// written through the same tempstore.Run/MergeRuns machinery RandomUniq
// uses for its spills: this keeps per-run key uniqueness trivially true
// (a mid-bin flush simply starts a new run) and lets one cascading merge
// pass produce the final globally ordered, duplicate-key-aware output,
// rather than maintaining two separate "direct to sink" and "via temp
// run" code paths.
type SortedUniq struct {
	cfg    Config
	layout tempstore.Layout

	tempCtx   *tempstore.Context
	runs      []tempstore.Run
	prepared  bool
	finalBins []Bin
}

// NewSorted validates cfg and constructs a SortedUniq.
func NewSorted(cfg Config) (*SortedUniq, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.normalize()
	ctx, err := tempstore.NewContext(cfg.TempDir)
	if err != nil {
		return nil, err
	}
	return &SortedUniq{
		cfg: cfg,
		layout: tempstore.Layout{
			KeyWidth:       cfg.Keys.Width(),
			ValueWidth:     cfg.Values.Width(),
			DistinctWidths: distinctWidths(cfg.Distinct),
		},
		tempCtx: ctx,
	}, nil
}

// Merge consumes every stream to completion. When more streams are
// supplied than the fan-in limit, they are processed in MaxMergeFiles-
// sized batches — each batch can only ever have that many readers open
// at once — and every batch's output runs are combined in the later
// cascading merge PrepareForOutput performs.
func (u *SortedUniq) Merge(streams []RecordStream) error {
	const op = "SortedUniq.Merge"
	if u.prepared {
		return engineerr.New(engineerr.InvalidConfiguration, op, "Merge called after PrepareForOutput")
	}
	for start := 0; start < len(streams); start += u.cfg.MaxMergeFiles {
		end := min(start+u.cfg.MaxMergeFiles, len(streams))
		runs, err := u.mergeBatch(streams[start:end])
		if err != nil {
			return err
		}
		u.runs = append(u.runs, runs...)
	}
	return nil
}

// accumulator is the bin currently being built from one or more merged
// records sharing a key.
type accumulator struct {
	key      []byte
	value    []byte
	counters []*distinct.Counter
}

func (u *SortedUniq) newAccumulator(key []byte) *accumulator {
	a := &accumulator{
		key:      append([]byte(nil), key...),
		value:    u.cfg.Values.NewBuffer(),
		counters: make([]*distinct.Counter, len(u.cfg.Distinct)),
	}
	u.cfg.Values.Initialize(a.value)
	for i, d := range u.cfg.Distinct {
		a.counters[i] = distinct.New(d.Width, 0)
	}
	return a
}

// mergeRecord folds rec into acc, reporting true if a distinct-counter
// insert ran out of memory. Distinct bytes are inserted before the value
// merge, mirroring RandomUniq's ordering so a counter failure never
// leaves the value double-counted.
func (u *SortedUniq) mergeRecord(acc *accumulator, rec fieldlist.Record) bool {
	for i, d := range u.cfg.Distinct {
		distBuf := make([]byte, d.Width)
		fieldlist.PackScalar(rec, d.ID, distBuf)
		if acc.counters[i].Insert(distBuf) == distinct.OutOfMemory {
			return true
		}
	}
	valBuf := u.cfg.Values.NewBuffer()
	u.cfg.Values.Pack(rec, valBuf)
	if u.cfg.Values.Merge(acc.value, valBuf) {
		diag.Tracef(diag.TagOverfl, "saturating add during sorted merge")
	}
	return false
}

func (u *SortedUniq) accumulatorToBin(acc *accumulator) tempstore.Bin {
	b := tempstore.Bin{
		Key:            acc.key,
		Value:          acc.value,
		DistinctCounts: make([]uint64, len(acc.counters)),
		DistinctValues: make([][][]byte, len(acc.counters)),
	}
	for i, c := range acc.counters {
		var vals [][]byte
		c.ForEachSorted(func(v []byte) { vals = append(vals, v) })
		b.DistinctValues[i] = vals
		b.DistinctCounts[i] = uint64(len(vals))
	}
	return b
}

// mergeBatch heap-merges one fan-in-limited group of streams at record
// granularity, writing completed bins to a rolling sequence of runs.
func (u *SortedUniq) mergeBatch(streams []RecordStream) ([]tempstore.Run, error) {
	const op = "SortedUniq.mergeBatch"
	cursors := make([]*streamCursor, len(streams))
	for i, s := range streams {
		cursors[i] = &streamCursor{stream: s}
		if err := u.advanceCursor(cursors[i]); err != nil && !errors.Is(err, io.EOF) {
			return nil, engineerr.Wrap(engineerr.RecordIoError, op, "reading first record", err)
		}
	}

	h := &streamHeap{cmp: u.cfg.Keys.Compare, cur: cursors}
	for i, c := range cursors {
		if !c.eof {
			h.push(i)
		}
	}

	var runs []tempstore.Run
	var w *tempstore.Writer
	openWriter := func() error {
		idx := u.tempCtx.NextIndex()
		nw, err := tempstore.NewWriter(u.tempCtx, u.layout, idx)
		if err != nil {
			return err
		}
		w = nw
		return nil
	}
	closeWriter := func() error {
		run, err := w.Close()
		if err != nil {
			return err
		}
		runs = append(runs, run)
		w = nil
		return nil
	}

	var cur *accumulator
	emit := func() error {
		if w == nil {
			if err := openWriter(); err != nil {
				return err
			}
		}
		return w.WriteBin(u.accumulatorToBin(cur))
	}

	for len(h.idx) > 0 {
		i := h.pop()
		c := cursors[i]

		if cur == nil || u.cfg.Keys.Compare(c.key, cur.key) != 0 {
			if cur != nil {
				if err := emit(); err != nil {
					return nil, err
				}
			}
			cur = u.newAccumulator(c.key)
		}

		if u.mergeRecord(cur, c.rec) {
			diag.Tracef(diag.TagSpill, "mid-bin distinct overflow, flushing partial bin")
			if err := emit(); err != nil {
				return nil, err
			}
			if err := closeWriter(); err != nil {
				return nil, err
			}
			cur = u.newAccumulator(c.key)
			if u.mergeRecord(cur, c.rec) {
				return nil, engineerr.Fatal(engineerr.ResourceExhausted, op, "distinct counter exhausted twice for one record", nil)
			}
		}

		if err := u.advanceCursor(c); err == nil {
			h.push(i)
		} else if !errors.Is(err, io.EOF) {
			return nil, engineerr.Wrap(engineerr.RecordIoError, op, "reading next record", err)
		}
	}

	if cur != nil {
		if err := emit(); err != nil {
			return nil, err
		}
	}
	if w != nil {
		if err := closeWriter(); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (u *SortedUniq) advanceCursor(c *streamCursor) error {
	rec, err := c.stream.Next()
	if err != nil {
		c.eof = true
		return err
	}
	c.rec = rec
	c.key = u.cfg.Keys.NewBuffer()
	u.cfg.Keys.Pack(rec, c.key)
	return nil
}

// streamHeap is the record-granularity counterpart of tempstore's
// mergeHeap, ordering open streamCursors by their current packed key.
type streamHeap struct {
	idx []int
	cmp func(a, b []byte) int
	cur []*streamCursor
}

func (h *streamHeap) less(i, j int) bool {
	return h.cmp(h.cur[h.idx[i]].key, h.cur[h.idx[j]].key) < 0
}
func (h *streamHeap) swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }

func (h *streamHeap) push(i int) {
	h.idx = append(h.idx, i)
	j := len(h.idx) - 1
	for j > 0 {
		p := (j - 1) / 2
		if !h.less(j, p) {
			break
		}
		h.swap(j, p)
		j = p
	}
}

func (h *streamHeap) pop() int {
	top := h.idx[0]
	n := len(h.idx) - 1
	h.idx[0] = h.idx[n]
	h.idx = h.idx[:n]
	i := 0
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < n && h.less(l, smallest) {
			smallest = l
		}
		if r < n && h.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			break
		}
		h.swap(i, smallest)
		i = smallest
	}
	return top
}

// PrepareForOutput runs the final cascading merge over every run produced
// by Merge, materializing the fully merged bin sequence.
func (u *SortedUniq) PrepareForOutput() error {
	const op = "SortedUniq.PrepareForOutput"
	if u.prepared {
		return nil
	}
	u.prepared = true

	err := tempstore.MergeRuns(u.tempCtx, u.layout, u.cfg.Keys.Compare, u.cfg.Values.Merge, u.runs, u.cfg.MaxMergeFiles, func(b tempstore.Bin) error {
		u.finalBins = append(u.finalBins, Bin{Key: b.Key, Value: b.Value, DistinctCounts: b.DistinctCounts})
		return nil
	})
	if err != nil {
		return engineerr.Wrap(engineerr.CorruptTempFile, op, "merge runs", err)
	}
	return nil
}

// Iter returns an Iterator over the merged bins. Only valid after
// PrepareForOutput.
func (u *SortedUniq) Iter() (*Iterator, error) {
	if !u.prepared {
		return nil, engineerr.New(engineerr.InvalidConfiguration, "SortedUniq.Iter", "Iter called before PrepareForOutput")
	}
	return &Iterator{bins: u.finalBins}, nil
}

// Teardown deletes every run this instance wrote. Idempotent.
func (u *SortedUniq) Teardown() {
	diag.Tracef(diag.TagTeardwn, "discarding %d sorted-merge runs", len(u.runs))
	for _, r := range u.runs {
		r.Discard()
	}
	u.runs = nil
	u.finalBins = nil
}
