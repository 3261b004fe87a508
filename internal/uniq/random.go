package uniq

import (
	"io"

	"github.com/entreya/flowagg/internal/diag"
	"github.com/entreya/flowagg/internal/distinct"
	"github.com/entreya/flowagg/internal/engineerr"
	"github.com/entreya/flowagg/internal/fieldlist"
	"github.com/entreya/flowagg/internal/tempstore"
)

// Bin is one emitted aggregation result: a packed key image, a packed
// value image, and the exact distinct count for each configured distinct
// field, in declaration order. This is the "(key, value, distinct_counts)
// triple" §4.3's iterator yields and §6 hands to the sink.
type Bin struct {
	Key            []byte
	Value          []byte
	DistinctCounts []uint64
}

// RandomUniq aggregates records received in arbitrary order, per §4.3.
// Grounded on the teacher's indexer/indexer.go ingest loop (accumulate in
// memory, spill on pressure, merge at the end) generalized from
// fixed-schema log records to an arbitrary FieldList-described key/value
// shape, and on internal/common/cidx.go's spill-file bookkeeping.
type RandomUniq struct {
	cfg    Config
	layout tempstore.Layout

	tbl        *table
	tempCtx    *tempstore.Context
	runs       []tempstore.Run
	totalCtr   *distinct.Counter
	totalRuns  []totalDistinctRun
	prepared   bool
	finalBins  []Bin
	finalTotal uint64
	keyBuf     []byte
	valBuf     []byte
}

// New validates cfg and constructs a RandomUniq ready to accept Adds.
func New(cfg Config) (*RandomUniq, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.normalize()

	u := &RandomUniq{
		cfg: cfg,
		layout: tempstore.Layout{
			KeyWidth:       cfg.Keys.Width(),
			ValueWidth:     cfg.Values.Width(),
			DistinctWidths: distinctWidths(cfg.Distinct),
		},
		tbl:    newTable(cfg.InitialCapacity, cfg.Keys.Compare),
		keyBuf: cfg.Keys.NewBuffer(),
		valBuf: cfg.Values.NewBuffer(),
	}
	if cfg.TotalDistinctEnabled && len(cfg.Distinct) > 0 {
		u.totalCtr = distinct.New(cfg.Distinct[0].Width, 0)
	}

	ctx, err := tempstore.NewContext(cfg.TempDir)
	if err != nil {
		return nil, err
	}
	u.tempCtx = ctx
	return u, nil
}

func distinctWidths(specs []DistinctSpec) []int {
	widths := make([]int, len(specs))
	for i, s := range specs {
		widths[i] = s.Width
	}
	return widths
}

// Add packs rec's key and folds it into the hash table, retrying once
// after a spill on resource exhaustion per the insert protocol of §4.3.
func (u *RandomUniq) Add(rec fieldlist.Record) error {
	const op = "RandomUniq.Add"
	if u.prepared {
		return engineerr.New(engineerr.InvalidConfiguration, op, "Add called after PrepareForOutput")
	}

	u.cfg.Keys.Pack(rec, u.keyBuf)
	if err := u.addOnce(rec); err != nil {
		if !engineerr.Is(err, engineerr.ResourceExhausted) {
			return err
		}
		if err := u.spillTable(); err != nil {
			return err
		}
		if err := u.addOnce(rec); err != nil {
			return engineerr.Fatal(engineerr.ResourceExhausted, op, "second allocation failure after spill", err)
		}
	}

	if u.totalCtr != nil {
		distBuf := make([]byte, u.cfg.Distinct[0].Width)
		fieldlist.PackScalar(rec, u.cfg.Distinct[0].ID, distBuf)
		if u.totalCtr.Insert(distBuf) == distinct.OutOfMemory {
			if err := u.spillTotalDistinct(); err != nil {
				return err
			}
			if u.totalCtr.Insert(distBuf) == distinct.OutOfMemory {
				return engineerr.Fatal(engineerr.ResourceExhausted, op, "total-distinct counter exhausted twice", nil)
			}
		}
	}
	return nil
}

// addOnce implements the insert protocol's bin lookup/create and the
// ordering the spec insists on for existing bins: distinct bytes first,
// then the value merge, so a distinct-counter failure never leaves the
// value double-counted.
func (u *RandomUniq) addOnce(rec fieldlist.Record) error {
	const op = "RandomUniq.addOnce"
	s, status := u.tbl.insert(u.keyBuf)
	switch status {
	case statusOutOfMemory:
		return engineerr.New(engineerr.ResourceExhausted, op, "hash table full")

	case statusCreated:
		s.value = u.cfg.Values.NewBuffer()
		u.cfg.Values.Initialize(s.value)
		s.counters = make([]*distinct.Counter, len(u.cfg.Distinct))
		for i, d := range u.cfg.Distinct {
			s.counters[i] = distinct.New(d.Width, 0)
			distBuf := make([]byte, d.Width)
			fieldlist.PackScalar(rec, d.ID, distBuf)
			if s.counters[i].Insert(distBuf) == distinct.OutOfMemory {
				return engineerr.New(engineerr.ResourceExhausted, op, "distinct counter allocation failed on new bin")
			}
		}
		u.cfg.Values.Pack(rec, u.valBuf)
		if u.cfg.Values.Merge(s.value, u.valBuf) {
			diag.Tracef(diag.TagOverfl, "saturating add on new bin")
		}
		return nil

	default: // statusFound
		for i, d := range u.cfg.Distinct {
			distBuf := make([]byte, d.Width)
			fieldlist.PackScalar(rec, d.ID, distBuf)
			if s.counters[i].Insert(distBuf) == distinct.OutOfMemory {
				return engineerr.New(engineerr.ResourceExhausted, op, "distinct counter escalation failed")
			}
		}
		u.cfg.Values.Pack(rec, u.valBuf)
		if u.cfg.Values.Merge(s.value, u.valBuf) {
			diag.Tracef(diag.TagOverfl, "saturating add on existing bin")
		}
		return nil
	}
}

// spillTable sorts the current table by key, writes it to a new TempRun,
// and resets the table to empty — §4.4's "dump the hash table to a
// TempRun, recreate an empty hash table" step.
func (u *RandomUniq) spillTable() error {
	sorted := u.tbl.sorted(u.cfg.Keys.Compare)
	diag.Tracef(diag.TagSpill, "spilling %d bins", len(sorted))

	idx := u.tempCtx.NextIndex()
	w, err := tempstore.NewWriter(u.tempCtx, u.layout, idx)
	if err != nil {
		return engineerr.Wrap(engineerr.ResourceExhausted, "RandomUniq.spillTable", "open spill run", err)
	}
	for _, s := range sorted {
		b := tempstore.Bin{Key: s.key, Value: s.value, DistinctCounts: make([]uint64, len(s.counters))}
		b.DistinctValues = make([][][]byte, len(s.counters))
		for i, c := range s.counters {
			var vals [][]byte
			c.ForEachSorted(func(v []byte) { vals = append(vals, v) })
			b.DistinctValues[i] = vals
			b.DistinctCounts[i] = uint64(len(vals))
		}
		if err := w.WriteBin(b); err != nil {
			w.Close()
			return err
		}
	}
	run, err := w.Close()
	if err != nil {
		return err
	}
	u.runs = append(u.runs, run)
	u.tbl = newTable(u.cfg.InitialCapacity, u.cfg.Keys.Compare)
	return nil
}

// PrepareForOutput closes the ingest side: flushing the in-memory table to
// a final run if any spill has occurred, draining the total-distinct
// counter if it ever spilled, and producing the fully merged bin sequence
// the iterator walks. Materializing the merged result up front (rather
// than streaming it lazily from MergeRuns' push-based sink) keeps Iter a
// trivial slice walk; acceptable here because a prepared RandomUniq's
// total output is bounded by distinct-key count, the same scale already
// held in the table before any spill.
func (u *RandomUniq) PrepareForOutput() error {
	const op = "RandomUniq.PrepareForOutput"
	if u.prepared {
		return nil
	}
	u.prepared = true

	if len(u.runs) == 0 {
		if !u.cfg.SortOutput {
			// Insertion order is unspecified by the spec when no spill
			// occurred and sorting wasn't requested; forEach order is as
			// good as any and cheaper than sorting.
			var bins []Bin
			u.tbl.forEach(func(s *slot) { bins = append(bins, u.slotToBin(s)) })
			u.finalBins = bins
		} else {
			sorted := u.tbl.sorted(u.cfg.Keys.Compare)
			u.finalBins = make([]Bin, 0, len(sorted))
			for _, s := range sorted {
				u.finalBins = append(u.finalBins, u.slotToBin(s))
			}
		}
	} else {
		if u.tbl.count > 0 {
			if err := u.spillTable(); err != nil {
				return err
			}
		}
		err := tempstore.MergeRuns(u.tempCtx, u.layout, u.cfg.Keys.Compare, u.cfg.Values.Merge, u.runs, u.cfg.MaxMergeFiles, func(b tempstore.Bin) error {
			u.finalBins = append(u.finalBins, Bin{Key: b.Key, Value: b.Value, DistinctCounts: b.DistinctCounts})
			return nil
		})
		if err != nil {
			return engineerr.Wrap(engineerr.CorruptTempFile, op, "merge spilled runs", err)
		}
	}

	if u.totalCtr != nil {
		total, err := u.drainTotalDistinct()
		if err != nil {
			return err
		}
		u.finalTotal = total
	}
	return nil
}

func (u *RandomUniq) slotToBin(s *slot) Bin {
	counts := make([]uint64, len(s.counters))
	for i, c := range s.counters {
		counts[i] = uint64(c.Count())
	}
	return Bin{Key: s.key, Value: s.value, DistinctCounts: counts}
}

// Iterator walks bins produced by PrepareForOutput in the order they were
// materialized (key-ascending whenever sort_output, any spill, or
// SortedUniq apply, per §5's ordering guarantees).
type Iterator struct {
	bins []Bin
	pos  int
}

func (it *Iterator) Next() (Bin, error) {
	if it.pos >= len(it.bins) {
		return Bin{}, io.EOF
	}
	b := it.bins[it.pos]
	it.pos++
	return b, nil
}

// Iter returns an Iterator over the bins PrepareForOutput produced.
func (u *RandomUniq) Iter() (*Iterator, error) {
	if !u.prepared {
		return nil, engineerr.New(engineerr.InvalidConfiguration, "RandomUniq.Iter", "Iter called before PrepareForOutput")
	}
	return &Iterator{bins: u.finalBins}, nil
}

// TotalDistinctCount returns the distinct count across all bins for the
// first configured distinct field. Only valid after PrepareForOutput.
func (u *RandomUniq) TotalDistinctCount() (uint64, error) {
	const op = "RandomUniq.TotalDistinctCount"
	if !u.prepared {
		return 0, engineerr.New(engineerr.InvalidConfiguration, op, "called before PrepareForOutput")
	}
	if !u.cfg.TotalDistinctEnabled {
		return 0, engineerr.New(engineerr.InvalidConfiguration, op, "total_distinct_enabled was not set")
	}
	if len(u.cfg.Distinct) == 0 {
		return 0, engineerr.New(engineerr.InvalidConfiguration, op, "no distinct fields configured")
	}
	return u.finalTotal, nil
}

// Teardown closes all open handles, deletes every temp-file this instance
// wrote, and releases the in-memory table. Idempotent: calling it twice is
// exactly as safe as calling it once (§5, §8 property 4).
func (u *RandomUniq) Teardown() {
	diag.Tracef(diag.TagTeardwn, "discarding %d runs, %d total-distinct runs", len(u.runs), len(u.totalRuns))
	for _, r := range u.runs {
		r.Discard()
	}
	u.runs = nil
	for _, r := range u.totalRuns {
		r.discard()
	}
	u.totalRuns = nil
	u.tbl = newTable(u.cfg.InitialCapacity, u.cfg.Keys.Compare)
	u.finalBins = nil
}
