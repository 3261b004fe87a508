// Package topn implements the TopNSelector of §4.6: picking the K bins
// whose designated aggregate is largest or smallest, under three limit
// modes (Count, Threshold, Percentage). Grounded on the same hand-rolled
// binary-heap idiom internal/tempstore and internal/distinct use to avoid
// container/heap's interface boxing, here specialized to a bounded or
// growable heap of scored bins.
package topn

import (
	"slices"

	"github.com/entreya/flowagg/internal/diag"
	"github.com/entreya/flowagg/internal/engineerr"
	"github.com/entreya/flowagg/internal/uniq"
)

// Mode selects one of the three limit modes.
type Mode int

const (
	ModeCount Mode = iota
	ModeThreshold
	ModePercentage
)

// Direction selects whether the selector keeps the largest ("top") or
// smallest ("bottom") designated-aggregate bins.
type Direction int

const (
	Top Direction = iota
	Bottom
)

// Aggregate extracts the designated field's value from a bin. Callers
// build this from whichever FieldList handle (value or distinct count)
// names the designated field.
type Aggregate func(b uniq.Bin) uint64

// Config configures a Selector.
type Config struct {
	Mode      Mode
	Direction Direction
	K         int     // ModeCount
	Threshold uint64  // ModeThreshold
	Percentage float64 // ModePercentage, 0-100

	Aggregate Aggregate

	// DesignatedSupportsPercentage must be set by the caller to reflect
	// whether the designated field is record-count, sum-bytes,
	// sum-packets, or a distinct count — the only fields §4.6 allows a
	// Percentage limit to reference. Anything else (derived fields like
	// bytes-per-packet, or min/max fields) must report false here so
	// Percentage configuration is rejected with Unsupported.
	DesignatedSupportsPercentage bool

	// PresortedInput marks that bins arrive from a SortedUniq pipeline;
	// Percentage is never combinable with presorted input per §4.6.
	PresortedInput bool

	// MaxEntries bounds the growable heap used by Threshold and
	// Percentage. Zero means unbounded. When the bound is hit, the
	// selector falls back to fixed-size Count-like behavior at the
	// current fill and emits a diagnostic, per §4.6's "growth fails"
	// fallback — the same maxEntries-as-resource-exhaustion substitute
	// internal/distinct.Counter and internal/uniq.table use elsewhere.
	MaxEntries int
}

func (c Config) Validate() error {
	const op = "topn.Config.Validate"
	if c.Aggregate == nil {
		return engineerr.New(engineerr.InvalidConfiguration, op, "Aggregate extractor is required")
	}
	switch c.Mode {
	case ModeCount:
		if c.K <= 0 {
			return engineerr.New(engineerr.InvalidConfiguration, op, "Count mode requires K > 0")
		}
	case ModeThreshold:
	case ModePercentage:
		if c.PresortedInput {
			return engineerr.New(engineerr.InvalidConfiguration, op, "Percentage limit is not combinable with presorted input")
		}
		if !c.DesignatedSupportsPercentage {
			return engineerr.New(engineerr.InvalidConfiguration, op, "Unsupported: designated field does not support a Percentage limit")
		}
		if c.Percentage < 0 || c.Percentage > 100 {
			return engineerr.New(engineerr.InvalidConfiguration, op, "Percentage must be within [0, 100]")
		}
	default:
		return engineerr.New(engineerr.InvalidConfiguration, op, "unknown limit mode")
	}
	return nil
}

type scored struct {
	bin uniq.Bin
	agg uint64
}

// Selector accumulates bins per its Config and, at Finalize, emits the
// selected subset in descending preference order (largest-first for Top,
// smallest-first for Bottom).
type Selector struct {
	cfg       Config
	items     []scored
	bounded   bool // true once Count mode, or a Threshold/Percentage fallback, caps growth
	boundedK  int
	sum       uint64
	fellBack  bool
}

// New validates cfg and constructs a Selector.
func New(cfg Config) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Selector{cfg: cfg}
	if cfg.Mode == ModeCount {
		s.bounded = true
		s.boundedK = cfg.K
	}
	return s, nil
}

// worse reports whether a has lower selection priority than b — i.e. a is
// the first candidate evicted under the configured Direction.
func (s *Selector) worse(a, b scored) bool {
	if s.cfg.Direction == Top {
		return a.agg < b.agg
	}
	return a.agg > b.agg
}

// Add scores one bin and folds it into the selector's working set.
func (s *Selector) Add(b uniq.Bin) {
	agg := s.cfg.Aggregate(b)
	s.sum += agg
	it := scored{bin: b, agg: agg}

	switch s.cfg.Mode {
	case ModeThreshold:
		if s.meetsThreshold(agg, s.cfg.Threshold) {
			s.insertGrowable(it)
		}
	case ModePercentage:
		s.insertGrowable(it)
	default: // ModeCount
		s.insertBounded(it)
	}
}

func (s *Selector) meetsThreshold(agg, t uint64) bool {
	if s.cfg.Direction == Top {
		return agg >= t
	}
	return agg <= t
}

// insertGrowable appends unconditionally unless MaxEntries caps growth, in
// which case it switches to the bounded Count-like fallback at the
// current fill size.
func (s *Selector) insertGrowable(it scored) {
	if s.bounded {
		s.insertBounded(it)
		return
	}
	if s.cfg.MaxEntries > 0 && len(s.items) >= s.cfg.MaxEntries {
		s.bounded = true
		s.boundedK = len(s.items)
		s.fellBack = true
		diag.Tracef(diag.TagBins, "growable heap hit MaxEntries (%d); falling back to fixed size", s.cfg.MaxEntries)
		s.insertBounded(it)
		return
	}
	s.push(it)
}

// insertBounded maintains a size-boundedK heap whose root is the most
// evictable item, replacing the root when a new item beats it.
func (s *Selector) insertBounded(it scored) {
	if len(s.items) < s.boundedK {
		s.push(it)
		return
	}
	if len(s.items) == 0 {
		return
	}
	if s.worse(s.items[0], it) {
		s.items[0] = it
		s.siftDown(0)
	}
}

func (s *Selector) push(it scored) {
	s.items = append(s.items, it)
	s.siftUp(len(s.items) - 1)
}

func (s *Selector) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !s.worse(s.items[p], s.items[i]) {
			break
		}
		s.items[p], s.items[i] = s.items[i], s.items[p]
		i = p
	}
}

func (s *Selector) siftDown(i int) {
	n := len(s.items)
	for {
		l, r := 2*i+1, 2*i+2
		worst := i
		if l < n && s.worse(s.items[worst], s.items[l]) {
			worst = l
		}
		if r < n && s.worse(s.items[worst], s.items[r]) {
			worst = r
		}
		if worst == i {
			return
		}
		s.items[i], s.items[worst] = s.items[worst], s.items[i]
		i = worst
	}
}

// Finalize returns the selected bins, ordered from most to least
// preferred (largest-first for Top, smallest-first for Bottom). Ties are
// broken by heap order, which is deterministic for a given insertion
// sequence but otherwise unspecified, per §4.6.
func (s *Selector) Finalize() []uniq.Bin {
	items := slices.Clone(s.items)
	if s.cfg.Mode == ModePercentage {
		t := uint64(s.cfg.Percentage / 100 * float64(s.sum))
		kept := items[:0]
		for _, it := range items {
			if s.meetsThreshold(it.agg, t) {
				kept = append(kept, it)
			}
		}
		items = kept
	}

	slices.SortFunc(items, func(a, b scored) int {
		switch {
		case a.agg == b.agg:
			return 0
		case s.cfg.Direction == Top:
			if a.agg > b.agg {
				return -1
			}
			return 1
		default:
			if a.agg < b.agg {
				return -1
			}
			return 1
		}
	})

	out := make([]uniq.Bin, len(items))
	for i, it := range items {
		out[i] = it.bin
	}
	return out
}

// FellBack reports whether a Threshold/Percentage selector hit MaxEntries
// and switched to the fixed-size fallback described in §4.6.
func (s *Selector) FellBack() bool { return s.fellBack }
