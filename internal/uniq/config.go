// Package uniq implements the two aggregation pipelines of §4.3/§4.5: a
// RandomUniq that accepts records in arbitrary order via an in-place hash
// table with spill-on-exhaustion, and a SortedUniq that merges N
// already-key-sorted input streams. Both route through internal/tempstore
// for spilling and merging and internal/distinct for per-bin distinct
// counting.
package uniq

import (
	"fmt"

	"github.com/entreya/flowagg/internal/engineerr"
	"github.com/entreya/flowagg/internal/fieldlist"
	"github.com/entreya/flowagg/internal/fieldtypes"
)

// DistinctSpec names one field tracked for exact-distinct counting within
// each bin. Distinct fields live outside any FieldList — they are never
// packed into the key or value buffer, only fed to a per-bin
// distinct.Counter — so they are declared as a flat list rather than
// compiled entries.
type DistinctSpec struct {
	ID    fieldtypes.ID
	Width int
}

// Config bundles everything configure(...) takes in §4.3: the key and
// value FieldLists, the distinct field list, and the process-wide options.
type Config struct {
	Keys   *fieldlist.FieldList
	Values *fieldlist.FieldList

	Distinct []DistinctSpec

	SortOutput           bool
	TempDir              string
	TotalDistinctEnabled bool
	Debug                bool

	// InitialCapacity is the hash table's starting (and, for this
	// implementation, maximum) bucket count. The spec's reference value is
	// ~500,000; tests that want to force a deterministic spill set this
	// low (e.g. 2), the same maxEntries-as-OOM-substitute idiom
	// internal/distinct.Counter uses, since Go offers no way to observe a
	// real heap-exhaustion deterministically.
	InitialCapacity int

	// MaxMergeFiles bounds run fan-in during merge passes (§4.4's
	// MAX_MERGE_FILES, reference value 1024).
	MaxMergeFiles int
}

const (
	defaultInitialCapacity = 1 << 19 // ~500,000, rounded to a power of two
	defaultMaxMergeFiles   = 1024
)

// normalize fills in zero-valued options with their reference defaults.
func (c *Config) normalize() {
	if c.InitialCapacity <= 0 {
		c.InitialCapacity = defaultInitialCapacity
	}
	if c.MaxMergeFiles <= 0 {
		c.MaxMergeFiles = defaultMaxMergeFiles
	}
	if c.TempDir == "" {
		c.TempDir = "."
	}
}

// Validate checks the invariants configure(...) must enforce synchronously
// per §7: a key FieldList must be present and non-empty, and no distinct
// field may duplicate a key field by ID. Plugin-typed (Caller) distinct
// fields are rejected outright, so no overlap through a shared
// PluginContext can reach a distinct field; PluginContext identity is not
// compared.
func (c *Config) Validate() error {
	const op = "uniq.Config.Validate"
	if c.Keys == nil || len(c.Keys.Entries()) == 0 {
		return engineerr.New(engineerr.InvalidConfiguration, op, "at least one key field is required")
	}
	if c.Values == nil {
		c.Values = fieldlist.New(fieldtypes.RoleValue)
	}

	keyIDs := make(map[fieldtypes.ID]bool)
	for _, e := range c.Keys.Entries() {
		keyIDs[e.ID] = true
	}

	for _, d := range c.Distinct {
		if keyIDs[d.ID] {
			return engineerr.New(engineerr.InvalidConfiguration, op,
				fmt.Sprintf("distinct field %v duplicates a key field", d.ID))
		}
		// DistinctSpec carries no PluginContext today, so the Open
		// Question's pointer-identity overlap (two plugin fields sharing
		// one context) can only arise between key and value FieldLists,
		// not here; rejecting the Caller sentinel outright keeps this
		// surface closed until plugin-typed distinct fields exist.
		if d.ID == fieldtypes.Caller {
			return engineerr.New(engineerr.InvalidConfiguration, op,
				"plugin-typed distinct fields are not yet supported")
		}
	}

	return nil
}
