package fieldlist

import "github.com/entreya/flowagg/internal/fieldtypes"

// Record is the engine's view of one input record: a source of per-field
// byte contributions. Decoding an on-disk flow format into a Record is an
// external collaborator's job (out of scope here); the core only ever
// reads records through this interface.
//
// Uint and Bytes are called once per FieldList entry per record during
// Pack. For additive/min/max identifiers, the returned value is the
// record's own per-record contribution (e.g. RecordCount always returns 1;
// FirstSeenMsec and LastSeenMsec return the record's start and end
// timestamps, and Kind decides that they merge as a min and a max).
type Record interface {
	Uint(id fieldtypes.ID) uint64
	Bytes(id fieldtypes.ID) []byte
}
