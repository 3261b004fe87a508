// Package fieldlist compiles a declared tuple of fields into a packed
// binary representation supporting pack, merge, compare, initialize, and
// extract, per §4.1 of the aggregation engine spec. It is grounded on the
// teacher's internal/common record codec (common.go: fixed-width
// big-endian fields packed with no padding) generalized from one hardcoded
// 80-byte record shape to an arbitrary, caller-declared tuple.
package fieldlist

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/entreya/flowagg/internal/fieldtypes"
)

// MaxWidth is the configured maximum total buffer width in octets.
const MaxWidth = 128

// MaxEntries is the maximum number of entries a single FieldList may hold.
const MaxEntries = 64

// Handle identifies one compiled entry: its byte offset and width in the
// packed buffer. Handles are stable for the lifetime of the FieldList,
// which is immutable once built.
type Handle struct {
	Offset int
	Width  int
}

// Entry is one compiled field declaration.
type Entry struct {
	ID     fieldtypes.ID
	Kind   fieldtypes.Kind
	Handle Handle
	Plugin PluginContext // non-nil iff ID == fieldtypes.Caller
}

// FieldList is an ordered, immutable-once-built sequence of Entry values
// sharing one packed buffer layout.
type FieldList struct {
	role    fieldtypes.Role
	entries []Entry
	width   int
}

// New creates an empty FieldList for the given role. Role constrains which
// identifiers AddField will accept (fieldtypes.Allowed).
func New(role fieldtypes.Role) *FieldList {
	return &FieldList{role: role}
}

// AddField appends a field entry and returns a Handle carrying its offset
// and width. plugin must be non-nil iff id == fieldtypes.Caller, and nil
// otherwise.
func (fl *FieldList) AddField(id fieldtypes.ID, plugin PluginContext) (Handle, error) {
	if !fieldtypes.Allowed(fl.role, id) {
		return Handle{}, fmt.Errorf("fieldlist: field %v not allowed in role %v", id, fl.role)
	}
	var kind fieldtypes.Kind
	var width int
	if id == fieldtypes.Caller {
		if plugin == nil {
			return Handle{}, fmt.Errorf("fieldlist: Caller field requires a PluginContext")
		}
		kind = fieldtypes.KindPlugin
		width = plugin.Width()
	} else {
		if plugin != nil {
			return Handle{}, fmt.Errorf("fieldlist: non-Caller field must not carry a PluginContext")
		}
		d := fieldtypes.Describe(id)
		kind = d.Kind
		width = d.Width
	}

	if len(fl.entries) >= MaxEntries {
		return Handle{}, fmt.Errorf("fieldlist: entry limit (%d) exceeded", MaxEntries)
	}
	if fl.width+width > MaxWidth {
		return Handle{}, fmt.Errorf("fieldlist: total width limit (%d octets) exceeded", MaxWidth)
	}

	h := Handle{Offset: fl.width, Width: width}
	fl.entries = append(fl.entries, Entry{ID: id, Kind: kind, Handle: h, Plugin: plugin})
	fl.width += width
	return h, nil
}

// Width returns the total packed buffer width in octets.
func (fl *FieldList) Width() int { return fl.width }

// Entries returns the compiled entries in pack order (append order; the
// spec leaves pack order unspecified relative to declaration order in
// other lists, and this implementation simply uses declaration order).
func (fl *FieldList) Entries() []Entry { return fl.entries }

// NewBuffer allocates a zero-filled packed buffer of Width() bytes.
func (fl *FieldList) NewBuffer() []byte { return make([]byte, fl.width) }

// Pack writes every entry's per-record contribution into out at its
// compiled offset. out must be exactly Width() bytes. KindDerived entries
// are left untouched (all zero, until Finalize is called on the value
// image that contains them).
func (fl *FieldList) Pack(rec Record, out []byte) {
	for _, e := range fl.entries {
		dst := out[e.Handle.Offset : e.Handle.Offset+e.Handle.Width]
		switch e.Kind {
		case fieldtypes.KindPlugin:
			e.Plugin.Pack(rec, dst)
		case fieldtypes.KindDerived:
			// never packed directly; computed by Finalize.
		case fieldtypes.KindBytewise:
			if e.Handle.Width == 16 {
				copy(dst, rec.Bytes(e.ID))
			} else {
				putUint(dst, rec.Uint(e.ID))
			}
		default: // KindAdditive, KindMin, KindMax
			putUint(dst, rec.Uint(e.ID))
		}
	}
}

// Initialize fills buf with each entry's initial-value bytes: zero by
// default, all-ones for KindMin fields (so the first real merge always
// wins), and whatever the plugin supplies for plugin fields.
func (fl *FieldList) Initialize(buf []byte) {
	for _, e := range fl.entries {
		dst := buf[e.Handle.Offset : e.Handle.Offset+e.Handle.Width]
		switch e.Kind {
		case fieldtypes.KindPlugin:
			if init := e.Plugin.Initial(); init != nil {
				copy(dst, init)
				continue
			}
			for i := range dst {
				dst[i] = 0
			}
		case fieldtypes.KindMin:
			for i := range dst {
				dst[i] = 0xff
			}
		default:
			for i := range dst {
				dst[i] = 0
			}
		}
	}
}

// Merge applies each entry's merge rule, folding src into acc in place.
// It reports whether any additive entry saturated on overflow; the caller
// (the Uniquifier) is responsible for emitting the one-diagnostic-per-
// occurrence Overflow trace, keeping this package free of the diag
// dependency.
func (fl *FieldList) Merge(acc, src []byte) (overflowed bool) {
	for _, e := range fl.entries {
		a := acc[e.Handle.Offset : e.Handle.Offset+e.Handle.Width]
		s := src[e.Handle.Offset : e.Handle.Offset+e.Handle.Width]
		switch e.Kind {
		case fieldtypes.KindPlugin:
			e.Plugin.Merge(a, s)
		case fieldtypes.KindBytewise, fieldtypes.KindDerived:
			// merge undefined/no-op; key fields never route here and
			// derived fields are recomputed by Finalize instead.
		case fieldtypes.KindAdditive:
			if addSaturating(a, s) {
				overflowed = true
			}
		case fieldtypes.KindMin:
			if getUint(s) < getUint(a) {
				copy(a, s)
			}
		case fieldtypes.KindMax:
			if getUint(s) > getUint(a) {
				copy(a, s)
			}
		}
	}
	return overflowed
}

// Compare orders two packed buffers. Per-entry comparison is bytewise
// lexicographic, which for fixed-width big-endian unsigned integers is
// identical to numeric comparison — so scalars and 16-octet addresses all
// compare correctly through one code path; plugin fields delegate to their
// PluginContext.
func (fl *FieldList) Compare(a, b []byte) int {
	for _, e := range fl.entries {
		as := a[e.Handle.Offset : e.Handle.Offset+e.Handle.Width]
		bs := b[e.Handle.Offset : e.Handle.Offset+e.Handle.Width]
		var c int
		if e.Kind == fieldtypes.KindPlugin {
			c = e.Plugin.Compare(as, bs)
		} else {
			c = bytes.Compare(as, bs)
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Extract byte-copies the entry's slice out of buf.
func (fl *FieldList) Extract(buf []byte, h Handle) []byte {
	out := make([]byte, h.Width)
	copy(out, buf[h.Offset:h.Offset+h.Width])
	return out
}

// Finalize computes KindDerived entries (BytesPerPacket) from the other
// entries already present in buf. If the list doesn't contain both
// SumBytes and SumPackets entries, BytesPerPacket is set to 0. Division by
// zero packets
// resolves to 0 rather than an error — Open Question (a), resolved and
// documented in DESIGN.md.
func (fl *FieldList) Finalize(buf []byte) {
	var bytesH, pktsH *Handle
	for i := range fl.entries {
		e := &fl.entries[i]
		switch e.ID {
		case fieldtypes.SumBytes:
			bytesH = &e.Handle
		case fieldtypes.SumPackets:
			pktsH = &e.Handle
		}
	}
	for _, e := range fl.entries {
		if e.ID != fieldtypes.BytesPerPacket {
			continue
		}
		dst := buf[e.Handle.Offset : e.Handle.Offset+e.Handle.Width]
		if bytesH == nil || pktsH == nil {
			putUint(dst, 0)
			continue
		}
		pkts := getUint(buf[pktsH.Offset : pktsH.Offset+pktsH.Width])
		if pkts == 0 {
			putUint(dst, 0)
			continue
		}
		nbytes := getUint(buf[bytesH.Offset : bytesH.Offset+bytesH.Width])
		putUint(dst, nbytes/pkts)
	}
}

// PackScalar packs one field's value out of rec into out, which must be
// exactly fieldtypes.Describe(id).Width bytes. It is the single-field
// equivalent of Pack, used where a field is tracked outside of any
// FieldList — distinct fields, which the spec keeps as a flat list of
// (id, width) pairs rather than entries of a compiled buffer.
func PackScalar(rec Record, id fieldtypes.ID, out []byte) {
	d := fieldtypes.Describe(id)
	if d.Kind == fieldtypes.KindBytewise && d.Width == 16 {
		copy(out, rec.Bytes(id))
		return
	}
	putUint(out, rec.Uint(id))
}

func getUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	case 8:
		return binary.BigEndian.Uint64(b)
	default:
		panic("fieldlist: unsupported scalar width")
	}
}

func putUint(dst []byte, v uint64) {
	switch len(dst) {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(dst, uint32(v))
	case 8:
		binary.BigEndian.PutUint64(dst, v)
	default:
		panic("fieldlist: unsupported scalar width")
	}
}

// addSaturating adds s into a in place, clamping to the field's maximum
// representable value on overflow instead of wrapping. Reports whether it
// saturated.
func addSaturating(a, s []byte) bool {
	av, sv := getUint(a), getUint(s)
	max := uint64(1)<<(uint(len(a))*8) - 1
	if len(a) == 8 {
		max = ^uint64(0)
	}
	sum := av + sv
	if sum < av || sum > max {
		putUint(a, max)
		return true
	}
	putUint(a, sum)
	return false
}
