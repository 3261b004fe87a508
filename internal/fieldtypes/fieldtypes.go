// Package fieldtypes fixes the closed enumeration of field identifiers the
// core understands, their native octet widths, and the compile-time
// (role, identifier) allow-list that used to be the source's module-level
// mutable configuration table (see design note in DESIGN.md).
package fieldtypes

// ID names either a primitive record field, a derived aggregate, or the
// Caller sentinel used by plugin-supplied fields.
type ID int

const (
	SrcAddr ID = iota // 16 octets, v4-mapped
	DstAddr           // 16 octets, v4-mapped
	SrcPort           // 2 octets
	DstPort           // 2 octets
	Protocol          // 1 octet
	SrcAS             // 4 octets
	DstAS             // 4 octets
	Input             // 4 octets, SNMP ifIndex
	Output            // 4 octets, SNMP ifIndex
	TCPFlags          // 1 octet, union of flags seen
	ApplicationID     // 4 octets

	// Aggregates. Kind distinguishes how FieldList.Merge treats them;
	// BytesPerPacket is the only one never packed from a record.
	SumBytes          // 8 octets, additive
	SumPackets        // 8 octets, additive
	RecordCount       // 8 octets, additive, synthetic (always contributes 1)
	FirstSeenMsec     // 8 octets, min
	LastSeenMsec      // 8 octets, max
	SumElapsedSeconds // 8 octets, additive
	SumElapsedMsec    // 8 octets, additive
	BytesPerPacket    // 8 octets, derived at emit time only, never merged

	// Caller is the sentinel for a plugin-supplied field. Width and
	// semantics come from the caller's PluginContext.
	Caller
)

var names = map[ID]string{
	SrcAddr: "src_addr", DstAddr: "dst_addr", SrcPort: "src_port", DstPort: "dst_port",
	Protocol: "protocol", SrcAS: "src_as", DstAS: "dst_as", Input: "input", Output: "output",
	TCPFlags: "tcp_flags", ApplicationID: "application_id", SumBytes: "sum_bytes",
	SumPackets: "sum_packets", RecordCount: "record_count", FirstSeenMsec: "first_seen_msec",
	LastSeenMsec: "last_seen_msec", SumElapsedSeconds: "sum_elapsed_seconds",
	SumElapsedMsec: "sum_elapsed_msec", BytesPerPacket: "bytes_per_packet", Caller: "caller",
}

// String returns the field's canonical lower_snake_case name, used for
// text-sink column headers and diagnostic output.
func (id ID) String() string {
	if n, ok := names[id]; ok {
		return n
	}
	return "unknown_field"
}

// Kind classifies how a field's bytes participate in merge and compare.
type Kind int

const (
	// KindBytewise fields (addresses, ports, protocol, flags, AS, ifindex,
	// application id) compare as unsigned big-endian integers or, for
	// 16-octet addresses, as lexicographic byte strings; merge is
	// undefined for these (they are key-only in practice, but the rule
	// applies uniformly).
	KindBytewise Kind = iota
	// KindAdditive fields merge via saturating integer addition.
	KindAdditive
	// KindMin fields merge via pointwise minimum; initialize to all-ones.
	KindMin
	// KindMax fields merge via pointwise maximum; initialize to zero.
	KindMax
	// KindDerived fields are computed once at emit time from other
	// entries in the same value image and are never packed or merged
	// directly (BytesPerPacket).
	KindDerived
	// KindPlugin delegates pack/compare/merge to caller-supplied callbacks.
	KindPlugin
)

// Role is where in a FieldList an entry participates.
type Role int

const (
	RoleKey Role = iota
	RoleValue
	RoleDistinct
)

// Descriptor is the static, compile-time-constant description of one field
// identifier: its width and its merge/compare kind. Caller fields are not
// present here; their width and kind come from the PluginContext supplied
// to add_field.
type Descriptor struct {
	Width int
	Kind  Kind
}

var catalog = map[ID]Descriptor{
	SrcAddr:           {16, KindBytewise},
	DstAddr:           {16, KindBytewise},
	SrcPort:           {2, KindBytewise},
	DstPort:           {2, KindBytewise},
	Protocol:          {1, KindBytewise},
	SrcAS:             {4, KindBytewise},
	DstAS:             {4, KindBytewise},
	Input:             {4, KindBytewise},
	Output:            {4, KindBytewise},
	TCPFlags:          {1, KindBytewise},
	ApplicationID:     {4, KindBytewise},
	SumBytes:          {8, KindAdditive},
	SumPackets:        {8, KindAdditive},
	RecordCount:       {8, KindAdditive},
	FirstSeenMsec:     {8, KindMin},
	LastSeenMsec:      {8, KindMax},
	SumElapsedSeconds: {8, KindAdditive},
	SumElapsedMsec:    {8, KindAdditive},
	BytesPerPacket:    {8, KindDerived},
}

// Describe returns the static descriptor for a built-in identifier. It
// panics for Caller, which has no static width — callers must route Caller
// fields through their PluginContext instead.
func Describe(id ID) Descriptor {
	d, ok := catalog[id]
	if !ok {
		panic("fieldtypes: Describe called on a field with no static descriptor")
	}
	return d
}

// allowed is the compile-time constant lookup the Design Notes ask for in
// place of the source's mutable global table: which roles a given
// identifier may legally occupy. Derived aggregates may only be values;
// primitive fields may be key, value (rare but legal, e.g. echoing the
// protocol into the value image), or distinct; BytesPerPacket can be
// neither key nor distinct since it is never merged or compared directly.
var allowed = map[ID]map[Role]bool{
	SrcAddr:           {RoleKey: true, RoleValue: true, RoleDistinct: true},
	DstAddr:           {RoleKey: true, RoleValue: true, RoleDistinct: true},
	SrcPort:           {RoleKey: true, RoleValue: true, RoleDistinct: true},
	DstPort:           {RoleKey: true, RoleValue: true, RoleDistinct: true},
	Protocol:          {RoleKey: true, RoleValue: true, RoleDistinct: true},
	SrcAS:             {RoleKey: true, RoleValue: true, RoleDistinct: true},
	DstAS:             {RoleKey: true, RoleValue: true, RoleDistinct: true},
	Input:             {RoleKey: true, RoleValue: true, RoleDistinct: true},
	Output:            {RoleKey: true, RoleValue: true, RoleDistinct: true},
	TCPFlags:          {RoleKey: true, RoleValue: true, RoleDistinct: true},
	ApplicationID:     {RoleKey: true, RoleValue: true, RoleDistinct: true},
	SumBytes:          {RoleValue: true},
	SumPackets:        {RoleValue: true},
	RecordCount:       {RoleValue: true},
	FirstSeenMsec:     {RoleValue: true},
	LastSeenMsec:      {RoleValue: true},
	SumElapsedSeconds: {RoleValue: true},
	SumElapsedMsec:    {RoleValue: true},
	BytesPerPacket:    {RoleValue: true},
	Caller:            {RoleKey: true, RoleValue: true, RoleDistinct: true},
}

// Allowed is a pure function over (role, id) as specified in the Design
// Notes, replacing a mutable global table with a constant lookup.
func Allowed(role Role, id ID) bool {
	roles, ok := allowed[id]
	if !ok {
		return false
	}
	return roles[role]
}
