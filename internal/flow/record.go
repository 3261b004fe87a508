// Package flow provides a concrete fieldlist.Record implementation for
// flow-style accounting records (addresses, ports, byte/packet counters).
// It exists for tests and the example command; the core engine itself
// never depends on it, per §6's "the core never interprets file formats."
package flow

import "github.com/entreya/flowagg/internal/fieldtypes"

// Record is one flow accounting record: a source/destination address
// pair, port/protocol/interface identifiers, and the additive/temporal
// counters the spec's field catalog names.
type Record struct {
	SrcAddr, DstAddr           [16]byte
	SrcPort, DstPort           uint16
	Protocol                   uint8
	SrcAS, DstAS               uint32
	Input, Output              uint32
	TCPFlags                   uint8
	ApplicationID              uint32
	SumBytes, SumPackets       uint64
	RecordCount                uint64
	FirstSeenMsec, LastSeenMsec uint64
	SumElapsedSeconds          uint64
	SumElapsedMsec             uint64
}

// Uint implements fieldlist.Record for every scalar field.
func (r Record) Uint(id fieldtypes.ID) uint64 {
	switch id {
	case fieldtypes.SrcPort:
		return uint64(r.SrcPort)
	case fieldtypes.DstPort:
		return uint64(r.DstPort)
	case fieldtypes.Protocol:
		return uint64(r.Protocol)
	case fieldtypes.SrcAS:
		return uint64(r.SrcAS)
	case fieldtypes.DstAS:
		return uint64(r.DstAS)
	case fieldtypes.Input:
		return uint64(r.Input)
	case fieldtypes.Output:
		return uint64(r.Output)
	case fieldtypes.TCPFlags:
		return uint64(r.TCPFlags)
	case fieldtypes.ApplicationID:
		return uint64(r.ApplicationID)
	case fieldtypes.SumBytes:
		return r.SumBytes
	case fieldtypes.SumPackets:
		return r.SumPackets
	case fieldtypes.RecordCount:
		return 1
	case fieldtypes.FirstSeenMsec:
		return r.FirstSeenMsec
	case fieldtypes.LastSeenMsec:
		return r.LastSeenMsec
	case fieldtypes.SumElapsedSeconds:
		return r.SumElapsedSeconds
	case fieldtypes.SumElapsedMsec:
		return r.SumElapsedMsec
	default:
		panic("flow: Uint called with a non-scalar or unknown field id")
	}
}

// Bytes implements fieldlist.Record for the two 16-octet address fields.
func (r Record) Bytes(id fieldtypes.ID) []byte {
	switch id {
	case fieldtypes.SrcAddr:
		return r.SrcAddr[:]
	case fieldtypes.DstAddr:
		return r.DstAddr[:]
	default:
		panic("flow: Bytes called with a non-address field id")
	}
}

// IPv4 packs a dotted-quad address into the low 4 bytes of a 16-byte
// field, zero-extended the way an IPv4-mapped IPv6 address would be, so a
// single 16-octet address field serves both families uniformly.
func IPv4(a, b, c, d byte) [16]byte {
	var addr [16]byte
	addr[12], addr[13], addr[14], addr[15] = a, b, c, d
	return addr
}
