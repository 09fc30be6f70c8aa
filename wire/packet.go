// Package wire implements the on-the-wire frame format shared by every
// tunnel: the fixed-layout header, the AEAD nonce construction, and the
// encode/decode codec (spec §4.1, §6).
package wire

import "fmt"

// Type identifies the kind of packet carried in a frame.
type Type uint8

const (
	TypeAuth Type = iota
	TypeAuthOK
	TypeKeepalive
	TypeData
	TypeDataResend
	TypeDisconnect
	TypeResend
)

func (t Type) String() string {
	switch t {
	case TypeAuth:
		return "AUTH"
	case TypeAuthOK:
		return "AUTH_OK"
	case TypeKeepalive:
		return "KEEPALIVE"
	case TypeData:
		return "DATA"
	case TypeDataResend:
		return "DATA_RESEND"
	case TypeDisconnect:
		return "DISCONNECT"
	case TypeResend:
		return "RESEND"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// ProtocolVersion is the wire protocol version advertised in every frame.
const ProtocolVersion = 2

// DefaultMTU is the maximum IP payload carried in a single packet, before
// any AEAD tag growth (spec §6: "payload ≤ MTU (1500 − headers)").
const DefaultMTU = 1500

// NoTimestampReply is the sentinel carried when the holding delay since the
// last received timestamp exceeded 1000ms (spec §4.3).
const NoTimestampReply = 0xFFFF

// Packet is the internal representation of one datapath packet, decoupled
// from the wire layout so the codec is the only place that knows the byte
// order and AEAD framing.
type Packet struct {
	Type    Type
	Payload []byte

	Reorder bool
	// StreamSeq is the global reorder-buffer sequence; 0 when Reorder is
	// false.
	StreamSeq uint64
	// TunSeq is the per-tunnel monotonic sequence, set by the sender.
	TunSeq uint64

	// FlowID identifies the sending tunnel's crypto session; combined
	// with TunSeq to build the AEAD nonce.
	FlowID uint32

	// Timestamp is a coarse, free-running millisecond clock sample,
	// truncated to 16 bits on the wire.
	Timestamp uint16
	// TimestampReply echoes a recently received peer Timestamp, or
	// NoTimestampReply if none is available within the holding window.
	TimestampReply uint16

	// SentLoss is this sender's most recently measured loss percentage,
	// packed into 5 bits (spec §4.3).
	SentLoss uint8
}

// IsReorderType reports whether packets of this type are ever subject to
// reorder-buffer insertion (spec §4.6 insert policy item 1/2).
func (t Type) IsReorderType() bool {
	return t == TypeData || t == TypeDataResend
}
