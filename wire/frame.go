package wire

import "encoding/binary"

// Frame layout, big-endian, packed (spec §6):
//
//	offset  size  field
//	0       2     len              payload length incl. AEAD tag
//	2       2     bitfield         version:4, type:6, reorder:1, sent_loss:5
//	4       2     timestamp
//	6       2     timestamp_reply
//	8       4     flow_id
//	12      8     tun_seq
//	20      8     data_seq
//	28      N     payload
const (
	HeaderSize = 28
	// NonceSize is tun_seq (8B) ++ flow_id (4B).
	NonceSize = 12

	offsetLen            = 0
	offsetBitfield       = 2
	offsetTimestamp      = 4
	offsetTimestampReply = 6
	offsetFlowID         = 8
	offsetTunSeq         = 12
	offsetDataSeq        = 20
)

type header struct {
	length         uint16
	version        uint8
	typ            Type
	reorder        bool
	sentLoss       uint8
	timestamp      uint16
	timestampReply uint16
	flowID         uint32
	tunSeq         uint64
	dataSeq        uint64
}

func packBitfield(version uint8, t Type, reorder bool, sentLoss uint8) uint16 {
	var v uint16
	v |= uint16(version&0xF) << 12
	v |= uint16(uint8(t)&0x3F) << 6
	if reorder {
		v |= 1 << 5
	}
	v |= uint16(sentLoss & 0x1F)
	return v
}

func unpackBitfield(v uint16) (version uint8, t Type, reorder bool, sentLoss uint8) {
	version = uint8(v >> 12 & 0xF)
	t = Type(v >> 6 & 0x3F)
	reorder = v&(1<<5) != 0
	sentLoss = uint8(v & 0x1F)
	return
}

func (h header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[offsetLen:], h.length)
	binary.BigEndian.PutUint16(buf[offsetBitfield:], packBitfield(h.version, h.typ, h.reorder, h.sentLoss))
	binary.BigEndian.PutUint16(buf[offsetTimestamp:], h.timestamp)
	binary.BigEndian.PutUint16(buf[offsetTimestampReply:], h.timestampReply)
	binary.BigEndian.PutUint32(buf[offsetFlowID:], h.flowID)
	binary.BigEndian.PutUint64(buf[offsetTunSeq:], h.tunSeq)
	binary.BigEndian.PutUint64(buf[offsetDataSeq:], h.dataSeq)
	return buf
}

func unmarshalHeader(buf []byte) header {
	var h header
	h.length = binary.BigEndian.Uint16(buf[offsetLen:])
	h.version, h.typ, h.reorder, h.sentLoss = unpackBitfield(binary.BigEndian.Uint16(buf[offsetBitfield:]))
	h.timestamp = binary.BigEndian.Uint16(buf[offsetTimestamp:])
	h.timestampReply = binary.BigEndian.Uint16(buf[offsetTimestampReply:])
	h.flowID = binary.BigEndian.Uint32(buf[offsetFlowID:])
	h.tunSeq = binary.BigEndian.Uint64(buf[offsetTunSeq:])
	h.dataSeq = binary.BigEndian.Uint64(buf[offsetDataSeq:])
	return h
}

// nonce builds the 12-byte AEAD nonce: tun_seq ‖ flow_id, both big-endian.
func nonce(tunSeq uint64, flowID uint32) [NonceSize]byte {
	var n [NonceSize]byte
	binary.BigEndian.PutUint64(n[0:8], tunSeq)
	binary.BigEndian.PutUint32(n[8:12], flowID)
	return n
}
