package tunnel

import "mlbond/wire"

// StoreSent records every outbound packet's tun_seq, reorder flag,
// stream_seq, and decoded IP payload in the retransmit ring so a later
// RESEND can rebuild and replay it (spec §4.3 "Retransmit cache"). The
// cache holds the payload, not the encoded wire frame: a replay is
// re-encoded fresh, never retransmitted byte-for-byte (original_source/
// src/mlvpn.c ~1438-1451).
func (t *Tunnel) StoreSent(tunSeq uint64, reorder bool, streamSeq uint64, payload []byte) {
	t.cacheStore(tunSeq, reorder, streamSeq, payload)
}

// BuildResendRequests converts confirmed-loss runs detected by
// UpdateSeqVector into RESEND payloads addressed to this tunnel's ID,
// to be sent to the peer on a different (best_quick) tunnel (spec §4.2,
// §4.3).
func (t *Tunnel) BuildResendRequests(ranges []ResendRange) [][]byte {
	out := make([][]byte, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, wire.EncodeResend(wire.ResendRequest{
			SeqStart: r.Start,
			TunID:    t.ID,
			Len:      int32(r.Len),
		}))
	}
	return out
}

// RequestResendAll builds a single RESEND request covering every tun_seq
// since SeqLast, used when this tunnel enters Lossy or Disconnected and
// its entire outstanding window must be assumed lost (spec §4.2).
func (t *Tunnel) RequestResendAll() []byte {
	return wire.EncodeResend(wire.ResendRequest{
		SeqStart: t.SeqLast,
		TunID:    t.ID,
		Len:      PktBufSize,
	})
}

// ReplayFrame is one cached packet resurrected to service a peer's RESEND
// request. Payload is the decoded IP packet, not an encoded wire frame;
// the caller re-encodes it as a fresh DATA_RESEND (spec §4.3).
type ReplayFrame struct {
	TunSeq    uint64
	StreamSeq uint64
	Payload   []byte
}

// ServiceResend looks up every tun_seq in [start, start+length) in this
// tunnel's retransmit cache and returns the cached packets eligible for
// replay. Only packets originally marked reorder=true are replayed; UDP
// (reorder=false) packets are never retransmitted (spec §4.3, §4.2 scenario
// 4). Stale or evicted slots are silently skipped (spec §7).
func (t *Tunnel) ServiceResend(start uint64, length int) []ReplayFrame {
	out := make([]ReplayFrame, 0, length)
	for i := 0; i < length; i++ {
		seq := start + uint64(i)
		slot, ok := t.cacheLookup(seq)
		if !ok || !slot.reorder {
			continue
		}
		out = append(out, ReplayFrame{TunSeq: slot.tunSeq, StreamSeq: slot.streamSeq, Payload: slot.payload})
	}
	return out
}
