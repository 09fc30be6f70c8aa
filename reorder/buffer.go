// Package reorder implements the single global reorder buffer that
// restores in-order delivery of stream_seq-tagged packets across the
// bonded tunnel set (spec §3 "Reorder buffer", §4.6). It is grounded on
// `other_examples/kcp-go`'s ARQ receive-window bookkeeping (ordered
// insertion, cut-off delivery under loss) adapted from a per-connection
// ARQ window to a single cross-tunnel priority queue keyed by a global
// stream sequence.
package reorder

import "time"

// ioTimeoutDefault mirrors tunnel.IOTimeoutDefault; duplicated here as a
// plain constant to avoid an import cycle (reorder is driven by the
// orchestrator, which also owns the tunnel package).
const ioTimeoutDefault = 250 * time.Millisecond

// maxSrttFloor is the minimum max_srtt used when computing target_len
// (spec §4.6: "floor 800 ms").
const maxSrttFloor = 800 * time.Millisecond

// maxTargetLen caps target_len regardless of arrival rate (spec §4.6:
// "capped at 5*PKTBUFSIZE"). PKTBUFSIZE is 4096 (tunnel.PktBufSize);
// duplicated as a literal for the same reason as ioTimeoutDefault above.
const maxTargetLen = 5 * 4096

// Packet is the minimal view the buffer needs of a decoded frame.
type Packet struct {
	StreamSeq uint64
	Timestamp time.Time
	Payload   []byte
	// IsResend marks a DATA_RESEND packet, which is dropped rather than
	// buffered when it is already stale (spec §4.6 item 1).
	IsResend bool
}

// Buffer is the single global reorder buffer (spec §3). It is not
// safe for concurrent use; the orchestrator's single-threaded loop is
// its only caller (spec §5).
type Buffer struct {
	minSeqn     uint64
	initialized bool

	// list is kept tail-oldest: list[len-1] is the packet nearest
	// min_seqn, list[0] the furthest ahead (spec §3 "descending by
	// stream_seq, tail-first").
	list []Packet

	delivered uint64
	loss      uint64

	outResends int

	arrivalWindowStart time.Time
	arrivalCount       int
	arrivalRate        float64 // packets/sec, updated once per second
}

// New builds an empty, uninitialized reorder buffer.
func New() *Buffer { return &Buffer{} }

// Delivered returns the cumulative count of in-order deliveries.
func (b *Buffer) Delivered() uint64 { return b.delivered }

// Loss returns the cumulative reorder-buffer loss count.
func (b *Buffer) Loss() uint64 { return b.loss }

// Len reports how many packets are currently buffered.
func (b *Buffer) Len() int { return len(b.list) }

// NoteOutResend records that a RESEND was just issued, widening the
// drain cut-off for the next window (spec §4.6 "cut = now -
// IO_TIMEOUT_DEFAULT * (out_resends > 0 ? 2 : 1)"). Call it whenever
// RESEND requests are emitted; Drain only tests whether the count is
// nonzero, and resets it to zero on every pass over a non-empty buffer.
func (b *Buffer) NoteOutResend() { b.outResends++ }

// Reset marks the buffer uninitialized, called whenever no tunnel is
// AuthOK (spec §3 "Lifecycles").
func (b *Buffer) Reset() {
	b.initialized = false
	b.list = nil
}

// recordArrival feeds the 1-second arrival-rate sampling window (spec
// §4.6 "arrival_rate is measured as packets/second over a 1s sampling
// window").
func (b *Buffer) recordArrival(now time.Time) {
	if b.arrivalWindowStart.IsZero() {
		b.arrivalWindowStart = now
	}
	b.arrivalCount++
	if elapsed := now.Sub(b.arrivalWindowStart); elapsed >= time.Second {
		b.arrivalRate = float64(b.arrivalCount) / elapsed.Seconds()
		b.arrivalCount = 0
		b.arrivalWindowStart = now
	}
}

// Insert applies the insert policy (spec §4.6 items 1-6) to a decoded
// DATA/DATA_RESEND packet and returns any packet that can be delivered
// immediately (delivered=true), i.e. items 2's fast path. Buffered
// packets are returned later by Drain.
func (b *Buffer) Insert(p Packet, reorderEnabled bool) (deliver Packet, delivered bool) {
	b.recordArrival(p.Timestamp)

	// 1. Stale DATA_RESEND.
	if p.IsResend && p.StreamSeq < b.minSeqn {
		// Absorbed as a duplicate/stale resend, not new loss.
		return Packet{}, false
	}

	// 2. Immediate-delivery fast path.
	if !reorderEnabled || p.StreamSeq == 0 || p.StreamSeq == b.minSeqn {
		if p.StreamSeq == b.minSeqn && p.StreamSeq != 0 {
			b.minSeqn++
			b.delivered++
		}
		return p, true
	}

	// 3. (Re)initialization, including large-wrap detection.
	if !b.initialized || (b.minSeqn > p.StreamSeq && b.minSeqn-p.StreamSeq > 1000 && p.StreamSeq < 1000) {
		b.minSeqn = p.StreamSeq
		b.initialized = true
	}

	// 4. Too old.
	if p.StreamSeq < b.minSeqn {
		b.loss++
		return Packet{}, false
	}

	// 5. Duplicate.
	for _, existing := range b.list {
		if existing.StreamSeq == p.StreamSeq {
			return Packet{}, false
		}
	}

	// 6. Ordered insert, descending by stream_seq, tail = oldest (closest
	// to min_seqn).
	i := 0
	for i < len(b.list) && b.list[i].StreamSeq > p.StreamSeq {
		i++
	}
	b.list = append(b.list, Packet{})
	copy(b.list[i+1:], b.list[i:])
	b.list[i] = p
	return Packet{}, false
}

// Drain applies the drain policy (spec §4.6) and returns every packet
// that becomes deliverable this pass, in delivery order. maxSRTT is the
// mean srtt_av across non-fallback AuthOK tunnels (the 800ms floor is
// applied inside targetLen below).
func (b *Buffer) Drain(now time.Time, maxSRTT time.Duration) []Packet {
	if len(b.list) == 0 {
		return nil
	}
	cutMultiplier := time.Duration(1)
	if b.outResends > 0 {
		cutMultiplier = 2
	}
	b.outResends = 0
	cut := now.Add(-ioTimeoutDefault * cutMultiplier)

	targetLen := b.targetLen(maxSRTT)

	var out []Packet
	for len(b.list) > 0 {
		tail := b.list[len(b.list)-1]
		if !(tail.StreamSeq <= b.minSeqn || tail.Timestamp.Before(cut) || len(b.list) > targetLen) {
			break
		}
		b.list = b.list[:len(b.list)-1]

		switch {
		case tail.StreamSeq == b.minSeqn:
			out = append(out, tail)
			b.minSeqn++
			b.delivered++
			if len(b.list) < targetLen {
				return out
			}
		case tail.StreamSeq > b.minSeqn:
			out = append(out, tail)
			b.loss += tail.StreamSeq - b.minSeqn
			b.minSeqn = tail.StreamSeq + 1
		default:
			b.loss++
		}
	}
	return out
}

// targetLen computes target_len from the current arrival rate and
// max_srtt, capped at maxTargetLen (spec §4.6).
func (b *Buffer) targetLen(maxSRTT time.Duration) int {
	if maxSRTT < maxSrttFloor {
		maxSRTT = maxSrttFloor
	}
	srttMS := float64(maxSRTT.Milliseconds())
	if srttMS <= 0 {
		srttMS = float64(maxSrttFloor.Milliseconds())
	}
	v := int((b.arrivalRate * 1000) / (srttMS * 2.2))
	if v > maxTargetLen {
		v = maxTargetLen
	}
	if v < 0 {
		v = 0
	}
	return v
}
