package tunnel

import "time"

// rttWarmupSamples is the number of initial samples during which srtt is
// pinned at its seed value rather than following the EWMA (spec §4.3:
// "after a 10-sample warm-up (initial srtt = 40 ms)").
const rttWarmupSamples = 10

const (
	rttAlpha = 1.0 / 8.0
	rttBeta  = 1.0 / 4.0
)

// NoteRecvTimestamp records a peer timestamp for later echo, subject to the
// 1000ms holding-delay rule (spec §4.3).
func (t *Tunnel) NoteRecvTimestamp(ts uint16, now time.Time) {
	t.lastRecvTimestamp = ts
	t.lastRecvAt = now
}

// TimestampReplyField computes the outbound timestamp_reply field: the
// held peer timestamp corrected by the holding delay, or the sentinel if
// no timestamp is held or it has been held too long (spec §4.3, §6).
func (t *Tunnel) TimestampReplyField(now time.Time) uint16 {
	if t.lastRecvAt.IsZero() {
		return wireNoTimestampReply
	}
	held := now.Sub(t.lastRecvAt)
	if held >= time.Second {
		t.lastRecvAt = time.Time{}
		return wireNoTimestampReply
	}
	reply := t.lastRecvTimestamp + uint16(held.Milliseconds())
	t.lastRecvAt = time.Time{}
	return reply
}

// wireNoTimestampReply mirrors wire.NoTimestampReply without importing the
// wire package for a single constant used only internally.
const wireNoTimestampReply = 0xFFFF

// SampleTimestampReply processes an inbound timestamp_reply field, updating
// (srtt, rttvar) per RFC-6298-shaped smoothing once warmed up (spec §4.3).
// It must be called only once the tun-seq vector has been advanced for
// this frame, since the pristine-vector gate depends on current state.
func (t *Tunnel) SampleTimestampReply(replyField uint16, now time.Time) {
	if replyField == wireNoTimestampReply {
		return
	}
	now16 := t.NowMS()
	r := timestamp16Diff(now16, replyField)
	if r >= 5000 || !t.Pristine() {
		return
	}
	t.SRTTRaw = r
	if t.RTTHit < rttWarmupSamples {
		t.SRTT = 40
		t.RTTVar = 0
		t.RTTHit++
	} else {
		t.RTTVar = (1-rttBeta)*t.RTTVar + rttBeta*absFloat(t.SRTT-r)
		t.SRTT = (1-rttAlpha)*t.SRTT + rttAlpha*r
	}
	t.srttAvSum += t.SRTTRaw + 4*t.RTTVar
	t.srttAvCount++
}

// timestamp16Diff computes the forward wrap-around distance (in ms) from
// reply to now, reinterpreting the 16-bit wraparound as milliseconds
// (spec §4.3: "R = now16 − timestamp_reply (mod 2¹⁶)").
func timestamp16Diff(now16, reply uint16) float64 {
	return float64(uint16(now16 - reply))
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// RollSRTTAverage finalizes srtt_av for the just-ended bandwidth tick and
// reseeds the accumulator for the next window (spec §4.5 item 3).
func (t *Tunnel) RollSRTTAverage() {
	if t.srttAvCount > 0 {
		t.SRTTAv = t.srttAvSum / float64(t.srttAvCount)
	}
	t.srttAvSum = t.SRTTRaw + 4*t.RTTVar
	t.srttAvCount = 1
}
