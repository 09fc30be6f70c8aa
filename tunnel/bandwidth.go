package tunnel

import (
	"math"
	"time"
)

// udpOverEthernetOverhead is charged against quota on every accounted byte
// length, approximating UDP-over-Ethernet framing cost (spec §4.5).
const udpOverEthernetOverhead = 46

// AccountSend debits the quota accumulator and the measured-bandwidth
// counter for an outbound frame of byteslen bytes (spec §4.5 "Quota
// enforcement").
func (t *Tunnel) AccountSend(byteslen int) {
	t.Permitted -= int64(byteslen) + udpOverEthernetOverhead
	t.bytesThisWindow += uint64(byteslen)
}

// AccountRecv debits the quota accumulator for an inbound frame (spec
// §4.5).
func (t *Tunnel) AccountRecv(byteslen int) {
	t.Permitted -= int64(byteslen) + udpOverEthernetOverhead
}

// QuotaExhausted reports whether the scheduler must treat this tunnel as
// having no remaining allowance this window (spec §4.5).
func (t *Tunnel) QuotaExhausted(avtime time.Duration) bool {
	if t.Quota == 0 {
		return false
	}
	threshold := t.BandwidthMax * 125 * avtime.Seconds()
	return float64(t.Permitted) <= threshold
}

// Tick runs the per-tunnel bandwidth/quota controller for one avtime
// window (spec §4.5). diff is the length of the window being closed; the
// orchestrator passes the nominal AvgTick, not a measured elapsed time.
func (t *Tunnel) Tick(diff time.Duration) {
	diffSeconds := diff.Seconds()

	if t.Quota != 0 {
		t.Permitted += int64(float64(t.Quota) * diffSeconds)
	}

	t.RollSRTTAverage()

	t.BandwidthMeasured = (float64(t.bytesThisWindow) * 8 / diffSeconds) / 1000
	t.bytesThisWindow = 0

	if t.LossCnt > 0 {
		t.LossAv = float64(t.LossEvent) * 100.0 / float64(t.LossCnt)
	} else if t.LossEvent > 0 || t.Status != StatusAuthOK {
		t.LossAv = 100.0
	} else {
		t.LossAv = 0
	}
	t.LossEvent = 0
	t.LossCnt = 0

	if t.SentLoss == 0 {
		if t.BandwidthOut > t.BandwidthMax {
			t.BandwidthMax = t.BandwidthOut
		}
	}

	if t.SentLoss == 0 {
		if t.Bandwidth < t.BandwidthMax {
			t.Bandwidth *= 1.05
		}
	} else if t.BandwidthOut > t.BandwidthMax/4 {
		t.Bandwidth = t.BandwidthOut * 0.8
		if t.BandwidthMax > 100 {
			t.BandwidthMax = (t.BandwidthMax*9 + t.Bandwidth) / 10
		}
	}

	t.DecayReorderLength(ReorderLengthMin)
}

// PackLossForWire packs loss_av into the wire's 5-bit sent_loss field,
// with a mandatory floor of 1 whenever loss_av > 0 (spec §4.3).
func PackLossForWire(lossAv, lossTolerence float64) uint8 {
	if lossTolerence <= 0 {
		return 0
	}
	if lossAv >= lossTolerence {
		return 31
	}
	v := int(math.Round((lossAv * 31.0) / lossTolerence))
	if v > 31 {
		v = 31
	}
	if v < 1 && lossAv > 0 {
		v = 1
	}
	return uint8(v)
}

// UnpackLossFromWire is the inverse of PackLossForWire, used to recover a
// peer's approximate loss percentage from the 5-bit field (spec §4.3).
func UnpackLossFromWire(packed uint8, lossTolerence float64) float64 {
	return (float64(packed) * lossTolerence) / 31.0
}
