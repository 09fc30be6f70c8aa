package scheduler

// placeholderWeightDivisor spreads probing weight across tunnels already
// saturating bwneeded, matching the reference behavior of giving excess
// links a small but nonzero share so they keep being probed (spec §4.4).
const placeholderWeightDivisor = 50

// RecomputeWeights recomputes every tunnel's scheduler weight from
// measured bandwidth, reported loss, and quota state (spec §4.4). bwCurrent
// is the aggregate measured bandwidth this tick; lossTolerence is the
// configured tolerance used to derive each tunnel's `part` share.
//
// Two regimes: if every up-like tunnel reports nonzero bandwidth, weights
// are bandwidth-proportional and capped against bwneeded = 5*bwCurrent;
// otherwise (bootstrap, or the bandwidth-known pass produced zero
// cumulative availability) weights fall back to an SRTT-proportional
// split normalized to sum to 100.
func RecomputeWeights(tunnels []Tunnel, bwCurrent float64, lossTolerence float64) {
	bwneeded := 5 * bwCurrent

	if bandwidthKnown(tunnels) {
		bwavailable := applyBandwidthRegime(tunnels, bwneeded, lossTolerence)
		if bwavailable > 0 {
			return
		}
	}
	applySRTTRegime(tunnels)
}

func bandwidthKnown(tunnels []Tunnel) bool {
	any := false
	for _, t := range tunnels {
		if !t.IsUpLike() {
			continue
		}
		any = true
		if t.BandwidthKbps() <= 0 {
			return false
		}
	}
	return any
}

func applyBandwidthRegime(tunnels []Tunnel, bwneeded, lossTolerence float64) float64 {
	var bwavailable float64
	half := lossTolerence / 2
	for _, t := range tunnels {
		if !t.IsUpLike() || t.QuotaExhaustedNow() {
			t.SetWeight(0)
			continue
		}
		part := 0.0
		if half > 0 {
			part = (half - t.SentLossPct()) / half
		}
		if part < 0 {
			part = 0
		}
		w := t.BandwidthKbps() * part
		if bwavailable+w > bwneeded {
			w = bwneeded / placeholderWeightDivisor
		}
		bwavailable += w
		t.SetWeight(w)
	}
	return bwavailable
}

func applySRTTRegime(tunnels []Tunnel) {
	var totalSRTT float64
	count := 0
	for _, t := range tunnels {
		if !t.IsUpLike() {
			continue
		}
		totalSRTT += t.SRTTAvMS()
		count++
	}
	if count == 0 || totalSRTT <= 0 {
		return
	}
	var sum float64
	type share struct {
		t Tunnel
		w float64
	}
	shares := make([]share, 0, count)
	for _, t := range tunnels {
		if !t.IsUpLike() {
			t.SetWeight(0)
			continue
		}
		srtt := t.SRTTAvMS()
		if srtt <= 0 {
			srtt = 1
		}
		w := totalSRTT / srtt
		shares = append(shares, share{t: t, w: w})
		sum += w
	}
	if sum <= 0 {
		return
	}
	for _, s := range shares {
		w := s.w / sum * 100
		if w < 1 {
			w = 1
		}
		if w > 100 {
			w = 100
		}
		s.t.SetWeight(w)
	}
}
