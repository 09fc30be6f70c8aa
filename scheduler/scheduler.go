// Package scheduler implements the send-side weighted round-robin over the
// bonded tunnel set and the best_quick tunnel lookup used for control
// traffic and retransmits (spec §4.4). It is grounded on the teacher's
// controller/roundrobin.go atomic-counter dispatch, generalized from a
// uniform modulo pick to a weight-proportional one, and on
// controller/boost.go's race-for-best-candidate shape, generalized from a
// channel race to a synchronous scan since tunnel state is already
// resident in the Core and needs no I/O to evaluate.
package scheduler

import (
	"math"
	"sync/atomic"
)

// Tunnel is the minimal view the scheduler needs of a bonded path,
// satisfied by *tunnel.Tunnel. Keeping the dependency as an interface
// avoids an import cycle between scheduler and tunnel and keeps the
// scheduler testable against fakes.
type Tunnel interface {
	Weight() float64
	SetWeight(w float64)
	IsUpLike() bool
	IsAuthOK() bool
	IsFallbackOnly() bool
	SentLossPct() float64
	HPQueueLen() int
	BandwidthKbps() float64
	SRTTAvMS() float64
	QuotaExhaustedNow() bool
}

// Scheduler holds the weighted round-robin cursor and fallback-mode latch
// over a tunnel set supplied at call time (spec §4.4). It carries no
// reference to the tunnel slice itself: the orchestrator owns that list
// (spec §9 "Core struct"), and passes it in on every call.
type Scheduler struct {
	cursor       uint64
	fallbackMode bool
}

// New builds a Scheduler with a fresh round-robin cursor.
func New() *Scheduler { return &Scheduler{} }

// FallbackMode reports whether the scheduler is currently restricted to
// fallback-only tunnels (spec §4.4).
func (s *Scheduler) FallbackMode() bool { return s.fallbackMode }

// RecomputeFallbackMode updates the fallback-mode latch from the current
// tunnel set. It must be called on every status change (spec §4.4:
// "Fallback mode is entered iff every non-fallback tunnel is Lossy or
// Disconnected and at least one fallback tunnel is AuthOK").
func (s *Scheduler) RecomputeFallbackMode(tunnels []Tunnel) {
	anyNonFallbackUp := false
	anyFallbackAuthOK := false
	for _, t := range tunnels {
		if t.IsFallbackOnly() {
			if t.IsAuthOK() {
				anyFallbackAuthOK = true
			}
			continue
		}
		if t.IsAuthOK() {
			anyNonFallbackUp = true
		}
	}
	if !anyNonFallbackUp && anyFallbackAuthOK {
		s.fallbackMode = true
	} else if anyNonFallbackUp {
		s.fallbackMode = false
	}
}

// Choose picks a tunnel by weighted round-robin over eligible tunnels
// (weight > 0, up-like, and honoring fallback mode), returning its index
// into tunnels, or -1 if none are eligible (spec §4.4, §4.7 "choose(len)").
// len is accepted for parity with the spec's signature; this
// implementation's weighting does not vary by packet size.
func (s *Scheduler) Choose(tunnels []Tunnel, _ int) int {
	type candidate struct {
		index  int
		weight float64
	}
	var candidates []candidate
	var total float64
	for i, t := range tunnels {
		if !t.IsUpLike() || t.Weight() <= 0 {
			continue
		}
		if t.IsFallbackOnly() != s.fallbackMode {
			continue
		}
		candidates = append(candidates, candidate{index: i, weight: t.Weight()})
		total += t.Weight()
	}
	if len(candidates) == 0 || total <= 0 {
		return -1
	}

	// Stepping the cursor by the golden-ratio conjugate spreads successive
	// picks evenly over [0, total), so consecutive calls interleave the
	// candidates in proportion to their weights.
	cursor := atomic.AddUint64(&s.cursor, 1)
	point := math.Mod(float64(cursor)*0.6180339887498949, 1) * total

	var acc float64
	for _, c := range candidates {
		acc += c.weight
		if point < acc {
			return c.index
		}
	}
	return candidates[len(candidates)-1].index
}

// BestQuick returns the index of the AuthOK tunnel with sent_loss below
// loss_tolerence/4 and the shortest high-priority queue, excluding except
// (pass -1 for no exclusion). Returns -1 if no tunnel qualifies (spec
// §4.4 "best_quick_tun(except)").
func BestQuick(tunnels []Tunnel, lossTolerence float64, except int) int {
	best := -1
	bestLen := -1
	threshold := lossTolerence / 4
	for i, t := range tunnels {
		if i == except || !t.IsAuthOK() {
			continue
		}
		if t.SentLossPct() >= threshold {
			continue
		}
		l := t.HPQueueLen()
		if best == -1 || l < bestLen {
			best = i
			bestLen = l
		}
	}
	return best
}
