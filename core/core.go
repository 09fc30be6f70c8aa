// Package core threads the datapath's global mutable state through an
// explicit struct rather than ambient package-level globals (spec §9
// "Global mutable state"), and implements the single-threaded event-loop
// orchestrator that wires tun reads, UDP reads, and periodic timers
// together (spec §4.7, §5). It is grounded on the teacher's
// controller/server.go accept-loop-plus-go-cache-rate-limiter shape,
// generalized from per-connection TCP dispatch to per-datagram UDP
// dispatch over a fixed tunnel set, and on controller/regex.go's
// first-packet classification, repurposed as tagged-variant ingress
// dispatch by wire.Type.
package core

import (
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"mlbond/metrics"
	"mlbond/reorder"
	"mlbond/scheduler"
	"mlbond/tunnel"
)

// Core holds every piece of state shared across the datapath (spec §9).
// No component reaches for a package-level global; everything flows
// through a *Core passed explicitly.
type Core struct {
	Tunnels []*tunnel.Tunnel

	Reorder   *reorder.Buffer
	Scheduler *scheduler.Scheduler

	// DataSeq is the global stream sequence counter, incremented only for
	// reorder=true packets (spec §3 "Global stream sequence").
	DataSeq uint64
	// OutResends is the cumulative count of RESEND requests emitted by
	// emitResends; it is never reset. The reorder buffer keeps its own
	// per-drain count for the cut-off (reorder.Buffer.NoteOutResend).
	OutResends int

	LossTolerence float64

	// ResendDedup absorbs duplicate RESEND requests serviced within one
	// RTT window (spec §4.12, §4.3 "duplicates and stale resends are
	// dropped"). Keyed by "tunID:seqStart".
	ResendDedup *cache.Cache
	// PeerAddrSeen is a TTL cache for peer source addresses. It is
	// allocated but not read or written anywhere: the handshake-mismatch
	// check in handleData compares against Tunnel.Peer directly.
	PeerAddrSeen *cache.Cache

	Metrics *metrics.Registry
	Log     *zap.Logger

	// RunScript, when non-nil, is invoked with "rtun_up" or "rtun_down"
	// when a tunnel transition names one (spec §6 "Privileged helper
	// contract"). tuntap_up and tuntap_down are never emitted.
	RunScript func(name string, env map[string]string)
}

// New builds a Core over an already-constructed tunnel set.
func New(tunnels []*tunnel.Tunnel, lossTolerence float64, log *zap.Logger, m *metrics.Registry) *Core {
	return &Core{
		Tunnels:       tunnels,
		Reorder:       reorder.New(),
		Scheduler:     scheduler.New(),
		LossTolerence: lossTolerence,
		ResendDedup:   cache.New(250*time.Millisecond, time.Second),
		PeerAddrSeen:  cache.New(30*time.Second, time.Minute),
		Metrics:       m,
		Log:           log,
	}
}

// schedulerTunnels adapts c.Tunnels to the scheduler.Tunnel interface
// view, one slice allocation per call; callers invoke it once per
// scheduling pass, not per packet-in-pass.
func (c *Core) schedulerTunnels() []scheduler.Tunnel {
	out := make([]scheduler.Tunnel, len(c.Tunnels))
	for i, t := range c.Tunnels {
		out[i] = t
	}
	return out
}

// tunnelIndexByID returns the index of the tunnel whose ID matches id, or
// -1 if none does. A RESEND request names the lossy tunnel by ID rather
// than by the (possibly different) tunnel it physically arrives on (spec
// §4.3, original_source/src/mlvpn.c "mlvpn_find_tun").
func (c *Core) tunnelIndexByID(id int32) int {
	for i, t := range c.Tunnels {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// AnyAuthOK reports whether at least one tunnel may currently carry
// data, used to decide when the reorder buffer must be reset (spec §3
// "Lifecycles": "reset whenever no tunnels are AuthOK").
func (c *Core) AnyAuthOK() bool {
	for _, t := range c.Tunnels {
		if t.AuthOKOrLossy() {
			return true
		}
	}
	return false
}

// MaxSRTT computes the mean srtt_av across non-fallback AuthOK tunnels,
// floored at 800ms by the reorder package itself (spec §4.6).
func (c *Core) MaxSRTT() time.Duration {
	var sum float64
	var count int
	for _, t := range c.Tunnels {
		if t.FallbackOnly || !t.AuthOKOrLossy() {
			continue
		}
		sum += t.SRTTAvMS()
		count++
	}
	if count == 0 {
		return 0
	}
	return time.Duration(sum/float64(count)) * time.Millisecond
}

func (c *Core) runScript(name string, env map[string]string) {
	if c.RunScript != nil {
		c.RunScript(name, env)
	}
}
