package core

import (
	"time"

	"mlbond/scheduler"
	"mlbond/tunio"
	"mlbond/tunnel"
	"mlbond/wire"
)

// reorderDrainInterval governs how often the reorder buffer is checked
// for deliverable packets outside of an insert-triggered check (spec
// §4.6 "invoked on every event-loop check").
const reorderDrainInterval = 50 * time.Millisecond

// WirePeriodicTimers registers every named timer the orchestrator needs
// onto r: the per-tunnel IO_TIMEOUT_DEFAULT tick (liveness + keepalive;
// for a Disconnected client-role tunnel it only advances ConnectBackoff
// and sends no AUTH, so such a tunnel does not reconnect by itself), the
// global bandwidth/quota/weight tick (spec §4.5, §4.4),
// and the reorder-buffer drain tick (spec §4.6). dev is where drained
// packets are written; it may be nil in tests that only exercise timer
// side effects on tunnel/core state.
func (c *Core) WirePeriodicTimers(r *Reactor, dev tunio.Device) {
	now := time.Now()
	for i, t := range c.Tunnels {
		idx := i
		tun := t
		r.AddTimer("tunnel-tick:"+tun.Name, now.Add(tunnel.IOTimeoutDefault), tunnel.IOTimeoutDefault, true, func(tickNow time.Time) {
			c.tickTunnel(idx, tun, tickNow)
		})
	}

	r.AddTimer("bandwidth-tick", now.Add(tunnel.AvgTick), tunnel.AvgTick, true, func(tickNow time.Time) {
		c.tickBandwidthAndWeights(tickNow)
	})

	r.AddTimer("reorder-drain", now.Add(reorderDrainInterval), reorderDrainInterval, true, func(tickNow time.Time) {
		c.drainReorder(tickNow, dev)
	})
}

func (c *Core) tickTunnel(idx int, t *tunnel.Tunnel, now time.Time) {
	if t.Status == tunnel.StatusDisconnected {
		if t.Role == tunnel.RoleClient {
			t.TickConnect()
		}
		return
	}

	tr := t.CheckLossy(now, c.LossTolerence, t.Timeout)
	c.applyTransition(idx, tr)

	if t.ShouldSendKeepalive(now) {
		frame, err := c.encodeFrame(t, &wire.Packet{
			Type:           wire.TypeKeepalive,
			Payload:        wire.EncodeKeepalive(uint64(t.BandwidthMeasured)),
			FlowID:         t.FlowID,
			Timestamp:      t.NowMS(),
			TimestampReply: t.TimestampReplyField(now),
		})
		if err == nil {
			t.HPSbuf.Push(frame)
		}
	}
}

func (c *Core) tickBandwidthAndWeights(now time.Time) {
	var bwCurrent float64
	for _, t := range c.Tunnels {
		t.Tick(tunnel.AvgTick)
		bwCurrent += t.BandwidthMeasured
	}
	scheduler.RecomputeWeights(c.schedulerTunnels(), bwCurrent, c.LossTolerence)
	c.Scheduler.RecomputeFallbackMode(c.schedulerTunnels())
}

func (c *Core) drainReorder(now time.Time, dev tunio.Device) {
	for _, p := range c.Reorder.Drain(now, c.MaxSRTT()) {
		if dev != nil {
			_, _ = dev.Write(p.Payload, 0)
		}
		if c.Metrics != nil {
			c.Metrics.ReorderDelivered.Inc()
		}
	}
}
