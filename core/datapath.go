package core

import (
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mlbond/reorder"
	"mlbond/scheduler"
	"mlbond/tunio"
	"mlbond/tunnel"
	"mlbond/wire"
)

// classifyReorder inspects the IP protocol field (offset 9) to decide
// whether a tun-read packet needs reorder-buffer treatment: TCP (6) does,
// UDP does not (spec §4.7 "classify reorder from IP protocol field").
func classifyReorder(ipPacket []byte) bool {
	return len(ipPacket) > 9 && ipPacket[9] == 6
}

// addrEqual compares two UDP addresses by IP and port, used by the
// handshake-mismatch check (spec §4.7, §7).
func addrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// encodeFrame is the single choke point every outgoing frame passes
// through. It assigns the next tun_seq from t's own counter and stamps
// sent_loss from t's measured loss_av before encoding, so every frame of
// every type (not only DATA) gets a fresh AEAD nonce and carries the
// current 5-bit packed loss sample the peer needs for its own Lossy
// transition and scheduler weight computation (spec §4.3 "transmitted to
// the peer packed into 5 bits"; original_source/src/mlvpn.c ~617-619:
// tun_seq is assigned by one counter shared by every packet type at the
// point of actual send, never by the caller ahead of time).
func (c *Core) encodeFrame(t *tunnel.Tunnel, pkt *wire.Packet) ([]byte, error) {
	t.TunSeq++
	pkt.TunSeq = t.TunSeq
	pkt.SentLoss = tunnel.PackLossForWire(t.LossAv, c.LossTolerence)
	return t.Codec.Encode(pkt)
}

// HandleTunRead implements the egress path for one packet read from the
// tun device: classify, assign stream_seq, schedule, encode, and enqueue
// on the chosen tunnel's send buffer (spec §4.7 egress, §3 "Invariant:
// DATA packets whose IP payload is TCP set reorder = true").
func (c *Core) HandleTunRead(ipPacket []byte) error {
	isReorder := classifyReorder(ipPacket)
	var streamSeq uint64
	if isReorder {
		c.DataSeq++
		streamSeq = c.DataSeq
	}

	idx := c.Scheduler.Choose(c.schedulerTunnels(), len(ipPacket))
	if idx < 0 {
		return nil // no eligible tunnel; packet dropped
	}
	t := c.Tunnels[idx]

	pkt := &wire.Packet{
		Type:           wire.TypeData,
		Payload:        ipPacket,
		Reorder:        isReorder,
		StreamSeq:      streamSeq,
		FlowID:         t.FlowID,
		Timestamp:      t.NowMS(),
		TimestampReply: t.TimestampReplyField(time.Now()),
	}

	frame, err := c.encodeFrame(t, pkt)
	if err != nil {
		return err
	}
	t.StoreSent(pkt.TunSeq, isReorder, streamSeq, ipPacket)
	t.AccountSend(len(frame))
	t.Sbuf.Push(frame)
	return nil
}

// HandleTunnelRead implements the ingress path for one datagram received
// on tunnel index idx from source addr (spec §4.7 ingress). dev is the
// tun device that decoded DATA/DATA_RESEND payloads are written back to
// once the reorder buffer releases them.
func (c *Core) HandleTunnelRead(idx int, frame []byte, from *net.UDPAddr, dev tunio.Device) error {
	t := c.Tunnels[idx]
	pkt, err := t.Codec.Decode(frame)
	if err != nil {
		c.Log.Debug("decode error", zap.String("tunnel", t.Name), zap.Error(err))
		return nil
	}

	// Every frame of the current protocol version carries the peer's
	// most recently sampled loss percentage, packed into 5 bits (spec
	// §4.3); recovering it here, ahead of the per-type dispatch, keeps
	// the Lossy-transition check and scheduler weight regime fed
	// regardless of which packet type happens to arrive next.
	t.SentLoss = tunnel.UnpackLossFromWire(pkt.SentLoss, c.LossTolerence)

	switch pkt.Type {
	case wire.TypeAuth:
		return c.handleAuth(idx, pkt, from)
	case wire.TypeAuthOK:
		return c.handleAuthOK(idx, pkt)
	case wire.TypeKeepalive:
		return c.handleKeepalive(idx, pkt)
	case wire.TypeDisconnect:
		c.applyTransition(idx, t.OnDisconnectReceived())
		return nil
	case wire.TypeResend:
		return c.handleResend(pkt)
	case wire.TypeData, wire.TypeDataResend:
		return c.handleData(idx, pkt, from, dev)
	}
	return nil
}

func (c *Core) handleAuth(idx int, pkt *wire.Packet, from *net.UDPAddr) error {
	t := c.Tunnels[idx]
	_, permitted := wire.DecodeHandshake(pkt.Payload, "AU")
	t.LearnPeer(from)
	c.applyTransition(idx, t.OnAuthReceived(permitted))

	reply := wire.EncodeAuthOK(t.Permitted)
	frame, err := c.encodeFrame(t, &wire.Packet{Type: wire.TypeAuthOK, Payload: reply, FlowID: t.FlowID})
	if err != nil {
		return err
	}
	t.HPSbuf.Push(frame)
	return nil
}

func (c *Core) handleAuthOK(idx int, pkt *wire.Packet) error {
	t := c.Tunnels[idx]
	_, permitted := wire.DecodeHandshake(pkt.Payload, "OK")
	c.applyTransition(idx, t.OnAuthOKReceived(permitted))
	return nil
}

func (c *Core) handleKeepalive(idx int, pkt *wire.Packet) error {
	t := c.Tunnels[idx]
	now := time.Now()
	t.OnKeepaliveAck(now)
	if bw, err := wire.DecodeKeepalive(pkt.Payload); err == nil {
		t.BandwidthOut = float64(bw)
	}
	if t.ShouldSendKeepalive(now) {
		frame, err := c.encodeFrame(t, &wire.Packet{
			Type:    wire.TypeKeepalive,
			Payload: wire.EncodeKeepalive(uint64(t.BandwidthMeasured)),
			FlowID:  t.FlowID,
		})
		if err == nil {
			t.HPSbuf.Push(frame)
		}
	}
	return nil
}

// handleResend services a peer's RESEND request. req.TunID names the
// tunnel that lost the packets, which is not necessarily the tunnel this
// request physically arrived on (spec §4.2, §4.3, original_source/
// src/mlvpn.c "mlvpn_find_tun" + ~1438-1451). Each cached payload is
// rebuilt into a fresh DATA_RESEND packet and sent, once, on a best_quick
// tunnel that excludes the lossy one, the same way a first-time send is
// encoded: never by re-encoding already-sealed bytes.
func (c *Core) handleResend(pkt *wire.Packet) error {
	req, err := wire.DecodeResend(pkt.Payload)
	if err != nil {
		return nil
	}
	key := strconv.FormatInt(int64(req.TunID), 10) + ":" + strconv.FormatUint(req.SeqStart, 10)
	if _, found := c.ResendDedup.Get(key); found {
		return nil
	}
	c.ResendDedup.SetDefault(key, true)

	lossIdx := c.tunnelIndexByID(req.TunID)
	if lossIdx < 0 {
		return nil
	}
	lossTun := c.Tunnels[lossIdx]

	dstIdx := scheduler.BestQuick(c.schedulerTunnels(), c.LossTolerence, lossIdx)
	if dstIdx < 0 {
		return nil
	}
	dst := c.Tunnels[dstIdx]

	for _, r := range lossTun.ServiceResend(req.SeqStart, int(req.Len)) {
		rpkt := &wire.Packet{
			Type:      wire.TypeDataResend,
			Payload:   r.Payload,
			Reorder:   true,
			StreamSeq: r.StreamSeq,
			FlowID:    dst.FlowID,
		}
		rframe, err := c.encodeFrame(dst, rpkt)
		if err != nil {
			continue
		}
		dst.StoreSent(rpkt.TunSeq, true, r.StreamSeq, r.Payload)
		dst.HPSbuf.Push(rframe)
	}
	return nil
}

func (c *Core) handleData(idx int, pkt *wire.Packet, from *net.UDPAddr, dev tunio.Device) error {
	t := c.Tunnels[idx]

	// Validate or learn the peer address (spec §4.7 "validate peer address
	// (reject unauthenticated address change when cleartext_data and
	// status >= AuthOK; otherwise learn)", §7 "Handshake mismatch").
	if from != nil && t.Peer != nil && !addrEqual(from, t.Peer) {
		if t.Codec.CleartextData() && t.AuthOKOrLossy() {
			c.Log.Debug("dropping data from unexpected address under cleartext_data",
				zap.String("tunnel", t.Name), zap.Stringer("from", from), zap.Stringer("peer", t.Peer))
			return nil
		}
		t.LearnPeer(from)
	}

	t.AccountRecv(len(pkt.Payload))

	if ranges := t.UpdateSeqVector(pkt.TunSeq); len(ranges) > 0 {
		c.emitResends(idx, ranges)
	}
	t.SampleTimestampReply(pkt.TimestampReply, time.Now())
	t.NoteRecvTimestamp(pkt.Timestamp, time.Now())

	rp := reorder.Packet{
		StreamSeq: pkt.StreamSeq,
		Timestamp: time.Now(),
		Payload:   pkt.Payload,
		IsResend:  pkt.Type == wire.TypeDataResend,
	}
	if out, delivered := c.Reorder.Insert(rp, pkt.Reorder); delivered && dev != nil {
		_, _ = dev.Write(out.Payload, 0)
	}
	return nil
}

// emitResends builds RESEND requests for confirmed-loss runs on tunnel
// idx and dispatches them on the best_quick tunnel, excluding idx itself
// (spec §4.2, §4.3, §4.4).
func (c *Core) emitResends(idx int, ranges []tunnel.ResendRange) {
	src := c.Tunnels[idx]
	dstIdx := scheduler.BestQuick(c.schedulerTunnels(), c.LossTolerence, idx)
	if dstIdx < 0 {
		return
	}
	dst := c.Tunnels[dstIdx]
	c.OutResends += len(ranges)
	c.Reorder.NoteOutResend()
	for _, payload := range src.BuildResendRequests(ranges) {
		frame, err := c.encodeFrame(dst, &wire.Packet{Type: wire.TypeResend, Payload: payload, FlowID: dst.FlowID})
		if err != nil {
			continue
		}
		dst.HPSbuf.Push(frame)
	}
}

// applyTransition runs the side effects of a tunnel.Transition: running
// lifecycle scripts, recomputing fallback mode, and dispatching any
// full-resend request the transition demands (spec §4.2, §4.4, §6).
func (c *Core) applyTransition(idx int, tr tunnel.Transition) {
	if !tr.Changed {
		return
	}
	t := c.Tunnels[idx]
	c.Scheduler.RecomputeFallbackMode(c.schedulerTunnels())
	if !c.AnyAuthOK() {
		c.Reorder.Reset()
	}
	if tr.RunScript != "" {
		c.runScript(tr.RunScript, map[string]string{"NAME": t.Name})
	}
	if tr.RequestResendAll != nil {
		dstIdx := scheduler.BestQuick(c.schedulerTunnels(), c.LossTolerence, idx)
		if dstIdx >= 0 {
			dst := c.Tunnels[dstIdx]
			frame, err := c.encodeFrame(dst, &wire.Packet{Type: wire.TypeResend, Payload: tr.RequestResendAll, FlowID: dst.FlowID})
			if err == nil {
				dst.HPSbuf.Push(frame)
			}
		}
	}
}
