package core

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mlbond/reorder"
	"mlbond/tunio"
	"mlbond/tunnel"
	"mlbond/wire"
)

func newTestCodec(t *testing.T) *wire.Codec {
	t.Helper()
	var key [32]byte
	codec, err := wire.NewCodec(key, false)
	require.NoError(t, err)
	return codec
}

func newUpTunnel(t *testing.T, name string, id int32) *tunnel.Tunnel {
	tn := tunnel.New(name, id, tunnel.RoleServer, newTestCodec(t))
	tn.Status = tunnel.StatusAuthOK
	tn.SeqVect = ^uint64(0)
	tn.SetWeight(10)
	tn.Bandwidth = 1000
	return tn
}

func newTestCore(t *testing.T, tunnels ...*tunnel.Tunnel) *Core {
	c := New(tunnels, 10, zap.NewNop(), nil)
	return c
}

func TestHandleTunReadEnqueuesOnChosenTunnel(t *testing.T) {
	a := newUpTunnel(t, "a", 1)
	b := newUpTunnel(t, "b", 2)
	c := newTestCore(t, a, b)

	ip := make([]byte, 40)
	ip[9] = 6 // TCP
	err := c.HandleTunRead(ip)
	require.NoError(t, err)

	totalQueued := a.Sbuf.Len() + b.Sbuf.Len()
	assert.Equal(t, 1, totalQueued)
}

func TestHandleTunReadAssignsStreamSeqOnlyForTCP(t *testing.T) {
	a := newUpTunnel(t, "a", 1)
	c := newTestCore(t, a)

	udpPkt := make([]byte, 40)
	udpPkt[9] = 17 // UDP
	require.NoError(t, c.HandleTunRead(udpPkt))
	assert.EqualValues(t, 0, c.DataSeq)

	tcpPkt := make([]byte, 40)
	tcpPkt[9] = 6
	require.NoError(t, c.HandleTunRead(tcpPkt))
	assert.EqualValues(t, 1, c.DataSeq)
}

func TestHandleAuthRepliesAuthOKAndMarksUp(t *testing.T) {
	server := tunnel.New("s", 1, tunnel.RoleServer, newTestCodec(t))
	c := newTestCore(t, server)

	authFrame, err := server.Codec.Encode(&wire.Packet{Type: wire.TypeAuth, Payload: wire.EncodeAuth(-1), FlowID: 1})
	require.NoError(t, err)

	require.NoError(t, c.HandleTunnelRead(0, authFrame, nil, nil))
	assert.Equal(t, tunnel.StatusAuthOK, server.Status)
	assert.Equal(t, 1, server.HPSbuf.Len())
}

func TestHandleDataBuffersPacketAheadOfMinSeqn(t *testing.T) {
	tn := newUpTunnel(t, "a", 1)
	c := newTestCore(t, tn)
	// Seed min_seqn via a prior packet so stream_seq=2 below lands one
	// ahead of the buffer's expectation instead of on the fast path.
	c.Reorder.Insert(reorder.Packet{StreamSeq: 1, Timestamp: time.Now()}, true)

	frame, err := tn.Codec.Encode(&wire.Packet{
		Type: wire.TypeData, Payload: []byte("hello"), Reorder: true, StreamSeq: 2, TunSeq: 1, FlowID: tn.FlowID,
	})
	require.NoError(t, err)
	require.NoError(t, c.HandleTunnelRead(0, frame, nil, nil))
	assert.Equal(t, 2, c.Reorder.Len())
}

func TestApplyTransitionRecomputesFallbackMode(t *testing.T) {
	primary := newUpTunnel(t, "primary", 1)
	fallback := newUpTunnel(t, "fallback", 2)
	fallback.FallbackOnly = true
	c := newTestCore(t, primary, fallback)

	primary.Status = tunnel.StatusDisconnected
	c.applyTransition(0, tunnel.Transition{Changed: true, EnteredDisc: true})
	c.Scheduler.RecomputeFallbackMode(c.schedulerTunnels())
	assert.True(t, c.Scheduler.FallbackMode(), "the only non-fallback tunnel is down and the fallback tunnel is AuthOK")
}

func TestDrainReorderWritesToDevice(t *testing.T) {
	tn := newUpTunnel(t, "a", 1)
	c := newTestCore(t, tn)
	dev := tunio.NewFake(1500)

	stale := time.Now().Add(-time.Second)
	c.Reorder.Insert(reorder.Packet{StreamSeq: 5, Timestamp: stale, Payload: []byte("payload")}, true)

	c.drainReorder(time.Now(), dev)

	select {
	case got := <-dev.Written:
		assert.Equal(t, []byte("payload"), got)
	default:
		t.Fatal("expected drainReorder to write a delivered packet to the device")
	}
}

func TestHandleDataDropsUnexpectedAddressUnderCleartext(t *testing.T) {
	var key [32]byte
	codec, err := wire.NewCodec(key, true)
	require.NoError(t, err)
	tn := tunnel.New("a", 1, tunnel.RoleServer, codec)
	tn.Status = tunnel.StatusAuthOK
	tn.SeqVect = ^uint64(0)
	tn.SetWeight(10)
	tn.Peer = &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	c := newTestCore(t, tn)

	frame, err := codec.Encode(&wire.Packet{
		Type: wire.TypeData, Payload: []byte("hello"), Reorder: false, TunSeq: 1, FlowID: tn.FlowID,
	})
	require.NoError(t, err)

	spoofed := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2}
	require.NoError(t, c.HandleTunnelRead(0, frame, spoofed, nil))

	assert.EqualValues(t, 0, tn.SeqLast, "a dropped mismatch must never reach loss-vector accounting")
	assert.Equal(t, "10.0.0.1", tn.Peer.IP.String(), "peer address must not change under a rejected cleartext mismatch")
}

func TestHandleDataLearnsNewAddressWhenEncrypted(t *testing.T) {
	tn := newUpTunnel(t, "a", 1)
	tn.Peer = &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	c := newTestCore(t, tn)

	frame, err := tn.Codec.Encode(&wire.Packet{
		Type: wire.TypeData, Payload: []byte("hello"), Reorder: false, TunSeq: 1, FlowID: tn.FlowID,
	})
	require.NoError(t, err)

	roamed := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2}
	require.NoError(t, c.HandleTunnelRead(0, frame, roamed, nil))

	assert.Equal(t, "10.0.0.2", tn.Peer.IP.String(), "AEAD-authenticated data should update the learned peer address")
}

func TestHandleTunReadStampsSentLossFromLocalLossAv(t *testing.T) {
	a := newUpTunnel(t, "a", 1)
	a.LossAv = 5 // half of newTestCore's loss_tolerence of 10
	c := newTestCore(t, a)

	ip := make([]byte, 40)
	ip[9] = 6
	require.NoError(t, c.HandleTunRead(ip))

	frame, ok := a.Sbuf.Pop()
	require.True(t, ok)
	decoded, err := a.Codec.Decode(frame)
	require.NoError(t, err)
	assert.EqualValues(t, tunnel.PackLossForWire(5, 10), decoded.SentLoss)
}

func TestHandleTunnelReadUnpacksPeerReportedSentLoss(t *testing.T) {
	tn := newUpTunnel(t, "a", 1)
	c := newTestCore(t, tn)

	frame, err := tn.Codec.Encode(&wire.Packet{
		Type: wire.TypeKeepalive, Payload: wire.EncodeKeepalive(0), FlowID: tn.FlowID,
		SentLoss: tunnel.PackLossForWire(7, 10),
	})
	require.NoError(t, err)

	require.NoError(t, c.HandleTunnelRead(0, frame, nil, nil))
	assert.InDelta(t, 7, tn.SentLoss, 0.5, "peer-reported loss must be recovered from the wire for every frame type")
}

func TestHandleResendReplaysDecodedPayloadOnAnotherTunnel(t *testing.T) {
	a := newUpTunnel(t, "a", 1)
	b := newUpTunnel(t, "b", 2)
	c := newTestCore(t, a, b)

	a.StoreSent(5, true, 3, []byte("hello-resend"))

	reqPayload := wire.EncodeResend(wire.ResendRequest{SeqStart: 5, TunID: 1, Len: 1})
	reqFrame, err := b.Codec.Encode(&wire.Packet{Type: wire.TypeResend, Payload: reqPayload, FlowID: b.FlowID})
	require.NoError(t, err)

	require.NoError(t, c.HandleTunnelRead(1, reqFrame, nil, nil))

	require.Equal(t, 1, b.HPSbuf.Len(), "the replay must go out on the tunnel servicing the request, not the lossy one")
	replay, ok := b.HPSbuf.Pop()
	require.True(t, ok)

	decoded, err := b.Codec.Decode(replay)
	require.NoError(t, err, "a singly-encoded replay must decode cleanly, never rejected as oversized")
	assert.Equal(t, wire.TypeDataResend, decoded.Type)
	assert.Equal(t, []byte("hello-resend"), decoded.Payload)
	assert.True(t, decoded.Reorder)
	assert.EqualValues(t, 3, decoded.StreamSeq)

	dev := tunio.NewFake(1500)
	c.Reorder.Insert(reorder.Packet{StreamSeq: 2, Timestamp: time.Now()}, true)
	require.NoError(t, c.HandleTunnelRead(1, replay, nil, dev))
	assert.Equal(t, 2, c.Reorder.Len(), "the replayed IP payload must flow into the reorder buffer like any other DATA_RESEND")
}

func TestHandleTunnelReadDisconnectTransitionsToDisconnected(t *testing.T) {
	tn := newUpTunnel(t, "a", 1)
	c := newTestCore(t, tn)

	frame, err := tn.Codec.Encode(&wire.Packet{Type: wire.TypeDisconnect, FlowID: tn.FlowID})
	require.NoError(t, err)
	assert.Greater(t, len(frame), wire.HeaderSize, "a sealed empty body still carries the AEAD tag, never a zero-length payload")

	require.NoError(t, c.HandleTunnelRead(0, frame, nil, nil))
	assert.Equal(t, tunnel.StatusDisconnected, tn.Status)
}

func TestShutdownEnqueuesDisconnect(t *testing.T) {
	tn := newUpTunnel(t, "a", 1)
	c := newTestCore(t, tn)
	c.Shutdown(nil)
	assert.Equal(t, 1, tn.HPSbuf.Len())
}
