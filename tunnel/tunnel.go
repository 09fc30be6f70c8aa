// Package tunnel implements one bonded UDP path: its state machine, RTT and
// loss estimators, selective-repeat retransmit cache, and bandwidth/quota
// controller (spec §3 "Tunnel entity", §4.2-4.5). It is grounded on the
// teacher's per-target dial/queue shape (controller/direct.go,
// controller/prewarm.go) generalized from one-shot TCP relaying to a
// long-lived, reconnecting UDP path.
package tunnel

import (
	"math/rand"
	"net"
	"time"

	"mlbond/wire"
)

// Role distinguishes which side initiates the handshake.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

// Status is the tunnel's finite state (spec §3, §4.2).
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusAuthSent
	StatusAuthOK
	StatusLossy
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusAuthSent:
		return "auth_sent"
	case StatusAuthOK:
		return "auth_ok"
	case StatusLossy:
		return "lossy"
	default:
		return "unknown"
	}
}

// Default tunables (spec §4.2, §4.5, original_source/src/mlvpn.h).
const (
	IOTimeoutDefault   = 250 * time.Millisecond
	IOTimeoutMaximum   = 60 * time.Second
	IOTimeoutIncrement = 2

	AvgTick = 3 * time.Second

	PktBufSize = 4096

	// ReorderLengthMin/Max bound the tolerated out-of-order depth
	// (spec §3, Glossary "Reorder length").
	ReorderLengthMin = 2
	ReorderLengthMax = 63
)

// Queue is a small FIFO of pending outbound frames. It is intentionally
// a plain slice: per-tunnel queues are bounded by backpressure from the
// scheduler, not by an independent cap, mirroring the teacher's sbuf/hpsbuf
// pair (spec §3).
type Queue struct{ items [][]byte }

func (q *Queue) Push(b []byte) { q.items = append(q.items, b) }
func (q *Queue) Len() int      { return len(q.items) }
func (q *Queue) Pop() ([]byte, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	b := q.items[0]
	q.items = q.items[1:]
	return b, true
}
func (q *Queue) Drain() [][]byte {
	items := q.items
	q.items = nil
	return items
}

// cacheSlot is one entry of the retransmit ring (spec §3, §4.3 "Retransmit
// cache").
type cacheSlot struct {
	valid   bool
	tunSeq  uint64
	reorder bool
	// streamSeq lets a replay carry its original stream_seq (spec §4.3).
	streamSeq uint64
	// payload is the decoded IP packet, not the encoded wire frame: a
	// replay is re-encoded fresh at send time rather than retransmitted
	// byte-for-byte (spec §4.3, original_source/src/mlvpn.c ~1438-1451).
	payload []byte
}

// Tunnel is one configured UDP path between the local and remote peer.
type Tunnel struct {
	Name         string
	ID           int32
	Role         Role
	BindAddr     *net.UDPAddr
	DestAddr     *net.UDPAddr
	BindDevice   string
	FallbackOnly bool

	Conn *net.UDPConn
	Peer *net.UDPAddr // learned/confirmed peer address

	Codec *wire.Codec

	Status Status

	FlowID uint32

	// Outbound tun sequence state.
	TunSeq uint64

	// Inbound loss-detection state (spec §4.3).
	SeqLast       uint64
	SeqVect       uint64
	ReorderLength uint32
	LossEvent     uint64
	LossCnt       uint64
	LossAv        float64
	SentLoss      float64 // peer-reported, percent

	// RTT state (spec §3 "SRTT state", §4.3).
	SRTT        float64 // ms
	SRTTRaw     float64
	RTTVar      float64
	RTTHit      int
	SRTTAv      float64
	srttAvSum   float64
	srttAvCount int

	// Bandwidth/quota state (spec §4.5).
	Bandwidth         float64 // kbit/s, local target
	BandwidthMax      float64
	BandwidthMeasured float64 // measured this window
	BandwidthOut      float64 // peer-reported
	Quota             uint64  // bytes/sec, 0 = unlimited
	Permitted         int64   // signed accumulator

	bytesThisWindow uint64

	weight float64

	Sbuf   Queue
	HPSbuf Queue

	RetransmitCache [PktBufSize]cacheSlot

	LastKeepaliveAck time.Time
	NextKeepalive    time.Time
	Timeout          time.Duration

	// Reconnect backoff for client-role tunnels (spec §4.2, grounded on
	// controller/direct.go's dial-with-timeout shape).
	ConnectBackoff time.Duration

	// lastRecvTimestamp/lastRecvAt implement the "held < 1000ms" reply
	// holding-delay rule (spec §4.3).
	lastRecvTimestamp uint16
	lastRecvAt        time.Time

	// freeRunningEpoch anchors the coarse millisecond clock used for the
	// wire timestamp field.
	freeRunningEpoch time.Time
}

// New builds a Tunnel in the Disconnected state. flowID is random per
// tunnel (spec §3).
func New(name string, id int32, role Role, codec *wire.Codec) *Tunnel {
	return &Tunnel{
		Name:             name,
		ID:               id,
		Role:             role,
		Codec:            codec,
		Status:           StatusDisconnected,
		FlowID:           rand.Uint32(),
		ReorderLength:    ReorderLengthMin,
		SRTT:             40,
		SRTTAv:           40,
		RTTVar:           5,
		Timeout:          IOTimeoutDefault,
		ConnectBackoff:   IOTimeoutDefault,
		freeRunningEpoch: time.Now(),
	}
}

// NowMS returns the coarse free-running millisecond clock truncated to 16
// bits, as carried on the wire (spec §4.3).
func (t *Tunnel) NowMS() uint16 {
	return uint16(time.Since(t.freeRunningEpoch).Milliseconds())
}

// AuthOKOrLossy reports whether the tunnel may currently carry data.
func (t *Tunnel) AuthOKOrLossy() bool {
	return t.Status == StatusAuthOK || t.Status == StatusLossy
}

// cacheStore records an outbound packet's decoded payload in the
// retransmit ring so a later RESEND can replay it (spec §4.3, §5: "lookup
// is by (tun_seq mod PKTBUFSIZE) AND exact tun_seq match").
func (t *Tunnel) cacheStore(tunSeq uint64, reorder bool, streamSeq uint64, payload []byte) {
	slot := &t.RetransmitCache[tunSeq%PktBufSize]
	slot.valid = true
	slot.tunSeq = tunSeq
	slot.reorder = reorder
	slot.streamSeq = streamSeq
	slot.payload = append(slot.payload[:0], payload...)
}

// cacheLookup returns the cached slot for tunSeq, or ok=false if it was
// recycled by a newer tunSeq (stale lookup, spec §5).
func (t *Tunnel) cacheLookup(tunSeq uint64) (slot cacheSlot, ok bool) {
	s := t.RetransmitCache[tunSeq%PktBufSize]
	if !s.valid || s.tunSeq != tunSeq {
		return cacheSlot{}, false
	}
	return s, true
}

// ResetRetransmitCache clears the ring, invoked when the tunnel goes down (spec §3
// "Lifecycles": "retransmit caches are torn down on status-down
// transitions").
func (t *Tunnel) ResetRetransmitCache() {
	for i := range t.RetransmitCache {
		t.RetransmitCache[i] = cacheSlot{}
	}
}
