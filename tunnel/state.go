package tunnel

import "time"

// Transition describes the side effects the orchestrator must perform
// after a status change, keeping the Tunnel type itself free of
// references to its siblings or the reactor (spec §9: "break by having
// callbacks receive the tunnel by index/handle, never by back-pointer").
type Transition struct {
	Changed          bool
	EnteredAuthOK    bool
	EnteredLossy     bool
	EnteredDisc      bool
	RequestResendAll []byte // non-nil when the new state demands a full resend
	RunScript        string // "rtun_up" | "rtun_down" | ""
}

// BeginConnect moves a client-role tunnel from Disconnected to AuthSent.
// The caller builds and enqueues the AUTH frame itself (wire.EncodeAuth
// with t.Permitted), since wire encoding is Codec's job, not the state
// machine's (spec §4.2).
func (t *Tunnel) BeginConnect() {
	t.Status = StatusAuthSent
}

// enterAuthOK applies the common AuthOK-entry reset (spec §4.2: "resets
// per-link RTT averages, loss accumulators, and bandwidth-measurement
// windows").
func (t *Tunnel) enterAuthOK() {
	wasUp := t.Status == StatusAuthOK || t.Status == StatusLossy
	t.Status = StatusAuthOK
	t.SRTT = 40
	t.SRTTAv = 40
	t.RTTVar = 5
	t.RTTHit = 0
	t.srttAvSum = 0
	t.srttAvCount = 0
	t.LossEvent = 0
	t.LossCnt = 0
	t.LossAv = 0
	t.bytesThisWindow = 0
	_ = wasUp
}

// OnAuthReceived handles a server-role tunnel receiving AUTH. The caller is
// responsible for replying with an AUTH_OK frame carrying t.Permitted
// (spec §4.2).
func (t *Tunnel) OnAuthReceived(peerPermitted int64) Transition {
	t.enterAuthOK()
	return Transition{Changed: true, EnteredAuthOK: true, RunScript: "rtun_up"}
}

// OnAuthOKReceived handles a client-role tunnel receiving AUTH_OK: it marks
// the tunnel up (spec §4.2).
func (t *Tunnel) OnAuthOKReceived(peerPermitted int64) Transition {
	t.enterAuthOK()
	return Transition{Changed: true, EnteredAuthOK: true, RunScript: "rtun_up"}
}

// CheckLossy evaluates the AuthOK<->Lossy and disconnect-by-timeout
// transitions on the periodic IO_TIMEOUT tick (spec §4.2, §4.5). timeout is
// the configured idle-disconnect duration (0 disables it); a zero value
// never triggers the hard timeout branch.
func (t *Tunnel) CheckLossy(now time.Time, lossTolerence float64, timeout time.Duration) Transition {
	keepaliveOK := t.LastKeepaliveAck.IsZero() ||
		now.Sub(t.LastKeepaliveAck) <= 2*IOTimeoutDefault+time.Duration(2*t.SRTTAv)*time.Millisecond

	if t.Status == StatusAuthOK && !keepaliveOK {
		t.Status = StatusLossy
		return Transition{Changed: true, EnteredLossy: true, RequestResendAll: t.RequestResendAll()}
	}
	if t.Status == StatusAuthOK && t.SentLoss >= lossTolerence {
		t.Status = StatusLossy
		return Transition{Changed: true, EnteredLossy: true}
	}
	if t.Status == StatusLossy && keepaliveOK && t.SentLoss < lossTolerence {
		t.Status = StatusAuthOK
		return Transition{Changed: true, EnteredAuthOK: true}
	}

	if t.Status.isUpLike() && timeout > 0 && !t.LastKeepaliveAck.IsZero() {
		deadline := t.LastKeepaliveAck.Add(timeout + IOTimeoutDefault + time.Duration(2*t.SRTTAv)*time.Millisecond)
		if now.After(deadline) {
			return t.markDisconnected()
		}
	}
	return Transition{}
}

func (s Status) isUpLike() bool { return s == StatusAuthOK || s == StatusLossy }

// OnDisconnectReceived handles an explicit DISCONNECT from the peer (spec
// §4.2, §7).
func (t *Tunnel) OnDisconnectReceived() Transition { return t.markDisconnected() }

// OnHardIOError handles a hard socket read/write error (spec §7).
func (t *Tunnel) OnHardIOError() Transition { return t.markDisconnected() }

func (t *Tunnel) markDisconnected() Transition {
	wasUp := t.Status.isUpLike()
	t.Status = StatusDisconnected
	t.ResetRetransmitCache()
	t.ConnectBackoff = IOTimeoutDefault
	tr := Transition{
		Changed:          true,
		EnteredDisc:      true,
		RequestResendAll: t.RequestResendAll(),
	}
	if wasUp {
		tr.RunScript = "rtun_down"
	}
	return tr
}

// OnKeepaliveAck records a received keepalive (or its echo) for the
// liveness checks above (spec §4.2, §4.7).
func (t *Tunnel) OnKeepaliveAck(now time.Time) { t.LastKeepaliveAck = now }

// ShouldSendKeepalive reports whether it's time to send a new keepalive and
// advances next_keepalive (spec §4.2: "next = now + IO_TIMEOUT_DEFAULT").
func (t *Tunnel) ShouldSendKeepalive(now time.Time) bool {
	if t.NextKeepalive.IsZero() || now.After(t.NextKeepalive) {
		t.NextKeepalive = now.Add(IOTimeoutDefault)
		return true
	}
	return false
}

// TickConnect advances reconnect backoff for a Disconnected client-role
// tunnel, doubling up to IOTimeoutMaximum (spec §4.2).
func (t *Tunnel) TickConnect() {
	if t.ConnectBackoff < IOTimeoutMaximum {
		t.ConnectBackoff *= IOTimeoutIncrement
		if t.ConnectBackoff > IOTimeoutMaximum {
			t.ConnectBackoff = IOTimeoutMaximum
		}
	}
}
