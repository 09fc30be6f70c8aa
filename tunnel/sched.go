package tunnel

import "time"

// The accessors below exist solely to satisfy scheduler.Tunnel without
// the scheduler package importing tunnel directly (spec §9 "break
// cycles by having callbacks receive the tunnel by index/handle").

// Weight returns the tunnel's current scheduler share (spec §4.4).
func (t *Tunnel) Weight() float64 { return t.weight }

// SetWeight is called by the periodic weight-recompute pass (spec §4.4).
func (t *Tunnel) SetWeight(w float64) { t.weight = w }

// IsUpLike reports whether the tunnel may carry scheduled traffic
// (AuthOK or Lossy; spec §4.4 "status >= AuthOK").
func (t *Tunnel) IsUpLike() bool { return t.Status.isUpLike() }

// IsAuthOK reports whether the tunnel is fully up.
func (t *Tunnel) IsAuthOK() bool { return t.Status == StatusAuthOK }

// IsFallbackOnly reports the tunnel's configured fallback role.
func (t *Tunnel) IsFallbackOnly() bool { return t.FallbackOnly }

// SentLossPct returns the peer-reported loss percentage.
func (t *Tunnel) SentLossPct() float64 { return t.SentLoss }

// HPQueueLen returns the current high-priority queue depth.
func (t *Tunnel) HPQueueLen() int { return t.HPSbuf.Len() }

// BandwidthKbps returns the local target bandwidth in kbit/s.
func (t *Tunnel) BandwidthKbps() float64 { return t.Bandwidth }

// SRTTAvMS returns the rolling srtt_av in milliseconds.
func (t *Tunnel) SRTTAvMS() float64 { return t.SRTTAv }

// QuotaExhaustedNow reports quota exhaustion using the configured
// averaging window (spec §4.5).
func (t *Tunnel) QuotaExhaustedNow() bool { return t.QuotaExhausted(AvgTick) }

var _ = time.Second
