package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTunnel struct {
	weight       float64
	upLike       bool
	authOK       bool
	fallbackOnly bool
	sentLoss     float64
	hpQueueLen   int
	bandwidth    float64
	srttAv       float64
	quotaOut     bool
}

func (f *fakeTunnel) Weight() float64         { return f.weight }
func (f *fakeTunnel) SetWeight(w float64)     { f.weight = w }
func (f *fakeTunnel) IsUpLike() bool          { return f.upLike }
func (f *fakeTunnel) IsAuthOK() bool          { return f.authOK }
func (f *fakeTunnel) IsFallbackOnly() bool    { return f.fallbackOnly }
func (f *fakeTunnel) SentLossPct() float64    { return f.sentLoss }
func (f *fakeTunnel) HPQueueLen() int         { return f.hpQueueLen }
func (f *fakeTunnel) BandwidthKbps() float64  { return f.bandwidth }
func (f *fakeTunnel) SRTTAvMS() float64       { return f.srttAv }
func (f *fakeTunnel) QuotaExhaustedNow() bool { return f.quotaOut }

func TestChooseSkipsZeroWeightAndDownTunnels(t *testing.T) {
	s := New()
	a := &fakeTunnel{weight: 0, upLike: true}
	b := &fakeTunnel{weight: 10, upLike: false}
	c := &fakeTunnel{weight: 10, upLike: true}
	idx := s.Choose([]Tunnel{a, b, c}, 100)
	assert.Equal(t, 2, idx)
}

func TestChooseReturnsMinusOneWhenNoneEligible(t *testing.T) {
	s := New()
	a := &fakeTunnel{weight: 0, upLike: true}
	idx := s.Choose([]Tunnel{a}, 100)
	assert.Equal(t, -1, idx)
}

func TestChooseRespectsFallbackMode(t *testing.T) {
	s := New()
	s.fallbackMode = true
	primary := &fakeTunnel{weight: 10, upLike: true, fallbackOnly: false}
	fallback := &fakeTunnel{weight: 10, upLike: true, fallbackOnly: true}
	idx := s.Choose([]Tunnel{primary, fallback}, 100)
	assert.Equal(t, 1, idx)
}

func TestFallbackModeEntersAndExits(t *testing.T) {
	s := New()
	primary := &fakeTunnel{authOK: false, fallbackOnly: false}
	fallback := &fakeTunnel{authOK: true, fallbackOnly: true}
	s.RecomputeFallbackMode([]Tunnel{primary, fallback})
	assert.True(t, s.FallbackMode())

	primary.authOK = true
	s.RecomputeFallbackMode([]Tunnel{primary, fallback})
	assert.False(t, s.FallbackMode())
}

func TestBestQuickExcludesAndFiltersByLoss(t *testing.T) {
	a := &fakeTunnel{authOK: true, sentLoss: 50, hpQueueLen: 0}
	b := &fakeTunnel{authOK: true, sentLoss: 1, hpQueueLen: 5}
	c := &fakeTunnel{authOK: true, sentLoss: 1, hpQueueLen: 2}
	idx := BestQuick([]Tunnel{a, b, c}, 10, -1)
	assert.Equal(t, 2, idx)
}

func TestBestQuickExcludesGivenIndex(t *testing.T) {
	a := &fakeTunnel{authOK: true, sentLoss: 1, hpQueueLen: 1}
	b := &fakeTunnel{authOK: true, sentLoss: 1, hpQueueLen: 9}
	idx := BestQuick([]Tunnel{a, b}, 10, 0)
	assert.Equal(t, 1, idx)
}

func TestRecomputeWeightsBandwidthRegime(t *testing.T) {
	a := &fakeTunnel{upLike: true, bandwidth: 1000, sentLoss: 0}
	b := &fakeTunnel{upLike: true, bandwidth: 1000, sentLoss: 0}
	RecomputeWeights([]Tunnel{a, b}, 2000, 10)
	assert.Greater(t, a.Weight(), 0.0)
	assert.Greater(t, b.Weight(), 0.0)
}

func TestRecomputeWeightsSRTTRegimeWhenBandwidthUnknown(t *testing.T) {
	a := &fakeTunnel{upLike: true, bandwidth: 0, srttAv: 50}
	b := &fakeTunnel{upLike: true, bandwidth: 0, srttAv: 100}
	RecomputeWeights([]Tunnel{a, b}, 0, 10)
	assert.Greater(t, a.Weight(), b.Weight(), "lower srtt should get a larger share")
	assert.GreaterOrEqual(t, a.Weight(), 1.0)
	assert.LessOrEqual(t, a.Weight(), 100.0)
}

func TestRecomputeWeightsQuotaExhaustedGetsZero(t *testing.T) {
	a := &fakeTunnel{upLike: true, bandwidth: 1000, quotaOut: true}
	b := &fakeTunnel{upLike: true, bandwidth: 1000}
	RecomputeWeights([]Tunnel{a, b}, 2000, 10)
	assert.Equal(t, 0.0, a.Weight())
}
