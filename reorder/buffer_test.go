package reorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertDeliversInOrderFastPath(t *testing.T) {
	b := New()
	b.minSeqn = 5
	b.initialized = true
	p, delivered := b.Insert(Packet{StreamSeq: 5, Timestamp: time.Now()}, true)
	assert.True(t, delivered)
	assert.EqualValues(t, 5, p.StreamSeq)
	assert.EqualValues(t, 6, b.minSeqn)
}

func TestInsertNonReorderBypassesBuffer(t *testing.T) {
	b := New()
	b.minSeqn = 100
	p, delivered := b.Insert(Packet{StreamSeq: 0, Timestamp: time.Now()}, false)
	assert.True(t, delivered)
	assert.EqualValues(t, 0, p.StreamSeq)
	assert.EqualValues(t, 100, b.minSeqn, "stream_seq=0 never advances min_seqn")
}

func TestInsertInitializesOnFirstPacket(t *testing.T) {
	b := New()
	_, delivered := b.Insert(Packet{StreamSeq: 42, Timestamp: time.Now()}, true)
	assert.False(t, delivered)
	assert.True(t, b.initialized)
	assert.EqualValues(t, 42, b.minSeqn)
	require.Equal(t, 1, b.Len())
}

func TestInsertDropsStaleBelowMinSeqn(t *testing.T) {
	b := New()
	b.minSeqn = 50
	b.initialized = true
	before := b.loss
	_, delivered := b.Insert(Packet{StreamSeq: 10, Timestamp: time.Now()}, true)
	assert.False(t, delivered)
	assert.Equal(t, before+1, b.loss)
	assert.Equal(t, 0, b.Len())
}

func TestInsertDropsDuplicate(t *testing.T) {
	b := New()
	b.minSeqn = 1
	b.initialized = true
	b.Insert(Packet{StreamSeq: 5, Timestamp: time.Now()}, true)
	_, delivered := b.Insert(Packet{StreamSeq: 5, Timestamp: time.Now()}, true)
	assert.False(t, delivered)
	assert.Equal(t, 1, b.Len())
}

func TestInsertMaintainsDescendingOrder(t *testing.T) {
	b := New()
	b.minSeqn = 1
	b.initialized = true
	b.Insert(Packet{StreamSeq: 10, Timestamp: time.Now()}, true)
	b.Insert(Packet{StreamSeq: 5, Timestamp: time.Now()}, true)
	b.Insert(Packet{StreamSeq: 8, Timestamp: time.Now()}, true)
	require.Len(t, b.list, 3)
	assert.EqualValues(t, 10, b.list[0].StreamSeq)
	assert.EqualValues(t, 8, b.list[1].StreamSeq)
	assert.EqualValues(t, 5, b.list[2].StreamSeq)
}

func TestDrainDeliversContiguousTail(t *testing.T) {
	b := New()
	b.minSeqn = 1
	b.initialized = true
	now := time.Now()
	b.Insert(Packet{StreamSeq: 1, Timestamp: now}, true) // fast path, delivered immediately
	b.Insert(Packet{StreamSeq: 3, Timestamp: now}, true)
	_, delivered := b.Insert(Packet{StreamSeq: 2, Timestamp: now}, true) // == min_seqn: fast path too
	assert.True(t, delivered)

	out := b.Drain(now, 800*time.Millisecond)
	var seqs []uint64
	for _, p := range out {
		seqs = append(seqs, p.StreamSeq)
	}
	assert.Equal(t, []uint64{3}, seqs)
	assert.EqualValues(t, 4, b.minSeqn)
}

func TestDrainCutOffDeliversOverHoleAndCountsLoss(t *testing.T) {
	b := New()
	b.minSeqn = 1
	b.initialized = true
	old := time.Now().Add(-time.Second)
	b.Insert(Packet{StreamSeq: 5, Timestamp: old}, true)

	out := b.Drain(time.Now(), 800*time.Millisecond)
	require.Len(t, out, 1)
	assert.EqualValues(t, 5, out[0].StreamSeq)
	assert.EqualValues(t, 6, b.minSeqn)
	assert.EqualValues(t, 4, b.loss) // stream_seq 1..4 counted lost
}

func TestDrainDropsStaleTailAsLoss(t *testing.T) {
	b := New()
	b.minSeqn = 100
	b.initialized = true
	b.list = []Packet{{StreamSeq: 50, Timestamp: time.Now()}}
	out := b.Drain(time.Now(), 800*time.Millisecond)
	assert.Empty(t, out)
	assert.EqualValues(t, 1, b.loss)
}

func TestResetClearsInitialization(t *testing.T) {
	b := New()
	b.Insert(Packet{StreamSeq: 7, Timestamp: time.Now()}, true)
	b.Reset()
	assert.False(t, b.initialized)
	assert.Equal(t, 0, b.Len())
}
