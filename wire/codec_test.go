package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec(t *testing.T, cleartext bool) *Codec {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	c, err := NewCodec(key, cleartext)
	require.NoError(t, err)
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, cleartext := range []bool{false, true} {
		c := testCodec(t, cleartext)
		p := &Packet{
			Type:           TypeData,
			Payload:        []byte("hello aggregated vpn"),
			Reorder:        true,
			StreamSeq:      42,
			TunSeq:         7,
			FlowID:         0xCAFEBABE,
			Timestamp:      1234,
			TimestampReply: NoTimestampReply,
			SentLoss:       3,
		}
		frame, err := c.Encode(p)
		require.NoError(t, err)

		got, err := c.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, p.Type, got.Type)
		assert.Equal(t, p.Payload, got.Payload)
		assert.Equal(t, p.Reorder, got.Reorder)
		assert.Equal(t, p.StreamSeq, got.StreamSeq)
		assert.Equal(t, p.TunSeq, got.TunSeq)
		assert.Equal(t, p.FlowID, got.FlowID)
		assert.Equal(t, p.Timestamp, got.Timestamp)
		assert.Equal(t, p.TimestampReply, got.TimestampReply)
		assert.Equal(t, p.SentLoss, got.SentLoss)
	}
}

func TestDecodeRejectsFlippedHeaderBit(t *testing.T) {
	c := testCodec(t, false)
	p := &Packet{Type: TypeData, Payload: []byte("x"), TunSeq: 1, FlowID: 9}
	frame, err := c.Encode(p)
	require.NoError(t, err)

	frame[offsetTunSeq] ^= 0x01
	_, err = c.Decode(frame)
	assert.Error(t, err)
}

func TestDecodeRejectsFlippedCiphertextBit(t *testing.T) {
	c := testCodec(t, false)
	p := &Packet{Type: TypeData, Payload: []byte("authenticate me"), TunSeq: 1, FlowID: 9}
	frame, err := c.Encode(p)
	require.NoError(t, err)

	frame[len(frame)-1] ^= 0x01
	_, err = c.Decode(frame)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestDecodeRejectsZeroLength(t *testing.T) {
	c := testCodec(t, true)
	p := &Packet{Type: TypeData, Payload: nil, TunSeq: 1, FlowID: 1}
	frame, err := c.Encode(p)
	require.NoError(t, err)
	_, err = c.Decode(frame)
	assert.ErrorIs(t, err, ErrZeroLength)
}

func TestControlTypesAreAlwaysSealedEvenUnderCleartextData(t *testing.T) {
	c := testCodec(t, true)
	p := &Packet{Type: TypeDisconnect, Payload: nil, TunSeq: 1, FlowID: 1}
	frame, err := c.Encode(p)
	require.NoError(t, err)
	assert.Greater(t, len(frame), HeaderSize, "an empty control payload must still seal to a non-zero AEAD tag")

	got, err := c.Decode(frame)
	require.NoError(t, err)
	assert.Empty(t, got.Payload)
}

func TestEncodeRejectsOversized(t *testing.T) {
	c := testCodec(t, false)
	_, err := c.Encode(&Packet{Type: TypeData, Payload: make([]byte, DefaultMTU+1)})
	assert.ErrorIs(t, err, ErrOversized)
}

func TestCleartextDataSkipsAEAD(t *testing.T) {
	c := testCodec(t, true)
	p := &Packet{Type: TypeData, Payload: []byte("plain"), TunSeq: 3, FlowID: 1}
	frame, err := c.Encode(p)
	require.NoError(t, err)
	assert.Contains(t, string(frame), "plain")
}

func TestResendPayloadRoundTrip(t *testing.T) {
	want := ResendRequest{SeqStart: 100, TunID: 2, Len: 5}
	got, err := DecodeResend(EncodeResend(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHandshakePayloads(t *testing.T) {
	ok, permitted := DecodeHandshake(EncodeAuth(1024), authMagic)
	assert.True(t, ok)
	assert.EqualValues(t, 1024, permitted)

	ok, permitted = DecodeHandshake(EncodeAuth(-1), authMagic)
	assert.True(t, ok)
	assert.EqualValues(t, -1, permitted)

	ok, _ = DecodeHandshake([]byte("XX"), authMagic)
	assert.False(t, ok)
}

func TestKeepalivePayload(t *testing.T) {
	got, err := DecodeKeepalive(EncodeKeepalive(12345))
	require.NoError(t, err)
	assert.EqualValues(t, 12345, got)
}
