package wire

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Errors returned by Decode. Callers must treat every one of these as a
// silent frame drop (spec §4.1, §7: "Fatal decode errors are logged and the
// frame dropped; they never tear down the tunnel").
var (
	ErrZeroLength   = errors.New("wire: declared length is zero")
	ErrOversized    = errors.New("wire: declared length exceeds MTU")
	ErrShortHeader  = errors.New("wire: frame shorter than header")
	ErrShortPayload = errors.New("wire: frame shorter than declared length")
	ErrBadVersion   = errors.New("wire: unsupported protocol version")
	ErrAuth         = errors.New("wire: AEAD authentication failed")
)

// Codec encodes and decodes wire frames for a single tunnel. It is not
// goroutine-safe; each tunnel owns exactly one Codec, matching the
// single-threaded core (spec §5).
type Codec struct {
	aead          interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		Overhead() int
		NonceSize() int
	}
	cleartextData bool
}

// NewCodec builds a Codec from a pre-shared 32-byte key (spec §1: "no
// cryptographic key exchange (keys are pre-shared via configuration)").
// cleartextData, when true, disables AEAD sealing for DATA/DATA_RESEND
// payloads (spec §4.1), which is useful only for link-local testing.
func NewCodec(key [chacha20poly1305.KeySize]byte, cleartextData bool) (*Codec, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("wire: init AEAD: %w", err)
	}
	return &Codec{aead: aead, cleartextData: cleartextData}, nil
}

// encryptedType reports whether frames of type t are AEAD-sealed. Every
// type is sealed except DATA/DATA_RESEND running under cleartextData
// (spec §4.1 "otherwise it AEAD-encrypts", original_source/src/mlvpn.c
// ~627); that includes control types such as AUTH, AUTH_OK, KEEPALIVE,
// DISCONNECT, and RESEND, which have no cleartext_data exemption at all.
func (c *Codec) encryptedType(t Type) bool {
	return !(c.cleartextData && (t == TypeData || t == TypeDataResend))
}

// CleartextData reports whether this codec was built with cleartextData
// enabled, letting the orchestrator apply the spec's handshake-mismatch
// address check (spec §4.7, §7 "Handshake mismatch").
func (c *Codec) CleartextData() bool { return c.cleartextData }

// Encode serializes p into a wire frame, sealing the payload when the
// packet type and cleartextData policy call for it (spec §4.1).
func (c *Codec) Encode(p *Packet) ([]byte, error) {
	if len(p.Payload) > DefaultMTU {
		return nil, ErrOversized
	}

	n := nonce(p.TunSeq, p.FlowID)
	payload := p.Payload
	if c.encryptedType(p.Type) {
		payload = c.aead.Seal(nil, n[:], p.Payload, nil)
	}

	h := header{
		length:         uint16(len(payload)),
		version:        ProtocolVersion,
		typ:            p.Type,
		reorder:        p.Reorder,
		sentLoss:       p.SentLoss,
		timestamp:      p.Timestamp,
		timestampReply: p.TimestampReply,
		flowID:         p.FlowID,
		tunSeq:         p.TunSeq,
	}
	if p.Reorder {
		h.dataSeq = p.StreamSeq
	}

	frame := make([]byte, 0, HeaderSize+len(payload))
	frame = append(frame, h.marshal()...)
	frame = append(frame, payload...)
	return frame, nil
}

// Decode parses and, if required, authenticates and decrypts a wire frame
// received from the peer. On any error the frame must be dropped without
// tearing down the tunnel (spec §4.1, §7).
func (c *Codec) Decode(frame []byte) (*Packet, error) {
	if len(frame) < HeaderSize {
		return nil, ErrShortHeader
	}
	h := unmarshalHeader(frame)
	if h.version != ProtocolVersion {
		return nil, ErrBadVersion
	}
	if h.length == 0 {
		return nil, ErrZeroLength
	}
	if int(h.length) > DefaultMTU+chacha20poly1305.Overhead {
		return nil, ErrOversized
	}
	body := frame[HeaderSize:]
	if len(body) < int(h.length) {
		return nil, ErrShortPayload
	}
	body = body[:h.length]

	payload := body
	if c.encryptedType(h.typ) {
		n := nonce(h.tunSeq, h.flowID)
		plain, err := c.aead.Open(nil, n[:], body, nil)
		if err != nil {
			return nil, ErrAuth
		}
		payload = plain
	}

	p := &Packet{
		Type:           h.typ,
		Payload:        payload,
		Reorder:        h.reorder,
		TunSeq:         h.tunSeq,
		FlowID:         h.flowID,
		Timestamp:      h.timestamp,
		TimestampReply: h.timestampReply,
		SentLoss:       h.sentLoss,
	}
	if h.reorder {
		p.StreamSeq = h.dataSeq
	}
	return p, nil
}

// ConstantTimeEqual compares two byte slices (such as pre-shared keys) in
// constant time, avoiding timing side channels. Nothing in this module
// calls it.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
