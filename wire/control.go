package wire

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// AUTH and AUTH_OK payloads are the literal ASCII magic optionally followed
// by a decimal ASCII "permitted" byte count, used to bootstrap peer quota
// state (spec §4.5, §6).
const (
	authMagic   = "AU"
	authOKMagic = "OK"
)

// EncodeAuth builds an AUTH payload. permitted < 0 omits the suffix.
func EncodeAuth(permitted int64) []byte { return encodeHandshake(authMagic, permitted) }

// EncodeAuthOK builds an AUTH_OK payload. permitted < 0 omits the suffix.
func EncodeAuthOK(permitted int64) []byte { return encodeHandshake(authOKMagic, permitted) }

func encodeHandshake(magic string, permitted int64) []byte {
	if permitted < 0 {
		return []byte(magic)
	}
	return append([]byte(magic), strconv.FormatInt(permitted, 10)...)
}

// DecodeHandshake validates the payload starts with the expected magic and
// returns the optional permitted suffix (-1 if absent or unparsable).
func DecodeHandshake(payload []byte, magic string) (ok bool, permitted int64) {
	if len(payload) < len(magic) || string(payload[:len(magic)]) != magic {
		return false, -1
	}
	rest := payload[len(magic):]
	if len(rest) == 0 {
		return true, -1
	}
	v, err := strconv.ParseInt(string(rest), 10, 64)
	if err != nil {
		return true, -1
	}
	return true, v
}

// EncodeKeepalive builds a KEEPALIVE payload: ASCII decimal
// bandwidth_measured followed by a NUL (spec §6).
func EncodeKeepalive(bandwidthMeasured uint64) []byte {
	b := strconv.FormatUint(bandwidthMeasured, 10)
	return append([]byte(b), 0)
}

// DecodeKeepalive parses a KEEPALIVE payload back into bandwidth_measured.
func DecodeKeepalive(payload []byte) (uint64, error) {
	i := 0
	for i < len(payload) && payload[i] != 0 {
		i++
	}
	return strconv.ParseUint(string(payload[:i]), 10, 64)
}

// ResendRequest is the RESEND control payload (spec §4.3, §6). The spec
// leaves the byte order of this payload as an open question because the
// original implementation used host byte order in-place while every other
// field on the wire is big-endian; this implementation resolves the
// ambiguity in favor of interop and encodes big-endian throughout, as the
// spec itself recommends.
type ResendRequest struct {
	SeqStart uint64
	TunID    int32
	Len      int32
}

// resendMagic are the two leading marker bytes ('R','S') the original
// protocol used to self-identify a RESEND payload.
var resendMagic = [2]byte{'R', 'S'}

const resendPayloadSize = 2 + 8 + 4 + 4

// ErrBadResendPayload is returned by DecodeResend for malformed payloads.
var ErrBadResendPayload = errors.New("wire: malformed RESEND payload")

func EncodeResend(r ResendRequest) []byte {
	buf := make([]byte, resendPayloadSize)
	buf[0], buf[1] = resendMagic[0], resendMagic[1]
	binary.BigEndian.PutUint64(buf[2:10], r.SeqStart)
	binary.BigEndian.PutUint32(buf[10:14], uint32(r.TunID))
	binary.BigEndian.PutUint32(buf[14:18], uint32(r.Len))
	return buf
}

func DecodeResend(payload []byte) (ResendRequest, error) {
	if len(payload) < resendPayloadSize || payload[0] != resendMagic[0] || payload[1] != resendMagic[1] {
		return ResendRequest{}, ErrBadResendPayload
	}
	return ResendRequest{
		SeqStart: binary.BigEndian.Uint64(payload[2:10]),
		TunID:    int32(binary.BigEndian.Uint32(payload[10:14])),
		Len:      int32(binary.BigEndian.Uint32(payload[14:18])),
	}, nil
}
