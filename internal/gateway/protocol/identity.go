package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Identity handshake bytes: the device's very first message is not a
// framed Codec 8/12 packet — it's a 2-byte big-endian length followed by
// the ASCII identity, before any preamble/CRC framing begins. The server
// replies with a single accept/reject byte before either side sends
// anything else.
const (
	IdentityAccept byte = 0x01
	IdentityReject byte = 0x00
)

// MaxIdentityLength bounds the declared length of the handshake payload.
const MaxIdentityLength = 64

// ReadIdentity reads the device's pre-frame identity handshake message.
func ReadIdentity(r io.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("protocol: read identity length: %w", err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])
	if length == 0 || int(length) > MaxIdentityLength {
		return "", fmt.Errorf("protocol: identity length %d out of bounds", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("protocol: read identity payload: %w", err)
	}
	return string(buf), nil
}

// EncodeIdentityAck builds the single-byte accept/reject reply.
func EncodeIdentityAck(accept bool) []byte {
	if accept {
		return []byte{IdentityAccept}
	}
	return []byte{IdentityReject}
}
