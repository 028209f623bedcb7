package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrCRCMismatch is returned by ReadFrame when the trailing CRC doesn't
// match the computed checksum over the frame body.
var ErrCRCMismatch = errors.New("protocol: crc mismatch")

// ErrFrameTooLarge bounds a single frame's declared length against
// MaxFrameBytes, guarding against a corrupt length field holding the
// connection hostage.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// MaxFrameBytes is the largest data-size field ReadFrame accepts. No
// device firmware generates frames anywhere near this; it exists purely
// to bound a malformed or adversarial length field.
const MaxFrameBytes = 1 << 20

// Frame is one decoded wire frame: preamble and trailing CRC are
// validated but not retained, since they carry no information once a
// frame is known well-formed.
type Frame struct {
	CodecID byte
	Body    []byte // codec-specific payload, excluding the codec id byte itself

	// KeepAlive marks a frame with declared length 0 (spec §8): a no-op
	// kept-alive ping with no codec id or body to decode.
	KeepAlive bool
}

// ReadFrame reads one frame from r: a 4-byte zero preamble, a 4-byte
// big-endian data size, that many bytes (codec id + payload), and a
// 4-byte big-endian CRC trailer formatted as 0x0000XXXX. A declared size
// of 0 is a keep-alive: ReadFrame returns it as Frame{KeepAlive: true}
// with no error, consuming nothing past the size field.
func ReadFrame(r io.Reader) (Frame, error) {
	var preamble [4]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return Frame{}, err
	}
	if preamble != [4]byte{0, 0, 0, 0} {
		return Frame{}, fmt.Errorf("protocol: non-zero preamble %x", preamble)
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("protocol: read data size: %w", err)
	}
	dataSize := binary.BigEndian.Uint32(sizeBuf[:])
	if dataSize == 0 {
		return Frame{KeepAlive: true}, nil
	}
	if dataSize > MaxFrameBytes {
		return Frame{}, ErrFrameTooLarge
	}

	body := make([]byte, dataSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("protocol: read frame body: %w", err)
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("protocol: read crc trailer: %w", err)
	}
	wantCRC := binary.BigEndian.Uint32(crcBuf[:])
	gotCRC := uint32(CRC16IBM(body))
	if wantCRC != gotCRC {
		return Frame{}, ErrCRCMismatch
	}

	return Frame{CodecID: body[0], Body: body[1:]}, nil
}

// EncodeFrame wraps body (codec id + payload, without CRC) into a full
// wire frame: preamble, data size, body, CRC trailer.
func EncodeFrame(body []byte) []byte {
	crc := uint32(CRC16IBM(body))

	out := make([]byte, 0, 4+4+len(body)+4)
	out = binary.BigEndian.AppendUint32(out, 0)
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	out = binary.BigEndian.AppendUint32(out, crc)
	return out
}
