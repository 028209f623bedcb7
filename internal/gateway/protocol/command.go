package protocol

import (
	"encoding/binary"
	"fmt"
)

// Codec 12 command-packet constants (spec §4.4; exact byte layout
// recovered from the device-side command encoder this pipeline replaces).
const (
	codec12CommandQuantity = 0x01
	codec12TypeCommand     = 0x05
	codec12TypeResponse    = 0x06
)

// EncodeCommand builds the Codec 12 frame body (codec id through the
// trailing command-quantity byte, before CRC) for an ASCII command string.
// Callers pass the result to EncodeFrame to add the preamble/size/CRC.
func EncodeCommand(command string) []byte {
	cmdBytes := []byte(command)

	body := make([]byte, 0, 1+1+1+4+len(cmdBytes)+1)
	body = append(body, CodecID12Commands)
	body = append(body, codec12CommandQuantity)
	body = append(body, codec12TypeCommand)
	body = binary.BigEndian.AppendUint32(body, uint32(len(cmdBytes)))
	body = append(body, cmdBytes...)
	body = append(body, codec12CommandQuantity)
	return body
}

// CommandResponse is a decoded Codec 12 response (Type=0x06) from a
// device, or a command echo (Type=0x05) the Gateway should ignore.
type CommandResponse struct {
	IsResponse bool
	Text       string
}

// DecodeCommand parses a Codec 12 frame body (Frame.Body, i.e. everything
// after the codec id byte) into a CommandResponse.
func DecodeCommand(body []byte) (CommandResponse, error) {
	if len(body) < 1+1+4 {
		return CommandResponse{}, fmt.Errorf("protocol: codec12 body too short")
	}
	// body[0] = command quantity 1, already consumed by Frame splitting
	// off CodecID; here body[0] is the quantity byte.
	packetType := body[1]
	size := binary.BigEndian.Uint32(body[2:6])
	if int(size) > len(body)-6 {
		return CommandResponse{}, fmt.Errorf("protocol: codec12 declared size %d exceeds body", size)
	}
	text := string(body[6 : 6+size])

	return CommandResponse{
		IsResponse: packetType == codec12TypeResponse,
		Text:       text,
	}, nil
}
