package command

import "github.com/fleetpulse/telemetry-core/internal/gateway/protocol"

// Sender writes an already-encoded downlink frame to the live connection
// for identity. It returns ok=false when no connection currently holds
// that identity (the poller then reports the command as failed rather
// than retrying indefinitely).
type Sender interface {
	WriteTo(identity string, frame []byte) (ok bool, err error)
}

// EncodeCommandFrame turns an ASCII command payload into the full wire
// frame (preamble, size, Codec 12 body, CRC) ready for Sender.WriteTo.
func EncodeCommandFrame(payload string) []byte {
	return protocol.EncodeFrame(protocol.EncodeCommand(payload))
}
