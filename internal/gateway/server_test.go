package gateway

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/broker"
	"github.com/fleetpulse/telemetry-core/internal/config"
	"github.com/fleetpulse/telemetry-core/internal/gateway/command"
	"github.com/fleetpulse/telemetry-core/internal/gateway/protocol"
	"github.com/fleetpulse/telemetry-core/internal/gateway/publish"
)

func testServer(t *testing.T) (*Server, *broker.Fake) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Gateway.ReadIdleTimeout = 0
	cfg.Gateway.MaxConcurrentConns = 10
	cfg.Gateway.IdleTimeout = time.Hour
	cfg.Gateway.SweepInterval = time.Hour

	atomicCfg := config.NewAtomic(cfg)
	fake := broker.NewFake()
	pub := publish.New(fake, nil)
	store := command.NewFakeStore()
	correlate := command.NewCorrelator(store, nil, zerolog.Nop())

	srv := New(atomicCfg, pub, correlate, nil, nil, nil, zerolog.Nop())
	return srv, fake
}

func writeIdentity(t *testing.T, conn net.Conn, identity string) {
	t.Helper()
	buf := make([]byte, 2+len(identity))
	binary.BigEndian.PutUint16(buf, uint16(len(identity)))
	copy(buf[2:], identity)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write identity: %v", err)
	}
}

func TestHandleConnectionAcceptsIdentityAndPublishesTelemetry(t *testing.T) {
	srv, fake := testServer(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		srv.handleConnection(serverConn)
		close(done)
	}()

	writeIdentity(t, clientConn, "356938035643809")

	ack := make([]byte, 1)
	if _, err := clientConn.Read(ack); err != nil {
		t.Fatalf("read identity ack: %v", err)
	}
	if ack[0] != protocol.IdentityAccept {
		t.Fatalf("ack = %x, want accept", ack[0])
	}

	rec := buildMinimalAVLRecord(t)
	body := []byte{0x01}
	body = append(body, rec...)
	body = append(body, 0x01)
	frameBody := append([]byte{protocol.CodecID8}, body...)
	wire := protocol.EncodeFrame(frameBody)

	writeDone := make(chan struct{})
	go func() {
		clientConn.Write(wire)
		close(writeDone)
	}()
	<-writeDone

	deadline := time.After(2 * time.Second)
	for {
		if len(fake.Published) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for telemetry publish")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if fake.Published[0].RoutingKey != publish.RoutingKeyTelemetry {
		t.Fatalf("RoutingKey = %q, want telemetry", fake.Published[0].RoutingKey)
	}

	clientConn.Close()
	<-done
}

func TestHandleConnectionRejectsInvalidIdentity(t *testing.T) {
	srv, _ := testServer(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		srv.handleConnection(serverConn)
		close(done)
	}()

	writeIdentity(t, clientConn, "not-numeric")

	ack := make([]byte, 1)
	if _, err := clientConn.Read(ack); err != nil {
		t.Fatalf("read identity ack: %v", err)
	}
	if ack[0] != protocol.IdentityReject {
		t.Fatalf("ack = %x, want reject", ack[0])
	}
	<-done
}

func TestWriteToReturnsFalseForUnknownIdentity(t *testing.T) {
	srv, _ := testServer(t)
	ok, err := srv.WriteTo("000000000000000", []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown identity")
	}
}

func buildMinimalAVLRecord(t *testing.T) []byte {
	t.Helper()
	var rec []byte
	rec = binary.BigEndian.AppendUint64(rec, uint64(time.Now().UnixMilli()))
	rec = append(rec, 0x01)
	rec = binary.BigEndian.AppendUint32(rec, 135000000)
	rec = binary.BigEndian.AppendUint32(rec, 452000000)
	rec = binary.BigEndian.AppendUint16(rec, 0)
	rec = binary.BigEndian.AppendUint16(rec, 0)
	rec = append(rec, 6)
	rec = binary.BigEndian.AppendUint16(rec, 10)
	rec = append(rec, 0x00, 0x00) // event io id, total io count
	rec = append(rec, 0x00, 0x00, 0x00, 0x00)
	return rec
}
