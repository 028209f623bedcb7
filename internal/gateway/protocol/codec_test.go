package protocol

import (
	"encoding/binary"
	"testing"
	"time"
)

func buildAVLRecord(t *testing.T, tsMillis int64, lat, lon int32, ignitionOn bool) []byte {
	t.Helper()
	var rec []byte
	rec = binary.BigEndian.AppendUint64(rec, uint64(tsMillis))
	rec = append(rec, 0x01) // priority
	rec = binary.BigEndian.AppendUint32(rec, uint32(lon))
	rec = binary.BigEndian.AppendUint32(rec, uint32(lat))
	rec = binary.BigEndian.AppendUint16(rec, 0) // altitude
	rec = binary.BigEndian.AppendUint16(rec, 0) // angle
	rec = append(rec, 6)                        // satellites
	rec = binary.BigEndian.AppendUint16(rec, 42) // speed

	rec = append(rec, 0x00) // event io id
	rec = append(rec, 0x01) // total io count

	ignitionVal := byte(0)
	if ignitionOn {
		ignitionVal = 1
	}
	rec = append(rec, 0x01)                 // n1 count
	rec = append(rec, byte(ioIgnition), ignitionVal)
	rec = append(rec, 0x00) // n2 count
	rec = append(rec, 0x00) // n4 count
	rec = append(rec, 0x00) // n8 count
	return rec
}

func TestDecodeCodec8SingleRecord(t *testing.T) {
	tsMillis := int64(1700000000000)
	rec := buildAVLRecord(t, tsMillis, 452000000, 135000000, true)

	body := []byte{0x01}
	body = append(body, rec...)
	body = append(body, 0x01) // trailing record count

	records, err := DecodeCodec8("356938035643809", body, 0)
	if err != nil {
		t.Fatalf("DecodeCodec8: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}

	got := records[0]
	if !got.Ignition {
		t.Fatal("expected ignition on")
	}
	if got.Position.Latitude != 45.2 {
		t.Fatalf("latitude = %v, want 45.2", got.Position.Latitude)
	}
	if got.Position.Longitude != 13.5 {
		t.Fatalf("longitude = %v, want 13.5", got.Position.Longitude)
	}
	if got.Timestamp.UTC() != time.UnixMilli(tsMillis).UTC() {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, time.UnixMilli(tsMillis))
	}
	if !got.TimestampValid {
		t.Fatal("expected plausible recent timestamp to be valid")
	}
}

func TestDecodeCodec8RejectsCountMismatch(t *testing.T) {
	rec := buildAVLRecord(t, 1700000000000, 0, 0, false)
	body := []byte{0x02}
	body = append(body, rec...)
	body = append(body, 0x01) // mismatched trailer

	_, err := DecodeCodec8("356938035643809", body, 0)
	if err == nil {
		t.Fatal("expected record count mismatch error")
	}
}
