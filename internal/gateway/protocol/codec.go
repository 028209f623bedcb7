package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/fleetpulse/telemetry-core/internal/model"
)

// Codec identifiers carried in the frame's CodecID byte.
const (
	CodecID8          byte = 0x08
	CodecID12Commands byte = 0x0C
)

// Well-known AVL IO element ids the decoder surfaces onto named
// Telemetry fields rather than leaving them in the opaque IO map; every
// other id passes through untouched.
const (
	ioIgnition      uint16 = 239
	ioTotalOdometer uint16 = 16
)

// DecodeCodec8 parses a Codec 8 AVL data body (spec §4.1) into one
// Telemetry record per AVL data element. deviceTZOffset shifts the
// device-local timestamp to UTC per the configured offset (spec §9 Open
// Question i).
func DecodeCodec8(identity string, body []byte, deviceTZOffset time.Duration) ([]model.Telemetry, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("protocol: codec8 body too short")
	}

	numRecords1 := int(body[0])
	offset := 1
	records := make([]model.Telemetry, 0, numRecords1)

	for i := 0; i < numRecords1; i++ {
		start := offset
		rec, next, err := decodeAVLRecord(body, offset)
		if err != nil {
			return nil, fmt.Errorf("protocol: record %d: %w", i, err)
		}
		rec.Identity = identity
		rec.RawFrameID = fmt.Sprintf("%08x", crc32.ChecksumIEEE(body[start:next]))

		localTS := rec.Timestamp
		rec.Timestamp = localTS.Add(-deviceTZOffset).UTC()
		rec.TimestampValid = plausibleTimestamp(rec.Timestamp)

		records = append(records, rec)
		offset = next
	}

	if offset >= len(body) {
		return nil, fmt.Errorf("protocol: codec8 body truncated before trailer")
	}
	numRecords2 := int(body[offset])
	if numRecords2 != numRecords1 {
		return nil, fmt.Errorf("protocol: codec8 record count mismatch %d != %d", numRecords1, numRecords2)
	}

	return records, nil
}

// plausibleTimestamp rejects device clocks that are absurdly far from
// now in either direction (spec §4.1 "non-parseable timestamps").
func plausibleTimestamp(ts time.Time) bool {
	now := time.Now().UTC()
	return ts.After(now.AddDate(-5, 0, 0)) && ts.Before(now.AddDate(1, 0, 0))
}

func decodeAVLRecord(body []byte, offset int) (model.Telemetry, int, error) {
	const fixedHeader = 8 + 1 + 4 + 4 + 2 + 2 + 1 + 2 // timestamp+priority+gps
	if offset+fixedHeader > len(body) {
		return model.Telemetry{}, 0, fmt.Errorf("truncated AVL header")
	}

	tsMillis := binary.BigEndian.Uint64(body[offset : offset+8])
	offset += 8
	offset++ // priority, unused beyond framing

	lon := int32(binary.BigEndian.Uint32(body[offset : offset+4]))
	offset += 4
	lat := int32(binary.BigEndian.Uint32(body[offset : offset+4]))
	offset += 4
	altitude := int16(binary.BigEndian.Uint16(body[offset : offset+2]))
	offset += 2
	angle := binary.BigEndian.Uint16(body[offset : offset+2])
	offset += 2
	satellites := body[offset]
	offset++
	speed := binary.BigEndian.Uint16(body[offset : offset+2])
	offset += 2

	io, next, err := decodeIOElement(body, offset)
	if err != nil {
		return model.Telemetry{}, 0, err
	}

	rec := model.Telemetry{
		Timestamp: time.UnixMilli(int64(tsMillis)).UTC(),
		Position: model.Position{
			Latitude:   float64(lat) / 1e7,
			Longitude:  float64(lon) / 1e7,
			Altitude:   int32(altitude),
			Heading:    angle,
			SpeedKmh:   speed,
			Satellites: satellites,
		},
		IO: io,
	}
	if v, ok := io[ioIgnition]; ok {
		rec.Ignition = v != 0
	}
	if v, ok := io[ioTotalOdometer]; ok && v >= 0 {
		rec.MileageM = uint64(v)
	}

	return rec, next, nil
}

func decodeIOElement(body []byte, offset int) (map[uint16]int64, int, error) {
	if offset+2 > len(body) {
		return nil, 0, fmt.Errorf("truncated IO element header")
	}
	offset++ // event io id, not surfaced
	totalIO := int(body[offset])
	offset++

	io := make(map[uint16]int64, totalIO)

	widths := []struct {
		size int
	}{{1}, {2}, {4}, {8}}

	for _, w := range widths {
		if offset >= len(body) {
			return nil, 0, fmt.Errorf("truncated IO group count")
		}
		count := int(body[offset])
		offset++
		for i := 0; i < count; i++ {
			if offset+1+w.size > len(body) {
				return nil, 0, fmt.Errorf("truncated IO element value")
			}
			id := uint16(body[offset])
			offset++
			var value int64
			switch w.size {
			case 1:
				value = int64(body[offset])
			case 2:
				value = int64(binary.BigEndian.Uint16(body[offset : offset+2]))
			case 4:
				value = int64(binary.BigEndian.Uint32(body[offset : offset+4]))
			case 8:
				value = int64(binary.BigEndian.Uint64(body[offset : offset+8]))
			}
			io[id] = value
			offset += w.size
		}
	}

	return io, offset, nil
}
