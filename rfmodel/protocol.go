package rfmodel

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// PacketLength is the number of meaningful bytes in a telemetry payload.
// The radio payload itself is usually longer (32 bytes); the tail is ignored.
const PacketLength uint = 18

// Telemetry is one decoded sensor node report. Field order matches the wire
// layout, all multi-byte values are little-endian.
type Telemetry struct {
	Radio   uint8
	Uptime  uint32 // ms since node boot
	Errors  uint32
	Sent    uint32
	Battery float32 // volts
	State   uint8
}

// Decode parses the fixed telemetry layout. Nothing but the length is
// checked: the transceiver CRC is the only integrity check, so a garbled
// packet decodes into plausible but wrong values.
func Decode(raw []byte) (Telemetry, error) {
	var ret Telemetry
	if uint(len(raw)) < PacketLength {
		return ret, NewError(EPacketLength, "got %d bytes, want at least %d", len(raw), PacketLength)
	}
	if err := binary.Read(bytes.NewReader(raw[:PacketLength]), binary.LittleEndian, &ret); err != nil {
		return ret, errors.Wrap(err, "binary.Read")
	}
	return ret, nil
}

// Encode builds a node-side payload of the given size, zero-padded.
func Encode(t Telemetry, size uint) ([]byte, error) {
	if size < PacketLength {
		return nil, NewError(EPacketLength, "payload size %d is shorter than %d", size, PacketLength)
	}
	buf := bytes.Buffer{}
	if err := binary.Write(&buf, binary.LittleEndian, &t); err != nil {
		return nil, errors.Wrap(err, "binary.Write")
	}
	ret := make([]byte, size)
	copy(ret, buf.Bytes())
	return ret, nil
}
