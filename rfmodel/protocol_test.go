package rfmodel

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func Assert(t *testing.T, condition bool, errorMessage string) {
	t.Helper()
	if !condition {
		t.Error(errorMessage)
	}
}

func TestDecodeLayout(t *testing.T) {
	raw := make([]byte, 32)
	raw[0] = 7
	raw[1], raw[2] = 0xE8, 0x03 // 1000
	raw[5] = 2
	raw[9] = 50
	bits := math.Float32bits(3.7)
	raw[13], raw[14], raw[15], raw[16] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
	raw[17] = 1
	raw[31] = 0xFF // tail is not part of the layout

	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := Telemetry{Radio: 7, Uptime: 1000, Errors: 2, Sent: 50, Battery: 3.7, State: 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode() = %+v, want %+v", got, want)
	}
}

func TestEncodeDecode(t *testing.T) {
	tests := []Telemetry{
		{Radio: 7, Uptime: 1000, Errors: 2, Sent: 50, Battery: 3.7, State: 1},
		{Radio: 255, Uptime: math.MaxUint32, Errors: 0, Sent: 1, Battery: 0, State: 255},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("radio_%d", tt.Radio), func(t *testing.T) {
			raw, err := Encode(tt, 32)
			if err != nil {
				t.Fatal(err)
			}
			Assert(t, len(raw) == 32, "payload is not padded to 32 bytes")
			Assert(t, raw[0] == tt.Radio, "radio id is not at byte 0")
			Assert(t, raw[17] == tt.State, "state is not at byte 17")
			got, err := Decode(raw)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt) {
				t.Errorf("Decode(Encode()) = %+v, want %+v", got, tt)
			}
		})
	}
}

func TestDecodeShort(t *testing.T) {
	_, err := Decode(make([]byte, PacketLength-1))
	Assert(t, errors.Is(err, ErrPacketLength), "short packet is not ErrPacketLength")
	_, err = Decode(make([]byte, PacketLength))
	Assert(t, err == nil, "exact length packet was rejected")
	_, err = Encode(Telemetry{}, 10)
	Assert(t, errors.Is(err, ErrPacketLength), "short payload size is not ErrPacketLength")
}

func TestDecodeGarbage(t *testing.T) {
	raw := make([]byte, PacketLength)
	for i := range raw {
		raw[i] = 0xFF
	}
	got, err := Decode(raw)
	Assert(t, err == nil, "garbage must decode")
	Assert(t, got.Radio == 0xFF && got.Uptime == math.MaxUint32, "garbage decoded wrong")
}

func TestErrors(t *testing.T) {
	err := errors.Wrap(NewError(ESendTimeout, "after %v", "500ms"), "send")
	Assert(t, errors.Is(err, ErrSendTimeout), "wrapped timeout does not match")
	Assert(t, !errors.Is(err, ErrMaxRetries), "timeout matches max retries")
	Assert(t, IsSendFailure(err), "timeout is not a send failure")
	Assert(t, IsSendFailure(ErrMaxRetries), "max retries is not a send failure")
	Assert(t, !IsSendFailure(ErrTransport), "transport is a send failure")

	cause := fmt.Errorf("broken pipe")
	terr := TransportError(cause)
	Assert(t, errors.Is(terr, ErrTransport), "TransportError is not ErrTransport")
	Assert(t, errors.Is(terr, cause), "TransportError lost its cause")
	Assert(t, TransportError(nil) == nil, "TransportError(nil) is not nil")
	Assert(t, terr.Error() == "transport failure: broken pipe", "unexpected message "+terr.Error())
}

func TestDump(t *testing.T) {
	Assert(t, Dump([]byte{0x01, 0xAB}) == "01 AB ", "Dump = "+Dump([]byte{0x01, 0xAB}))
}
