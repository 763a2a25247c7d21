package transceivermodel

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is an nrf transceiver pipe address, LSByte first as it goes over SPI
type Address [5]byte

// Payload is the raw bytes of a single radio packet
type Payload []byte

// State of the transceiver as tracked by the driver
type State byte

const (
	PoweredDown State = iota
	Standby
	Listening
	Transmitting
)

func (s State) String() string {
	switch s {
	case PoweredDown:
		return "powered down"
	case Standby:
		return "standby"
	case Listening:
		return "listening"
	case Transmitting:
		return "transmitting"
	}
	return fmt.Sprintf("state(%d)", byte(s))
}

// Receiver is the part of a transceiver the relay needs: polling the RX FIFO
// and popping one payload at a time.
type Receiver interface {
	HasData() (bool, error)
	Receive() (Payload, error)
}

// ParseAddress accepts 10 hex digits, optionally separated by colons
// ("0102030400" or "01:02:03:04:00").
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return a, fmt.Errorf("address %q: %v", s, err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("address %q: want %d bytes, got %d", s, len(a), len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// AddressToString is the inverse of ParseAddress
func AddressToString(a Address) string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address was never set
func (a Address) IsZero() bool {
	return a == Address{}
}
