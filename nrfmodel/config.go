package nrfmodel

import (
	"fmt"

	tm "github.com/kagami-house/nrf-gateway/transceivermodel"
)

type DataRate byte

// RF_SETUP data rate bits
const (
	DataRate1M   DataRate = 0x00
	DataRate2M   DataRate = 0x08
	DataRate250k DataRate = 0x20
)

type PowerLevel byte

// RF_SETUP power bits, Power0 is -18dBm, Power3 is 0dBm
const (
	Power0 PowerLevel = 0x00
	Power1 PowerLevel = 0x02
	Power2 PowerLevel = 0x04
	Power3 PowerLevel = 0x06
)

// Config is the radio link configuration. Both ends of a link must agree on
// all of it, nothing is negotiated over the air.
type Config struct {
	Channel     byte // 0..125
	PayloadSize byte // 1..32
	DataRate    DataRate
	Power       PowerLevel
	CRCLength   byte // 0, 1 or 2 bytes
	// SETUP_RETR: count 0..15, delay 0..15 in 250us steps
	RetransmitCount byte
	RetransmitDelay byte
	TxAddress       tm.Address
	// pipe id -> address, pipes 2..5 only use the first address byte
	RxPipes map[byte]tm.Address
}

// DefaultConfig matches the sensor node firmware: channel 100, 32 byte
// payloads, 250kbps at full power, 1 byte CRC, 15 retransmits 500us apart.
func DefaultConfig() Config {
	return Config{
		Channel:         100,
		PayloadSize:     MaxPayloadSize,
		DataRate:        DataRate250k,
		Power:           Power3,
		CRCLength:       1,
		RetransmitCount: 15,
		RetransmitDelay: 1,
	}
}

// Validate checks ranges. Channel is not checked, values above 125 are clamped
// the same way SetChannel does it.
func (c Config) Validate() error {
	if c.PayloadSize == 0 || c.PayloadSize > MaxPayloadSize {
		return fmt.Errorf("payload size %d is out of 1..%d", c.PayloadSize, MaxPayloadSize)
	}
	switch c.DataRate {
	case DataRate1M, DataRate2M, DataRate250k:
	default:
		return fmt.Errorf("unknown data rate 0x%02X", byte(c.DataRate))
	}
	if byte(c.Power)&^byte(Power3) != 0 {
		return fmt.Errorf("unknown power level 0x%02X", byte(c.Power))
	}
	if c.CRCLength > 2 {
		return fmt.Errorf("crc length %d is out of 0..2", c.CRCLength)
	}
	if c.RetransmitCount > 15 || c.RetransmitDelay > 15 {
		return fmt.Errorf("retransmit count %d / delay %d is out of 0..15", c.RetransmitCount, c.RetransmitDelay)
	}
	for pipe := range c.RxPipes {
		if pipe > 5 {
			return fmt.Errorf("rx pipe %d is out of 0..5", pipe)
		}
	}
	return nil
}

func (c Config) setupRetr() byte {
	return c.RetransmitDelay<<byte(BARD) | c.RetransmitCount<<byte(BARC)
}
