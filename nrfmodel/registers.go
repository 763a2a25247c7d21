package nrfmodel

// NRF-related stuff
type Command byte
type Register byte
type Bit byte

// nRF24L01 commands
const (
	CReadRegister   Command = 0x00
	CWriteRegister  Command = 0x20
	CReadRxPayload  Command = 0x61
	CWriteTxPayload Command = 0xA0
	CFlushTx        Command = 0xE1
	CFlushRx        Command = 0xE2
	CNop            Command = 0xFF
)

// nRF24L01 registers and bits
const (
	RConfig    Register = 0x00
	BMaskRxDr  Bit      = 6
	BMaskTxDs  Bit      = 5
	BMaskMaxRt Bit      = 4
	BEnCrc     Bit      = 3
	BCrcO      Bit      = 2
	BPwrUp     Bit      = 1
	BPrimRx    Bit      = 0

	REnAA     Register = 0x01
	REnRxAddr Register = 0x02

	RSetupAW Register = 0x03
	// 5 byte addresses
	AddressWidth5 byte = 0x03

	RSetupRetr Register = 0x04
	BARD       Bit      = 4
	BARC       Bit      = 0

	RRFCh Register = 0x05

	RRFSetup  Register = 0x06
	BRfDrLow  Bit      = 5
	BRfDrHigh Bit      = 3
	BRfPwr    Bit      = 1
	// bits of RF_SETUP that are not power or data rate
	rfSetupKeepMask byte = 0xD0

	RStatus Register = 0x07
	BRxDr   Bit      = 6
	BTxDs   Bit      = 5
	BMaxRt  Bit      = 4

	RObserveTx Register = 0x08
	RRxAddrP0  Register = 0x0A
	RRxAddrP1  Register = 0x0B
	RTxAddr    Register = 0x10
	RRxPwP0    Register = 0x11

	RFifoStatus Register = 0x17
	BRxEmpty    Bit      = 0

	RDynPd Register = 0x1C
	BDplP0 Bit      = 0
	BDplP1 Bit      = 1
)

const maxChannel = 125

// MaxPayloadSize is the FIFO width of the chip.
const MaxPayloadSize = 32

func BV(b Bit) byte {
	return 1 << byte(b)
}

// all three interrupt flags, written back to STATUS to clear them
var statusFlags = BV(BRxDr) | BV(BTxDs) | BV(BMaxRt)

var registerLengths = map[Register]byte{
	RConfig:       1,
	REnAA:         1,
	REnRxAddr:     1,
	RSetupAW:      1,
	RSetupRetr:    1,
	RRFCh:         1,
	RRFSetup:      1,
	RStatus:       1,
	RObserveTx:    1,
	RRxAddrP0:     5,
	RRxAddrP1:     5,
	RRxAddrP1 + 1: 1,
	RRxAddrP1 + 2: 1,
	RRxAddrP1 + 3: 1,
	RRxAddrP1 + 4: 1,
	RTxAddr:       5,
	RRxPwP0:       1,
	RRxPwP0 + 1:   1,
	RRxPwP0 + 2:   1,
	RRxPwP0 + 3:   1,
	RRxPwP0 + 4:   1,
	RRxPwP0 + 5:   1,
	RFifoStatus:   1,
	RDynPd:        1,
}
