package nrfmodel

import (
	"errors"
	"sync"

	"periph.io/x/periph/conn/gpio"
)

type txMode byte

const (
	txAck   txMode = iota // TX_DS right after the CE pulse
	txNoAck               // MAX_RT right after the CE pulse
	txMute                // never completes
)

// fakeChip emulates the nRF24L01+ register file, FIFOs and CE line closely
// enough for the driver: it is both the Conn and the CE Pin.
type fakeChip struct {
	mu       sync.Mutex
	absent   bool // MISO floats: everything reads back as 0x00
	failTx   bool
	regs     [0x20][]byte
	status   byte
	rxFIFO   [][]byte
	txFIFO   [][]byte
	sent     [][]byte
	mode     txMode
	ce       bool
	ceLog    []bool
	commands []byte
}

func newFakeChip() *fakeChip {
	c := &fakeChip{}
	for r := range c.regs {
		n := registerLengths[Register(r)]
		if 0 == n {
			n = 1
		}
		c.regs[r] = make([]byte, n)
	}
	c.regs[RConfig][0] = 0x08
	c.regs[RSetupAW][0] = 0x03
	c.regs[RRFSetup][0] = 0x0F
	c.regs[REnRxAddr][0] = 0x03
	return c
}

func (c *fakeChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failTx {
		return errors.New("spi bus gone")
	}
	cmd := w[0]
	c.commands = append(c.commands, cmd)
	if c.absent {
		for i := range r {
			r[i] = 0
		}
		return nil
	}
	r[0] = c.statusByte()
	data := w[1:]
	switch {
	case cmd < 0x20:
		copy(r[1:], c.readReg(Register(cmd&0x1F)))
	case cmd < 0x40:
		c.writeReg(Register(cmd&0x1F), data)
	case Command(cmd) == CReadRxPayload:
		if len(c.rxFIFO) > 0 {
			copy(r[1:], c.rxFIFO[0])
			c.rxFIFO = c.rxFIFO[1:]
		}
	case Command(cmd) == CWriteTxPayload:
		c.txFIFO = append(c.txFIFO, append([]byte(nil), data...))
	case Command(cmd) == CFlushRx:
		c.rxFIFO = nil
	case Command(cmd) == CFlushTx:
		c.txFIFO = nil
	}
	return nil
}

func (c *fakeChip) statusByte() byte {
	s := c.status
	if 0 == len(c.rxFIFO) {
		s |= 0x0E // RX_P_NO = 7, empty
	}
	return s
}

func (c *fakeChip) readReg(r Register) []byte {
	switch r {
	case RStatus:
		return []byte{c.statusByte()}
	case RFifoStatus:
		var v byte
		if 0 == len(c.rxFIFO) {
			v |= BV(BRxEmpty)
		}
		if 0 == len(c.txFIFO) {
			v |= 1 << 4
		}
		return []byte{v}
	}
	return c.regs[r]
}

func (c *fakeChip) writeReg(r Register, data []byte) {
	if RStatus == r {
		// write 1 to clear
		c.status &^= data[0] & statusFlags
		return
	}
	copy(c.regs[r], data)
}

func (c *fakeChip) Out(l gpio.Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rising := bool(l) && !c.ce
	c.ce = bool(l)
	c.ceLog = append(c.ceLog, c.ce)
	if rising && 0 == c.regs[RConfig][0]&BV(BPrimRx) && len(c.txFIFO) > 0 {
		switch c.mode {
		case txAck:
			c.sent = append(c.sent, c.txFIFO[0])
			c.txFIFO = c.txFIFO[1:]
			c.status |= BV(BTxDs)
		case txNoAck:
			c.status |= BV(BMaxRt)
		}
	}
	return nil
}

// inject puts a payload into the RX FIFO as if it arrived over the air
func (c *fakeChip) inject(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rxFIFO = append(c.rxFIFO, append([]byte(nil), p...))
	c.status |= BV(BRxDr)
}

func (c *fakeChip) reg(r Register) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.regs[r]...)
}

func (c *fakeChip) ceLevel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ce
}

func (c *fakeChip) set(f func(c *fakeChip)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(c)
}
