package nrfmodel

import (
	"io"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"

	"github.com/kagami-house/nrf-gateway/rfmodel"
	tm "github.com/kagami-house/nrf-gateway/transceivermodel"
)

var log = logrus.New()

// SetLogger replaces the package logger.
func SetLogger(l *logrus.Logger) {
	log = l
}

const (
	powerOnDelay   = 5 * time.Millisecond
	settleDelay    = 130 * time.Microsecond // standby -> RX settling
	txSettleDelay  = 150 * time.Microsecond
	cePulse        = 15 * time.Microsecond
	sendPollPeriod = 100 * time.Microsecond
)

// Conn is the SPI side of the chip, spi.Conn satisfies it.
type Conn interface {
	Tx(w, r []byte) error
}

// Pin drives the CE line, gpio.PinOut satisfies it.
type Pin interface {
	Out(l gpio.Level) error
}

// NRFTransmitter drives one nRF24L01(+) chip. All methods are serialized on an
// internal mutex; the chip itself must not be shared with anything else.
type NRFTransmitter struct {
	connection    Conn
	port          io.Closer
	ce            Pin
	status        uint8
	payloadSize   byte
	pipe0ReadAddr *tm.Address
	state         tm.State
	// first error of the current operation, later SPI commands are skipped
	err   error
	sleep func(time.Duration)
	mutex sync.Mutex
}

// New brings the chip up from power-on and leaves it in Standby with the
// configured pipes open. A chip that does not read back SETUP_AW is reported
// as rfmodel.ErrHardwareFault before anything else is written.
func New(conn Conn, ce Pin, cfg Config) (*NRFTransmitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "nrfmodel.New")
	}
	rf := &NRFTransmitter{
		connection:  conn,
		ce:          ce,
		payloadSize: cfg.PayloadSize,
		state:       tm.PoweredDown,
		sleep:       time.Sleep,
	}
	if err := rf.initNRF(cfg); err != nil {
		return nil, err
	}
	rf.setState(tm.Standby)
	log.WithFields(logrus.Fields{
		"channel": cfg.Channel,
		"payload": cfg.PayloadSize,
		"tx":      tm.AddressToString(cfg.TxAddress),
	}).Info("nRF24L01+ initialized")
	return rf, nil
}

func (rf *NRFTransmitter) initNRF(cfg Config) error {
	rf.setCE(false)
	rf.sleep(powerOnDelay)
	rf.writeByteRegister(RSetupAW, AddressWidth5)
	aw := rf.readByteRegister(RSetupAW)
	if rf.err != nil {
		return &rfmodel.Error{Type: rfmodel.EHardwareFault, Err: rf.err}
	}
	if aw != AddressWidth5 {
		return rfmodel.NewError(rfmodel.EHardwareFault, "SETUP_AW reads back 0x%02X, wrote 0x%02X", aw, AddressWidth5)
	}
	rf.writeByteRegister(RDynPd, BV(BDplP0)|BV(BDplP1))
	rf.writeByteRegister(RSetupRetr, cfg.setupRetr())
	rf.setPowerSpeed(cfg.Power, cfg.DataRate)
	rf.setCRC(cfg.CRCLength)
	rf.writeByteRegister(RStatus, statusFlags)
	rf.setChannel(cfg.Channel)
	rf.sendCommand(CFlushRx, nil)
	rf.sendCommand(CFlushTx, nil)
	if !cfg.TxAddress.IsZero() {
		rf.openTxPipe(cfg.TxAddress)
	}
	pipes := make([]byte, 0, len(cfg.RxPipes))
	for pipe := range cfg.RxPipes {
		pipes = append(pipes, pipe)
	}
	slices.Sort(pipes)
	for _, pipe := range pipes {
		rf.openRxPipe(pipe, cfg.RxPipes[pipe])
	}
	if rf.err != nil {
		return &rfmodel.Error{Type: rfmodel.EHardwareFault, Err: rf.err}
	}
	return nil
}

// State returns the driver's view of the chip mode.
func (rf *NRFTransmitter) State() tm.State {
	rf.mutex.Lock()
	defer rf.mutex.Unlock()
	return rf.state
}

// PayloadSize returns the fixed payload width of the pipes.
func (rf *NRFTransmitter) PayloadSize() byte {
	rf.mutex.Lock()
	defer rf.mutex.Unlock()
	return rf.payloadSize
}

// begin locks the driver and checks that the current state is one of allowed.
// The returned function must be deferred.
func (rf *NRFTransmitter) begin(op string, allowed ...tm.State) (func(), error) {
	rf.mutex.Lock()
	if !slices.Contains(allowed, rf.state) {
		state := rf.state
		rf.mutex.Unlock()
		return nil, rfmodel.NewError(rfmodel.EInvalidState, "%s while %v", op, state)
	}
	rf.err = nil
	return rf.mutex.Unlock, nil
}

var active = []tm.State{tm.Standby, tm.Listening}

func (rf *NRFTransmitter) OpenTxPipe(address tm.Address) error {
	done, err := rf.begin("open tx pipe", active...)
	if err != nil {
		return err
	}
	defer done()
	rf.openTxPipe(address)
	return errors.Wrap(rf.err, "open tx pipe")
}

func (rf *NRFTransmitter) OpenRxPipe(pipe byte, address tm.Address) error {
	if pipe > 5 {
		return errors.Errorf("rx pipe %d is out of 0..5", pipe)
	}
	done, err := rf.begin("open rx pipe", active...)
	if err != nil {
		return err
	}
	defer done()
	rf.openRxPipe(pipe, address)
	return errors.Wrap(rf.err, "open rx pipe")
}

// StartListening switches Standby -> Listening. It returns after the RX
// settling delay, when the chip is guaranteed to receive.
func (rf *NRFTransmitter) StartListening() error {
	done, err := rf.begin("start listening", tm.Standby)
	if err != nil {
		return err
	}
	defer done()
	rf.writeByteRegister(RConfig, rf.readByteRegister(RConfig)|BV(BPwrUp)|BV(BPrimRx))
	rf.writeByteRegister(RStatus, statusFlags)
	// pipe 0 address was overwritten by OpenTxPipe for auto ack
	if nil != rf.pipe0ReadAddr {
		rf.writeRegister(RRxAddrP0, rf.pipe0ReadAddr[:])
	}
	rf.sendCommand(CFlushRx, nil)
	rf.sendCommand(CFlushTx, nil)
	rf.setCE(true)
	if rf.err != nil {
		rf.setCEQuiet(false)
		return errors.Wrap(rf.err, "start listening")
	}
	rf.sleep(settleDelay)
	rf.setState(tm.Listening)
	return nil
}

// StopListening switches Listening -> Standby.
func (rf *NRFTransmitter) StopListening() error {
	done, err := rf.begin("stop listening", tm.Listening)
	if err != nil {
		return err
	}
	defer done()
	rf.setCE(false)
	rf.sendCommand(CFlushTx, nil)
	rf.sendCommand(CFlushRx, nil)
	rf.setState(tm.Standby)
	return errors.Wrap(rf.err, "stop listening")
}

// HasData reports whether the RX FIFO holds at least one payload.
func (rf *NRFTransmitter) HasData() (bool, error) {
	done, err := rf.begin("has data", active...)
	if err != nil {
		return false, err
	}
	defer done()
	fifo := rf.readByteRegister(RFifoStatus)
	if rf.err != nil {
		return false, errors.Wrap(rf.err, "has data")
	}
	return 0 == fifo&BV(BRxEmpty), nil
}

// Receive pops one payload from the RX FIFO. Call it only after HasData
// returned true, an empty FIFO yields stale bytes.
func (rf *NRFTransmitter) Receive() (tm.Payload, error) {
	done, err := rf.begin("receive", active...)
	if err != nil {
		return nil, err
	}
	defer done()
	buf := rf.sendCommand(CReadRxPayload, make([]byte, rf.payloadSize))
	rf.writeByteRegister(RStatus, BV(BRxDr))
	if rf.err != nil {
		return nil, errors.Wrap(rf.err, "receive")
	}
	return buf, nil
}

type sendResult byte

const (
	sendPending sendResult = iota
	sendOk
	sendMaxRt
)

// Send transmits buf, zero-padded to the payload size, and polls for the
// chip's verdict until timeout. The chip is left in Standby with CE low and
// PWR_UP cleared whatever the outcome; listening is not resumed, callers that
// want to keep receiving must call StartListening again.
func (rf *NRFTransmitter) Send(buf []byte, timeout time.Duration) error {
	done, err := rf.begin("send", active...)
	if err != nil {
		return err
	}
	defer done()
	if len(buf) > int(rf.payloadSize) {
		return errors.Errorf("send: %d bytes do not fit %d byte payload", len(buf), rf.payloadSize)
	}
	rf.setState(tm.Transmitting)
	rf.sendStart(buf)
	result := sendPending
	start := time.Now()
	for rf.err == nil && sendPending == result && time.Since(start) < timeout {
		result = rf.sendDone()
		if sendPending == result {
			rf.sleep(sendPollPeriod)
		}
	}
	rf.sendFinish(result)
	rf.setState(tm.Standby)
	switch {
	case rf.err != nil:
		return errors.Wrap(rf.err, "send")
	case sendOk == result:
		return nil
	case sendMaxRt == result:
		return rfmodel.ErrMaxRetries
	}
	return rfmodel.NewError(rfmodel.ESendTimeout, "no TX_DS or MAX_RT in %v", timeout)
}

func (rf *NRFTransmitter) sendStart(buf []byte) {
	// without a CE changing from low to high transmission won't start
	rf.setCE(false)
	rf.writeByteRegister(RConfig, (rf.readByteRegister(RConfig)|BV(BPwrUp))&^BV(BPrimRx))
	rf.sleep(txSettleDelay)
	payload := make([]byte, rf.payloadSize)
	copy(payload, buf)
	rf.sendCommand(CWriteTxPayload, payload)
	rf.setCE(true)
	rf.sleep(cePulse)
	rf.setCE(false)
}

func (rf *NRFTransmitter) sendDone() sendResult {
	status := rf.readStatus()
	if 0 == status&(BV(BTxDs)|BV(BMaxRt)) {
		return sendPending
	}
	if 0 != status&BV(BTxDs) {
		return sendOk
	}
	return sendMaxRt
}

// sendFinish runs on every outcome, including SPI errors
func (rf *NRFTransmitter) sendFinish(result sendResult) {
	failed := rf.err
	rf.err = nil
	rf.setCE(false)
	if sendOk != result {
		// TX FIFO does not pop failed element. If we won't clean it, it will be re-sent again.
		rf.sendCommand(CFlushTx, nil)
	}
	rf.writeByteRegister(RStatus, statusFlags)
	rf.writeByteRegister(RConfig, rf.readByteRegister(RConfig)&^BV(BPwrUp))
	if failed != nil {
		rf.err = failed
	}
}

func (rf *NRFTransmitter) SetChannel(channel byte) error {
	done, err := rf.begin("set channel", active...)
	if err != nil {
		return err
	}
	defer done()
	rf.setChannel(channel)
	return errors.Wrap(rf.err, "set channel")
}

// SetPayloadSize changes the width of every enabled pipe.
func (rf *NRFTransmitter) SetPayloadSize(size byte) error {
	if 0 == size || size > MaxPayloadSize {
		return errors.Errorf("payload size %d is out of 1..%d", size, MaxPayloadSize)
	}
	done, err := rf.begin("set payload size", active...)
	if err != nil {
		return err
	}
	defer done()
	enabled := rf.readByteRegister(REnRxAddr) | 1
	for pipe := byte(0); pipe <= 5; pipe++ {
		if 0 != enabled&(1<<pipe) {
			rf.writeByteRegister(RRxPwP0+Register(pipe), size)
		}
	}
	if rf.err != nil {
		return errors.Wrap(rf.err, "set payload size")
	}
	rf.payloadSize = size
	return nil
}

// Close drops CE, powers the chip down and releases the SPI port.
func (rf *NRFTransmitter) Close() error {
	rf.mutex.Lock()
	defer rf.mutex.Unlock()
	if tm.PoweredDown == rf.state {
		return nil
	}
	rf.err = nil
	rf.setCE(false)
	rf.writeByteRegister(RConfig, rf.readByteRegister(RConfig)&^BV(BPwrUp))
	rf.setState(tm.PoweredDown)
	err := rf.err
	if nil != rf.port {
		if cerr := rf.port.Close(); err == nil {
			err = cerr
		}
	}
	return errors.Wrap(err, "close")
}

func (rf *NRFTransmitter) openTxPipe(address tm.Address) {
	rf.writeRegister(RRxAddrP0, address[:])
	rf.writeRegister(RTxAddr, address[:])
	rf.writeByteRegister(RRxPwP0, rf.payloadSize)
}

func (rf *NRFTransmitter) openRxPipe(pipe byte, address tm.Address) {
	if 0 == pipe {
		a := address
		rf.pipe0ReadAddr = &a
	}
	if pipe < 2 {
		rf.writeRegister(RRxAddrP0+Register(pipe), address[:])
	} else {
		rf.writeByteRegister(RRxAddrP0+Register(pipe), address[0])
	}
	rf.writeByteRegister(RRxPwP0+Register(pipe), rf.payloadSize)
	rf.writeByteRegister(REnRxAddr, rf.readByteRegister(REnRxAddr)|1<<pipe)
}

func (rf *NRFTransmitter) setPowerSpeed(power PowerLevel, speed DataRate) {
	setup := rf.readByteRegister(RRFSetup) & rfSetupKeepMask
	rf.writeByteRegister(RRFSetup, setup|byte(power)|byte(speed))
}

func (rf *NRFTransmitter) setCRC(length byte) {
	config := rf.readByteRegister(RConfig) &^ (BV(BCrcO) | BV(BEnCrc))
	switch length {
	case 0:
	case 1:
		config |= BV(BEnCrc)
	default:
		config |= BV(BEnCrc) | BV(BCrcO)
	}
	rf.writeByteRegister(RConfig, config)
}

func (rf *NRFTransmitter) setChannel(channel byte) {
	rf.writeByteRegister(RRFCh, min(channel, maxChannel))
}
