package nrfmodel

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"

	tm "github.com/kagami-house/nrf-gateway/transceivermodel"
)

func (rf *NRFTransmitter) setState(s tm.State) {
	if s == rf.state {
		return
	}
	log.WithFields(logrus.Fields{"from": rf.state, "to": s}).Debug("nRF state")
	rf.state = s
}

func (rf *NRFTransmitter) setCE(value bool) {
	if rf.err != nil {
		rf.setCEQuiet(value)
		return
	}
	log.Tracef("setCE %v", value)
	if err := rf.ce.Out(gpio.Level(value)); nil != err {
		rf.err = errors.Wrap(err, "ce.Out")
	}
}

// setCEQuiet is used on error paths, it must not mask the first error
func (rf *NRFTransmitter) setCEQuiet(value bool) {
	_ = rf.ce.Out(gpio.Level(value))
}

/**
 * The serial shifting SPI commands is in the following format:
 * <Command word: MSBit to LSBit (one byte)>
 * <Data bytes: LSByte to MSByte, MSBit in each byte first>
 * length of data determines how much bytes would be read and written.
 * STATUS is shifted out while the command byte is shifted in.
 */
func (rf *NRFTransmitter) sendCommand(command Command, data []byte) []byte {
	write := make([]byte, 1, 1+len(data))
	write[0] = byte(command)
	write = append(write, data...)
	read := make([]byte, len(write))
	if rf.err != nil {
		return read[1:]
	}
	if err := rf.connection.Tx(write, read); err != nil {
		rf.err = errors.Wrapf(err, "spi command 0x%02X", byte(command))
		return read[1:]
	}
	rf.status = read[0]
	log.Tracef("sendCommand %02X, data % X -> % X", byte(command), data, read)
	return read[1:]
}

func (rf *NRFTransmitter) readRegister(register Register) []byte {
	return rf.sendCommand(CReadRegister|Command(register), make([]byte, registerLengths[register]))
}

func (rf *NRFTransmitter) readByteRegister(register Register) byte {
	return rf.readRegister(register)[0]
}

func (rf *NRFTransmitter) writeRegister(r Register, data []byte) {
	if len(data) > int(registerLengths[r]) {
		if rf.err == nil {
			rf.err = errors.Errorf("%d bytes are bigger than register 0x%02X", len(data), byte(r))
		}
		return
	}
	rf.sendCommand(CWriteRegister|Command(r), data)
}

func (rf *NRFTransmitter) writeByteRegister(r Register, data byte) {
	rf.writeRegister(r, []byte{data})
}

func (rf *NRFTransmitter) readStatus() byte {
	rf.sendCommand(CNop, nil)
	return rf.status
}
