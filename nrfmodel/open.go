package nrfmodel

import (
	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// DefaultSPISpeed is what the chip tolerates on long jumper wires; it can do 10MHz.
const DefaultSPISpeed = 4 * physic.MegaHertz

type TransmitterSettings struct {
	PortName string // spireg name, "" for the first bus
	CEName   string // gpioreg name of the CE pin
	Speed    physic.Frequency
}

// Open initializes periph, connects to the SPI bus and brings the chip up
// with New.
func Open(settings TransmitterSettings, cfg Config) (*NRFTransmitter, error) {
	// Make sure periphery is initialized.
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host.Init")
	}
	// Use SPI port registry to find the first available SPI bus.
	port, err := spireg.Open(settings.PortName)
	if err != nil {
		return nil, errors.Wrapf(err, "spireg.Open of port %q", settings.PortName)
	}
	speed := settings.Speed
	if 0 == speed {
		speed = DefaultSPISpeed
	}
	// Convert the spi.Port into a spi.Conn so it can be used for communication.
	connection, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, errors.Wrap(err, "port.Connect")
	}
	// CE (this signal is active high and used to activate the chip in RX or TX mode)
	ce := gpioreg.ByName(settings.CEName)
	if nil == ce {
		_ = port.Close()
		return nil, errors.Errorf("ce pin <%s> was not found", settings.CEName)
	}
	if err := ce.Out(gpio.Low); err != nil {
		_ = port.Close()
		return nil, errors.Wrap(err, "initialization CE, PinOut.Out")
	}
	log.Infof("nRF24L01+ on %s at %s, CE %s", port, speed, ce)
	rf, err := New(connection, ce, cfg)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	rf.port = port
	return rf, nil
}
