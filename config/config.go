// Package config reads the gateway configuration file. JSON5 is the native
// format (.json5, .json); .yaml and .yml files are read with yaml.v3.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flynn/json5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"periph.io/x/periph/conn/physic"

	"github.com/kagami-house/nrf-gateway/cache"
	"github.com/kagami-house/nrf-gateway/mqtt"
	"github.com/kagami-house/nrf-gateway/nrfmodel"
	"github.com/kagami-house/nrf-gateway/redis"
	tm "github.com/kagami-house/nrf-gateway/transceivermodel"
)

const (
	PublisherMQTT  = "mqtt"
	PublisherRedis = "redis"
)

type Config struct {
	Log       LogConfig       `json:"log" yaml:"log"`
	Radio     RadioConfig     `json:"radio" yaml:"radio"`
	Relay     RelayConfig     `json:"relay" yaml:"relay"`
	Publisher PublisherConfig `json:"publisher" yaml:"publisher"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	// empty for stdout
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
}

type PipeConfig struct {
	Pipe    int    `json:"pipe" yaml:"pipe"`
	Address string `json:"address" yaml:"address"`
}

type RadioConfig struct {
	SPIPort         string       `json:"spiPort" yaml:"spiPort"`
	CEPin           string       `json:"cePin" yaml:"cePin"`
	SPISpeedHz      int64        `json:"spiSpeedHz" yaml:"spiSpeedHz"`
	Channel         int          `json:"channel" yaml:"channel"`
	PayloadSize     int          `json:"payloadSize" yaml:"payloadSize"`
	DataRate        string       `json:"dataRate" yaml:"dataRate"`
	Power           int          `json:"power" yaml:"power"`
	CRC             int          `json:"crc" yaml:"crc"`
	RetransmitCount int          `json:"retransmitCount" yaml:"retransmitCount"`
	RetransmitDelay int          `json:"retransmitDelay" yaml:"retransmitDelay"`
	TxAddress       string       `json:"txAddress" yaml:"txAddress"`
	RxPipes         []PipeConfig `json:"rxPipes" yaml:"rxPipes"`
	SendTimeout     string       `json:"sendTimeout" yaml:"sendTimeout"`
}

type RelayConfig struct {
	Window       string `json:"window" yaml:"window"`
	PollInterval string `json:"pollInterval" yaml:"pollInterval"`
	TickInterval string `json:"tickInterval" yaml:"tickInterval"`
	TopicPrefix  string `json:"topicPrefix" yaml:"topicPrefix"`
}

type PublisherConfig struct {
	Kind string `json:"kind" yaml:"kind"`
	// mqtt broker url or redis host:port
	Address  string `json:"address" yaml:"address"`
	ClientID string `json:"clientId" yaml:"clientId"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	QoS      int    `json:"qos" yaml:"qos"`
	Retain   bool   `json:"retain" yaml:"retain"`
	DB       int    `json:"db" yaml:"db"`
	Timeout  string `json:"timeout" yaml:"timeout"`
}

// Default is what a missing key means
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3},
		Radio: RadioConfig{
			CEPin:           "GPIO25",
			Channel:         100,
			PayloadSize:     nrfmodel.MaxPayloadSize,
			DataRate:        "250k",
			Power:           3,
			CRC:             1,
			RetransmitCount: 15,
			RetransmitDelay: 1,
			TxAddress:       "0102030404",
			RxPipes:         []PipeConfig{{Pipe: 1, Address: "0102030400"}},
			SendTimeout:     "500ms",
		},
		Relay: RelayConfig{
			Window:       "200ms",
			PollInterval: "1ms",
			TickInterval: "100ms",
			TopicPrefix:  "nrf/",
		},
		Publisher: PublisherConfig{
			Kind:     PublisherMQTT,
			Address:  "tcp://localhost:1883",
			ClientID: "nrf2mqtt",
			Retain:   true,
			Timeout:  "5s",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json5.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, errors.Wrapf(cfg.Validate(), "config %s", path)
}

// Validate converts every section once to catch bad values at startup
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := c.Transceiver(); err != nil {
		return err
	}
	if _, err := c.SendTimeout(); err != nil {
		return err
	}
	if _, err := c.RelaySettings(); err != nil {
		return err
	}
	switch c.Publisher.Kind {
	case PublisherMQTT:
		_, err := c.MQTT()
		return err
	case PublisherRedis:
		_, err := c.Redis()
		return err
	}
	return errors.Errorf("publisher kind %q is not %s or %s", c.Publisher.Kind, PublisherMQTT, PublisherRedis)
}

var dataRates = map[string]nrfmodel.DataRate{
	"250k": nrfmodel.DataRate250k,
	"1M":   nrfmodel.DataRate1M,
	"2M":   nrfmodel.DataRate2M,
}

func inRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return errors.Errorf("%s %d is out of %d..%d", name, v, lo, hi)
	}
	return nil
}

// Transceiver returns the radio link configuration
func (c Config) Transceiver() (nrfmodel.Config, error) {
	r := c.Radio
	var ret nrfmodel.Config
	for _, err := range []error{
		inRange("radio channel", r.Channel, 0, 125),
		inRange("radio payloadSize", r.PayloadSize, 1, nrfmodel.MaxPayloadSize),
		inRange("radio power", r.Power, 0, 3),
		inRange("radio crc", r.CRC, 0, 2),
		inRange("radio retransmitCount", r.RetransmitCount, 0, 15),
		inRange("radio retransmitDelay", r.RetransmitDelay, 0, 15),
	} {
		if err != nil {
			return ret, err
		}
	}
	rate, ok := dataRates[r.DataRate]
	if !ok {
		return ret, errors.Errorf("radio dataRate %q is not 250k, 1M or 2M", r.DataRate)
	}
	ret = nrfmodel.Config{
		Channel:         byte(r.Channel),
		PayloadSize:     byte(r.PayloadSize),
		DataRate:        rate,
		Power:           nrfmodel.PowerLevel(r.Power << 1),
		CRCLength:       byte(r.CRC),
		RetransmitCount: byte(r.RetransmitCount),
		RetransmitDelay: byte(r.RetransmitDelay),
		RxPipes:         make(map[byte]tm.Address, len(r.RxPipes)),
	}
	if "" != r.TxAddress {
		a, err := tm.ParseAddress(r.TxAddress)
		if err != nil {
			return ret, errors.Wrap(err, "radio txAddress")
		}
		ret.TxAddress = a
	}
	for _, p := range r.RxPipes {
		if err := inRange("radio rx pipe", p.Pipe, 0, 5); err != nil {
			return ret, err
		}
		if _, dup := ret.RxPipes[byte(p.Pipe)]; dup {
			return ret, errors.Errorf("radio rx pipe %d is listed twice", p.Pipe)
		}
		a, err := tm.ParseAddress(p.Address)
		if err != nil {
			return ret, errors.Wrapf(err, "radio rx pipe %d", p.Pipe)
		}
		ret.RxPipes[byte(p.Pipe)] = a
	}
	return ret, ret.Validate()
}

func (c Config) TransmitterSettings() nrfmodel.TransmitterSettings {
	return nrfmodel.TransmitterSettings{
		PortName: c.Radio.SPIPort,
		CEName:   c.Radio.CEPin,
		Speed:    physic.Frequency(c.Radio.SPISpeedHz) * physic.Hertz,
	}
}

func duration(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrap(err, name)
	}
	if d <= 0 {
		return 0, errors.Errorf("%s %v is not positive", name, d)
	}
	return d, nil
}

func (c Config) SendTimeout() (time.Duration, error) {
	return duration("radio sendTimeout", c.Radio.SendTimeout)
}

func (c Config) RelaySettings() (cache.RelaySettings, error) {
	var ret cache.RelaySettings
	var err error
	if ret.Window, err = duration("relay window", c.Relay.Window); err != nil {
		return ret, err
	}
	if ret.PollInterval, err = duration("relay pollInterval", c.Relay.PollInterval); err != nil {
		return ret, err
	}
	if ret.TickInterval, err = duration("relay tickInterval", c.Relay.TickInterval); err != nil {
		return ret, err
	}
	ret.TopicPrefix = c.Relay.TopicPrefix
	return ret, nil
}

func (c Config) MQTT() (mqtt.Settings, error) {
	p := c.Publisher
	ret := mqtt.Settings{
		Broker:   p.Address,
		ClientID: p.ClientID,
		Username: p.Username,
		Password: p.Password,
		QoS:      byte(p.QoS),
		Retain:   p.Retain,
	}
	if err := inRange("publisher qos", p.QoS, 0, 2); err != nil {
		return ret, err
	}
	var err error
	ret.Timeout, err = duration("publisher timeout", p.Timeout)
	return ret, err
}

func (c Config) Redis() (redis.Settings, error) {
	p := c.Publisher
	ret := redis.Settings{
		Address:  p.Address,
		Password: p.Password,
		DB:       p.DB,
	}
	var err error
	ret.Timeout, err = duration("publisher timeout", p.Timeout)
	return ret, err
}
