// Package mqtt publishes sensor records to an MQTT broker, one retained
// message per field: <prefix><radio>/<field>.
package mqtt

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	oi "github.com/kagami-house/nrf-gateway/outsideinterface"
	"github.com/kagami-house/nrf-gateway/rfmodel"
)

var log = logrus.New()

func SetLogger(l *logrus.Logger) {
	log = l
}

const defaultTimeout = 5 * time.Second

type Settings struct {
	Broker   string // tcp://host:1883
	ClientID string
	Username string
	Password string
	QoS      byte
	Retain   bool
	Timeout  time.Duration
}

type Interface struct {
	client   paho.Client
	settings Settings
}

func New(settings Settings) *Interface {
	if 0 == settings.Timeout {
		settings.Timeout = defaultTimeout
	}
	opts := paho.NewClientOptions().
		AddBroker(settings.Broker).
		SetClientID(settings.ClientID).
		SetUsername(settings.Username).
		SetPassword(settings.Password).
		SetConnectTimeout(settings.Timeout).
		// the relay decides when to reconnect
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("mqtt: connection lost")
		})
	return newWithClient(paho.NewClient(opts), settings)
}

func newWithClient(client paho.Client, settings Settings) *Interface {
	return &Interface{client: client, settings: settings}
}

func (i *Interface) Connect() bool {
	if i.client.IsConnectionOpen() {
		return true
	}
	token := i.client.Connect()
	if !token.WaitTimeout(i.settings.Timeout) {
		log.Warnf("mqtt: connect to %s timed out", i.settings.Broker)
		return false
	}
	if err := token.Error(); err != nil {
		log.WithError(err).Warnf("mqtt: connect to %s", i.settings.Broker)
		return false
	}
	log.Infof("mqtt: connected to %s", i.settings.Broker)
	return true
}

// Topic is the topic of one field of a record
func Topic(prefix, key, field string) string {
	return prefix + key + "/" + field
}

func (i *Interface) Publish(prefix string, key string, fields oi.Snapshot) error {
	if !i.client.IsConnectionOpen() {
		return rfmodel.TransportError(errors.Errorf("mqtt: not connected to %s", i.settings.Broker))
	}
	for _, f := range fields {
		topic := Topic(prefix, key, f.Key)
		token := i.client.Publish(topic, i.settings.QoS, i.settings.Retain, oi.FormatValue(f.Value))
		if !token.WaitTimeout(i.settings.Timeout) {
			return rfmodel.TransportError(errors.Errorf("mqtt: publish %s timed out", topic))
		}
		if err := token.Error(); err != nil {
			return rfmodel.TransportError(errors.Wrapf(err, "mqtt: publish %s", topic))
		}
	}
	return nil
}

func (i *Interface) Close() {
	i.client.Disconnect(250)
}
