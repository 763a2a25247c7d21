package main

import (
	"context"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kagami-house/nrf-gateway/cache"
	"github.com/kagami-house/nrf-gateway/config"
	"github.com/kagami-house/nrf-gateway/mqtt"
	"github.com/kagami-house/nrf-gateway/nrfmodel"
	oi "github.com/kagami-house/nrf-gateway/outsideinterface"
	"github.com/kagami-house/nrf-gateway/redis"
	"github.com/kagami-house/nrf-gateway/rfmodel"
)

var log = logrus.New()

func setupLogging(c config.LogConfig) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if "" != c.File {
		log.SetOutput(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
		})
	}
	nrfmodel.SetLogger(log)
	cache.SetLogger(log)
	mqtt.SetLogger(log)
	return nil
}

func openPublisher(cfg config.Config) (oi.Interface, func(), error) {
	switch cfg.Publisher.Kind {
	case config.PublisherRedis:
		settings, err := cfg.Redis()
		if err != nil {
			return nil, nil, err
		}
		out := redis.New(settings)
		return out, func() { _ = out.Close() }, nil
	default:
		settings, err := cfg.MQTT()
		if err != nil {
			return nil, nil, err
		}
		out := mqtt.New(settings)
		return out, out.Close, nil
	}
}

// sendDiagnostic transmits one payload and goes back to listening
func sendDiagnostic(rf *nrfmodel.NRFTransmitter, cfg config.Config, payload string) error {
	buf, err := hex.DecodeString(payload)
	if err != nil {
		return errors.Wrap(err, "-send payload")
	}
	timeout, err := cfg.SendTimeout()
	if err != nil {
		return err
	}
	if err := rf.Send(buf, timeout); err != nil {
		if !rfmodel.IsSendFailure(err) {
			return err
		}
		log.WithError(err).Warn("diagnostic packet was not delivered")
	} else {
		log.Infof("diagnostic packet %X delivered", buf)
	}
	return rf.StartListening()
}

func run(ctx context.Context, cfg config.Config, send string) error {
	radioConfig, err := cfg.Transceiver()
	if err != nil {
		return err
	}
	relaySettings, err := cfg.RelaySettings()
	if err != nil {
		return err
	}
	rf, err := nrfmodel.Open(cfg.TransmitterSettings(), radioConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := rf.Close(); err != nil {
			log.WithError(err).Error("closing transceiver")
		}
	}()
	if err := rf.StartListening(); err != nil {
		return err
	}
	if "" != send {
		if err := sendDiagnostic(rf, cfg, send); err != nil {
			return err
		}
	}
	out, closeOut, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer closeOut()
	log.Infof("radio %s, relaying to %s %s", rf.State(), cfg.Publisher.Kind, cfg.Publisher.Address)
	return cache.NewRelay(rf, cache.NewRegistry(), out, relaySettings).Run(ctx)
}

func main() {
	configPath := flag.String("c", "", "path to the configuration file (.json5 or .yaml)")
	send := flag.String("send", "", "hex payload to transmit once before relaying")
	flag.Parse()

	if "" == *configPath {
		log.Fatal("no configuration file provided, use -c")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := setupLogging(cfg.Log); err != nil {
		log.WithError(err).Fatal("logging")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *send); err != nil {
		if errors.Is(err, rfmodel.ErrHardwareFault) {
			log.WithError(err).Error("transceiver is not responding, check wiring")
		} else {
			log.WithError(err).Error("gateway stopped")
		}
		cancel()
		os.Exit(1)
	}
	log.Info("gateway stopped")
}
