package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	oi "github.com/kagami-house/nrf-gateway/outsideinterface"
	"github.com/kagami-house/nrf-gateway/rfmodel"
	tm "github.com/kagami-house/nrf-gateway/transceivermodel"
)

type RelaySettings struct {
	// a drain ends after Window without a new packet
	Window       time.Duration
	PollInterval time.Duration
	TickInterval time.Duration
	TopicPrefix  string
}

func DefaultRelaySettings() RelaySettings {
	return RelaySettings{
		Window:       200 * time.Millisecond,
		PollInterval: time.Millisecond,
		TickInterval: 100 * time.Millisecond,
		TopicPrefix:  "nrf/",
	}
}

// Relay moves packets from the radio into the registry and dirty records from
// the registry to the outside interface. It is driven by one goroutine.
type Relay struct {
	radio     tm.Receiver
	registry  *Registry
	out       oi.Interface
	settings  RelaySettings
	connected bool
}

func NewRelay(radio tm.Receiver, registry *Registry, out oi.Interface, settings RelaySettings) *Relay {
	return &Relay{
		radio:    radio,
		registry: registry,
		out:      out,
		settings: settings,
	}
}

// Connected reports whether the last publish attempt left the connection up
func (r *Relay) Connected() bool {
	return r.connected
}

// Run ticks until ctx is done. Transport failures are logged and retried on
// the next tick, any other error stops the loop.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.settings.TickInterval)
	defer ticker.Stop()
	for {
		if err := r.Tick(); err != nil {
			if !errors.Is(err, rfmodel.ErrTransport) {
				return err
			}
			log.WithError(err).Warn("relay: connection marked down")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick is a single cycle: reconnect if needed, drain the radio, publish
// dirty records. A transport failure is returned wrapping
// rfmodel.ErrTransport; the records that were not published stay dirty.
func (r *Relay) Tick() error {
	if !r.connected {
		r.connected = r.out.Connect()
	}
	if err := r.drain(); err != nil {
		return err
	}
	return r.publish()
}

func (r *Relay) drain() error {
	ok, err := r.radio.HasData()
	if err != nil || !ok {
		return errors.Wrap(err, "relay: poll radio")
	}
	count := 0
	last := time.Now()
	for time.Since(last) < r.settings.Window {
		ok, err := r.radio.HasData()
		if err != nil {
			return errors.Wrap(err, "relay: poll radio")
		}
		if !ok {
			time.Sleep(r.settings.PollInterval)
			continue
		}
		raw, err := r.radio.Receive()
		if err != nil {
			return errors.Wrap(err, "relay: receive")
		}
		last = time.Now()
		t, err := rfmodel.Decode(raw)
		if err != nil {
			log.WithError(err).Warnf("relay: dropped packet %s", rfmodel.Dump(raw))
			continue
		}
		log.WithField("radio", t.Radio).Debugf("packet %+v", t)
		r.registry.Update(t)
		count++
	}
	log.Debugf("relay: drained %s packets", humanize.Comma(int64(count)))
	return nil
}

func (r *Relay) publish() error {
	for radio, snapshot := range r.registry.DirtyEntries() {
		if !r.connected {
			return rfmodel.TransportError(errors.New("not connected"))
		}
		key := strconv.Itoa(int(radio))
		if err := r.out.Publish(r.settings.TopicPrefix, key, snapshot); err != nil {
			if errors.Is(err, rfmodel.ErrTransport) {
				r.connected = false
			}
			return errors.Wrapf(err, "relaying radio %d", radio)
		}
		r.registry.MarkPublished(radio)
	}
	return nil
}
