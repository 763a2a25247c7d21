package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	oi "github.com/kagami-house/nrf-gateway/outsideinterface"
	"github.com/kagami-house/nrf-gateway/rfmodel"
	tm "github.com/kagami-house/nrf-gateway/transceivermodel"
)

type fakeRadio struct {
	mu      sync.Mutex
	fifo    []tm.Payload
	pollErr error
}

func (f *fakeRadio) HasData() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fifo) > 0, f.pollErr
}

func (f *fakeRadio) Receive() (tm.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.fifo[0]
	f.fifo = f.fifo[1:]
	return p, nil
}

func (f *fakeRadio) inject(t *testing.T, telemetry rfmodel.Telemetry) {
	t.Helper()
	raw, err := rfmodel.Encode(telemetry, 32)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fifo = append(f.fifo, raw)
}

type publishCall struct {
	prefix, key string
	fields      oi.Snapshot
}

type fakePublisher struct {
	up       bool
	connects int
	calls    []publishCall
	fail     error
}

func (p *fakePublisher) Connect() bool {
	p.connects++
	return p.up
}

func (p *fakePublisher) Publish(prefix, key string, fields oi.Snapshot) error {
	p.calls = append(p.calls, publishCall{prefix, key, fields})
	return p.fail
}

func testSettings() RelaySettings {
	s := DefaultRelaySettings()
	s.Window = 20 * time.Millisecond
	s.TickInterval = 5 * time.Millisecond
	return s
}

func TestTickBatchesPackets(t *testing.T) {
	radio := &fakeRadio{}
	out := &fakePublisher{up: true}
	c := NewRegistry()
	relay := NewRelay(radio, c, out, testSettings())
	for _, uptime := range []uint32{100, 200, 300} {
		radio.inject(t, rfmodel.Telemetry{Radio: 5, Uptime: uptime, Battery: 3.1})
	}
	if err := relay.Tick(); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	r, _ := c.Get(5)
	if r.Packets != 3 || r.Uptime != 300 {
		t.Errorf("record = %+v, want 3 packets and uptime 300", r)
	}
	if len(out.calls) != 1 {
		t.Fatalf("%d publish calls, want 1", len(out.calls))
	}
	call := out.calls[0]
	if call.prefix != "nrf/" || call.key != "5" {
		t.Errorf("published to %q %q", call.prefix, call.key)
	}
	if v, _ := call.fields.Get("pkts"); v != uint64(3) {
		t.Errorf("published pkts = %v", v)
	}
	if r, _ := c.Get(5); r.Dirty {
		t.Error("record is still dirty after publish")
	}
	// nothing new, nothing published
	if err := relay.Tick(); err != nil {
		t.Fatal(err)
	}
	if len(out.calls) != 1 {
		t.Errorf("%d publish calls after idle tick, want 1", len(out.calls))
	}
}

func TestTickPacketsAcrossWindow(t *testing.T) {
	radio := &fakeRadio{}
	c := NewRegistry()
	relay := NewRelay(radio, c, &fakePublisher{up: true}, testSettings())
	radio.inject(t, rfmodel.Telemetry{Radio: 1})
	late, err := rfmodel.Encode(rfmodel.Telemetry{Radio: 2}, 32)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		radio.mu.Lock()
		radio.fifo = append(radio.fifo, late)
		radio.mu.Unlock()
	}()
	if err := relay.Tick(); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, late packet inside the window was not drained", c.Len())
	}
}

func TestTickTransportFailure(t *testing.T) {
	radio := &fakeRadio{}
	out := &fakePublisher{up: true, fail: rfmodel.TransportError(errors.New("broken pipe"))}
	c := NewRegistry()
	relay := NewRelay(radio, c, out, testSettings())
	radio.inject(t, rfmodel.Telemetry{Radio: 1})
	radio.inject(t, rfmodel.Telemetry{Radio: 2})

	err := relay.Tick()
	if !errors.Is(err, rfmodel.ErrTransport) {
		t.Fatalf("Tick() error = %v, want transport failure", err)
	}
	if relay.Connected() {
		t.Error("connection is not marked down")
	}
	if got := dirtyRadios(c); len(got) != 2 {
		t.Errorf("dirty = %v, want both records", got)
	}
	if len(out.calls) != 1 {
		t.Errorf("%d publish calls, want the pass to stop after the failure", len(out.calls))
	}

	out.fail = nil
	if err := relay.Tick(); err != nil {
		t.Fatal(err)
	}
	if out.connects != 2 {
		t.Errorf("Connect called %d times, want a reconnect", out.connects)
	}
	if got := dirtyRadios(c); len(got) != 0 {
		t.Errorf("dirty = %v after retry", got)
	}
	if r, _ := c.Get(1); r.Packets != 1 {
		t.Errorf("Packets = %d, retry must not count again", r.Packets)
	}
}

func TestTickOtherPublishError(t *testing.T) {
	radio := &fakeRadio{}
	bug := errors.New("unsupported value")
	out := &fakePublisher{up: true, fail: bug}
	relay := NewRelay(radio, NewRegistry(), out, testSettings())
	radio.inject(t, rfmodel.Telemetry{Radio: 1})
	err := relay.Tick()
	if !errors.Is(err, bug) || errors.Is(err, rfmodel.ErrTransport) {
		t.Fatalf("Tick() error = %v", err)
	}
	if !relay.Connected() {
		t.Error("non transport error marked the connection down")
	}
}

func TestTickNotConnected(t *testing.T) {
	radio := &fakeRadio{}
	out := &fakePublisher{}
	c := NewRegistry()
	relay := NewRelay(radio, c, out, testSettings())
	if err := relay.Tick(); err != nil {
		t.Errorf("idle Tick() while down error = %v", err)
	}
	radio.inject(t, rfmodel.Telemetry{Radio: 1})
	if err := relay.Tick(); !errors.Is(err, rfmodel.ErrTransport) {
		t.Errorf("Tick() error = %v, want transport failure", err)
	}
	if len(out.calls) != 0 {
		t.Error("published while not connected")
	}
	if got := dirtyRadios(c); len(got) != 1 {
		t.Error("record lost its dirty flag")
	}
}

func TestTickRadioError(t *testing.T) {
	radio := &fakeRadio{pollErr: rfmodel.ErrInvalidState}
	relay := NewRelay(radio, NewRegistry(), &fakePublisher{up: true}, testSettings())
	if err := relay.Tick(); !errors.Is(err, rfmodel.ErrInvalidState) {
		t.Errorf("Tick() error = %v", err)
	}
}

func TestTickDropsShortPacket(t *testing.T) {
	radio := &fakeRadio{fifo: []tm.Payload{{1, 2, 3}}}
	c := NewRegistry()
	relay := NewRelay(radio, c, &fakePublisher{up: true}, testSettings())
	if err := relay.Tick(); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Error("short packet created a record")
	}
}

func TestRun(t *testing.T) {
	radio := &fakeRadio{}
	out := &fakePublisher{}
	relay := NewRelay(radio, NewRegistry(), out, testSettings())
	radio.inject(t, rfmodel.Telemetry{Radio: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// the publisher stays down the whole time: Run keeps going until ctx is done
	if err := relay.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if out.connects < 2 {
		t.Errorf("Connect called %d times", out.connects)
	}

	radio.pollErr = errors.New("spi bus gone")
	if err := relay.Run(context.Background()); err == nil {
		t.Error("Run() ignored a radio error")
	}
}
