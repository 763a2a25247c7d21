// Package cache keeps the last known telemetry of every sensor node heard on
// the radio and relays changed records to the outside interface.
//
// A record is created on the first packet from a radio id and is never removed.
// Update marks it dirty; it stays dirty until MarkPublished, which the relay
// calls only after a successful publish.
package cache

import (
	"iter"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	oi "github.com/kagami-house/nrf-gateway/outsideinterface"
	"github.com/kagami-house/nrf-gateway/rfmodel"
)

var log = logrus.New()

// SetLogger replaces the package logger.
func SetLogger(l *logrus.Logger) {
	log = l
}

// StateUnknown is the state of a record created before any data was applied
const StateUnknown int16 = -1

// battery readings outside (0, maxBattery) are noise and are ignored
const maxBattery = 4

// Record is the telemetry of one sensor node
type Record struct {
	Radio   uint8
	State   int16
	Packets uint64
	Uptime  uint32 // ms, as last reported
	Errors  uint32
	Sent    uint32
	Battery float32 // volts, last plausible reading
	Dirty   bool
}

// Snapshot returns the record in publish order
func (r *Record) Snapshot() oi.Snapshot {
	return oi.Snapshot{
		{Key: "radio", Value: r.Radio},
		{Key: "state", Value: r.State},
		{Key: "pkts", Value: r.Packets},
		{Key: "uptime", Value: r.Uptime},
		{Key: "errors", Value: r.Errors},
		{Key: "sent", Value: r.Sent},
		{Key: "battery", Value: r.Battery},
	}
}

// Registry maps radio ids to records. It is safe for concurrent use.
type Registry struct {
	records map[uint8]*Record
	lock    sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[uint8]*Record)}
}

// Update applies one decoded packet. Counters are overwritten with the
// reported values, the battery only when the reading is plausible.
func (c *Registry) Update(t rfmodel.Telemetry) {
	c.lock.Lock()
	defer c.lock.Unlock()
	r := c.ensureRecordExists(t.Radio)
	r.State = int16(t.State)
	r.Packets++
	r.Uptime = t.Uptime
	r.Errors = t.Errors
	r.Sent = t.Sent
	if t.Battery > 0 && t.Battery < maxBattery {
		r.Battery = t.Battery
	}
	r.Dirty = true
}

func (c *Registry) ensureRecordExists(radio uint8) *Record {
	r, ok := c.records[radio]
	if !ok {
		r = &Record{Radio: radio, State: StateUnknown}
		c.records[radio] = r
		log.WithField("radio", radio).Info("new sensor node")
	}
	return r
}

// DirtyEntries yields every dirty record with its snapshot, ordered by radio
// id. Each range over the result takes a fresh look at the registry; ranging
// does not clear the dirty flag.
func (c *Registry) DirtyEntries() iter.Seq2[uint8, oi.Snapshot] {
	return func(yield func(uint8, oi.Snapshot) bool) {
		for _, radio := range c.radios() {
			snapshot, ok := c.dirtySnapshot(radio)
			if !ok {
				continue
			}
			if !yield(radio, snapshot) {
				return
			}
		}
	}
}

func (c *Registry) radios() []uint8 {
	c.lock.Lock()
	defer c.lock.Unlock()
	ret := make([]uint8, 0, len(c.records))
	for radio := range c.records {
		ret = append(ret, radio)
	}
	slices.Sort(ret)
	return ret
}

func (c *Registry) dirtySnapshot(radio uint8) (oi.Snapshot, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	r, ok := c.records[radio]
	if !ok || !r.Dirty {
		return nil, false
	}
	return r.Snapshot(), true
}

// MarkPublished clears the dirty flag of one record
func (c *Registry) MarkPublished(radio uint8) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if r, ok := c.records[radio]; ok {
		r.Dirty = false
	}
}

// Get returns a copy of the record
func (c *Registry) Get(radio uint8) (Record, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	r, ok := c.records[radio]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

func (c *Registry) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.records)
}
