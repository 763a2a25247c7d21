// Package outsideinterface is the boundary between the gateway and whatever
// carries telemetry further (MQTT broker, Redis).
package outsideinterface

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field is one key/value pair of a published record
type Field struct {
	Key   string
	Value interface{}
}

// Snapshot keeps the field order stable, publishers must preserve it
type Snapshot []Field

// Get returns the value of key
func (s Snapshot) Get(key string) (interface{}, bool) {
	for _, f := range s {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (s Snapshot) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = fmt.Sprintf("%s=%v", f.Key, f.Value)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// MarshalJSON renders an object with keys in snapshot order
func (s Snapshot) MarshalJSON() ([]byte, error) {
	buf := bytes.Buffer{}
	buf.WriteByte('{')
	for i, f := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %v", f.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FormatValue renders a field value as a plain text payload
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Interface publishes records. Connect must be safe to call when already
// connected. Publish failures that mean the connection is gone are returned
// wrapped with rfmodel.TransportError.
type Interface interface {
	Connect() bool
	Publish(prefix string, key string, fields Snapshot) error
}
