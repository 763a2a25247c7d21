package rfmodel

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorType string

const (
	EHardwareFault ErrorType = "nRF24L01+ hardware not responding"
	EMaxRetries    ErrorType = "send failed: max retransmissions exceeded"
	ESendTimeout   ErrorType = "send failed: timeout"
	ETransport     ErrorType = "transport failure"
	EInvalidState  ErrorType = "invalid transceiver state"
	EPacketLength  ErrorType = "bad packet length"
)

// Error carries one of the ErrorType values and an optional cause.
// Two errors match with errors.Is when their types are equal, so callers
// compare against the Err* values below.
type Error struct {
	Type ErrorType
	Err  error
}

var (
	ErrHardwareFault = &Error{Type: EHardwareFault}
	ErrMaxRetries    = &Error{Type: EMaxRetries}
	ErrSendTimeout   = &Error{Type: ESendTimeout}
	ErrTransport     = &Error{Type: ETransport}
	ErrInvalidState  = &Error{Type: EInvalidState}
	ErrPacketLength  = &Error{Type: EPacketLength}
)

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Type)
	}
	return string(e.Type) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Type == e.Type
}

// NewError wraps cause with the given type.
func NewError(t ErrorType, format string, args ...interface{}) error {
	return &Error{Type: t, Err: fmt.Errorf(format, args...)}
}

// TransportError marks err as a publisher transport failure.
func TransportError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Type: ETransport, Err: err}
}

// IsSendFailure reports whether err means a transmission could not be
// confirmed. Such failures are recoverable; the caller decides about retrying.
func IsSendFailure(err error) bool {
	return errors.Is(err, ErrMaxRetries) || errors.Is(err, ErrSendTimeout)
}

func Dump(b []byte) string {
	var ret string
	for i := range b {
		c := b[i]
		if 16 > c {
			ret += "0"
		}
		ret += fmt.Sprintf("%X ", c)
	}
	return ret
}
