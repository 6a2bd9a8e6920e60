package g3

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation requiring an open connection
// is called out of order.
var ErrNotConnected = errors.New("g3: not connected")

// ErrStreamClosed is returned by Stream.Next after Stop.
var ErrStreamClosed = errors.New("g3: stream closed")

// ErrStreamActive is returned by StartStream while a previous stream on the
// same device has not been stopped.
var ErrStreamActive = errors.New("g3: stream already active")

// ConnectionError reports an unreachable host or a rejected handshake.
// Recoverable by retrying the connect.
type ConnectionError struct {
	Hostname string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("g3: cannot connect to %q: %v", e.Hostname, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StreamFault reports a mid-stream transport failure. The consumer must
// terminate the session cleanly, preserving whatever was captured.
type StreamFault struct {
	Err error
}

func (e *StreamFault) Error() string {
	return fmt.Sprintf("g3: stream fault: %v", e.Err)
}

func (e *StreamFault) Unwrap() error { return e.Err }
