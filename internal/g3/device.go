// Package g3 implements a client for the Tobii Pro Glasses 3 WebSocket API.
//
// The vendor delivers sensor data as server-pushed signal messages. This
// package re-architects that callback-style delivery into a pollable sample
// sequence: StartStream returns a Stream whose Next method yields one tagged
// sample at a time to a single consuming loop.
package g3

import (
	"context"

	"github.com/oculab/gazecap/internal/sample"
)

// DeviceStatus describes the connected head unit. Fetched on connect,
// refreshable on demand, never persisted.
type DeviceStatus struct {
	Serial        string  `json:"serial"`
	Firmware      string  `json:"firmware"`
	Battery       float64 `json:"battery"` // percent, 0-100
	Charging      bool    `json:"charging"`
	GazeFrequency int     `json:"gaze_frequency"` // Hz
}

// CalibrationResult reports the outcome of the device-side calibration
// procedure.
type CalibrationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Device is the glasses-facing contract the pipeline consumes. The real
// implementation is Client; Mock serves dev mode and tests.
type Device interface {
	// Hostname returns the address the device was dialled at.
	Hostname() string

	// Status fetches serial, firmware, battery and gaze frequency.
	Status(ctx context.Context) (DeviceStatus, error)

	// Calibrate runs the calibration handshake. Requires an open
	// connection; returns ErrNotConnected after Close.
	Calibrate(ctx context.Context) (CalibrationResult, error)

	// StartStream subscribes to the gaze, IMU, event and sync-port signals
	// and returns the sample sequence. Only one stream may be active per
	// device at a time.
	StartStream(ctx context.Context) (Stream, error)

	// Close releases the underlying connection. Safe to call more than
	// once.
	Close() error
}

// Stream is a continuously produced, infinite, non-restartable sample
// sequence.
type Stream interface {
	// Next blocks until a sample is available, the stream is stopped, the
	// connection faults, or ctx is done. After Stop it returns
	// ErrStreamClosed; a mid-stream connection failure surfaces as a
	// *StreamFault.
	Next(ctx context.Context) (sample.Sample, error)

	// Stop terminates the sequence. Idempotent, and safe to call from a
	// different goroutine than the one consuming samples; no further
	// samples are delivered once it returns.
	Stop() error
}

// Dialer opens a connection to a device at the given hostname. It exists so
// the pipeline can be wired with Dial in production and DialMock in dev mode
// and tests.
type Dialer func(ctx context.Context, hostname string) (Device, error)
