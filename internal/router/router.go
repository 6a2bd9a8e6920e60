// Package router applies per-stream decimation and fans forwarded samples
// out to the live display and the session recorder. Decimation happens once,
// upstream of both sinks, so what the operator sees and what lands on disk
// are always the same subset.
package router

import (
	"fmt"

	"github.com/oculab/gazecap/internal/monitoring"
	"github.com/oculab/gazecap/internal/sample"
)

// DisplaySink receives forwarded samples for live charting. Push must never
// block the routing loop.
type DisplaySink interface {
	Push(s sample.Sample)
}

// RecordSink persists forwarded samples.
type RecordSink interface {
	Write(s sample.Sample) error
}

// Config holds the per-session decimation rates. A rate of N keeps every
// N-th sample; 1 keeps all.
type Config struct {
	GazeRate int `json:"gaze_decimation"`
	IMURate  int `json:"imu_decimation"`
}

// Validate rejects non-positive rates.
func (c Config) Validate() error {
	if c.GazeRate < 1 {
		return fmt.Errorf("gaze decimation rate must be >= 1, got %d", c.GazeRate)
	}
	if c.IMURate < 1 {
		return fmt.Errorf("imu decimation rate must be >= 1, got %d", c.IMURate)
	}
	return nil
}

// Router decimates and fans out one session's sample stream. It is driven by
// a single consuming goroutine (one sample fully routed before the next is
// accepted), so it needs no locking.
type Router struct {
	cfg     Config
	display DisplaySink
	rec     RecordSink

	gazeSeen int64
	imuSeen  int64

	gazeForwarded int64
	imuForwarded  int64
	writeErrors   int64
}

// New creates a Router. cfg must have been validated.
func New(cfg Config, display DisplaySink, rec RecordSink) *Router {
	return &Router{cfg: cfg, display: display, rec: rec}
}

// Route processes one sample: decimated gaze and IMU samples go to both
// sinks; event and sync-port samples bypass decimation and reach the display
// only. It reports whether the sample was forwarded.
//
// Selection is deterministic: with rate r, exactly every r-th arrival of a
// kind is kept. No trailing partial window is flushed at stream stop, so a
// stream of 10 gaze samples at rate 4 forwards samples 4 and 8.
func (r *Router) Route(s sample.Sample) bool {
	var rate int
	var seen *int64
	var forwarded *int64

	switch s.Kind {
	case sample.KindGaze:
		rate, seen, forwarded = r.cfg.GazeRate, &r.gazeSeen, &r.gazeForwarded
	case sample.KindIMU:
		rate, seen, forwarded = r.cfg.IMURate, &r.imuSeen, &r.imuForwarded
	case sample.KindEvent, sample.KindSync:
		r.display.Push(s)
		return true
	default:
		monitoring.Debugf("router: dropping sample of unknown kind %q", s.Kind)
		return false
	}

	*seen++
	if *seen%int64(rate) != 0 {
		return false
	}

	r.display.Push(s)
	if err := r.rec.Write(s); err != nil {
		// Best effort. One missing row beats aborting an active recording.
		r.writeErrors++
		monitoring.Logf("router: recorder write failed, sample skipped: %v", err)
	}
	*forwarded++
	return true
}

// Counts returns how many gaze and IMU samples have been forwarded.
func (r *Router) Counts() (gaze, imu int64) {
	return r.gazeForwarded, r.imuForwarded
}

// WriteErrors returns how many forwarded samples failed to persist.
func (r *Router) WriteErrors() int64 {
	return r.writeErrors
}
