// Package display is the live display sink: it fans decimated samples out to
// any number of subscribed clients (the browser charts, debug tails) without
// ever blocking the routing loop, and keeps a short ring of recent samples
// for the debug chart pages.
package display

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"math"
	"sync"

	"github.com/oculab/gazecap/internal/monitoring"
	"github.com/oculab/gazecap/internal/sample"
)

// subscriberBuffer is the per-client backlog. When a client falls behind,
// the oldest buffered event is replaced by the newest so the display stays
// current.
const subscriberBuffer = 64

// ringSize bounds the recent-sample history served to the chart pages.
const ringSize = 2048

// Feed is the sample fan-out hub. Safe for concurrent use.
type Feed struct {
	mu          sync.Mutex
	subscribers map[string]chan []byte
	closing     bool

	recentGaze []sample.GazeSample
	recentIMU  []sample.ImuSample
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{subscribers: make(map[string]chan []byte)}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel receiving marshalled feed events. The
// returned ID identifies the channel for Unsubscribe.
func (f *Feed) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, subscriberBuffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (f *Feed) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Push forwards one sample to all subscribers and records it in the recent
// ring. It never blocks: a saturated subscriber loses its oldest event, not
// the newest.
func (f *Feed) Push(s sample.Sample) {
	event, err := marshalSample(s)
	if err != nil {
		monitoring.Debugf("display: cannot marshal %s sample: %v", s.Kind, err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closing {
		return
	}

	switch s.Kind {
	case sample.KindGaze:
		f.recentGaze = appendRing(f.recentGaze, *s.Gaze)
	case sample.KindIMU:
		f.recentIMU = appendRing(f.recentIMU, *s.IMU)
	}

	f.broadcastLocked(event)
}

// Publish sends an out-of-band feed event (recording finished, status
// change). The payload must be JSON-marshallable; a "type" field with the
// given name is added.
func (f *Feed) Publish(name string, payload map[string]interface{}) {
	body := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["type"] = name
	event, err := json.Marshal(body)
	if err != nil {
		monitoring.Logf("display: cannot marshal %q event: %v", name, err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closing {
		return
	}
	f.broadcastLocked(event)
}

func (f *Feed) broadcastLocked(event []byte) {
	for _, ch := range f.subscribers {
		select {
		case ch <- event:
			continue
		default:
		}
		// Full: drop the oldest buffered event to keep the display current.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// RecentGaze returns a copy of the buffered recent gaze samples, oldest
// first.
func (f *Feed) RecentGaze() []sample.GazeSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sample.GazeSample, len(f.recentGaze))
	copy(out, f.recentGaze)
	return out
}

// RecentIMU returns a copy of the buffered recent IMU samples, oldest first.
func (f *Feed) RecentIMU() []sample.ImuSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sample.ImuSample, len(f.recentIMU))
	copy(out, f.recentIMU)
	return out
}

// Reset clears the recent-sample rings. Called at session start so the chart
// pages show only the current session.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentGaze = nil
	f.recentIMU = nil
}

// Close closes all subscriber channels. Further pushes are discarded.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closing = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
	return nil
}

func appendRing[T any](ring []T, v T) []T {
	ring = append(ring, v)
	if len(ring) > ringSize {
		ring = ring[len(ring)-ringSize:]
	}
	return ring
}

// feedEvent is the wire shape pushed to display clients. Pointers let NaN
// fields (blinks, missing sensors) serialise as null instead of breaking
// JSON encoding.
type feedEvent struct {
	Type string  `json:"type"`
	TS   float64 `json:"ts"`

	Gaze2DX    *float64 `json:"gaze2d_x,omitempty"`
	Gaze2DY    *float64 `json:"gaze2d_y,omitempty"`
	LeftPupil  *float64 `json:"left_pupil,omitempty"`
	RightPupil *float64 `json:"right_pupil,omitempty"`

	AccelX *float64 `json:"accel_x,omitempty"`
	AccelY *float64 `json:"accel_y,omitempty"`
	AccelZ *float64 `json:"accel_z,omitempty"`
	GyroX  *float64 `json:"gyro_x,omitempty"`
	GyroY  *float64 `json:"gyro_y,omitempty"`
	GyroZ  *float64 `json:"gyro_z,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`
}

func opt(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func marshalSample(s sample.Sample) ([]byte, error) {
	ev := feedEvent{Type: string(s.Kind), TS: s.LocalTS}
	switch s.Kind {
	case sample.KindGaze:
		g := s.Gaze
		ev.Gaze2DX, ev.Gaze2DY = opt(g.Gaze2DX), opt(g.Gaze2DY)
		ev.LeftPupil, ev.RightPupil = opt(g.LeftPupil), opt(g.RightPupil)
	case sample.KindIMU:
		m := s.IMU
		ev.AccelX, ev.AccelY, ev.AccelZ = opt(m.AccelX), opt(m.AccelY), opt(m.AccelZ)
		ev.GyroX, ev.GyroY, ev.GyroZ = opt(m.GyroX), opt(m.GyroY), opt(m.GyroZ)
	case sample.KindEvent, sample.KindSync:
		ev.Data = s.Raw
	}
	return json.Marshal(ev)
}
