package g3

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oculab/gazecap/internal/monitoring"
	"github.com/oculab/gazecap/internal/sample"
	"github.com/oculab/gazecap/internal/timeutil"
)

const (
	dialTimeout    = 5 * time.Second
	requestTimeout = 10 * time.Second

	// The rudimentary API stops pushing signals if it sees no keepalive for
	// several seconds, so tick well inside that window.
	keepaliveInterval = 5 * time.Second
)

// Client is the production Device implementation over the glasses'
// WebSocket API.
type Client struct {
	hostname    string
	conn        *websocket.Conn
	clock       timeutil.Clock
	desiredFreq int

	// writeMu serialises frame writes; the websocket connection allows only
	// one concurrent writer.
	writeMu sync.Mutex
	nextID  atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan frame
	subKinds map[int64]subscription
	stream   *wsStream
	closed   bool

	readErr  error
	readDone chan struct{}

	gazeFreq int
}

type subscription struct {
	kind sample.Kind
	path string
}

// Option configures a Client before the connection handshake.
type Option func(*Client)

// WithClock replaces the wall clock. Used by tests to control sample
// timestamps and keepalive pacing.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithDesiredGazeFrequency sets the gaze sampling rate requested during the
// connect handshake. If the device does not offer it, the maximum available
// rate is selected instead.
func WithDesiredGazeFrequency(hz int) Option {
	return func(c *Client) { c.desiredFreq = hz }
}

// Dial connects to the glasses at hostname and negotiates the gaze sampling
// frequency. An unreachable host or a rejected handshake returns a
// *ConnectionError.
func Dial(ctx context.Context, hostname string, opts ...Option) (Device, error) {
	c := &Client{
		hostname:    hostname,
		clock:       timeutil.RealClock{},
		desiredFreq: 100,
		pending:     make(map[int64]chan frame),
		subKinds:    make(map[int64]subscription),
		readDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	u := url.URL{Scheme: "ws", Host: hostname, Path: wsPath}
	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		Subprotocols:     []string{wsSubprotocol},
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &ConnectionError{Hostname: hostname, Err: err}
	}
	c.conn = conn

	go c.readLoop()

	if err := c.negotiateGazeFrequency(ctx); err != nil {
		c.Close()
		return nil, &ConnectionError{Hostname: hostname, Err: err}
	}

	monitoring.Logf("g3: connected to %s (gaze frequency %d Hz)", hostname, c.gazeFreq)
	return c, nil
}

// Hostname returns the address the client was dialled at.
func (c *Client) Hostname() string { return c.hostname }

// negotiateGazeFrequency asks the device for its supported gaze rates and
// selects the desired one if offered, otherwise the maximum.
func (c *Client) negotiateGazeFrequency(ctx context.Context) error {
	body, err := c.do(ctx, "POST", pathGazeFreqs, nil)
	if err != nil {
		return fmt.Errorf("query gaze frequencies: %w", err)
	}
	var freqs []int
	if err := json.Unmarshal(body, &freqs); err != nil {
		return fmt.Errorf("parse gaze frequencies: %w", err)
	}
	if len(freqs) == 0 {
		// Older firmware does not report frequencies; leave the device
		// default in place.
		c.gazeFreq = c.desiredFreq
		return nil
	}

	selected := freqs[0]
	found := false
	for _, f := range freqs {
		if f == c.desiredFreq {
			selected = f
			found = true
			break
		}
		if f > selected {
			selected = f
		}
	}
	if !found && selected != c.desiredFreq {
		monitoring.Logf("g3: desired gaze frequency %d Hz not available, using %d Hz", c.desiredFreq, selected)
	}

	if _, err := c.do(ctx, "POST", pathSetGazeFreq, []int{selected}); err != nil {
		return fmt.Errorf("set gaze frequency: %w", err)
	}
	c.gazeFreq = selected
	return nil
}

// Status fetches serial, firmware version and battery state from the head
// unit.
func (c *Client) Status(ctx context.Context) (DeviceStatus, error) {
	if c.isClosed() {
		return DeviceStatus{}, ErrNotConnected
	}

	var st DeviceStatus
	if err := c.get(ctx, pathSerial, &st.Serial); err != nil {
		return DeviceStatus{}, err
	}
	if err := c.get(ctx, pathFirmware, &st.Firmware); err != nil {
		return DeviceStatus{}, err
	}
	var level float64
	if err := c.get(ctx, pathBatteryLevel, &level); err != nil {
		return DeviceStatus{}, err
	}
	// Device reports 0..1; surface as percent with one decimal.
	st.Battery = math.Round(level*1000) / 10
	if err := c.get(ctx, pathCharging, &st.Charging); err != nil {
		return DeviceStatus{}, err
	}
	st.GazeFrequency = c.gazeFreq
	return st, nil
}

// Calibrate runs the device-side calibration procedure and reports the
// outcome. Calibration can take tens of seconds while the wearer fixates
// the card marker, so callers should pass a generous context.
func (c *Client) Calibrate(ctx context.Context) (CalibrationResult, error) {
	if c.isClosed() {
		return CalibrationResult{}, ErrNotConnected
	}

	body, err := c.do(ctx, "POST", pathCalibrate, nil)
	if err != nil {
		return CalibrationResult{}, err
	}
	var ok bool
	if err := json.Unmarshal(body, &ok); err != nil {
		return CalibrationResult{}, fmt.Errorf("parse calibration response: %w", err)
	}
	res := CalibrationResult{Success: ok, Message: "calibration succeeded"}
	if !ok {
		res.Message = "calibration failed: marker not found or fixation unstable"
	}
	return res, nil
}

// StartStream subscribes to the gaze, IMU, event and sync-port signals,
// starts the device streams and the keepalive ticker, and returns the
// sample sequence.
func (c *Client) StartStream(ctx context.Context) (Stream, error) {
	if c.isClosed() {
		return nil, ErrNotConnected
	}
	s := newWSStream(c)

	// Register the stream before talking to the device: signal events can
	// arrive the moment a subscription exists, and dispatchSignal drops
	// anything that lands while c.stream is nil.
	c.mu.Lock()
	if c.stream != nil && !c.stream.isStopped() {
		c.mu.Unlock()
		return nil, ErrStreamActive
	}
	c.stream = s
	c.mu.Unlock()

	signals := []struct {
		path string
		kind sample.Kind
	}{
		{pathGazeSignal, sample.KindGaze},
		{pathIMUSignal, sample.KindIMU},
		{pathEventSignal, sample.KindEvent},
		{pathSyncSignal, sample.KindSync},
	}
	for _, sig := range signals {
		body, err := c.do(ctx, "POST", sig.path, nil)
		if err != nil {
			c.abortStream(s)
			return nil, fmt.Errorf("subscribe %s: %w", sig.path, err)
		}
		var subID int64
		if err := json.Unmarshal(body, &subID); err != nil {
			c.abortStream(s)
			return nil, fmt.Errorf("parse subscription id for %s: %w", sig.path, err)
		}
		c.mu.Lock()
		c.subKinds[subID] = subscription{kind: sig.kind, path: sig.path}
		c.mu.Unlock()
		s.subIDs = append(s.subIDs, subID)
	}

	if _, err := c.do(ctx, "POST", pathStartStreams, nil); err != nil {
		c.abortStream(s)
		return nil, fmt.Errorf("start streams: %w", err)
	}

	go c.keepaliveLoop(s)

	monitoring.Logf("g3: streaming started on %s", c.hostname)
	return s, nil
}

// keepaliveLoop pings the rudimentary API so the device keeps pushing
// signals. It exits when the stream is stopped or the connection dies.
func (c *Client) keepaliveLoop(s *wsStream) {
	ticker := c.clock.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopped:
			return
		case <-c.readDone:
			return
		case <-ticker.C():
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			_, err := c.do(ctx, "POST", pathKeepalive, nil)
			cancel()
			if err != nil {
				monitoring.Debugf("g3: keepalive failed: %v", err)
			}
		}
	}
}

// abortStream unwinds a failed StartStream: it releases whatever
// subscriptions were made and unregisters the stream again.
func (c *Client) abortStream(s *wsStream) {
	c.unsubscribeAll(s)
	c.mu.Lock()
	if c.stream == s {
		c.stream = nil
	}
	c.mu.Unlock()
}

// unsubscribeAll releases the stream's signal subscriptions and tells the
// device to stop streaming. Best effort: by the time this runs the
// connection may already be gone.
func (c *Client) unsubscribeAll(s *wsStream) {
	for _, subID := range s.subIDs {
		c.mu.Lock()
		sub, ok := c.subKinds[subID]
		delete(c.subKinds, subID)
		c.mu.Unlock()
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := c.do(ctx, "DELETE", sub.path, subID); err != nil {
			monitoring.Debugf("g3: unsubscribe %s: %v", sub.path, err)
		}
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.do(ctx, "POST", pathStopStreams, nil); err != nil {
		monitoring.Debugf("g3: stop streams: %v", err)
	}
}

// Close releases the socket. Any active stream observes this as a fault.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stream := c.stream
	c.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	err := c.conn.Close()
	monitoring.Logf("g3: disconnected from %s", c.hostname)
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// get reads a device property into out.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	body, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}

// do sends one request frame and waits for the matching response.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := request{ID: id, Method: method, Path: path, Body: body}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s %s: %w", method, path, err)
	}

	select {
	case f := <-ch:
		if f.Error != nil {
			return nil, fmt.Errorf("device rejected %s %s: %s", method, path, *f.Error)
		}
		return f.Body, nil
	case <-c.readDone:
		return nil, fmt.Errorf("connection lost awaiting %s %s: %w", method, path, c.readError())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return fmt.Errorf("connection closed")
}

// readLoop is the single reader of the socket. It correlates responses with
// pending requests and turns signal events into samples on the active
// stream.
func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			stream := c.stream
			closed := c.closed
			c.mu.Unlock()
			if stream != nil && !closed {
				stream.setFault(err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			monitoring.Logf("g3: dropping malformed frame: %v", err)
			continue
		}

		switch {
		case f.ID != nil:
			c.mu.Lock()
			ch := c.pending[*f.ID]
			c.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		case f.Signal != nil:
			c.dispatchSignal(f)
		}
	}
}

// dispatchSignal parses a signal event into a sample and hands it to the
// active stream.
func (c *Client) dispatchSignal(f frame) {
	c.mu.Lock()
	sub, ok := c.subKinds[*f.Signal]
	stream := c.stream
	c.mu.Unlock()
	if !ok || stream == nil {
		return
	}

	var ev signalEvent
	if err := json.Unmarshal(f.Body, &ev); err != nil {
		monitoring.Debugf("g3: dropping malformed %s event: %v", sub.kind, err)
		return
	}
	localTS := float64(c.clock.Now().UnixNano()) / 1e9

	smp, err := parseSignalSample(sub.kind, ev, localTS)
	if err != nil {
		monitoring.Debugf("g3: %v", err)
		return
	}
	stream.push(smp)
}
