// Package pipeline orchestrates the capture lifecycle: device connection,
// calibration, and the per-session flow of samples from the glasses through
// decimation to the live display and the CSV recorder.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oculab/gazecap/internal/display"
	"github.com/oculab/gazecap/internal/fsutil"
	"github.com/oculab/gazecap/internal/g3"
	"github.com/oculab/gazecap/internal/monitoring"
	"github.com/oculab/gazecap/internal/recorder"
	"github.com/oculab/gazecap/internal/router"
	"github.com/oculab/gazecap/internal/stats"
	"github.com/oculab/gazecap/internal/timeutil"
)

var (
	// ErrAlreadyConnected is returned by Connect when a device is connected.
	ErrAlreadyConnected = errors.New("already connected to a device")

	// ErrSessionActive is returned when an operation requires no running
	// capture session.
	ErrSessionActive = errors.New("capture session in progress")

	// ErrNoSession is returned by StopStreaming when nothing is running.
	ErrNoSession = errors.New("no capture session in progress")
)

// Options configures a Pipeline.
type Options struct {
	Dial          g3.Dialer
	Clock         timeutil.Clock
	FS            fsutil.FileSystem
	Feed          *display.Feed
	RecordingsDir string

	// Default decimation rates, used when a session request leaves them
	// unset.
	GazeDecimation int
	IMUDecimation  int
}

// Pipeline owns the device connection and at most one capture session.
type Pipeline struct {
	dial          g3.Dialer
	clock         timeutil.Clock
	fs            fsutil.FileSystem
	feed          *display.Feed
	recordingsDir string
	defaultCfg    router.Config

	mu      sync.Mutex
	device  g3.Device
	status  g3.DeviceStatus
	stream  g3.Stream
	session *session

	// starting reserves the session slot while StartStreaming is still
	// opening files and talking to the device, so a concurrent start
	// cannot truncate the same timestamp-named recording files.
	starting bool
}

// session tracks one capture from StartStreaming to its finish.
type session struct {
	id        string
	startedAt time.Time
	cfg       router.Config
	rec       *recorder.Recording
	rt        *router.Router
	acc       *stats.Accumulator

	done   chan struct{} // closed when the consume loop has finished the session
	result *Result       // set before done is closed
}

// Result is the final account of a finished session.
type Result struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	GazeFile       string        `json:"gaze_file"`
	IMUFile        string        `json:"imu_file"`
	GazeDecimation int           `json:"gaze_decimation"`
	IMUDecimation  int           `json:"imu_decimation"`
	Summary        stats.Summary `json:"summary"`
	Fault          string        `json:"fault,omitempty"`
}

// New creates a Pipeline. Dial, FS and Feed are required; a nil Clock means
// the real clock.
func New(opts Options) *Pipeline {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cfg := router.Config{GazeRate: opts.GazeDecimation, IMURate: opts.IMUDecimation}
	if cfg.GazeRate < 1 {
		cfg.GazeRate = 1
	}
	if cfg.IMURate < 1 {
		cfg.IMURate = 1
	}
	return &Pipeline{
		dial:          opts.Dial,
		clock:         clock,
		fs:            opts.FS,
		feed:          opts.Feed,
		recordingsDir: opts.RecordingsDir,
		defaultCfg:    cfg,
	}
}

// Connect dials the glasses and caches the device status. Fails if a device
// is already connected.
func (p *Pipeline) Connect(ctx context.Context, hostname string) (g3.DeviceStatus, error) {
	p.mu.Lock()
	if p.device != nil {
		p.mu.Unlock()
		return g3.DeviceStatus{}, ErrAlreadyConnected
	}
	p.mu.Unlock()

	dev, err := p.dial(ctx, hostname)
	if err != nil {
		return g3.DeviceStatus{}, err
	}
	status, err := dev.Status(ctx)
	if err != nil {
		dev.Close()
		return g3.DeviceStatus{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		// Raced with another Connect; keep the first.
		dev.Close()
		return g3.DeviceStatus{}, ErrAlreadyConnected
	}
	p.device = dev
	p.status = status
	monitoring.Logf("connected to %s (serial %s, firmware %s, battery %.1f%%)",
		hostname, status.Serial, status.Firmware, status.Battery)
	return status, nil
}

// Disconnect stops any running session and closes the device connection.
// Disconnecting while not connected is a no-op.
func (p *Pipeline) Disconnect() (*Result, error) {
	var result *Result
	if res, err := p.StopStreaming(); err == nil {
		result = res
	} else if !errors.Is(err, ErrNoSession) {
		return nil, err
	}

	p.mu.Lock()
	dev := p.device
	p.device = nil
	p.status = g3.DeviceStatus{}
	p.mu.Unlock()

	if dev != nil {
		if err := dev.Close(); err != nil {
			monitoring.Logf("error closing device: %v", err)
		}
		monitoring.Logf("disconnected from %s", dev.Hostname())
	}
	return result, nil
}

// Calibrate runs the device calibration. Not allowed mid-session: the
// glasses reposition their gaze estimate during calibration, which would
// corrupt the recording.
func (p *Pipeline) Calibrate(ctx context.Context) (g3.CalibrationResult, error) {
	p.mu.Lock()
	dev := p.device
	active := p.session != nil
	p.mu.Unlock()

	if dev == nil {
		return g3.CalibrationResult{}, g3.ErrNotConnected
	}
	if active {
		return g3.CalibrationResult{}, ErrSessionActive
	}
	return dev.Calibrate(ctx)
}

// StartStreaming opens the session files, subscribes to the device signals
// and starts the consume loop. Zero-valued rates in cfg fall back to the
// pipeline defaults. Rates are fixed for the life of the session.
func (p *Pipeline) StartStreaming(ctx context.Context, cfg router.Config) (*Result, error) {
	if cfg.GazeRate == 0 {
		cfg.GazeRate = p.defaultCfg.GazeRate
	}
	if cfg.IMURate == 0 {
		cfg.IMURate = p.defaultCfg.IMURate
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	dev := p.device
	if dev == nil {
		p.mu.Unlock()
		return nil, g3.ErrNotConnected
	}
	if p.session != nil || p.starting {
		p.mu.Unlock()
		return nil, ErrSessionActive
	}
	p.starting = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.starting = false
		p.mu.Unlock()
	}()

	status, err := dev.Status(ctx)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now()
	rec, err := recorder.Open(p.fs, p.recordingsDir, recorder.Metadata{
		Serial:         status.Serial,
		Firmware:       status.Firmware,
		Battery:        status.Battery,
		GazeFrequency:  status.GazeFrequency,
		GazeDecimation: cfg.GazeRate,
		IMUDecimation:  cfg.IMURate,
	}, now)
	if err != nil {
		return nil, err
	}

	stream, err := dev.StartStream(ctx)
	if err != nil {
		rec.Close()
		return nil, err
	}

	sess := &session{
		id:        uuid.NewString(),
		startedAt: now,
		cfg:       cfg,
		rec:       rec,
		rt:        router.New(cfg, p.feed, rec),
		acc:       stats.NewAccumulator(),
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	p.session = sess
	p.stream = stream
	p.status = status
	p.mu.Unlock()

	p.feed.Reset()
	monitoring.Logf("session %s started: gaze 1/%d, imu 1/%d -> %s",
		sess.id, cfg.GazeRate, cfg.IMURate, p.recordingsDir)

	go p.consume(sess, stream)

	return &Result{
		ID:             sess.id,
		StartedAt:      sess.startedAt,
		GazeFile:       rec.GazePath,
		IMUFile:        rec.IMUPath,
		GazeDecimation: cfg.GazeRate,
		IMUDecimation:  cfg.IMURate,
	}, nil
}

// consume is the single routing loop for one session. It exits when the
// stream is stopped or faults, then finalizes the session files.
func (p *Pipeline) consume(sess *session, stream g3.Stream) {
	var fault error
	for {
		s, err := stream.Next(context.Background())
		if err != nil {
			if !errors.Is(err, g3.ErrStreamClosed) {
				fault = err
				monitoring.Logf("session %s: stream fault: %v", sess.id, err)
			}
			break
		}
		if sess.rt.Route(s) {
			sess.acc.Add(s)
		}
	}
	p.finish(sess, fault)
}

// finish closes the session files, computes the summary and announces the
// recording. On a fault the (dead) device connection is also dropped.
func (p *Pipeline) finish(sess *session, fault error) {
	if err := sess.rec.Close(); err != nil {
		monitoring.Logf("session %s: error closing recording: %v", sess.id, err)
	}

	result := &Result{
		ID:             sess.id,
		StartedAt:      sess.startedAt,
		GazeFile:       sess.rec.GazePath,
		IMUFile:        sess.rec.IMUPath,
		GazeDecimation: sess.cfg.GazeRate,
		IMUDecimation:  sess.cfg.IMURate,
		Summary:        sess.acc.Summarize(),
	}
	if fault != nil {
		result.Fault = fault.Error()
	}
	sess.result = result
	close(sess.done)

	p.mu.Lock()
	if p.session == sess {
		p.session = nil
		p.stream = nil
	}
	var deadDev g3.Device
	if fault != nil && p.device != nil {
		deadDev = p.device
		p.device = nil
		p.status = g3.DeviceStatus{}
	}
	p.mu.Unlock()

	if deadDev != nil {
		deadDev.Close()
	}

	p.feed.Publish("new_recording", map[string]interface{}{
		"gaze_file":    result.GazeFile,
		"imu_file":     result.IMUFile,
		"gaze_samples": result.Summary.GazeSamples,
		"imu_samples":  result.Summary.IMUSamples,
		"start_time":   result.StartedAt.Format("2006-01-02 15:04:05"),
	})
	if fault != nil {
		p.feed.Publish("stream_fault", map[string]interface{}{
			"error": fault.Error(),
		})
	}
	monitoring.Logf("session %s finished: %d gaze rows, %d imu rows",
		sess.id, result.Summary.GazeSamples, result.Summary.IMUSamples)
}

// StopStreaming stops the active session and waits for its files to be
// finalized. Returns the session result. Stopping twice returns ErrNoSession
// the second time.
func (p *Pipeline) StopStreaming() (*Result, error) {
	p.mu.Lock()
	sess := p.session
	stream := p.stream
	p.mu.Unlock()

	if sess == nil {
		return nil, ErrNoSession
	}
	if err := stream.Stop(); err != nil {
		monitoring.Logf("session %s: error stopping stream: %v", sess.id, err)
	}
	<-sess.done
	return sess.result, nil
}

// Status is a point-in-time view of the pipeline for the API.
type Status struct {
	Connected bool             `json:"connected"`
	Hostname  string           `json:"hostname,omitempty"`
	Device    *g3.DeviceStatus `json:"device,omitempty"`
	Streaming bool             `json:"streaming"`
	Session   *SessionStatus   `json:"session,omitempty"`
}

// SessionStatus describes the running session inside Status.
type SessionStatus struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	GazeFile       string    `json:"gaze_file"`
	IMUFile        string    `json:"imu_file"`
	GazeDecimation int       `json:"gaze_decimation"`
	IMUDecimation  int       `json:"imu_decimation"`
	GazeSamples    int64     `json:"gaze_samples"`
	IMUSamples     int64     `json:"imu_samples"`
}

// Status reports the current connection and session state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{}
	if p.device != nil {
		st.Connected = true
		st.Hostname = p.device.Hostname()
		devStatus := p.status
		st.Device = &devStatus
	}
	if p.session != nil {
		st.Streaming = true
		gaze, imu := p.session.rec.Counts()
		st.Session = &SessionStatus{
			ID:             p.session.id,
			StartedAt:      p.session.startedAt,
			GazeFile:       p.session.rec.GazePath,
			IMUFile:        p.session.rec.IMUPath,
			GazeDecimation: p.session.cfg.GazeRate,
			IMUDecimation:  p.session.cfg.IMURate,
			GazeSamples:    gaze,
			IMUSamples:     imu,
		}
	}
	return st
}

// RefreshStatus re-fetches the device status (battery drains during use).
func (p *Pipeline) RefreshStatus(ctx context.Context) (g3.DeviceStatus, error) {
	p.mu.Lock()
	dev := p.device
	p.mu.Unlock()
	if dev == nil {
		return g3.DeviceStatus{}, g3.ErrNotConnected
	}
	status, err := dev.Status(ctx)
	if err != nil {
		return g3.DeviceStatus{}, err
	}
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
	return status, nil
}
