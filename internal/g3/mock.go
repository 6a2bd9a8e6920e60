package g3

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/oculab/gazecap/internal/sample"
	"github.com/oculab/gazecap/internal/timeutil"
)

// MockConfig controls a MockDevice. The zero value gives a healthy device
// that synthesises an endless gaze/IMU stream.
type MockConfig struct {
	Serial        string
	Firmware      string
	Battery       float64
	Charging      bool
	GazeFrequency int

	// DialErr makes the dialer fail as if the host were unreachable.
	DialErr error

	// CalibrationFails makes Calibrate report failure.
	CalibrationFails bool

	// Script, when non-nil, is played back in order instead of synthetic
	// data. After the script drains, Next returns ScriptErr wrapped in a
	// StreamFault if set, otherwise blocks like an idle device.
	Script    []sample.Sample
	ScriptErr error

	// Interval paces Next calls through Clock.Sleep. Zero means no pacing,
	// which is what tests want; dev mode uses ~10ms.
	Interval time.Duration

	Clock timeutil.Clock
}

// MockDevice implements Device with synthetic data. It backs dev mode
// (no glasses on the network) and the pipeline tests.
type MockDevice struct {
	hostname string
	cfg      MockConfig
	clock    timeutil.Clock

	mu     sync.Mutex
	closed bool
	stream *mockStream
}

// MockDialer returns a Dialer producing MockDevices with the given config.
func MockDialer(cfg MockConfig) Dialer {
	return func(ctx context.Context, hostname string) (Device, error) {
		if cfg.DialErr != nil {
			return nil, &ConnectionError{Hostname: hostname, Err: cfg.DialErr}
		}
		return NewMockDevice(hostname, cfg), nil
	}
}

// NewMockDevice creates a mock device presenting as hostname.
func NewMockDevice(hostname string, cfg MockConfig) *MockDevice {
	if cfg.Serial == "" {
		cfg.Serial = "TG03B-080200045321"
	}
	if cfg.Firmware == "" {
		cfg.Firmware = "1.29.5-mock"
	}
	if cfg.Battery == 0 {
		cfg.Battery = 82.0
	}
	if cfg.GazeFrequency == 0 {
		cfg.GazeFrequency = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &MockDevice{hostname: hostname, cfg: cfg, clock: cfg.Clock}
}

func (d *MockDevice) Hostname() string { return d.hostname }

func (d *MockDevice) Status(ctx context.Context) (DeviceStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return DeviceStatus{}, ErrNotConnected
	}
	return DeviceStatus{
		Serial:        d.cfg.Serial,
		Firmware:      d.cfg.Firmware,
		Battery:       d.cfg.Battery,
		Charging:      d.cfg.Charging,
		GazeFrequency: d.cfg.GazeFrequency,
	}, nil
}

func (d *MockDevice) Calibrate(ctx context.Context) (CalibrationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return CalibrationResult{}, ErrNotConnected
	}
	if d.cfg.CalibrationFails {
		return CalibrationResult{Success: false, Message: "calibration failed: marker not found or fixation unstable"}, nil
	}
	return CalibrationResult{Success: true, Message: "calibration succeeded"}, nil
}

func (d *MockDevice) StartStream(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrNotConnected
	}
	if d.stream != nil && !d.stream.isStopped() {
		return nil, ErrStreamActive
	}
	d.stream = &mockStream{d: d, stopped: make(chan struct{})}
	return d.stream, nil
}

func (d *MockDevice) Close() error {
	d.mu.Lock()
	stream := d.stream
	d.closed = true
	d.mu.Unlock()
	if stream != nil {
		stream.Stop()
	}
	return nil
}

// mockStream plays the configured script or synthesises samples: gaze at
// 50 Hz and IMU at 100 Hz on a shared 10ms grid.
type mockStream struct {
	d *MockDevice

	mu    sync.Mutex
	idx   int
	step  int64
	queue []sample.Sample

	stopOnce sync.Once
	stopped  chan struct{}
}

func (s *mockStream) Next(ctx context.Context) (sample.Sample, error) {
	select {
	case <-s.stopped:
		return sample.Sample{}, ErrStreamClosed
	case <-ctx.Done():
		return sample.Sample{}, ctx.Err()
	default:
	}

	if s.d.cfg.Interval > 0 {
		s.d.clock.Sleep(s.d.cfg.Interval)
	}

	s.mu.Lock()
	if s.d.cfg.Script != nil {
		if s.idx < len(s.d.cfg.Script) {
			smp := s.d.cfg.Script[s.idx]
			s.idx++
			s.mu.Unlock()
			return smp, nil
		}
		s.mu.Unlock()
		if s.d.cfg.ScriptErr != nil {
			return sample.Sample{}, &StreamFault{Err: s.d.cfg.ScriptErr}
		}
		// Script drained with no fault configured: behave like an idle
		// device until stopped.
		select {
		case <-s.stopped:
			return sample.Sample{}, ErrStreamClosed
		case <-ctx.Done():
			return sample.Sample{}, ctx.Err()
		}
	}

	if len(s.queue) == 0 {
		s.synthesise()
	}
	smp := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()
	return smp, nil
}

// synthesise appends the next 10ms grid step: always an IMU sample, plus a
// gaze sample on every second step.
func (s *mockStream) synthesise() {
	s.step++
	t := float64(s.step) * 0.01
	localTS := float64(s.d.clock.Now().UnixNano()) / 1e9

	s.queue = append(s.queue, sample.Sample{
		Kind:     sample.KindIMU,
		DeviceTS: t,
		LocalTS:  localTS,
		IMU: &sample.ImuSample{
			DeviceTS: t,
			LocalTS:  localTS,
			AccelX:   0.4 * math.Sin(2*math.Pi*0.5*t),
			AccelY:   0.3 * math.Cos(2*math.Pi*0.3*t),
			AccelZ:   9.81 + 0.2*math.Sin(2*math.Pi*1.1*t),
			GyroX:    12 * math.Sin(2*math.Pi*0.25*t),
			GyroY:    8 * math.Cos(2*math.Pi*0.15*t),
			GyroZ:    5 * math.Sin(2*math.Pi*0.4*t),
			MagX:     22.5, MagY: -7.1, MagZ: 41.3,
		},
	})

	if s.step%2 == 0 {
		pupil := 3.2 + 0.4*math.Sin(2*math.Pi*0.1*t)
		s.queue = append(s.queue, sample.Sample{
			Kind:     sample.KindGaze,
			DeviceTS: t,
			LocalTS:  localTS,
			Gaze: &sample.GazeSample{
				DeviceTS:    t,
				LocalTS:     localTS,
				Gaze2DX:     0.5 + 0.3*math.Sin(2*math.Pi*0.2*t),
				Gaze2DY:     0.5 + 0.2*math.Cos(2*math.Pi*0.17*t),
				Gaze3DX:     120 * math.Sin(2*math.Pi*0.2*t),
				Gaze3DY:     80 * math.Cos(2*math.Pi*0.17*t),
				Gaze3DZ:     650,
				LeftOriginX: 29.0, LeftOriginY: 0.5, LeftOriginZ: -31.0,
				LeftDirX: 0.02, LeftDirY: -0.01, LeftDirZ: 0.99,
				LeftPupil:    pupil,
				RightOriginX: -30.0, RightOriginY: 0.4, RightOriginZ: -31.0,
				RightDirX: -0.03, RightDirY: -0.02, RightDirZ: 0.99,
				RightPupil: pupil + 0.15,
			},
		})
	}
}

func (s *mockStream) Stop() error {
	s.stopOnce.Do(func() { close(s.stopped) })
	return nil
}

func (s *mockStream) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}
