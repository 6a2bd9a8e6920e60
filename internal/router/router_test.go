package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oculab/gazecap/internal/monitoring"
	"github.com/oculab/gazecap/internal/sample"
)

type captureDisplay struct {
	pushed []sample.Sample
}

func (d *captureDisplay) Push(s sample.Sample) { d.pushed = append(d.pushed, s) }

type captureRecorder struct {
	written []sample.Sample
	err     error
}

func (r *captureRecorder) Write(s sample.Sample) error {
	if r.err != nil {
		return r.err
	}
	r.written = append(r.written, s)
	return nil
}

func gazeSample(n int) sample.Sample {
	return sample.Sample{Kind: sample.KindGaze, DeviceTS: float64(n), Gaze: &sample.GazeSample{DeviceTS: float64(n)}}
}

func imuSample(n int) sample.Sample {
	return sample.Sample{Kind: sample.KindIMU, DeviceTS: float64(n), IMU: &sample.ImuSample{DeviceTS: float64(n)}}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{GazeRate: 1, IMURate: 1}, false},
		{"typical", Config{GazeRate: 2, IMURate: 5}, false},
		{"zero gaze", Config{GazeRate: 0, IMURate: 1}, true},
		{"negative imu", Config{GazeRate: 1, IMURate: -3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// Rate 4 over samples 1..10 forwards exactly samples 4 and 8; the trailing
// partial window is not flushed.
func TestRoute_DecimationSelection(t *testing.T) {
	display := &captureDisplay{}
	rec := &captureRecorder{}
	r := New(Config{GazeRate: 4, IMURate: 1}, display, rec)

	for i := 1; i <= 10; i++ {
		r.Route(gazeSample(i))
	}

	if len(rec.written) != 2 {
		t.Fatalf("recorded %d samples, want 2", len(rec.written))
	}
	if rec.written[0].DeviceTS != 4 || rec.written[1].DeviceTS != 8 {
		t.Errorf("forwarded samples = %v, %v; want 4, 8", rec.written[0].DeviceTS, rec.written[1].DeviceTS)
	}
	// Both sinks see exactly the same subset.
	if len(display.pushed) != len(rec.written) {
		t.Errorf("display got %d, recorder got %d", len(display.pushed), len(rec.written))
	}
}

func TestRoute_ForwardedCountWithinOneOfCeiling(t *testing.T) {
	for _, rate := range []int{1, 2, 3, 5, 7} {
		for _, count := range []int{0, 1, 9, 10, 50} {
			display := &captureDisplay{}
			rec := &captureRecorder{}
			r := New(Config{GazeRate: rate, IMURate: 1}, display, rec)

			for i := 1; i <= count; i++ {
				r.Route(gazeSample(i))
			}

			want := count / rate // floor: no trailing flush
			if len(rec.written) != want {
				t.Errorf("rate=%d count=%d: forwarded %d, want %d", rate, count, len(rec.written), want)
			}
		}
	}
}

func TestRoute_IndependentCountersPerKind(t *testing.T) {
	display := &captureDisplay{}
	rec := &captureRecorder{}
	r := New(Config{GazeRate: 2, IMURate: 3}, display, rec)

	for i := 1; i <= 6; i++ {
		r.Route(gazeSample(i))
		r.Route(imuSample(i))
	}

	gaze, imu := r.Counts()
	if gaze != 3 {
		t.Errorf("gaze forwarded = %d, want 3", gaze)
	}
	if imu != 2 {
		t.Errorf("imu forwarded = %d, want 2", imu)
	}
}

func TestRoute_RateOneKeepsAll(t *testing.T) {
	display := &captureDisplay{}
	rec := &captureRecorder{}
	r := New(Config{GazeRate: 1, IMURate: 1}, display, rec)

	for i := 1; i <= 5; i++ {
		if !r.Route(gazeSample(i)) {
			t.Errorf("sample %d not forwarded at rate 1", i)
		}
	}
	if len(rec.written) != 5 {
		t.Errorf("recorded %d, want 5", len(rec.written))
	}
}

func TestRoute_EventsBypassDecimationAndRecorder(t *testing.T) {
	display := &captureDisplay{}
	rec := &captureRecorder{}
	r := New(Config{GazeRate: 10, IMURate: 10}, display, rec)

	ev := sample.Sample{Kind: sample.KindEvent, Raw: []byte(`{"tag":"button"}`)}
	if !r.Route(ev) {
		t.Error("event sample not forwarded")
	}
	if len(display.pushed) != 1 {
		t.Errorf("display got %d samples, want 1", len(display.pushed))
	}
	if len(rec.written) != 0 {
		t.Errorf("recorder got %d samples, want 0", len(rec.written))
	}
}

func TestRoute_WriteFailureIsNotFatal(t *testing.T) {
	prev := monitoring.Logf
	monitoring.SetLogger(func(string, ...interface{}) {})
	defer func() { monitoring.Logf = prev }()

	display := &captureDisplay{}
	rec := &captureRecorder{err: errors.New("disk full")}
	r := New(Config{GazeRate: 1, IMURate: 1}, display, rec)

	for i := 1; i <= 3; i++ {
		r.Route(gazeSample(i))
	}

	// The display keeps receiving even though persistence is failing.
	if len(display.pushed) != 3 {
		t.Errorf("display got %d samples, want 3", len(display.pushed))
	}
	if r.WriteErrors() != 3 {
		t.Errorf("WriteErrors() = %d, want 3", r.WriteErrors())
	}
}

func TestRoute_ForwardsSamplesUnmodified(t *testing.T) {
	disp := &captureDisplay{}
	rec := &captureRecorder{}
	rt := New(Config{GazeRate: 2, IMURate: 1}, disp, rec)

	first, second := gazeSample(1), gazeSample(2)
	rt.Route(first)
	rt.Route(second)

	require.Len(t, rec.written, 1)
	assert.Equal(t, second, rec.written[0])
	require.Len(t, disp.pushed, 1)
	assert.Same(t, second.Gaze, disp.pushed[0].Gaze)
}
