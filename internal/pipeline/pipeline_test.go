package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oculab/gazecap/internal/display"
	"github.com/oculab/gazecap/internal/fsutil"
	"github.com/oculab/gazecap/internal/g3"
	"github.com/oculab/gazecap/internal/router"
	"github.com/oculab/gazecap/internal/sample"
	"github.com/oculab/gazecap/internal/timeutil"
)

func testClock() *timeutil.MockClock {
	return timeutil.NewMockClock(time.Date(2026, 8, 26, 10, 15, 0, 0, time.UTC))
}

func newTestPipeline(t *testing.T, cfg g3.MockConfig) (*Pipeline, *fsutil.MemoryFileSystem, *display.Feed) {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	feed := display.NewFeed()
	t.Cleanup(func() { feed.Close() })
	p := New(Options{
		Dial:           g3.MockDialer(cfg),
		Clock:          testClock(),
		FS:             fs,
		Feed:           feed,
		RecordingsDir:  "recordings",
		GazeDecimation: 2,
		IMUDecimation:  5,
	})
	return p, fs, feed
}

func scriptedGaze(n int) []sample.Sample {
	out := make([]sample.Sample, 0, n)
	for i := 1; i <= n; i++ {
		ts := float64(i)
		out = append(out, sample.Sample{
			Kind:     sample.KindGaze,
			DeviceTS: ts,
			LocalTS:  ts,
			Gaze: &sample.GazeSample{
				DeviceTS: ts, LocalTS: ts,
				Gaze2DX: 0.5, Gaze2DY: 0.5,
				LeftPupil: 3.0, RightPupil: 3.0,
			},
		})
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestConnect_ReportsDeviceStatus(t *testing.T) {
	p, _, _ := newTestPipeline(t, g3.MockConfig{Serial: "TG03B-1", Battery: 64.5})

	status, err := p.Connect(context.Background(), "10.0.0.9")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if status.Serial != "TG03B-1" || status.Battery != 64.5 {
		t.Errorf("unexpected status: %+v", status)
	}

	st := p.Status()
	if !st.Connected || st.Hostname != "10.0.0.9" || st.Streaming {
		t.Errorf("unexpected pipeline status: %+v", st)
	}

	if _, err := p.Connect(context.Background(), "10.0.0.9"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestConnect_DialFailureLeavesNoState(t *testing.T) {
	p, fs, _ := newTestPipeline(t, g3.MockConfig{DialErr: fmt.Errorf("no route to host")})

	_, err := p.Connect(context.Background(), "10.0.0.9")
	var connErr *g3.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *g3.ConnectionError, got %v", err)
	}
	if p.Status().Connected {
		t.Error("expected pipeline to stay disconnected")
	}
	// No session files were created.
	if fs.Exists("recordings") {
		t.Error("expected no recordings directory")
	}
}

func TestCalibrate(t *testing.T) {
	p, _, _ := newTestPipeline(t, g3.MockConfig{})

	if _, err := p.Calibrate(context.Background()); !errors.Is(err, g3.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before connect, got %v", err)
	}

	if _, err := p.Connect(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	res, err := p.Calibrate(context.Background())
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	if !res.Success {
		t.Errorf("expected calibration success, got %+v", res)
	}

	if _, err := p.StartStreaming(context.Background(), router.Config{}); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	if _, err := p.Calibrate(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive mid-session, got %v", err)
	}
	p.StopStreaming()
}

func TestStartStreaming_RequiresConnection(t *testing.T) {
	p, _, _ := newTestPipeline(t, g3.MockConfig{})
	if _, err := p.StartStreaming(context.Background(), router.Config{}); !errors.Is(err, g3.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSession_RecordsDecimatedSamples(t *testing.T) {
	p, fs, _ := newTestPipeline(t, g3.MockConfig{Script: scriptedGaze(10)})

	if _, err := p.Connect(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	res, err := p.StartStreaming(context.Background(), router.Config{GazeRate: 4, IMURate: 1})
	if err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	if res.GazeDecimation != 4 || res.IMUDecimation != 1 {
		t.Errorf("unexpected session rates: %+v", res)
	}
	if res.GazeFile != "recordings/tobii_gaze_20260826_101500.csv" {
		t.Errorf("unexpected gaze file: %s", res.GazeFile)
	}

	// Rate 4 over device timestamps 1..10 keeps samples 4 and 8.
	waitFor(t, "script to drain", func() bool {
		st := p.Status()
		return st.Session != nil && st.Session.GazeSamples == 2
	})

	result, err := p.StopStreaming()
	if err != nil {
		t.Fatalf("StopStreaming failed: %v", err)
	}
	if result.Summary.GazeSamples != 2 {
		t.Errorf("expected 2 recorded gaze samples, got %d", result.Summary.GazeSamples)
	}
	if result.Fault != "" {
		t.Errorf("expected clean stop, got fault %q", result.Fault)
	}
	if result.Summary.TrackingRatio != 1.0 {
		t.Errorf("expected tracking ratio 1.0, got %v", result.Summary.TrackingRatio)
	}

	data, err := fs.ReadFile(result.GazeFile)
	if err != nil {
		t.Fatalf("gaze file missing: %v", err)
	}
	rows := dataRows(string(data))
	if len(rows) != 2 {
		t.Fatalf("expected 2 gaze rows, got %d", len(rows))
	}
	if !strings.HasPrefix(rows[0], "4,") || !strings.HasPrefix(rows[1], "8,") {
		t.Errorf("unexpected selected samples: %v", rows)
	}

	st := p.Status()
	if st.Streaming || st.Session != nil {
		t.Errorf("expected idle pipeline after stop, got %+v", st)
	}
	if !st.Connected {
		t.Error("expected device to stay connected after a clean stop")
	}

	if _, err := p.StopStreaming(); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession on second stop, got %v", err)
	}
}

func TestSession_ZeroRatesUseDefaults(t *testing.T) {
	p, _, _ := newTestPipeline(t, g3.MockConfig{Script: scriptedGaze(1)})
	if _, err := p.Connect(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	res, err := p.StartStreaming(context.Background(), router.Config{})
	if err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	if res.GazeDecimation != 2 || res.IMUDecimation != 5 {
		t.Errorf("expected defaults 2/5, got %d/%d", res.GazeDecimation, res.IMUDecimation)
	}
	p.StopStreaming()
}

func TestSession_RejectsInvalidRates(t *testing.T) {
	p, _, _ := newTestPipeline(t, g3.MockConfig{})
	if _, err := p.Connect(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := p.StartStreaming(context.Background(), router.Config{GazeRate: -1, IMURate: 1}); err == nil {
		t.Error("expected error for negative rate")
	}
	if p.Status().Streaming {
		t.Error("expected no session after rejected start")
	}
}

func TestSession_SecondStartRejected(t *testing.T) {
	p, _, _ := newTestPipeline(t, g3.MockConfig{Script: scriptedGaze(1)})
	if _, err := p.Connect(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := p.StartStreaming(context.Background(), router.Config{}); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	if _, err := p.StartStreaming(context.Background(), router.Config{}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
	p.StopStreaming()
}

func TestSession_FaultFinalizesFiles(t *testing.T) {
	p, fs, feed := newTestPipeline(t, g3.MockConfig{
		Script:    scriptedGaze(5),
		ScriptErr: fmt.Errorf("connection reset"),
	})

	_, events := feed.Subscribe()

	if _, err := p.Connect(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	res, err := p.StartStreaming(context.Background(), router.Config{GazeRate: 1, IMURate: 1})
	if err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}

	// The fault finishes the session and drops the dead connection.
	waitFor(t, "fault to finish the session", func() bool {
		st := p.Status()
		return !st.Streaming && !st.Connected
	})

	// The interrupted session still left a valid 5-row file.
	data, err := fs.ReadFile(res.GazeFile)
	if err != nil {
		t.Fatalf("gaze file missing after fault: %v", err)
	}
	if rows := dataRows(string(data)); len(rows) != 5 {
		t.Errorf("expected 5 gaze rows, got %d", len(rows))
	}

	// Both the recording announcement and the fault reach the display feed.
	var sawRecording, sawFault bool
	timeout := time.After(2 * time.Second)
	for !(sawRecording && sawFault) {
		select {
		case payload := <-events:
			var ev map[string]interface{}
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			switch ev["type"] {
			case "new_recording":
				sawRecording = true
			case "stream_fault":
				sawFault = true
				if !strings.Contains(ev["error"].(string), "connection reset") {
					t.Errorf("unexpected fault payload: %v", ev)
				}
			}
		case <-timeout:
			t.Fatalf("missing feed events: recording=%v fault=%v", sawRecording, sawFault)
		}
	}

	if _, err := p.StopStreaming(); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession after fault, got %v", err)
	}
}

func TestDisconnect_StopsSession(t *testing.T) {
	p, _, _ := newTestPipeline(t, g3.MockConfig{Script: scriptedGaze(2)})
	if _, err := p.Connect(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := p.StartStreaming(context.Background(), router.Config{GazeRate: 1, IMURate: 1}); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}

	result, err := p.Disconnect()
	if err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected session result from Disconnect")
	}

	st := p.Status()
	if st.Connected || st.Streaming {
		t.Errorf("expected fully idle pipeline, got %+v", st)
	}

	// Disconnecting again is a no-op.
	if _, err := p.Disconnect(); err != nil {
		t.Errorf("second Disconnect returned %v", err)
	}
}

func TestRefreshStatus(t *testing.T) {
	p, _, _ := newTestPipeline(t, g3.MockConfig{Battery: 42})
	if _, err := p.RefreshStatus(context.Background()); !errors.Is(err, g3.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := p.Connect(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	status, err := p.RefreshStatus(context.Background())
	if err != nil {
		t.Fatalf("RefreshStatus failed: %v", err)
	}
	if status.Battery != 42 {
		t.Errorf("expected battery 42, got %v", status.Battery)
	}
}

// dataRows returns the non-empty lines after the column header.
func dataRows(contents string) []string {
	lines := strings.Split(contents, "\n")
	var rows []string
	seenHeader := false
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seenHeader {
			seenHeader = true
			continue
		}
		rows = append(rows, line)
	}
	return rows
}

// gatedDevice stalls inside Status so a test can hold one StartStreaming
// call mid-flight while issuing another. The first Status call (Connect's
// own fetch) passes straight through.
type gatedDevice struct {
	g3.Device
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}
}

func (d *gatedDevice) Status(ctx context.Context) (g3.DeviceStatus, error) {
	if d.calls.Add(1) > 1 {
		d.entered <- struct{}{}
		<-d.gate
	}
	return d.Device.Status(ctx)
}

func TestStartStreaming_ConcurrentStartsSingleSession(t *testing.T) {
	entered := make(chan struct{}, 2)
	gate := make(chan struct{})
	mock := g3.MockDialer(g3.MockConfig{Script: scriptedGaze(4)})

	fs := fsutil.NewMemoryFileSystem()
	feed := display.NewFeed()
	t.Cleanup(func() { feed.Close() })
	p := New(Options{
		Dial: func(ctx context.Context, host string) (g3.Device, error) {
			dev, err := mock(ctx, host)
			if err != nil {
				return nil, err
			}
			return &gatedDevice{Device: dev, entered: entered, gate: gate}, nil
		},
		Clock:          testClock(),
		FS:             fs,
		Feed:           feed,
		RecordingsDir:  "recordings",
		GazeDecimation: 2,
		IMUDecimation:  5,
	})

	if _, err := p.Connect(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := p.StartStreaming(context.Background(), router.Config{})
		firstDone <- err
	}()

	// The first start is now parked inside the device status fetch; its
	// recording files do not exist yet, but the session slot must already
	// be reserved so this start cannot truncate them.
	<-entered
	if _, err := p.StartStreaming(context.Background(), router.Config{}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("concurrent start = %v, want ErrSessionActive", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	waitFor(t, "scripted samples to be recorded", func() bool {
		st := p.Status()
		return st.Session != nil && st.Session.GazeSamples == 2
	})
	res, err := p.StopStreaming()
	if err != nil {
		t.Fatalf("StopStreaming failed: %v", err)
	}
	if !fs.Exists(res.GazeFile) || !fs.Exists(res.IMUFile) {
		t.Errorf("winning session files missing: %s, %s", res.GazeFile, res.IMUFile)
	}
}
