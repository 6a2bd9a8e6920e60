package display

import (
	"encoding/json"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oculab/gazecap/internal/sample"
)

func gazeAt(ts, x, y float64) sample.Sample {
	g := &sample.GazeSample{DeviceTS: ts, LocalTS: ts, Gaze2DX: x, Gaze2DY: y,
		LeftPupil: 3.1, RightPupil: 3.2}
	return sample.Sample{Kind: sample.KindGaze, Gaze: g, DeviceTS: ts, LocalTS: ts}
}

func imuAt(ts float64) sample.Sample {
	m := &sample.ImuSample{DeviceTS: ts, LocalTS: ts, AccelX: 0.1, AccelY: 0.2, AccelZ: 9.8,
		GyroX: 1, GyroY: 2, GyroZ: 3}
	return sample.Sample{Kind: sample.KindIMU, IMU: m, DeviceTS: ts, LocalTS: ts}
}

func TestFeed_SubscribeReceivesPushedSample(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	id, ch := f.Subscribe()
	defer f.Unsubscribe(id)

	f.Push(gazeAt(1.5, 0.4, 0.6))

	select {
	case payload := <-ch:
		var ev map[string]interface{}
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("invalid event JSON: %v", err)
		}
		if ev["type"] != "gaze" {
			t.Errorf("expected type gaze, got %v", ev["type"])
		}
		if ev["gaze2d_x"] != 0.4 {
			t.Errorf("expected gaze2d_x 0.4, got %v", ev["gaze2d_x"])
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestFeed_NaNFieldsOmitted(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	id, ch := f.Subscribe()
	defer f.Unsubscribe(id)

	s := gazeAt(2.0, math.NaN(), math.NaN())
	s.Gaze.LeftPupil = math.NaN()
	s.Gaze.RightPupil = math.NaN()
	f.Push(s)

	payload := <-ch
	var ev map[string]interface{}
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("invalid event JSON: %v", err)
	}
	for _, key := range []string{"gaze2d_x", "gaze2d_y", "left_pupil", "right_pupil"} {
		if _, ok := ev[key]; ok {
			t.Errorf("expected %s omitted for untracked sample, got %v", key, ev[key])
		}
	}
}

func TestFeed_SlowSubscriberKeepsNewest(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	id, ch := f.Subscribe()
	defer f.Unsubscribe(id)

	// Overflow the subscriber buffer without draining it.
	total := subscriberBuffer + 10
	for i := 0; i < total; i++ {
		f.Push(gazeAt(float64(i), 0.5, 0.5))
	}

	// Drain everything currently buffered; the newest sample must be present.
	var last map[string]interface{}
	n := 0
	for {
		select {
		case payload := <-ch:
			n++
			last = nil
			if err := json.Unmarshal(payload, &last); err != nil {
				t.Fatalf("invalid event JSON: %v", err)
			}
		default:
			if n != subscriberBuffer {
				t.Errorf("expected %d buffered events, got %d", subscriberBuffer, n)
			}
			if got := last["ts"].(float64); got != float64(total-1) {
				t.Errorf("expected newest event ts %d, got %v", total-1, got)
			}
			return
		}
	}
}

func TestFeed_PublishAddsTypeField(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	id, ch := f.Subscribe()
	defer f.Unsubscribe(id)

	f.Publish("new_recording", map[string]interface{}{"gaze_file": "tobii_gaze_20260826_101500.csv"})

	payload := <-ch
	var ev map[string]interface{}
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("invalid event JSON: %v", err)
	}
	if ev["type"] != "new_recording" {
		t.Errorf("expected type new_recording, got %v", ev["type"])
	}
	if ev["gaze_file"] != "tobii_gaze_20260826_101500.csv" {
		t.Errorf("unexpected gaze_file: %v", ev["gaze_file"])
	}
}

func TestFeed_RecentRingsAndReset(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	for i := 0; i < ringSize+5; i++ {
		f.Push(gazeAt(float64(i), 0.5, 0.5))
	}
	f.Push(imuAt(99))

	gaze := f.RecentGaze()
	if len(gaze) != ringSize {
		t.Fatalf("expected ring capped at %d, got %d", ringSize, len(gaze))
	}
	if gaze[0].DeviceTS != 5 {
		t.Errorf("expected oldest retained ts 5, got %v", gaze[0].DeviceTS)
	}
	if imu := f.RecentIMU(); len(imu) != 1 || imu[0].DeviceTS != 99 {
		t.Errorf("unexpected IMU ring: %+v", imu)
	}

	f.Reset()
	if len(f.RecentGaze()) != 0 || len(f.RecentIMU()) != 0 {
		t.Error("expected rings cleared after Reset")
	}
}

func TestFeed_PushAfterCloseIsDiscarded(t *testing.T) {
	f := NewFeed()
	_, ch := f.Subscribe()
	f.Close()

	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed")
	}
	// Must not panic or buffer.
	f.Push(gazeAt(1, 0.5, 0.5))
	if len(f.RecentGaze()) != 0 {
		t.Error("expected no samples recorded after close")
	}
}

func TestServeSSE_StreamsEvents(t *testing.T) {
	f := NewFeed()

	req := httptest.NewRequest("GET", "/debug/live", nil)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ServeSSE(w, req)
	}()

	// Wait for the handler to subscribe before pushing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		n := len(f.subscribers)
		f.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	f.Push(gazeAt(3.0, 0.25, 0.75))
	time.Sleep(50 * time.Millisecond)
	f.Close() // closes the subscriber channel; handler exits

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after feed close")
	}

	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("expected text/event-stream, got %s", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, ": ping\n\n") {
		t.Error("expected initial ping comment")
	}
	if !strings.Contains(body, "data: ") || !strings.Contains(body, `"gaze2d_x":0.25`) {
		t.Errorf("expected gaze event in body, got %q", body)
	}
}

func TestServeSSE_RejectsPost(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	req := httptest.NewRequest("POST", "/debug/live", nil)
	w := httptest.NewRecorder()
	f.ServeSSE(w, req)

	if w.Code != 405 {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestChartHandlers(t *testing.T) {
	f := NewFeed()
	defer f.Close()

	// Empty feed: all chart endpoints report not found.
	for _, h := range []func(w *httptest.ResponseRecorder){
		func(w *httptest.ResponseRecorder) { f.handleGazeChart(w, httptest.NewRequest("GET", "/", nil)) },
		func(w *httptest.ResponseRecorder) { f.handlePupilChart(w, httptest.NewRequest("GET", "/", nil)) },
		func(w *httptest.ResponseRecorder) { f.handleIMUChart(w, httptest.NewRequest("GET", "/", nil)) },
	} {
		w := httptest.NewRecorder()
		h(w)
		if w.Code != 404 {
			t.Errorf("expected 404 for empty feed, got %d", w.Code)
		}
	}

	for i := 0; i < 20; i++ {
		f.Push(gazeAt(float64(i), 0.5, 0.5))
		f.Push(imuAt(float64(i)))
	}

	cases := []struct {
		name    string
		handler func(w *httptest.ResponseRecorder)
	}{
		{"gaze", func(w *httptest.ResponseRecorder) {
			f.handleGazeChart(w, httptest.NewRequest("GET", "/?max_points=100", nil))
		}},
		{"pupil", func(w *httptest.ResponseRecorder) { f.handlePupilChart(w, httptest.NewRequest("GET", "/", nil)) }},
		{"imu", func(w *httptest.ResponseRecorder) { f.handleIMUChart(w, httptest.NewRequest("GET", "/", nil)) }},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.handler(w)
		if w.Code != 200 {
			t.Errorf("%s: expected 200, got %d", c.name, w.Code)
			continue
		}
		if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
			t.Errorf("%s: expected text/html, got %s", c.name, ct)
		}
		if !strings.Contains(w.Body.String(), "echarts") {
			t.Errorf("%s: expected rendered echarts page", c.name)
		}
	}
}
