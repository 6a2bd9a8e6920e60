package display

import (
	"fmt"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes registers the live display debug endpoints on the given
// mux under /debug/ (loopback-only via tsweb).
func (f *Feed) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// API endpoint to issue Server-Side Events (SSE) for the decimated
	// sample feed.
	debug.HandleSilent("live", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.ServeSSE(w, r)
	}))

	debug.Handle("gaze-chart", "scatter of recent 2D gaze points", http.HandlerFunc(f.handleGazeChart))
	debug.Handle("pupil-chart", "pupil diameter over time", http.HandlerFunc(f.handlePupilChart))
	debug.Handle("imu-chart", "accelerometer and gyroscope traces", http.HandlerFunc(f.handleIMUChart))
}

// ServeSSE streams feed events to the client as Server-Sent Events until the
// client disconnects or the feed closes.
func (f *Feed) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := f.Subscribe()
	defer f.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				// Channel closed, exit gracefully
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
