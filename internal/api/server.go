// Package api exposes the HTTP control surface: device connection and
// calibration, session start/stop, status, the recordings listing and
// download, and the live SSE feed.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/oculab/gazecap/internal/display"
	"github.com/oculab/gazecap/internal/fsutil"
	"github.com/oculab/gazecap/internal/monitoring"
	"github.com/oculab/gazecap/internal/pipeline"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	pipe          *pipeline.Pipeline
	feed          *display.Feed
	fs            fsutil.FileSystem
	recordingsDir string

	// defaultHostname is used when a connect request omits the hostname,
	// so a configured deployment can POST an empty body.
	defaultHostname string
}

func NewServer(pipe *pipeline.Pipeline, feed *display.Feed, fs fsutil.FileSystem, recordingsDir, defaultHostname string) *Server {
	return &Server{
		pipe:            pipe,
		feed:            feed,
		fs:              fs,
		recordingsDir:   recordingsDir,
		defaultHostname: defaultHostname,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/connect", s.connect)
	mux.HandleFunc("/api/disconnect", s.disconnect)
	mux.HandleFunc("/api/calibrate", s.calibrate)
	mux.HandleFunc("/api/stream/start", s.startStream)
	mux.HandleFunc("/api/stream/stop", s.stopStream)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/recordings", s.listRecordings)
	mux.HandleFunc("/api/recordings/", s.downloadRecording)
	mux.HandleFunc("/api/live", s.feed.ServeSSE)
	s.feed.AttachAdminRoutes(mux)
	return mux
}
