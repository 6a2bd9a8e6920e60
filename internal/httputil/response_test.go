package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"gaze_samples": 42})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["gaze_samples"] != 42 {
		t.Errorf("gaze_samples = %d, want 42", resp["gaze_samples"])
	}
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"method not allowed", func(w http.ResponseWriter) { MethodNotAllowed(w) }, http.StatusMethodNotAllowed},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "busy") }, http.StatusConflict},
		{"bad gateway", func(w http.ResponseWriter) { BadGateway(w, "device unreachable") }, http.StatusBadGateway},
		{"internal error", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "missing") }, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type params struct {
		Hostname string `json:"hostname"`
		GazeDec  int    `json:"gaze_decimation"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/connect", strings.NewReader(`{"hostname":"10.0.0.9","gaze_decimation":4}`))
		var p params
		if err := DecodeJSON(req, &p); err != nil {
			t.Fatalf("DecodeJSON failed: %v", err)
		}
		if p.Hostname != "10.0.0.9" || p.GazeDec != 4 {
			t.Errorf("unexpected params: %+v", p)
		}
	})

	t.Run("empty body keeps defaults", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/connect", strings.NewReader(""))
		p := params{Hostname: "default"}
		if err := DecodeJSON(req, &p); err != nil {
			t.Fatalf("DecodeJSON failed: %v", err)
		}
		if p.Hostname != "default" {
			t.Errorf("expected defaults preserved, got %+v", p)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/connect", strings.NewReader(`{`))
		var p params
		if err := DecodeJSON(req, &p); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
}
