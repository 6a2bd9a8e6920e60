package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/oculab/gazecap/internal/g3"
	"github.com/oculab/gazecap/internal/httputil"
	"github.com/oculab/gazecap/internal/pipeline"
	"github.com/oculab/gazecap/internal/recorder"
	"github.com/oculab/gazecap/internal/router"
	"github.com/oculab/gazecap/internal/version"
)

// writeError maps pipeline and device errors onto HTTP statuses: unreachable
// device 502, wrong-state operations 409, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	var connErr *g3.ConnectionError
	switch {
	case errors.As(err, &connErr):
		httputil.BadGateway(w, connErr.Error())
	case errors.Is(err, g3.ErrNotConnected),
		errors.Is(err, pipeline.ErrAlreadyConnected),
		errors.Is(err, pipeline.ErrSessionActive),
		errors.Is(err, pipeline.ErrNoSession),
		errors.Is(err, g3.ErrStreamActive):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

type connectParams struct {
	Hostname string `json:"hostname"`
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var params connectParams
	if err := httputil.DecodeJSON(r, &params); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if params.Hostname == "" {
		params.Hostname = s.defaultHostname
	}
	if params.Hostname == "" {
		httputil.BadRequest(w, "missing hostname")
		return
	}

	status, err := s.pipe.Connect(r.Context(), params.Hostname)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"connected": true,
		"hostname":  params.Hostname,
		"device":    status,
	})
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	result, err := s.pipe.Disconnect()
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"connected": false}
	if result != nil {
		resp["session"] = result
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) calibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	result, err := s.pipe.Calibrate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, result)
}

func (s *Server) startStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var cfg router.Config
	if err := httputil.DecodeJSON(r, &cfg); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if cfg.GazeRate < 0 || cfg.IMURate < 0 {
		httputil.BadRequest(w, "decimation rates must be >= 1")
		return
	}

	result, err := s.pipe.StartStreaming(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, result)
}

func (s *Server) stopStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	result, err := s.pipe.StopStreaming()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, result)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, statusResponse{
		Status:  s.pipe.Status(),
		Version: version.Version,
	})
}

type statusResponse struct {
	pipeline.Status
	Version string `json:"version"`
}

func (s *Server) listRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	infos, err := recorder.List(s.fs, s.recordingsDir)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, infos)
}

func (s *Server) downloadRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/recordings/")
	path, err := recorder.FilePath(s.fs, s.recordingsDir, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			httputil.NotFound(w, err.Error())
		} else {
			httputil.BadRequest(w, err.Error())
		}
		return
	}

	f, err := s.fs.Open(path)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	io.Copy(w, f)
}
