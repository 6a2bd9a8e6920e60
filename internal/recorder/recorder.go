// Package recorder writes decimated gaze and IMU samples to per-session CSV
// files and serves the recordings directory listing.
//
// Each session produces two files with different schemas and sample rates:
//
//	tobii_gaze_YYYYMMDD_HHMMSS.csv
//	tobii_imu_YYYYMMDD_HHMMSS.csv
//
// Rows are flushed as they arrive, so a session interrupted by a connection
// fault still leaves valid files on disk.
package recorder

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/oculab/gazecap/internal/fsutil"
	"github.com/oculab/gazecap/internal/monitoring"
	"github.com/oculab/gazecap/internal/sample"
	"github.com/oculab/gazecap/internal/security"
)

// Metadata describes the device and session settings embedded in the CSV
// preamble.
type Metadata struct {
	Serial         string
	Firmware       string
	Battery        float64
	GazeFrequency  int
	GazeDecimation int
	IMUDecimation  int
}

// Recording is a pair of open CSV files for one capture session.
type Recording struct {
	GazePath string
	IMUPath  string

	mu        sync.Mutex
	fs        fsutil.FileSystem
	gazeFile  io.WriteCloser
	imuFile   io.WriteCloser
	gazeCSV   *csv.Writer
	imuCSV    *csv.Writer
	gazeRows  int64
	imuRows   int64
	closed    bool
	closeErr  error
	closeOnce sync.Once
}

// Open creates both session files under dir, writing the metadata preamble
// and column header to each. If the second file cannot be created the first
// is removed so a failed open leaves nothing behind.
func Open(fs fsutil.FileSystem, dir string, meta Metadata, now time.Time) (*Recording, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create recordings directory: %w", err)
	}

	stamp := now.Format("20060102_150405")
	gazePath := filepath.Join(dir, fmt.Sprintf("tobii_gaze_%s.csv", stamp))
	imuPath := filepath.Join(dir, fmt.Sprintf("tobii_imu_%s.csv", stamp))

	gazeFile, err := openFile(fs, gazePath, "Tobii Gaze Recording", gazeColumns, meta, now, meta.GazeDecimation)
	if err != nil {
		return nil, err
	}
	imuFile, err := openFile(fs, imuPath, "Tobii IMU Recording", imuColumns, meta, now, meta.IMUDecimation)
	if err != nil {
		gazeFile.Close()
		if rmErr := fs.Remove(gazePath); rmErr != nil {
			monitoring.Logf("recorder: cannot remove %s after open failure: %v", gazePath, rmErr)
		}
		return nil, err
	}

	return &Recording{
		GazePath: gazePath,
		IMUPath:  imuPath,
		fs:       fs,
		gazeFile: gazeFile,
		imuFile:  imuFile,
		gazeCSV:  csv.NewWriter(gazeFile),
		imuCSV:   csv.NewWriter(imuFile),
	}, nil
}

func openFile(fs fsutil.FileSystem, path, title string, columns []string, meta Metadata, now time.Time, decimation int) (io.WriteCloser, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	var preamble string
	preamble += fmt.Sprintf("# %s\n", title)
	preamble += fmt.Sprintf("# Timestamp,%s\n", now.Format("2006-01-02 15:04:05"))
	// The serial is device-reported text landing in a comma-separated
	// preamble line; scrub it so it cannot break the line format.
	preamble += fmt.Sprintf("# Serial,%s\n", security.SanitizeFilename(meta.Serial))
	preamble += fmt.Sprintf("# Firmware,%s\n", meta.Firmware)
	preamble += fmt.Sprintf("# Battery (%%),%s\n", strconv.FormatFloat(meta.Battery, 'f', 1, 64))
	preamble += fmt.Sprintf("# Gaze Frequency (Hz),%d\n", meta.GazeFrequency)
	preamble += fmt.Sprintf("# Decimation,%d\n", decimation)
	preamble += "\n"

	if _, err := io.WriteString(f, preamble); err != nil {
		f.Close()
		return nil, fmt.Errorf("write preamble to %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header to %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header to %s: %w", path, err)
	}
	return f, nil
}

// Write appends one sample row to the matching file and flushes it. Samples
// of kinds other than gaze and IMU are ignored.
func (r *Recording) Write(s sample.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recording closed")
	}

	switch s.Kind {
	case sample.KindGaze:
		if err := writeRow(r.gazeCSV, s.Gaze.Values()); err != nil {
			return fmt.Errorf("write gaze row: %w", err)
		}
		r.gazeRows++
	case sample.KindIMU:
		if err := writeRow(r.imuCSV, s.IMU.Values()); err != nil {
			return fmt.Errorf("write IMU row: %w", err)
		}
		r.imuRows++
	}
	return nil
}

func writeRow(w *csv.Writer, values []float64) error {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = formatCell(v)
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// formatCell renders a value for CSV. NaN (untracked gaze, absent sensor)
// becomes an empty cell.
func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Counts returns the number of data rows written to each file so far.
func (r *Recording) Counts() (gaze, imu int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gazeRows, r.imuRows
}

// Close flushes and closes both files. Safe to call more than once.
func (r *Recording) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed = true

		r.gazeCSV.Flush()
		if err := r.gazeCSV.Error(); err != nil && r.closeErr == nil {
			r.closeErr = err
		}
		r.imuCSV.Flush()
		if err := r.imuCSV.Error(); err != nil && r.closeErr == nil {
			r.closeErr = err
		}
		if err := r.gazeFile.Close(); err != nil && r.closeErr == nil {
			r.closeErr = err
		}
		if err := r.imuFile.Close(); err != nil && r.closeErr == nil {
			r.closeErr = err
		}
		monitoring.Logf("recording saved: %s (%d samples), %s (%d samples)",
			r.GazePath, r.gazeRows, r.IMUPath, r.imuRows)
	})
	return r.closeErr
}
