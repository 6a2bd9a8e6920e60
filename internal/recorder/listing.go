package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oculab/gazecap/internal/fsutil"
	"github.com/oculab/gazecap/internal/security"
)

// Info describes one recording file in the recordings directory.
type Info struct {
	Filename  string    `json:"filename"`
	Type      string    `json:"type"` // "gaze", "imu" or "unknown"
	Size      int64     `json:"size"`
	Created   time.Time `json:"created"`
	Serial    string    `json:"serial,omitempty"`
	StartTime string    `json:"start_time,omitempty"`
}

// List returns all CSV recordings under dir, newest first. A missing
// directory is an empty listing, not an error.
func List(fsys fsutil.FileSystem, dir string) ([]Info, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("read recordings directory: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info := Info{
			Filename: name,
			Type:     recordingType(name),
			Size:     fi.Size(),
			Created:  fi.ModTime(),
		}
		info.Serial, info.StartTime = readPreamble(fsys, filepath.Join(dir, name))
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Created.Equal(infos[j].Created) {
			return infos[i].Created.After(infos[j].Created)
		}
		return infos[i].Filename > infos[j].Filename
	})
	return infos, nil
}

// FilePath validates a requested recording name and returns its path under
// dir. The name must be a bare CSV filename that exists.
func FilePath(fsys fsutil.FileSystem, dir, name string) (string, error) {
	if err := security.ValidateRequestedFilename(name); err != nil {
		return "", err
	}
	if !strings.HasSuffix(name, ".csv") {
		return "", fmt.Errorf("not a recording file: %q", name)
	}
	path := filepath.Join(dir, name)
	// A recording that is a symlink out of the directory must not be
	// served even though its name passed the bare-name check.
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	if !fsys.Exists(path) {
		return "", fmt.Errorf("recording %q: %w", name, fs.ErrNotExist)
	}
	return path, nil
}

func recordingType(name string) string {
	switch {
	case strings.Contains(name, "gaze"):
		return "gaze"
	case strings.Contains(name, "imu"):
		return "imu"
	default:
		return "unknown"
	}
}

// readPreamble extracts the serial and start time from the `#` metadata
// lines at the top of a recording. Unreadable files yield empty values.
func readPreamble(fsys fsutil.FileSystem, path string) (serial, startTime string) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "#") {
			break
		}
		if rest, ok := strings.CutPrefix(line, "# Serial,"); ok {
			serial = strings.TrimSpace(rest)
		} else if rest, ok := strings.CutPrefix(line, "# Timestamp,"); ok {
			startTime = strings.TrimSpace(rest)
		}
	}
	return serial, startTime
}
