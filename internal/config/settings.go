package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Settings represents the root configuration for the acquisition server.
// Pointer fields distinguish "not set" from zero values, so partial JSON
// configs are safe: omitted fields fall back to the Get* defaults.
type Settings struct {
	// Hostname is the glasses address (IP or mDNS name). When nil the
	// G3_HOSTNAME environment variable is consulted before the default.
	Hostname *string `json:"hostname,omitempty"`

	// Listen is the HTTP listen address for the API and debug endpoints.
	Listen *string `json:"listen,omitempty"`

	// RecordingsDir is where per-session CSV files are written.
	RecordingsDir *string `json:"recordings_dir,omitempty"`

	// GazeDecimation and IMUDecimation are the keep-every-Nth rates applied
	// to the corresponding streams before display and recording.
	GazeDecimation *int `json:"gaze_decimation,omitempty"`
	IMUDecimation  *int `json:"imu_decimation,omitempty"`

	// GazeFrequency is the capture rate (Hz) requested from the glasses.
	GazeFrequency *int `json:"gaze_frequency,omitempty"`
}

// EmptySettings returns Settings with all fields unset.
func EmptySettings() *Settings {
	return &Settings{}
}

// LoadSettings loads Settings from a JSON file. The file must have a .json
// extension and be under the max file size.
func LoadSettings(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySettings()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Settings) Validate() error {
	if c.GazeDecimation != nil && *c.GazeDecimation < 1 {
		return fmt.Errorf("gaze_decimation must be >= 1, got %d", *c.GazeDecimation)
	}
	if c.IMUDecimation != nil && *c.IMUDecimation < 1 {
		return fmt.Errorf("imu_decimation must be >= 1, got %d", *c.IMUDecimation)
	}
	if c.GazeFrequency != nil && *c.GazeFrequency <= 0 {
		return fmt.Errorf("gaze_frequency must be positive, got %d", *c.GazeFrequency)
	}
	if c.RecordingsDir != nil && *c.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir must not be empty")
	}
	return nil
}

// GetHostname returns the configured glasses address, the G3_HOSTNAME
// environment variable, or the default device mDNS address.
func (c *Settings) GetHostname() string {
	if c.Hostname != nil && *c.Hostname != "" {
		return *c.Hostname
	}
	if env := os.Getenv("G3_HOSTNAME"); env != "" {
		return env
	}
	return "192.168.75.51"
}

// GetListen returns the listen address or the default.
func (c *Settings) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetRecordingsDir returns the recordings directory or the default.
func (c *Settings) GetRecordingsDir() string {
	if c.RecordingsDir == nil || *c.RecordingsDir == "" {
		return "recordings"
	}
	return *c.RecordingsDir
}

// GetGazeDecimation returns the gaze decimation rate or the default.
func (c *Settings) GetGazeDecimation() int {
	if c.GazeDecimation == nil {
		return 2
	}
	return *c.GazeDecimation
}

// GetIMUDecimation returns the IMU decimation rate or the default.
func (c *Settings) GetIMUDecimation() int {
	if c.IMUDecimation == nil {
		return 5
	}
	return *c.IMUDecimation
}

// GetGazeFrequency returns the requested gaze capture rate or the default.
func (c *Settings) GetGazeFrequency() int {
	if c.GazeFrequency == nil {
		return 100
	}
	return *c.GazeFrequency
}
