// Package sample defines the gaze and IMU sample types carried through the
// acquisition pipeline, and the parsing of the device's wire payloads into
// them. Samples are immutable once parsed.
package sample

import "math"

// Kind tags a Sample with its stream type.
type Kind string

const (
	KindGaze  Kind = "gaze"
	KindIMU   Kind = "imu"
	KindEvent Kind = "event"
	KindSync  Kind = "sync"
)

// GazeSample is one gaze record from the glasses. Fields the device omitted
// for a given sample (for example during a blink) are NaN; they serialise to
// empty CSV cells and are excluded from summaries.
type GazeSample struct {
	DeviceTS float64
	LocalTS  float64

	// Normalised scene-camera coordinate, each axis in [0,1].
	Gaze2DX float64
	Gaze2DY float64

	// Gaze point in 3D, millimetres relative to the scene camera.
	Gaze3DX float64
	Gaze3DY float64
	Gaze3DZ float64

	LeftOriginX  float64
	LeftOriginY  float64
	LeftOriginZ  float64
	LeftDirX     float64
	LeftDirY     float64
	LeftDirZ     float64
	LeftPupil    float64
	RightOriginX float64
	RightOriginY float64
	RightOriginZ float64
	RightDirX    float64
	RightDirY    float64
	RightDirZ    float64
	RightPupil   float64
}

// Tracked reports whether the device produced a 2D gaze point for this
// sample. Blinks and tracking loss leave the 2D coordinate unset.
func (g *GazeSample) Tracked() bool {
	return !math.IsNaN(g.Gaze2DX) && !math.IsNaN(g.Gaze2DY)
}

// Values returns the 21 record values in schema order.
func (g *GazeSample) Values() []float64 {
	return []float64{
		g.DeviceTS, g.LocalTS,
		g.Gaze2DX, g.Gaze2DY,
		g.Gaze3DX, g.Gaze3DY, g.Gaze3DZ,
		g.LeftOriginX, g.LeftOriginY, g.LeftOriginZ,
		g.LeftDirX, g.LeftDirY, g.LeftDirZ,
		g.LeftPupil,
		g.RightOriginX, g.RightOriginY, g.RightOriginZ,
		g.RightDirX, g.RightDirY, g.RightDirZ,
		g.RightPupil,
	}
}

// ImuSample is one inertial record: accelerometer, gyroscope and
// magnetometer triplets plus the device and local receipt timestamps.
type ImuSample struct {
	DeviceTS float64
	LocalTS  float64

	AccelX float64
	AccelY float64
	AccelZ float64
	GyroX  float64
	GyroY  float64
	GyroZ  float64
	MagX   float64
	MagY   float64
	MagZ   float64
}

// Values returns the 11 record values in schema order.
func (m *ImuSample) Values() []float64 {
	return []float64{
		m.DeviceTS, m.LocalTS,
		m.AccelX, m.AccelY, m.AccelZ,
		m.GyroX, m.GyroY, m.GyroZ,
		m.MagX, m.MagY, m.MagZ,
	}
}

// Sample is the tagged union routed through the pipeline. Exactly one of
// Gaze/IMU/Raw is set according to Kind. Event and sync-port payloads are
// carried raw; they feed the live display but are never recorded.
type Sample struct {
	Kind Kind

	Gaze *GazeSample
	IMU  *ImuSample

	// Raw holds the unparsed payload for event and sync-port samples.
	Raw []byte

	DeviceTS float64
	LocalTS  float64
}
