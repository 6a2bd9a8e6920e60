package sample

import (
	"encoding/json"
	"fmt"
	"math"
)

// Wire shapes for the glasses' signal payloads. Every field is optional:
// during a blink the device sends an empty object, and single-eye tracking
// loss drops just that eye's block.
type gazeWire struct {
	Gaze2D   []float64 `json:"gaze2d"`
	Gaze3D   []float64 `json:"gaze3d"`
	EyeLeft  *eyeWire  `json:"eyeleft"`
	EyeRight *eyeWire  `json:"eyeright"`
}

type eyeWire struct {
	GazeOrigin    []float64 `json:"gazeorigin"`
	GazeDirection []float64 `json:"gazedirection"`
	PupilDiameter *float64  `json:"pupildiameter"`
}

type imuWire struct {
	Accelerometer []float64 `json:"accelerometer"`
	Gyroscope     []float64 `json:"gyroscope"`
	Magnetometer  []float64 `json:"magnetometer"`
}

// at returns the i-th element of a wire vector, or NaN when the vector is
// missing or shorter than expected.
func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return math.NaN()
}

func ptr(p *float64) float64 {
	if p != nil {
		return *p
	}
	return math.NaN()
}

// ParseGaze decodes one gaze signal payload. deviceTS is the device
// timestamp that framed the payload; localTS is the receipt time in UNIX
// seconds.
func ParseGaze(deviceTS, localTS float64, payload []byte) (Sample, error) {
	var w gazeWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return Sample{}, fmt.Errorf("malformed gaze payload: %w", err)
	}

	g := &GazeSample{
		DeviceTS: deviceTS,
		LocalTS:  localTS,
		Gaze2DX:  at(w.Gaze2D, 0),
		Gaze2DY:  at(w.Gaze2D, 1),
		Gaze3DX:  at(w.Gaze3D, 0),
		Gaze3DY:  at(w.Gaze3D, 1),
		Gaze3DZ:  at(w.Gaze3D, 2),

		LeftOriginX: math.NaN(), LeftOriginY: math.NaN(), LeftOriginZ: math.NaN(),
		LeftDirX: math.NaN(), LeftDirY: math.NaN(), LeftDirZ: math.NaN(),
		LeftPupil:    math.NaN(),
		RightOriginX: math.NaN(), RightOriginY: math.NaN(), RightOriginZ: math.NaN(),
		RightDirX: math.NaN(), RightDirY: math.NaN(), RightDirZ: math.NaN(),
		RightPupil: math.NaN(),
	}

	if eye := w.EyeLeft; eye != nil {
		g.LeftOriginX, g.LeftOriginY, g.LeftOriginZ = at(eye.GazeOrigin, 0), at(eye.GazeOrigin, 1), at(eye.GazeOrigin, 2)
		g.LeftDirX, g.LeftDirY, g.LeftDirZ = at(eye.GazeDirection, 0), at(eye.GazeDirection, 1), at(eye.GazeDirection, 2)
		g.LeftPupil = ptr(eye.PupilDiameter)
	}
	if eye := w.EyeRight; eye != nil {
		g.RightOriginX, g.RightOriginY, g.RightOriginZ = at(eye.GazeOrigin, 0), at(eye.GazeOrigin, 1), at(eye.GazeOrigin, 2)
		g.RightDirX, g.RightDirY, g.RightDirZ = at(eye.GazeDirection, 0), at(eye.GazeDirection, 1), at(eye.GazeDirection, 2)
		g.RightPupil = ptr(eye.PupilDiameter)
	}

	return Sample{Kind: KindGaze, Gaze: g, DeviceTS: deviceTS, LocalTS: localTS}, nil
}

// ParseIMU decodes one IMU signal payload.
func ParseIMU(deviceTS, localTS float64, payload []byte) (Sample, error) {
	var w imuWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return Sample{}, fmt.Errorf("malformed imu payload: %w", err)
	}

	m := &ImuSample{
		DeviceTS: deviceTS,
		LocalTS:  localTS,
		AccelX:   at(w.Accelerometer, 0),
		AccelY:   at(w.Accelerometer, 1),
		AccelZ:   at(w.Accelerometer, 2),
		GyroX:    at(w.Gyroscope, 0),
		GyroY:    at(w.Gyroscope, 1),
		GyroZ:    at(w.Gyroscope, 2),
		MagX:     at(w.Magnetometer, 0),
		MagY:     at(w.Magnetometer, 1),
		MagZ:     at(w.Magnetometer, 2),
	}

	return Sample{Kind: KindIMU, IMU: m, DeviceTS: deviceTS, LocalTS: localTS}, nil
}
