// Package stats accumulates per-session signal quality figures: tracking
// ratio, pupil diameter distribution and effective sample rates.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/oculab/gazecap/internal/sample"
)

// Accumulator collects figures for one capture session. Not safe for
// concurrent use; feed it from the routing loop only.
type Accumulator struct {
	gazeCount    int64
	imuCount     int64
	trackedCount int64
	pupils       []float64

	firstTS float64
	lastTS  float64
	haveTS  bool
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add folds one sample into the session figures. Event and sync samples only
// advance the session time bounds.
func (a *Accumulator) Add(s sample.Sample) {
	a.observeTS(s.DeviceTS)

	switch s.Kind {
	case sample.KindGaze:
		a.gazeCount++
		if s.Gaze.Tracked() {
			a.trackedCount++
		}
		// Average the eyes when both are present; either alone otherwise.
		l, r := s.Gaze.LeftPupil, s.Gaze.RightPupil
		switch {
		case !math.IsNaN(l) && !math.IsNaN(r):
			a.pupils = append(a.pupils, (l+r)/2)
		case !math.IsNaN(l):
			a.pupils = append(a.pupils, l)
		case !math.IsNaN(r):
			a.pupils = append(a.pupils, r)
		}
	case sample.KindIMU:
		a.imuCount++
	}
}

func (a *Accumulator) observeTS(ts float64) {
	if math.IsNaN(ts) {
		return
	}
	if !a.haveTS {
		a.firstTS, a.lastTS = ts, ts
		a.haveTS = true
		return
	}
	if ts < a.firstTS {
		a.firstTS = ts
	}
	if ts > a.lastTS {
		a.lastTS = ts
	}
}

// Summary is a snapshot of the session figures.
type Summary struct {
	GazeSamples int64 `json:"gaze_samples"`
	IMUSamples  int64 `json:"imu_samples"`

	// TrackingRatio is the fraction of gaze samples with a valid 2D gaze
	// point. Zero when no gaze samples arrived.
	TrackingRatio float64 `json:"tracking_ratio"`

	// Pupil diameter distribution in millimetres, both eyes pooled.
	PupilMeanMM   float64 `json:"pupil_mean_mm"`
	PupilStdDevMM float64 `json:"pupil_stddev_mm"`

	// DurationSeconds spans the first to last device timestamp seen.
	DurationSeconds float64 `json:"duration_seconds"`

	// Effective rates over the session duration, in samples per second.
	GazeRateHz float64 `json:"gaze_rate_hz"`
	IMURateHz  float64 `json:"imu_rate_hz"`
}

// Summarize computes the session summary from everything added so far.
func (a *Accumulator) Summarize() Summary {
	s := Summary{
		GazeSamples: a.gazeCount,
		IMUSamples:  a.imuCount,
	}
	if a.gazeCount > 0 {
		s.TrackingRatio = float64(a.trackedCount) / float64(a.gazeCount)
	}
	if len(a.pupils) > 0 {
		s.PupilMeanMM = stat.Mean(a.pupils, nil)
		if len(a.pupils) > 1 {
			s.PupilStdDevMM = stat.StdDev(a.pupils, nil)
		}
	}
	if a.haveTS {
		s.DurationSeconds = a.lastTS - a.firstTS
	}
	if s.DurationSeconds > 0 {
		s.GazeRateHz = float64(a.gazeCount) / s.DurationSeconds
		s.IMURateHz = float64(a.imuCount) / s.DurationSeconds
	}
	return s
}
