package display

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleGazeChart renders a quick scatter (HTML) of the recent 2D gaze points
// using go-echarts. This is a debugging-only endpoint (no auth) to eyeball the
// gaze signal without the full UI.
// Query params:
//   - max_points (optional; default 2000) to reduce payload size
func (f *Feed) handleGazeChart(w http.ResponseWriter, r *http.Request) {
	gaze := f.RecentGaze()
	if len(gaze) == 0 {
		http.Error(w, "no gaze samples buffered", http.StatusNotFound)
		return
	}

	maxPoints := 2000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 10 && v <= 50000 {
			maxPoints = v
		}
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if len(gaze) > maxPoints {
		stride = int(math.Ceil(float64(len(gaze)) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, len(gaze)/stride+1)
	for i := 0; i < len(gaze); i += stride {
		g := gaze[i]
		if math.IsNaN(g.Gaze2DX) || math.IsNaN(g.Gaze2DY) {
			continue
		}
		data = append(data, opts.ScatterData{Value: []interface{}{g.Gaze2DX, g.Gaze2DY, g.DeviceTS}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gaze 2D", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Gaze 2D (scene camera coordinates)", Subtitle: fmt.Sprintf("points=%d stride=%d", len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		// Scene camera coordinates are normalised to the unit square with Y
		// growing downward.
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: 1, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "Y", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("gaze", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	renderChart(w, scatter)
}

// handlePupilChart renders left/right pupil diameter traces over device time.
func (f *Feed) handlePupilChart(w http.ResponseWriter, r *http.Request) {
	gaze := f.RecentGaze()
	if len(gaze) == 0 {
		http.Error(w, "no gaze samples buffered", http.StatusNotFound)
		return
	}

	x := make([]string, 0, len(gaze))
	left := make([]opts.LineData, 0, len(gaze))
	right := make([]opts.LineData, 0, len(gaze))
	for _, g := range gaze {
		x = append(x, strconv.FormatFloat(g.DeviceTS, 'f', 3, 64))
		left = append(left, lineValue(g.LeftPupil))
		right = append(right, lineValue(g.RightPupil))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pupil Diameter", Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Pupil Diameter (mm)", Subtitle: fmt.Sprintf("samples=%d", len(gaze))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("left", left).
		AddSeries("right", right)

	renderChart(w, line)
}

// handleIMUChart renders accelerometer and gyroscope traces over device time.
func (f *Feed) handleIMUChart(w http.ResponseWriter, r *http.Request) {
	imu := f.RecentIMU()
	if len(imu) == 0 {
		http.Error(w, "no IMU samples buffered", http.StatusNotFound)
		return
	}

	x := make([]string, 0, len(imu))
	series := map[string][]opts.LineData{
		"accel_x": nil, "accel_y": nil, "accel_z": nil,
		"gyro_x": nil, "gyro_y": nil, "gyro_z": nil,
	}
	for _, m := range imu {
		x = append(x, strconv.FormatFloat(m.DeviceTS, 'f', 3, 64))
		series["accel_x"] = append(series["accel_x"], lineValue(m.AccelX))
		series["accel_y"] = append(series["accel_y"], lineValue(m.AccelY))
		series["accel_z"] = append(series["accel_z"], lineValue(m.AccelZ))
		series["gyro_x"] = append(series["gyro_x"], lineValue(m.GyroX))
		series["gyro_y"] = append(series["gyro_y"], lineValue(m.GyroY))
		series["gyro_z"] = append(series["gyro_z"], lineValue(m.GyroZ))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Head Motion", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Head Motion (accel m/s², gyro deg/s)", Subtitle: fmt.Sprintf("samples=%d", len(imu))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x)
	for _, name := range []string{"accel_x", "accel_y", "accel_z", "gyro_x", "gyro_y", "gyro_z"} {
		line.AddSeries(name, series[name])
	}

	renderChart(w, line)
}

func renderChart(w http.ResponseWriter, c interface{ Render(w io.Writer) error }) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func lineValue(v float64) opts.LineData {
	if math.IsNaN(v) {
		return opts.LineData{Value: nil}
	}
	return opts.LineData{Value: v}
}
