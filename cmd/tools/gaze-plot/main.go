// Command gaze-plot renders a recorded gaze CSV as PNG plots: a 2D scatter
// of normalised gaze points over the scene camera frame and a pupil
// diameter time series. Useful for a quick offline look at a session
// without loading the file into an analysis notebook.
//
// Usage:
//
//	gaze-plot -in recordings/tobii_gaze_20260826_101500.csv -out gaze.png
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	inFile    = flag.String("in", "", "Gaze CSV file to plot (required)")
	outFile   = flag.String("out", "gaze.png", "Output PNG for the gaze scatter")
	pupilFile = flag.String("pupil", "", "Optional output PNG for the pupil diameter series")
)

// gazeRow holds the columns gaze-plot cares about. Untracked samples keep
// NaN and are skipped when plotting.
type gazeRow struct {
	DeviceTS   float64
	X, Y       float64
	LeftPupil  float64
	RightPupil float64
}

func main() {
	flag.Parse()
	if *inFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(*inFile)
	if err != nil {
		log.Fatalf("open recording: %v", err)
	}
	defer f.Close()

	rows, err := readGazeCSV(f)
	if err != nil {
		log.Fatalf("read %s: %v", *inFile, err)
	}
	if len(rows) == 0 {
		log.Fatalf("%s contains no samples", *inFile)
	}

	if err := plotScatter(rows, *outFile); err != nil {
		log.Fatalf("render scatter: %v", err)
	}
	log.Printf("wrote %s (%d samples)", *outFile, len(rows))

	if *pupilFile != "" {
		if err := plotPupil(rows, *pupilFile); err != nil {
			log.Fatalf("render pupil series: %v", err)
		}
		log.Printf("wrote %s", *pupilFile)
	}
}

// readGazeCSV parses a gaze recording. The preamble lines start with '#'
// and the first regular record is the column header.
func readGazeCSV(r io.Reader) ([]gazeRow, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("missing header row: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, want := range []string{"DeviceTS", "Gaze2D_X", "Gaze2D_Y"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("not a gaze recording: column %q missing", want)
		}
	}

	var rows []gazeRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, gazeRow{
			DeviceTS:   cell(rec, col, "DeviceTS"),
			X:          cell(rec, col, "Gaze2D_X"),
			Y:          cell(rec, col, "Gaze2D_Y"),
			LeftPupil:  cell(rec, col, "EyeLeft_PupilDiameter"),
			RightPupil: cell(rec, col, "EyeRight_PupilDiameter"),
		})
	}
	return rows, nil
}

// cell parses one field as a float64. Empty cells (untracked samples) and
// missing columns come back as NaN.
func cell(rec []string, col map[string]int, name string) float64 {
	i, ok := col[name]
	if !ok || i >= len(rec) || rec[i] == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(rec[i], 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func plotScatter(rows []gazeRow, path string) error {
	p := plot.New()
	p.Title.Text = "Gaze position (scene camera frame)"
	p.X.Label.Text = "x (normalised)"
	p.Y.Label.Text = "y (normalised)"
	p.X.Min, p.X.Max = 0, 1
	// Screen coordinates grow downward; flip so the plot matches the video.
	p.Y.Min, p.Y.Max = 1, 0

	pts := make(plotter.XYs, 0, len(rows))
	for _, r := range rows {
		if math.IsNaN(r.X) || math.IsNaN(r.Y) {
			continue
		}
		pts = append(pts, plotter.XY{X: r.X, Y: r.Y})
	}
	if len(pts) == 0 {
		return fmt.Errorf("no tracked samples to plot")
	}

	s, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	s.GlyphStyle.Radius = vg.Points(1.5)
	s.GlyphStyle.Color = color.RGBA{R: 0x2c, G: 0x7f, B: 0xb8, A: 0xff}
	p.Add(s)

	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}

func plotPupil(rows []gazeRow, path string) error {
	p := plot.New()
	p.Title.Text = "Pupil diameter"
	p.X.Label.Text = "device time (s)"
	p.Y.Label.Text = "diameter (mm)"

	series := func(pick func(gazeRow) float64) plotter.XYs {
		pts := make(plotter.XYs, 0, len(rows))
		for _, r := range rows {
			v := pick(r)
			if math.IsNaN(v) {
				continue
			}
			pts = append(pts, plotter.XY{X: r.DeviceTS, Y: v})
		}
		return pts
	}

	left := series(func(r gazeRow) float64 { return r.LeftPupil })
	right := series(func(r gazeRow) float64 { return r.RightPupil })
	if len(left) == 0 && len(right) == 0 {
		return fmt.Errorf("no pupil samples to plot")
	}

	if len(left) > 0 {
		l, err := plotter.NewLine(left)
		if err != nil {
			return err
		}
		l.Width = vg.Points(1)
		l.Color = color.RGBA{R: 0xd9, G: 0x53, B: 0x1e, A: 0xff}
		p.Add(l)
		p.Legend.Add("left", l)
	}
	if len(right) > 0 {
		l, err := plotter.NewLine(right)
		if err != nil {
			return err
		}
		l.Width = vg.Points(1)
		l.Color = color.RGBA{R: 0x1e, G: 0x77, B: 0xd9, A: 0xff}
		p.Add(l)
		p.Legend.Add("right", l)
	}

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}
