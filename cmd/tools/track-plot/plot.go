package main

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/pickplace/internal/tracking"
)

var (
	colorX = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	colorY = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
	colorZ = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
)

// renderTrack writes <prefix>_xy.png and <prefix>_time.png to dir and
// returns their paths. Samples must be oldest first.
func renderTrack(samples []tracking.Sample, dir, prefix string) ([]string, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples to plot")
	}

	xyPath := filepath.Join(dir, prefix+"_xy.png")
	if err := plotXY(samples, xyPath); err != nil {
		return nil, err
	}
	timePath := filepath.Join(dir, prefix+"_time.png")
	if err := plotTime(samples, timePath); err != nil {
		return nil, err
	}
	return []string{xyPath, timePath}, nil
}

func plotXY(samples []tracking.Sample, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Tracked Object Path (%d samples)", len(samples))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	pts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		pts[i] = plotter.XY{X: s.Pose.Position.X, Y: s.Pose.Position.Y}
	}

	trail, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to create path line: %w", err)
	}
	trail.Width = vg.Points(0.5)
	trail.Color = color.Gray{Y: 0x99}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("failed to create scatter: %w", err)
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	scatter.GlyphStyle.Color = colorZ

	last, err := plotter.NewScatter(pts[len(pts)-1:])
	if err != nil {
		return fmt.Errorf("failed to create marker: %w", err)
	}
	last.GlyphStyle.Radius = vg.Points(4)
	last.GlyphStyle.Color = colorX

	p.Add(plotter.NewGrid(), trail, scatter, last)
	p.Legend.Add("latest", last)
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func plotTime(samples []tracking.Sample, path string) error {
	p := plot.New()
	p.Title.Text = "Tracked Object Position"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Position (m)"

	start := samples[0].ReceivedAt
	xs := make(plotter.XYs, len(samples))
	ys := make(plotter.XYs, len(samples))
	zs := make(plotter.XYs, len(samples))
	for i, s := range samples {
		t := s.ReceivedAt.Sub(start).Seconds()
		xs[i] = plotter.XY{X: t, Y: s.Pose.Position.X}
		ys[i] = plotter.XY{X: t, Y: s.Pose.Position.Y}
		zs[i] = plotter.XY{X: t, Y: s.Pose.Position.Z}
	}

	for _, series := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{"x", xs, colorX},
		{"y", ys, colorY},
		{"z", zs, colorZ},
	} {
		line, err := plotter.NewLine(series.pts)
		if err != nil {
			return fmt.Errorf("failed to create %s line: %w", series.name, err)
		}
		line.Width = vg.Points(1)
		line.Color = series.c
		p.Add(line)
		p.Legend.Add(series.name, line)
	}
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
