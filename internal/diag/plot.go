package diag

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"motioncor/internal/motion"
)

// PlotSink renders trajectory_pass<N>.png into Dir after every pass: the
// per-frame x and y shifts as lines with the measured curve samples as
// points.
type PlotSink struct {
	Dir string
}

func (s PlotSink) Level(motion.LevelReport) error { return nil }

func (s PlotSink) Pass(r motion.PassReport) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Drift trajectory - pass %d", r.Pass)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Shift (px)"

	xs, ys := r.Trajectory.Shifts(r.Frames)
	axes := []struct {
		name    string
		shifts  []float64
		samples []motion.Sample
		color   color.Color
	}{
		{"x", xs, r.Trajectory.X.Samples(), color.RGBA{R: 200, A: 255}},
		{"y", ys, r.Trajectory.Y.Samples(), color.RGBA{B: 200, A: 255}},
	}
	for _, a := range axes {
		pts := make(plotter.XYs, len(a.shifts))
		for i, v := range a.shifts {
			pts[i] = plotter.XY{X: float64(i), Y: v}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = a.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(a.name, line)

		if len(a.samples) == 0 {
			continue
		}
		marks := make(plotter.XYs, len(a.samples))
		for i, smp := range a.samples {
			marks[i] = plotter.XY{X: smp.T, Y: smp.Value}
		}
		scatter, err := plotter.NewScatter(marks)
		if err != nil {
			return err
		}
		scatter.Color = a.color
		p.Add(scatter)
	}
	p.Legend.Top = true

	file := filepath.Join(s.Dir, fmt.Sprintf("trajectory_pass%d.png", r.Pass))
	if err := p.Save(8*vg.Inch, 4*vg.Inch, file); err != nil {
		return fmt.Errorf("saving %s: %w", file, err)
	}
	return nil
}
