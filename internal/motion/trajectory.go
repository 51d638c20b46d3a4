package motion

import "math"

// Trajectory is the per-axis drift of a movie as a function of frame time.
type Trajectory struct {
	X, Y *Curve
}

// NewTrajectory returns a trajectory with no samples (zero everywhere).
func NewTrajectory() Trajectory {
	return Trajectory{X: NewCurve(), Y: NewCurve()}
}

// At evaluates both axes at frame time t.
func (tr Trajectory) At(t float64) (float64, float64) {
	return tr.X.ValueAt(t), tr.Y.ValueAt(t)
}

// Shifts samples the trajectory at every frame index in [0, n).
func (tr Trajectory) Shifts(n int) (xs, ys []float64) {
	xs, ys = make([]float64, n), make([]float64, n)
	for t := 0; t < n; t++ {
		xs[t], ys[t] = tr.At(float64(t))
	}
	return xs, ys
}

// MaxDelta is the largest per-axis difference between tr and other over
// frames [0, n).
func (tr Trajectory) MaxDelta(other Trajectory, n int) float64 {
	d := 0.0
	for t := 0; t < n; t++ {
		ax, ay := tr.At(float64(t))
		bx, by := other.At(float64(t))
		d = math.Max(d, math.Max(math.Abs(ax-bx), math.Abs(ay-by)))
	}
	return d
}

// Anchored returns a copy shifted so that frame 0 has zero displacement.
func (tr Trajectory) Anchored() Trajectory {
	x0, y0 := tr.At(0)
	out := Trajectory{X: tr.X.Copy(), Y: tr.Y.Copy()}
	out.X.Shift(-x0)
	out.Y.Shift(-y0)
	return out
}
