package motion

// LevelReport summarizes one refinement level of one pass.
type LevelReport struct {
	Pass, Level, Step int
	Aligned, Skipped  int
	Degenerate        int
	MeanConfidence    float64
	Trajectory        Trajectory
}

// PassReport summarizes a completed pass.
type PassReport struct {
	Pass             int
	Frames           int
	Aligned, Skipped int
	Degenerate       int
	MeanConfidence   float64
	// MaxDelta is the largest per-frame change from the previous pass; zero
	// on the first pass.
	MaxDelta   float64
	Trajectory Trajectory
}

// Sink receives intermediate results for diagnostics. Errors are logged and
// never abort the estimate. Reports carry copies the sink may keep.
type Sink interface {
	Level(LevelReport) error
	Pass(PassReport) error
}
