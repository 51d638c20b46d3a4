package motion

import (
	"log/slog"
	"runtime"
	"time"
)

// Options tunes the aligner and the trajectory estimator. Start from
// DefaultOptions; zero numeric fields fall back to their defaults.
type Options struct {
	// Workers bounds concurrent block alignments within a level.
	Workers int
	// Passes is used when Estimate is called with passes <= 0.
	Passes int

	// SearchRadius is the coarse search window used on the coarsest level
	// and in place of any radius below 5.
	SearchRadius float64
	CropFraction float64
	MaxBox       int
	HighPass     float64

	CoarseHalfWidth int
	CoarseLowPass   float64
	FineBox         int
	FineLowPass     float64

	// SkipThreshold: blocks whose predicted shift is below this on both
	// axes are interpolated instead of re-aligned.
	SkipThreshold float64
	MinRange      float64
	RangeScale    float64

	// AlignTimeout bounds each pair alignment; zero means no limit.
	AlignTimeout time.Duration
	// ConvergenceDelta stops passes early once no frame moves more than
	// this many pixels between passes; zero disables the check.
	ConvergenceDelta float64

	// Anchor shifts the final trajectory so frame 0 is not displaced.
	Anchor bool
	// SuppressOrigin flattens the fixed-pattern peak at zero raw shift.
	SuppressOrigin bool

	Logger *slog.Logger
	Sink   Sink
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		Workers:         runtime.NumCPU(),
		Passes:          3,
		SearchRadius:    192,
		CropFraction:    0.8,
		MaxBox:          4096,
		HighPass:        0.002,
		CoarseHalfWidth: 96,
		CoarseLowPass:   0.04,
		FineBox:         24,
		FineLowPass:     0.12,
		SkipThreshold:   2,
		MinRange:        8,
		RangeScale:      1.5,
		Anchor:          true,
		SuppressOrigin:  true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Passes <= 0 {
		o.Passes = d.Passes
	}
	if o.SearchRadius < 5 {
		o.SearchRadius = d.SearchRadius
	}
	if o.CropFraction <= 0 || o.CropFraction > 1 {
		o.CropFraction = d.CropFraction
	}
	if o.MaxBox <= 0 {
		o.MaxBox = d.MaxBox
	}
	if o.HighPass <= 0 {
		o.HighPass = d.HighPass
	}
	if o.CoarseHalfWidth <= 0 {
		o.CoarseHalfWidth = d.CoarseHalfWidth
	}
	if o.CoarseLowPass <= 0 {
		o.CoarseLowPass = d.CoarseLowPass
	}
	if o.FineBox <= 0 {
		o.FineBox = d.FineBox
	}
	if o.FineLowPass <= 0 {
		o.FineLowPass = d.FineLowPass
	}
	if o.SkipThreshold < 0 {
		o.SkipThreshold = d.SkipThreshold
	}
	if o.MinRange <= 0 {
		o.MinRange = d.MinRange
	}
	if o.RangeScale <= 0 {
		o.RangeScale = d.RangeScale
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
