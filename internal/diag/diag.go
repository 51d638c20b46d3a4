// Package diag holds diagnostic sinks for the trajectory estimator.
package diag

import (
	"errors"

	"motioncor/internal/motion"
)

// Multi fans reports out to every sink, joining their errors.
type Multi []motion.Sink

func (m Multi) Level(r motion.LevelReport) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Level(r))
	}
	return errors.Join(errs...)
}

func (m Multi) Pass(r motion.PassReport) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Pass(r))
	}
	return errors.Join(errs...)
}
