package motion

import "errors"

var (
	// ErrShapeMismatch reports two images that must be the same size but are not.
	ErrShapeMismatch = errors.New("image shape mismatch")
	// ErrNoFrames reports an empty frame source.
	ErrNoFrames = errors.New("no frames to align")
)
