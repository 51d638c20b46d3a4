// Package frames provides ordered, index-addressable movie frame sources.
package frames

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"motioncor/internal/fsutil"
	"motioncor/internal/imaging"
)

// ErrEmpty is returned when a source would contain no frames.
var ErrEmpty = errors.New("no frames")

// Source is an ordered sequence of same-sized frames. Callers must treat the
// returned images as read-only.
type Source interface {
	Len() int
	Frame(ctx context.Context, i int) (*imaging.Image, error)
}

// Slice is an in-memory Source.
type Slice []*imaging.Image

func (s Slice) Len() int { return len(s) }

func (s Slice) Frame(ctx context.Context, i int) (*imaging.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(s) {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", i, len(s))
	}
	return s[i], nil
}

// Files is a Source backed by one image file per frame. Every Frame call
// decodes from disk; wrap it with LoadAll to hold a movie in memory.
type Files struct {
	paths []string
	w, h  int
	log   *slog.Logger
}

// OpenDir lists the frame files in dir, in natural order.
func OpenDir(dir string, logger *slog.Logger) (*Files, error) {
	paths, err := fsutil.ListFrames(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrEmpty)
	}
	return OpenFiles(paths, logger)
}

// OpenFiles uses paths as frames in the given order. The first frame is
// decoded immediately to learn the frame size.
func OpenFiles(paths []string, logger *slog.Logger) (*Files, error) {
	if len(paths) == 0 {
		return nil, ErrEmpty
	}
	if logger == nil {
		logger = slog.Default()
	}
	first, err := imaging.Load(paths[0])
	if err != nil {
		return nil, err
	}
	f := &Files{
		paths: paths,
		w:     first.Dx(),
		h:     first.Dy(),
		log:   logger,
	}
	logger.Debug("opened frame files", "count", len(paths), "width", f.w, "height", f.h)
	return f, nil
}

func (f *Files) Len() int { return len(f.paths) }
func (f *Files) Paths() []string { return f.paths }
func (f *Files) Size() (int, int) { return f.w, f.h }

func (f *Files) Frame(ctx context.Context, i int) (*imaging.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(f.paths) {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", i, len(f.paths))
	}
	im, err := imaging.Load(f.paths[i])
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", i, err)
	}
	if im.Dx() != f.w || im.Dy() != f.h {
		return nil, fmt.Errorf("frame %d (%s) is %dx%d, expected %dx%d", i, f.paths[i], im.Dx(), im.Dy(), f.w, f.h)
	}
	return im, nil
}

// LoadAll reads every frame of src into memory.
func LoadAll(ctx context.Context, src Source) (Slice, error) {
	out := make(Slice, src.Len())
	for i := range out {
		im, err := src.Frame(ctx, i)
		if err != nil {
			return nil, err
		}
		out[i] = im
	}
	return out, nil
}
