package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"motioncor/internal/imaging"
)

// OutputWriter names and writes everything a movie job produces into one
// directory: <base>_sum, <base>_avg and <base>_aligned/frame_NNNN.
type OutputWriter struct {
	dir    string
	base   string
	format string

	mu      sync.Mutex
	written []string
}

// NewOutputWriter creates dir. format is a file extension without the dot;
// empty means tif.
func NewOutputWriter(dir, base, format string) (*OutputWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	format = strings.TrimPrefix(strings.ToLower(format), ".")
	if format == "" {
		format = "tif"
	}
	return &OutputWriter{dir: dir, base: base, format: format}, nil
}

// WriteSum writes the corrected composite.
func (w *OutputWriter) WriteSum(sum *imaging.Image) (string, error) {
	return w.write(filepath.Join(w.dir, w.base+"_sum."+w.format), sum)
}

// WriteAverage writes sum divided by n.
func (w *OutputWriter) WriteAverage(sum *imaging.Image, n int) (string, error) {
	if n < 1 {
		return "", fmt.Errorf("average of %d frames", n)
	}
	avg := sum.Copy().Scale(1 / float64(n))
	return w.write(filepath.Join(w.dir, w.base+"_avg."+w.format), avg)
}

// AlignedFrames returns a callback that saves each shifted frame.
func (w *OutputWriter) AlignedFrames() (func(int, *imaging.Image) error, error) {
	dir := filepath.Join(w.dir, w.base+"_aligned")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create aligned directory: %w", err)
	}
	return func(i int, im *imaging.Image) error {
		_, err := w.write(filepath.Join(dir, fmt.Sprintf("frame_%04d.%s", i, w.format)), im)
		return err
	}, nil
}

// Written lists the files written so far in order.
func (w *OutputWriter) Written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.written...)
}

func (w *OutputWriter) write(path string, im *imaging.Image) (string, error) {
	if err := imaging.Save(path, im); err != nil {
		return "", err
	}
	w.mu.Lock()
	w.written = append(w.written, path)
	w.mu.Unlock()
	return path, nil
}
