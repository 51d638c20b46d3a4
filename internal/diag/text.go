package diag

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"motioncor/internal/motion"
)

// TextSink writes plain-text trajectory dumps for every pass into Dir:
// alignx<N>.txt and aligny<N>.txt hold the curve samples as "t value"
// rows, alignsm<N>.txt the per-frame "x y" shifts.
type TextSink struct {
	Dir string
}

func (s TextSink) Level(motion.LevelReport) error { return nil }

func (s TextSink) Pass(r motion.PassReport) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	if err := writeSamples(filepath.Join(s.Dir, fmt.Sprintf("alignx%d.txt", r.Pass)), r.Trajectory.X.Samples()); err != nil {
		return err
	}
	if err := writeSamples(filepath.Join(s.Dir, fmt.Sprintf("aligny%d.txt", r.Pass)), r.Trajectory.Y.Samples()); err != nil {
		return err
	}

	xs, ys := r.Trajectory.Shifts(r.Frames)
	return writeLines(filepath.Join(s.Dir, fmt.Sprintf("alignsm%d.txt", r.Pass)), len(xs), func(i int) string {
		return fmt.Sprintf("%1.2f\t%1.2f", xs[i], ys[i])
	})
}

func writeSamples(path string, samples []motion.Sample) error {
	return writeLines(path, len(samples), func(i int) string {
		return fmt.Sprintf("%g\t%g", samples[i].T, samples[i].Value)
	})
}

func writeLines(path string, n int, line func(int) string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open+w '%s': %v", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for i := 0; i < n; i++ {
		if _, err := fmt.Fprintln(w, line(i)); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
