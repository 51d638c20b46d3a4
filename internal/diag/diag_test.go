package diag

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"motioncor/internal/motion"
)

func report(pass int) motion.PassReport {
	tr := motion.NewTrajectory()
	tr.X.Merge([]motion.Sample{{T: 0.5, Value: -1}, {T: 2.5, Value: -3}})
	tr.Y.Merge([]motion.Sample{{T: 0.5, Value: 0.25}})
	tr.X.Finalize()
	tr.Y.Finalize()
	return motion.PassReport{Pass: pass, Frames: 4, Trajectory: tr}
}

func TestTextSinkWritesPassFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "diag")
	if err := (TextSink{Dir: dir}).Pass(report(2)); err != nil {
		t.Fatalf("pass: %v", err)
	}

	x, err := os.ReadFile(filepath.Join(dir, "alignx2.txt"))
	if err != nil {
		t.Fatalf("read alignx: %v", err)
	}
	if got := strings.TrimSpace(string(x)); got != "0.5\t-1\n2.5\t-3" {
		t.Fatalf("unexpected alignx contents %q", got)
	}

	sm, err := os.ReadFile(filepath.Join(dir, "alignsm2.txt"))
	if err != nil {
		t.Fatalf("read alignsm: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(sm)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected one line per frame, got %d", len(lines))
	}
	if lines[0] != "-0.50\t0.25" {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "aligny2.txt")); err != nil {
		t.Fatalf("expected aligny2.txt: %v", err)
	}
}

func TestPlotSinkWritesPNG(t *testing.T) {
	dir := t.TempDir()
	if err := (PlotSink{Dir: dir}).Pass(report(1)); err != nil {
		t.Fatalf("pass: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "trajectory_pass1.png"))
	if err != nil {
		t.Fatalf("expected plot file: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("empty plot file")
	}
}

type failingSink struct{ err error }

func (f failingSink) Level(motion.LevelReport) error { return f.err }
func (f failingSink) Pass(motion.PassReport) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{TextSink{Dir: t.TempDir()}, failingSink{err: boom}}
	if err := m.Pass(report(1)); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if err := (Multi{TextSink{}}).Level(motion.LevelReport{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
