package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"motioncor/internal/frames"
	"motioncor/internal/imaging"
	"motioncor/internal/motion"
)

func writeMovie(t *testing.T, dir string, n int, vx, vy float64) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	movie := frames.Drift(frames.Blobs(256, 256, 400, 1.2, 5), n, vx, vy)
	for i, im := range movie {
		if err := imaging.Save(filepath.Join(dir, fmt.Sprintf("frame_%d.tif", i)), im); err != nil {
			t.Fatalf("save frame %d: %v", i, err)
		}
	}
}

func movieOptions() motion.Options {
	opts := motion.DefaultOptions()
	opts.Workers = 4
	return opts
}

func TestProcessMovieWritesOutputs(t *testing.T) {
	in := filepath.Join(t.TempDir(), "movie01")
	writeMovie(t, in, 6, 1, 0)
	out := t.TempDir()

	mgr := NewCorrectionManager(nil)
	res, err := mgr.ProcessMovie(context.Background(), MovieRequest{
		InputDir:      in,
		OutputDir:     out,
		Mode:          ModeCorrect,
		Processor:     "hierarchical",
		Passes:        2,
		SaveAligned:   true,
		SimpleAverage: true,
		Diagnostics:   true,
		Options:       movieOptions(),
	})
	if err != nil {
		t.Fatalf("process movie: %v", err)
	}
	if res.Frames != 6 || res.Width != 256 || res.Height != 256 || res.ToolUsed != "hierarchical" {
		t.Fatalf("unexpected result %+v", res)
	}
	if math.Abs(res.ShiftsX[5]+5) > 0.5 || math.Abs(res.ShiftsY[5]) > 0.5 {
		t.Fatalf("unexpected final shift (%.2f,%.2f)", res.ShiftsX[5], res.ShiftsY[5])
	}

	for _, name := range []string{
		"movie01_sum.tif",
		"movie01_avg.tif",
		filepath.Join("movie01_aligned", "frame_0000.tif"),
		filepath.Join("movie01_aligned", "frame_0005.tif"),
		filepath.Join("diag", "alignx2.txt"),
		filepath.Join("diag", "alignsm2.txt"),
	} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Fatalf("expected output %s: %v", name, err)
		}
	}
	// Six aligned frames, the sum and the average.
	if len(res.Outputs) != 8 {
		t.Fatalf("expected 8 written files, got %d: %v", len(res.Outputs), res.Outputs)
	}
}

func TestProcessMovieAverageMode(t *testing.T) {
	in := filepath.Join(t.TempDir(), "movie02")
	writeMovie(t, in, 3, 0.5, 0.5)
	out := t.TempDir()

	res, err := NewCorrectionManager(nil).ProcessMovie(context.Background(), MovieRequest{
		InputDir:  in,
		OutputDir: out,
		Mode:      ModeAverage,
		Format:    "png",
		Options:   movieOptions(),
	})
	if err != nil {
		t.Fatalf("process movie: %v", err)
	}
	if res.ToolUsed != "average" || len(res.Outputs) != 1 || filepath.Base(res.Outputs[0]) != "movie02_avg.png" {
		t.Fatalf("unexpected average result %+v", res)
	}
	for i := range res.ShiftsX {
		if res.ShiftsX[i] != 0 || res.ShiftsY[i] != 0 {
			t.Fatalf("average mode should not move frames, frame %d has (%v,%v)", i, res.ShiftsX[i], res.ShiftsY[i])
		}
	}
}

func TestProcessMovieFrameSelection(t *testing.T) {
	in := filepath.Join(t.TempDir(), "movie03")
	writeMovie(t, in, 4, 0, 0)

	_, err := NewCorrectionManager(nil).ProcessMovie(context.Background(), MovieRequest{
		InputDir:  in,
		OutputDir: t.TempDir(),
		Mode:      ModeAverage,
		First:     10,
		Options:   movieOptions(),
	})
	if !errors.Is(err, frames.ErrEmpty) {
		t.Fatalf("expected ErrEmpty for an empty selection, got %v", err)
	}
}

func TestOpenMoviePreloadsClampedSelection(t *testing.T) {
	in := filepath.Join(t.TempDir(), "movie04")
	writeMovie(t, in, 5, 1, 0)
	req := MovieRequest{InputDir: in, First: 1, Step: 2, ClampSigma: 3.5}
	ctx := context.Background()

	orig := shouldPreload
	t.Cleanup(func() { shouldPreload = orig })

	var asked int
	shouldPreload = func(n, w, h int, _ *slog.Logger) bool {
		asked = n
		return true
	}
	src, w, h, err := openMovie(ctx, req, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if asked != 2 || w != 256 || h != 256 {
		t.Fatalf("preload check saw %d frames of %dx%d", asked, w, h)
	}
	held, ok := src.(frames.Slice)
	if !ok || held.Len() != 2 {
		t.Fatalf("expected the two selected frames in memory, got %T len %d", src, src.Len())
	}
	raw, err := imaging.Load(filepath.Join(in, "frame_3.tif"))
	if err != nil {
		t.Fatal(err)
	}
	want := frames.ClampOutliers(raw, 3.5)
	if diff := cmp.Diff(want.Pix(), held[1].Pix()); diff != "" {
		t.Fatalf("held frame is not the clamped frame_3 (-want +got):\n%s", diff)
	}

	shouldPreload = func(int, int, int, *slog.Logger) bool { return false }
	src, _, _, err = openMovie(ctx, req, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := src.(frames.Slice); ok {
		t.Fatalf("frames must stay on disk when they do not fit")
	}
}
