package frames

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"motioncor/internal/imaging"
)

func numbered(n int) Slice {
	out := make(Slice, n)
	for i := range out {
		im := imaging.New(2, 2)
		im.Set(0, 0, float64(i))
		out[i] = im
	}
	return out
}

func TestSliceFrame(t *testing.T) {
	ctx := context.Background()
	s := numbered(3)
	im, err := s.Frame(ctx, 2)
	if err != nil || im.At(0, 0) != 2 {
		t.Fatalf("expected frame 2, got %v (%v)", im, err)
	}
	if _, err := s.Frame(ctx, 3); err == nil {
		t.Fatalf("expected out of range error")
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Frame(cctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	src := numbered(10)

	sel, err := Select(src, 1, 8, 3)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Len() != 3 {
		t.Fatalf("expected 3 frames, got %d", sel.Len())
	}
	for i, want := range []float64{1, 4, 7} {
		im, err := sel.Frame(ctx, i)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if im.At(0, 0) != want {
			t.Fatalf("frame %d: expected source frame %v, got %v", i, want, im.At(0, 0))
		}
	}

	all, err := Select(src, 0, 0, 0)
	if err != nil || all.Len() != 10 {
		t.Fatalf("expected full range, got %v (%v)", all, err)
	}
	if _, err := Select(src, 12, 0, 1); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := Select(src, -1, 0, 1); err == nil {
		t.Fatalf("expected error for negative first")
	}
}

func TestClampOutliers(t *testing.T) {
	im := imaging.New(10, 10)
	for i := range im.Pix() {
		im.Pix()[i] = 1 + float64(i%2)*0.1
	}
	im.Set(3, 3, 1000)
	im.Set(4, 4, -5)

	out := ClampOutliers(im, 3.5)
	if out.At(3, 3) != 0 || out.At(4, 4) != 0 {
		t.Fatalf("expected outliers zeroed, got %v %v", out.At(3, 3), out.At(4, 4))
	}
	if out.At(0, 0) != 1 {
		t.Fatalf("expected ordinary pixel kept, got %v", out.At(0, 0))
	}
	if im.At(3, 3) != 1000 {
		t.Fatalf("input must not be modified")
	}

	src := Clamp(Slice{im}, 3.5)
	got, err := src.Frame(context.Background(), 0)
	if err != nil || got.At(3, 3) != 0 {
		t.Fatalf("expected clamped frame, got %v (%v)", got, err)
	}
	if Clamp(Slice{im}, 0).(Slice) == nil {
		t.Fatalf("nsigma 0 should return the source unchanged")
	}
}

func TestOpenDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		im := Blobs(16, 12, 5, 1.5, int64(i))
		if err := imaging.Save(filepath.Join(dir, fmt.Sprintf("f_%d.tif", i+1)), im); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	src, err := OpenDir(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if src.Len() != 3 {
		t.Fatalf("expected 3 frames, got %d", src.Len())
	}
	if w, h := src.Size(); w != 16 || h != 12 {
		t.Fatalf("unexpected size %dx%d", w, h)
	}
	all, err := LoadAll(ctx, src)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 3 || all[2].Dx() != 16 {
		t.Fatalf("unexpected frames %v", all)
	}

	if _, err := OpenDir(t.TempDir(), nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty for empty dir, got %v", err)
	}
}

func TestFilesDecodeOnEveryRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "f_1.tif")
	if err := imaging.Save(path, Blobs(16, 16, 5, 1.5, 1)); err != nil {
		t.Fatal(err)
	}
	src, err := OpenFiles([]string{path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := src.Frame(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := imaging.Save(path, Blobs(16, 16, 5, 1.5, 2)); err != nil {
		t.Fatal(err)
	}
	second, err := src.Frame(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("Files must not hand out a cached frame")
	}
	same := true
	for i, v := range first.Pix() {
		if second.Pix()[i] != v {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected the rewritten file to be decoded")
	}
}

func TestOpenFilesRejectsMismatchedFrame(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.tif")
	b := filepath.Join(dir, "b.tif")
	if err := imaging.Save(a, Noise(8, 8, 1)); err != nil {
		t.Fatal(err)
	}
	if err := imaging.Save(b, Noise(9, 8, 2)); err != nil {
		t.Fatal(err)
	}
	src, err := OpenFiles([]string{a, b}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := src.Frame(context.Background(), 1); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestDrift(t *testing.T) {
	base := Blobs(32, 32, 20, 1.5, 7)
	movie := Drift(base, 4, 2, -1)
	if movie.Len() != 4 {
		t.Fatalf("expected 4 frames")
	}
	// frame 3 at p equals base at p - (6,-3)
	if got, want := movie[3].At(10, 10), base.At(4, 13); math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
