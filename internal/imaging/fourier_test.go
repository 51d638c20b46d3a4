package imaging

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestGoodSize(t *testing.T) {
	cases := map[int]int{200: 200, 205: 200, 7: 6, 1: 0, 3276: 3240, 4096: 4096, 17: 16}
	for in, want := range cases {
		if got := GoodSize(in); got != want {
			t.Fatalf("GoodSize(%d): expected %d, got %d", in, want, got)
		}
	}
}

func TestForwardInverseRoundTrip(t *testing.T) {
	ctx := context.Background()
	im := blobs(12, 10, 1)
	s, err := Forward(ctx, im)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	back, err := s.Inverse(ctx)
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	for i, v := range back.Pix() {
		if math.Abs(v-im.Pix()[i]) > 1e-9 {
			t.Fatalf("pixel %d: expected %v, got %v", i, im.Pix()[i], v)
		}
	}
}

func TestFiltersOnConstantImage(t *testing.T) {
	ctx := context.Background()
	im := New(16, 16)
	for i := range im.Pix() {
		im.Pix()[i] = 7
	}
	lp, err := im.LowPass(ctx, 0.04)
	if err != nil {
		t.Fatalf("low pass: %v", err)
	}
	if lo, hi := lp.MinMax(); math.Abs(lo-7) > 1e-9 || math.Abs(hi-7) > 1e-9 {
		t.Fatalf("low pass changed a constant image: %v..%v", lo, hi)
	}
	hp, err := im.HighPass(ctx, 0.002)
	if err != nil {
		t.Fatalf("high pass: %v", err)
	}
	if lo, hi := hp.MinMax(); math.Abs(lo) > 1e-9 || math.Abs(hi) > 1e-9 {
		t.Fatalf("high pass left a constant: %v..%v", lo, hi)
	}
}

func TestZeroAxesRemovesStripes(t *testing.T) {
	ctx := context.Background()
	im := New(16, 12)
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			im.Set(x, y, math.Sin(float64(y))+2*math.Cos(float64(x)/3))
		}
	}
	s, err := Forward(ctx, im)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	out, err := s.ZeroAxes().Inverse(ctx)
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	if lo, hi := out.MinMax(); math.Abs(lo) > 1e-9 || math.Abs(hi) > 1e-9 {
		t.Fatalf("expected stripes removed, got %v..%v", lo, hi)
	}
}

func TestCrossCorrelationPeak(t *testing.T) {
	ctx := context.Background()
	ref := blobs(64, 64, 2)
	target := ref.Crop(3, -2, 64, 64)
	fr, _ := Forward(ctx, ref)
	ft, _ := Forward(ctx, target)
	m, err := CrossCorrelation(ctx, fr, ft)
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	x, y, _ := m.MaxLocation(m.Bounds())
	if x != 32+3 || y != 32-2 {
		t.Fatalf("expected peak at (35,30), got (%d,%d)", x, y)
	}

	other, _ := Forward(ctx, New(32, 32))
	if _, err := CrossCorrelation(ctx, fr, other); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestForwardHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Forward(ctx, New(8, 8)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPhaseOriginToCenter(t *testing.T) {
	im := New(4, 4)
	im.Set(0, 0, 1)
	out := im.PhaseOriginToCenter()
	if out.At(2, 2) != 1 {
		t.Fatalf("expected origin at centre")
	}
}

func TestEnergyMatchesPixelSumOfSquares(t *testing.T) {
	im := blobs(10, 6, 4)
	want := 0.0
	for _, v := range im.Pix() {
		want += v * v
	}
	s, err := Forward(context.Background(), im)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if got := s.Energy(); math.Abs(got-want) > 1e-9*math.Max(1, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
