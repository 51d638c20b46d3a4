package frames

import (
	"math"
	"math/rand"

	"motioncor/internal/imaging"
)

// Blobs renders count Gaussian spots of width sigma and random sign on a
// w x h canvas. The same seed always yields the same image.
func Blobs(w, h, count int, sigma float64, seed int64) *imaging.Image {
	rng := rand.New(rand.NewSource(seed))
	im := imaging.New(w, h)
	r := int(math.Ceil(4 * sigma))
	for n := 0; n < count; n++ {
		cx, cy := rng.Float64()*float64(w), rng.Float64()*float64(h)
		amp := rng.Float64()*2 - 1
		for y := max(0, int(cy)-r); y < min(h, int(cy)+r+1); y++ {
			for x := max(0, int(cx)-r); x < min(w, int(cx)+r+1); x++ {
				dx, dy := float64(x)-cx, float64(y)-cy
				im.Set(x, y, im.At(x, y)+amp*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
			}
		}
	}
	return im
}

// Noise returns zero-mean Gaussian white noise.
func Noise(w, h int, seed int64) *imaging.Image {
	rng := rand.New(rand.NewSource(seed))
	im := imaging.New(w, h)
	pix := im.Pix()
	for i := range pix {
		pix[i] = rng.NormFloat64()
	}
	return im
}

// Drift builds n frames whose content moves by (vx, vy) pixels per frame:
// frame t at p equals base at p - t*(vx,vy).
func Drift(base *imaging.Image, n int, vx, vy float64) Slice {
	out := make(Slice, n)
	for t := range out {
		out[t] = base.Crop(-vx*float64(t), -vy*float64(t), base.Dx(), base.Dy())
	}
	return out
}
