package motion

import (
	"fmt"
	"sort"
	"strings"
)

// Sample is one measurement of displacement along one axis at time T.
type Sample struct {
	T, Value float64
}

// Curve is a piecewise-linear displacement table for one axis. Samples are
// collected with Insert in any order, then Finalize merges duplicate times
// and sorts; lookups and smoothing operate on the finalized table.
type Curve struct {
	samples []Sample
	dirty   bool
}

// NewCurve returns an empty curve. The zero value is also ready to use.
func NewCurve() *Curve { return &Curve{} }

// Insert appends a sample. The curve is unfinalized until the next Finalize.
func (c *Curve) Insert(t, value float64) {
	c.samples = append(c.samples, Sample{T: t, Value: value})
	c.dirty = true
}

// Merge inserts every sample in order.
func (c *Curve) Merge(samples []Sample) {
	for _, s := range samples {
		c.Insert(s.T, s.Value)
	}
}

// Finalize replaces samples sharing an identical T with their mean and
// sorts ascending by T.
func (c *Curve) Finalize() {
	if !c.dirty {
		return
	}
	sort.SliceStable(c.samples, func(i, j int) bool { return c.samples[i].T < c.samples[j].T })
	out := c.samples[:0]
	for i := 0; i < len(c.samples); {
		j, sum := i, 0.0
		for ; j < len(c.samples) && c.samples[j].T == c.samples[i].T; j++ {
			sum += c.samples[j].Value
		}
		out = append(out, Sample{T: c.samples[i].T, Value: sum / float64(j-i)})
		i = j
	}
	c.samples = out
	c.dirty = false
}

// Smooth applies one pass of a [1 2 1]/4 kernel to every interior sample,
// reading only pre-smoothing values. Endpoints are unchanged. Where samples
// are unevenly spaced the neighbour average is taken by linear interpolation
// at T, so samples lying on a straight line are never moved.
func (c *Curve) Smooth() {
	c.mustBeFinal()
	n := len(c.samples)
	if n < 3 {
		return
	}
	prev := make([]Sample, n)
	copy(prev, c.samples)
	for i := 1; i < n-1; i++ {
		l, m, r := prev[i-1], prev[i], prev[i+1]
		frac := (m.T - l.T) / (r.T - l.T)
		between := l.Value + (r.Value-l.Value)*frac
		c.samples[i].Value = (m.Value + between) / 2
	}
}

// ValueAt evaluates the curve at t by linear interpolation, extrapolating
// along the nearest edge segment outside the sampled range. An empty curve
// is zero everywhere and a single sample is constant.
func (c *Curve) ValueAt(t float64) float64 {
	c.mustBeFinal()
	s := c.samples
	switch len(s) {
	case 0:
		return 0
	case 1:
		return s[0].Value
	}
	// i is the first sample with T > t, clamped so [i-1,i] is a valid segment.
	i := sort.Search(len(s), func(k int) bool { return s[k].T > t })
	if i < 1 {
		i = 1
	} else if i > len(s)-1 {
		i = len(s) - 1
	}
	a, b := s[i-1], s[i]
	return a.Value + (b.Value-a.Value)*(t-a.T)/(b.T-a.T)
}

// Shift adds offset to every sample value.
func (c *Curve) Shift(offset float64) {
	for i := range c.samples {
		c.samples[i].Value += offset
	}
}

func (c *Curve) Len() int { return len(c.samples) }

// Samples returns a copy of the current samples.
func (c *Curve) Samples() []Sample {
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

// Copy returns an independent curve with the same samples and state.
func (c *Curve) Copy() *Curve {
	return &Curve{samples: c.Samples(), dirty: c.dirty}
}

func (c *Curve) String() string {
	var b strings.Builder
	b.WriteString("[")
	for i, s := range c.samples {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%.1f:%.2f", s.T, s.Value)
	}
	b.WriteString("]")
	return b.String()
}

func (c *Curve) mustBeFinal() {
	if c.dirty {
		panic("motion: curve used before Finalize")
	}
}
