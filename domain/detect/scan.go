package detect

import (
	"errors"
	"fmt"
	"math"
)

// ChannelOrder is the byte order of one 32-bit pixel.
type ChannelOrder int

const (
	OrderBGRA ChannelOrder = iota
	OrderRGBA
)

// Buffer is a row-major 32-bit pixel buffer. Stride may exceed Width*4.
type Buffer struct {
	Pix    []byte
	Stride int
	Width  int
	Height int
	Order  ChannelOrder
}

// At returns the pixel at column x, row y. No bounds checking.
func (b Buffer) At(x, y int) Pixel {
	i := y*b.Stride + x*4
	if b.Order == OrderRGBA {
		return Pixel{R: b.Pix[i], G: b.Pix[i+1], B: b.Pix[i+2]}
	}
	return Pixel{R: b.Pix[i+2], G: b.Pix[i+1], B: b.Pix[i]}
}

func (b Buffer) validate() error {
	if b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("detect: invalid buffer size %dx%d", b.Width, b.Height)
	}
	if b.Width == 0 || b.Height == 0 {
		return nil
	}
	if b.Stride < b.Width*4 {
		return fmt.Errorf("detect: stride %d shorter than row %d", b.Stride, b.Width*4)
	}
	if need := (b.Height-1)*b.Stride + b.Width*4; len(b.Pix) < need {
		return fmt.Errorf("detect: buffer holds %d bytes, need %d", len(b.Pix), need)
	}
	return nil
}

// Result is the outcome of one scan. X and Y are relative to the buffer's
// top-left pixel and meaningful only when Found is set.
type Result struct {
	X, Y   int
	Target int
	Found  bool
}

// Matcher holds an immutable target set with one shared tolerance.
type Matcher struct {
	targets   []Pixel
	tolerance float64
}

// NewMatcher builds a matcher. Exact duplicate targets are dropped, first
// occurrence wins, so list order still decides ties.
func NewMatcher(targets []Pixel, tolerance float64) (*Matcher, error) {
	if len(targets) == 0 {
		return nil, errors.New("detect: no target colors")
	}
	if tolerance < 0 || math.IsNaN(tolerance) || math.IsInf(tolerance, 0) {
		return nil, fmt.Errorf("detect: invalid tolerance %v", tolerance)
	}
	seen := make(map[Pixel]bool, len(targets))
	uniq := make([]Pixel, 0, len(targets))
	for _, t := range targets {
		if seen[t] {
			continue
		}
		seen[t] = true
		uniq = append(uniq, t)
	}
	return &Matcher{targets: uniq, tolerance: tolerance}, nil
}

// Targets returns a copy of the deduplicated target list.
func (m *Matcher) Targets() []Pixel {
	out := make([]Pixel, len(m.targets))
	copy(out, m.targets)
	return out
}

// Target returns target i as listed after deduplication.
func (m *Matcher) Target(i int) Pixel { return m.targets[i] }

func (m *Matcher) Tolerance() float64 { return m.tolerance }

// Match reports the index of the first target within tolerance of p.
func (m *Matcher) Match(p Pixel) (int, bool) {
	for i, t := range m.targets {
		if ColorDistance(p, t) <= m.tolerance {
			return i, true
		}
	}
	return -1, false
}

// Scan walks buf in raster order and stops at the first pixel matching any
// target. A miss is not an error.
func (m *Matcher) Scan(buf Buffer) (Result, error) {
	if err := buf.validate(); err != nil {
		return Result{}, err
	}
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			if idx, ok := m.Match(buf.At(x, y)); ok {
				return Result{X: x, Y: y, Target: idx, Found: true}, nil
			}
		}
	}
	return Result{}, nil
}
