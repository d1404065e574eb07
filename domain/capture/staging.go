package capture

import (
	"errors"
	"fmt"
	"image"
)

var (
	errFrameOutstanding = errors.New("capture: previous frame not released")
	errFrameNotOwned    = errors.New("capture: frame is not the outstanding frame")
)

// frameGuard enforces the single-outstanding-frame rule. Providers are driven
// from one goroutine, so no locking.
type frameGuard struct {
	out Frame
	seq uint64
}

func (g *frameGuard) next() (uint64, error) {
	if g.out != nil {
		return 0, errFrameOutstanding
	}
	g.seq++
	return g.seq, nil
}

func (g *frameGuard) hold(f Frame) { g.out = f }

func (g *frameGuard) check(f Frame) error {
	if f == nil || f != g.out {
		return errFrameNotOwned
	}
	return nil
}

func (g *frameGuard) drop() { g.out = nil }

// stagingBuffer is the Go-owned BGRA copy target, allocated once per
// provider at the region size.
type stagingBuffer struct {
	pix    []byte
	stride int
	size   image.Point
}

func newStagingBuffer(size image.Point) *stagingBuffer {
	return &stagingBuffer{pix: make([]byte, size.X*size.Y*4), stride: size.X * 4, size: size}
}

// fit checks that rect can be copied without growing the buffer.
func (s *stagingBuffer) fit(rect image.Rectangle) error {
	if rect.Empty() {
		return fmt.Errorf("capture: empty copy rect %v", rect)
	}
	if rect.Dx() > s.size.X || rect.Dy() > s.size.Y {
		return fmt.Errorf("capture: copy rect %v exceeds staging %v", rect, s.size)
	}
	return nil
}

func (s *stagingBuffer) view(rect image.Rectangle) Staging {
	return Staging{Pix: s.pix, Stride: s.stride, Rect: rect}
}

// copyBGRA copies rect.Dy() rows of rect.Dx() BGRA pixels from src into the
// buffer's top-left corner.
func (s *stagingBuffer) copyBGRA(src []byte, srcStride int, rect image.Rectangle) error {
	if err := s.fit(rect); err != nil {
		return err
	}
	row := rect.Dx() * 4
	if need := (rect.Dy()-1)*srcStride + row; srcStride < row || len(src) < need {
		return fmt.Errorf("capture: source holds %d bytes at stride %d, need %d", len(src), srcStride, need)
	}
	for y := 0; y < rect.Dy(); y++ {
		copy(s.pix[y*s.stride:y*s.stride+row], src[y*srcStride:y*srcStride+row])
	}
	return nil
}

// copyRGBA copies rect out of img, swapping red and blue into BGRA order.
func (s *stagingBuffer) copyRGBA(img *image.RGBA, rect image.Rectangle) error {
	if err := s.fit(rect); err != nil {
		return err
	}
	if !rect.In(img.Rect) {
		return fmt.Errorf("capture: copy rect %v outside image %v", rect, img.Rect)
	}
	for y := 0; y < rect.Dy(); y++ {
		src := img.Pix[img.PixOffset(rect.Min.X, rect.Min.Y+y):]
		dst := s.pix[y*s.stride:]
		for i := 0; i < rect.Dx()*4; i += 4 {
			dst[i+0] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i+0]
			dst[i+3] = 0xFF
		}
	}
	return nil
}
