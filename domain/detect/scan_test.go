package detect

import (
	"math"
	"testing"
)

// bgra builds a tightly packed BGRA buffer from rows of RGB pixels.
func bgra(rows [][]Pixel, pad int) Buffer {
	h := len(rows)
	w := len(rows[0])
	stride := w*4 + pad
	pix := make([]byte, stride*h)
	for y, row := range rows {
		for x, p := range row {
			i := y*stride + x*4
			pix[i], pix[i+1], pix[i+2], pix[i+3] = p.B, p.G, p.R, 0xFF
		}
	}
	return Buffer{Pix: pix, Stride: stride, Width: w, Height: h, Order: OrderBGRA}
}

func mustMatcher(t *testing.T, tol float64, targets ...Pixel) *Matcher {
	t.Helper()
	m, err := NewMatcher(targets, tol)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

var black = Pixel{}

func TestScan_EndToEndMatch(t *testing.T) {
	buf := bgra([][]Pixel{{{234, 35, 1}, black}, {black, black}}, 0)
	res, err := mustMatcher(t, 15, Pixel{234, 35, 1}).Scan(buf)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !res.Found || res.X != 0 || res.Y != 0 {
		t.Fatalf("expected match at (0,0), got %+v", res)
	}
}

func TestScan_EndToEndNoMatch(t *testing.T) {
	buf := bgra([][]Pixel{{{234, 35, 1}, black}, {black, black}}, 0)
	res, err := mustMatcher(t, 15, Pixel{0, 255, 0}).Scan(buf)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Found {
		t.Fatalf("expected no match, got %+v", res)
	}
}

func TestScan_RasterOrderBeatsTargetOrder(t *testing.T) {
	red := Pixel{218, 9, 1}
	orange := Pixel{234, 35, 1}
	// orange sits earlier in raster order (row 0), red later (row 1, col 0).
	buf := bgra([][]Pixel{
		{black, black, orange},
		{red, black, black},
	}, 8)
	res, err := mustMatcher(t, 5, red, orange).Scan(buf)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !res.Found || res.X != 2 || res.Y != 0 || res.Target != 1 {
		t.Fatalf("expected (2,0) target 1, got %+v", res)
	}
}

func TestScan_TieResolvedByTargetOrder(t *testing.T) {
	p := Pixel{100, 100, 100}
	buf := bgra([][]Pixel{{p}}, 0)
	res, _ := mustMatcher(t, 50, Pixel{101, 100, 100}, Pixel{100, 100, 100}).Scan(buf)
	if !res.Found || res.Target != 0 {
		t.Fatalf("expected first listed target to win, got %+v", res)
	}
}

func TestScan_Deterministic(t *testing.T) {
	buf := bgra([][]Pixel{
		{black, {10, 10, 10}, black},
		{black, black, {230, 30, 5}},
	}, 4)
	m := mustMatcher(t, 15, Pixel{234, 35, 1})
	first, _ := m.Scan(buf)
	for i := 0; i < 20; i++ {
		if got, _ := m.Scan(buf); got != first {
			t.Fatalf("scan %d returned %+v, first was %+v", i, got, first)
		}
	}
}

func TestScan_ToleranceBoundary(t *testing.T) {
	// Distance between these is exactly 14 (green-only difference of 7).
	buf := bgra([][]Pixel{{{0, 7, 0}}}, 0)
	if res, _ := mustMatcher(t, 14, black).Scan(buf); !res.Found {
		t.Fatalf("distance == tolerance must match")
	}
	if res, _ := mustMatcher(t, math.Nextafter(14, 0), black).Scan(buf); res.Found {
		t.Fatalf("distance just above tolerance must not match")
	}
}

func TestScan_RespectsStrideAndOrder(t *testing.T) {
	rows := [][]Pixel{{black, black}, {black, {0, 255, 0}}}
	buf := bgra(rows, 12)
	res, _ := mustMatcher(t, 1, Pixel{0, 255, 0}).Scan(buf)
	if !res.Found || res.X != 1 || res.Y != 1 {
		t.Fatalf("expected (1,1) with padded stride, got %+v", res)
	}

	rgba := Buffer{Pix: []byte{1, 2, 3, 255}, Stride: 4, Width: 1, Height: 1, Order: OrderRGBA}
	if p := rgba.At(0, 0); p != (Pixel{1, 2, 3}) {
		t.Fatalf("RGBA At=%v", p)
	}
}

func TestScan_RejectsShortBuffer(t *testing.T) {
	m := mustMatcher(t, 15, black)
	if _, err := m.Scan(Buffer{Pix: make([]byte, 7), Stride: 4, Width: 1, Height: 2}); err == nil {
		t.Fatalf("expected error for short buffer")
	}
	if _, err := m.Scan(Buffer{Pix: make([]byte, 16), Stride: 2, Width: 2, Height: 1}); err == nil {
		t.Fatalf("expected error for short stride")
	}
	if res, err := m.Scan(Buffer{}); err != nil || res.Found {
		t.Fatalf("empty buffer should be a clean miss, got %+v %v", res, err)
	}
}

func TestNewMatcher_Validation(t *testing.T) {
	if _, err := NewMatcher(nil, 15); err == nil {
		t.Fatalf("expected error for empty targets")
	}
	if _, err := NewMatcher([]Pixel{black}, -1); err == nil {
		t.Fatalf("expected error for negative tolerance")
	}
	m := mustMatcher(t, 15, Pixel{227, 69, 53}, Pixel{234, 35, 1}, Pixel{227, 69, 53})
	got := m.Targets()
	if len(got) != 2 || got[0] != (Pixel{227, 69, 53}) {
		t.Fatalf("duplicates not collapsed in order: %v", got)
	}
}
