package detect

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Pixel is an 8-bit RGB triple. Alpha never takes part in matching.
type Pixel struct {
	R, G, B uint8
}

func (p Pixel) String() string { return fmt.Sprintf("#%02X%02X%02X", p.R, p.G, p.B) }

// ParseColor accepts "#RRGGBB", "RRGGBB" or "r,g,b" (decimal channels).
func ParseColor(s string) (Pixel, error) {
	v := strings.TrimSpace(s)
	if strings.Contains(v, ",") {
		parts := strings.Split(v, ",")
		if len(parts) != 3 {
			return Pixel{}, fmt.Errorf("detect: color %q: want r,g,b", s)
		}
		var ch [3]uint8
		for i, part := range parts {
			n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
			if err != nil {
				return Pixel{}, fmt.Errorf("detect: color %q: %w", s, err)
			}
			ch[i] = uint8(n)
		}
		return Pixel{R: ch[0], G: ch[1], B: ch[2]}, nil
	}
	v = strings.TrimPrefix(v, "#")
	if len(v) != 6 {
		return Pixel{}, fmt.Errorf("detect: color %q: want #RRGGBB", s)
	}
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return Pixel{}, fmt.Errorf("detect: color %q: %w", s, err)
	}
	return Pixel{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}, nil
}

// ColorDistance is the "redmean" weighted Euclidean distance between two
// colors. Red and blue weights slide with the mean red level, green is fixed.
func ColorDistance(a, b Pixel) float64 {
	rmean := (float64(a.R) + float64(b.R)) / 2
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	weightR := 2 + rmean/256
	weightG := 4.0
	weightB := 2 + (255-rmean)/256
	return math.Sqrt(weightR*dr*dr + weightG*dg*dg + weightB*db*db)
}
