package capture

import "image"

// CenteredRegion returns a size.X by size.Y rectangle centered at c and
// shifted to lie inside bounds. A nil center selects the middle of bounds.
func CenteredRegion(bounds image.Rectangle, c *image.Point, size image.Point) image.Rectangle {
	center := image.Pt((bounds.Min.X+bounds.Max.X)/2, (bounds.Min.Y+bounds.Max.Y)/2)
	if c != nil {
		center = *c
	}
	origin := image.Pt(center.X-size.X/2, center.Y-size.Y/2)
	return ClampRegion(image.Rectangle{Min: origin, Max: origin.Add(size)}, bounds)
}

// ClampRegion moves r so it lies fully inside bounds without changing its
// size. When bounds is narrower or shorter than r, that axis is pinned to
// bounds' origin and cut to fit.
func ClampRegion(r, bounds image.Rectangle) image.Rectangle {
	x0, w := clampAxis(r.Min.X, r.Dx(), bounds.Min.X, bounds.Max.X)
	y0, h := clampAxis(r.Min.Y, r.Dy(), bounds.Min.Y, bounds.Max.Y)
	return image.Rect(x0, y0, x0+w, y0+h)
}

func clampAxis(start, length, lo, hi int) (int, int) {
	if length < 0 {
		length = 0
	}
	if span := hi - lo; length > span {
		if span < 0 {
			span = 0
		}
		return lo, span
	}
	if start+length > hi {
		start = hi - length
	}
	if start < lo {
		start = lo
	}
	return start, length
}
