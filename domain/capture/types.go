package capture

import (
	"image"
	"time"
)

// Frame is exclusive, time-bounded ownership of one captured frame. It is
// obtained from AcquireNextFrame and must be handed back to ReleaseFrame
// exactly once.
type Frame interface {
	// Bounds is the frame extent in absolute display coordinates.
	Bounds() image.Rectangle
	// Sequence increases by one per successful acquisition.
	Sequence() uint64
}

// Staging is a CPU-readable view of the last copied region. Pixels are
// 32-bit BGRA, row-major, Stride bytes per row. Rect is the rectangle that
// was actually copied, in absolute display coordinates. The view is only
// valid until the next CopyRegion call.
type Staging struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// Provider owns a display capture handle and a staging buffer sized to the
// capture region.
type Provider interface {
	// Initialize creates the device, the capture handle and the staging
	// buffer. Failures of kind KindDeviceFatal are unrecoverable; anything
	// else may be retried.
	Initialize() error
	// Reinitialize recreates only the capture handle, keeping the device and
	// staging buffer. Safe to call repeatedly.
	Reinitialize() error
	// AcquireNextFrame blocks up to timeout for a new frame.
	AcquireNextFrame(timeout time.Duration) (Frame, error)
	// ReleaseFrame returns ownership of f to the system.
	ReleaseFrame(f Frame) error
	// CopyRegion copies region, re-clamped against f.Bounds(), into the
	// staging buffer.
	CopyRegion(f Frame, region image.Rectangle) (Staging, error)
	// Region is the configured capture rectangle for the current handle.
	Region() image.Rectangle
	Name() string
	Close() error
}

// Options configures a provider.
type Options struct {
	// Size of the capture region in pixels.
	Size image.Point
	// Center in absolute display coordinates. Nil selects the display's
	// geometric center.
	Center *image.Point
	// Display selects the X11 display; ignored elsewhere.
	Display string
}

func (o Options) withDefaults() Options {
	if o.Size.X <= 0 {
		o.Size.X = DefaultRegionSize
	}
	if o.Size.Y <= 0 {
		o.Size.Y = DefaultRegionSize
	}
	return o
}

// DefaultRegionSize is the side of the square capture region.
const DefaultRegionSize = 40

type frame struct {
	bounds image.Rectangle
	seq    uint64
}

func (f *frame) Bounds() image.Rectangle { return f.bounds }
func (f *frame) Sequence() uint64        { return f.seq }
