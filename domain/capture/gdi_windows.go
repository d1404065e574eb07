//go:build windows

package capture

// GDI fallback backend for sessions where desktop duplication is unavailable
// (remote desktop, some virtual GPUs). The region is BitBlt'ed into a DIB
// section created once per handle; a failed BitBlt means the screen DC went
// stale (desktop switch, lock screen) and is reported as AccessLost.

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

func init() {
	registerBackend("gdi", func(opts Options, logger *slog.Logger) Provider {
		return &gdiProvider{opts: opts, logger: logger}
	})
}

const (
	smCxScreen   = 0
	smCyScreen   = 1
	srccopy      = 0x00CC0020
	captureBlt   = 0x40000000
	dibRGBColors = 0
	biRGB        = 0
)

var (
	modUser32              = windows.NewLazySystemDLL("user32.dll")
	modGdi32               = windows.NewLazySystemDLL("gdi32.dll")
	procGetDC              = modUser32.NewProc("GetDC")
	procReleaseDC          = modUser32.NewProc("ReleaseDC")
	procGetSystemMetrics   = modUser32.NewProc("GetSystemMetrics")
	procCreateCompatibleDC = modGdi32.NewProc("CreateCompatibleDC")
	procDeleteDC           = modGdi32.NewProc("DeleteDC")
	procSelectObject       = modGdi32.NewProc("SelectObject")
	procBitBlt             = modGdi32.NewProc("BitBlt")
	procCreateDIBSection   = modGdi32.NewProc("CreateDIBSection")
	procDeleteObject       = modGdi32.NewProc("DeleteObject")
)

// BITMAPINFO with a single unused RGBQUAD.
type bitmapInfoHeader struct {
	BiSize          uint32
	BiWidth         int32
	BiHeight        int32
	BiPlanes        uint16
	BiBitCount      uint16
	BiCompression   uint32
	BiSizeImage     uint32
	BiXPelsPerMeter int32
	BiYPelsPerMeter int32
	BiClrUsed       uint32
	BiClrImportant  uint32
}

type bitmapInfo struct {
	Header bitmapInfoHeader
	_      [4]byte
}

type gdiFrame struct {
	frame
	captured image.Rectangle
}

type gdiProvider struct {
	opts    Options
	logger  *slog.Logger
	bounds  image.Rectangle
	region  image.Rectangle
	staging *stagingBuffer
	guard   frameGuard

	screenDC uintptr
	memDC    uintptr
	bitmap   uintptr
	prevObj  uintptr
	bits     []byte // DIB section memory, top-down BGRX at opts.Size
}

func (p *gdiProvider) Name() string { return "gdi" }

func screenBounds() image.Rectangle {
	w, _, _ := procGetSystemMetrics.Call(smCxScreen)
	h, _, _ := procGetSystemMetrics.Call(smCyScreen)
	return image.Rect(0, 0, int(int32(w)), int(int32(h)))
}

func (p *gdiProvider) Initialize() error {
	if err := procBitBlt.Find(); err != nil {
		return newError(KindDeviceFatal, "load gdi32", 0, err)
	}
	bounds := screenBounds()
	if bounds.Empty() {
		return newError(KindDeviceFatal, "screen metrics", 0, fmt.Errorf("invalid screen size %v", bounds))
	}
	p.bounds = bounds
	p.region = CenteredRegion(bounds, p.opts.Center, p.opts.Size)
	p.staging = newStagingBuffer(p.opts.Size)
	if err := p.createSurface(); err != nil {
		return newError(KindDeviceFatal, "create surface", 0, err)
	}
	p.logger.Info("capture.init", "bounds", bounds, "region", p.region)
	return nil
}

// Reinitialize drops the DCs and DIB section and creates them again,
// recentering the region if the screen size changed.
func (p *gdiProvider) Reinitialize() error {
	p.guard.drop()
	p.destroySurface()
	if bounds := screenBounds(); !bounds.Empty() && bounds != p.bounds {
		p.bounds = bounds
		p.region = CenteredRegion(bounds, p.opts.Center, p.opts.Size)
		p.logger.Info("capture.region_changed", "bounds", bounds, "region", p.region)
	}
	if err := p.createSurface(); err != nil {
		return newError(KindTransient, "create surface", 0, err)
	}
	return nil
}

func (p *gdiProvider) createSurface() error {
	w, h := p.opts.Size.X, p.opts.Size.Y
	screenDC, _, err := procGetDC.Call(0)
	if screenDC == 0 {
		return fmt.Errorf("GetDC: %w", err)
	}
	p.screenDC = screenDC
	memDC, _, err := procCreateCompatibleDC.Call(screenDC)
	if memDC == 0 {
		p.destroySurface()
		return fmt.Errorf("CreateCompatibleDC: %w", err)
	}
	p.memDC = memDC

	var bi bitmapInfo
	bi.Header.BiSize = uint32(unsafe.Sizeof(bi.Header))
	bi.Header.BiWidth = int32(w)
	bi.Header.BiHeight = -int32(h) // top-down
	bi.Header.BiPlanes = 1
	bi.Header.BiBitCount = 32
	bi.Header.BiCompression = biRGB
	bi.Header.BiSizeImage = uint32(w * h * 4)

	var bitsPtr unsafe.Pointer
	bmp, _, err := procCreateDIBSection.Call(memDC, uintptr(unsafe.Pointer(&bi)), dibRGBColors, uintptr(unsafe.Pointer(&bitsPtr)), 0, 0)
	if bmp == 0 || bitsPtr == nil {
		p.destroySurface()
		return fmt.Errorf("CreateDIBSection: %w", err)
	}
	p.bitmap = bmp
	prev, _, err := procSelectObject.Call(memDC, bmp)
	if prev == 0 || prev == ^uintptr(0) { // NULL or HGDI_ERROR
		p.destroySurface()
		return fmt.Errorf("SelectObject: %w", err)
	}
	p.prevObj = prev
	p.bits = unsafe.Slice((*byte)(bitsPtr), w*h*4)
	return nil
}

func (p *gdiProvider) destroySurface() {
	p.bits = nil
	if p.memDC != 0 && p.prevObj != 0 {
		procSelectObject.Call(p.memDC, p.prevObj)
	}
	p.prevObj = 0
	if p.bitmap != 0 {
		procDeleteObject.Call(p.bitmap)
		p.bitmap = 0
	}
	if p.memDC != 0 {
		procDeleteDC.Call(p.memDC)
		p.memDC = 0
	}
	if p.screenDC != 0 {
		procReleaseDC.Call(0, p.screenDC)
		p.screenDC = 0
	}
}

// AcquireNextFrame blits the clamped region immediately; GDI has no frame
// notification so timeout is unused.
func (p *gdiProvider) AcquireNextFrame(_ time.Duration) (Frame, error) {
	if p.bits == nil {
		return nil, newError(KindAccessLost, "acquire", 0, errors.New("no surface"))
	}
	seq, err := p.guard.next()
	if err != nil {
		return nil, newError(KindTransient, "acquire", 0, err)
	}
	rect := ClampRegion(p.region, p.bounds)
	ok, _, callErr := procBitBlt.Call(p.memDC, 0, 0, uintptr(rect.Dx()), uintptr(rect.Dy()),
		p.screenDC, uintptr(rect.Min.X), uintptr(rect.Min.Y), srccopy|captureBlt)
	if ok == 0 {
		var code uint32
		var errno windows.Errno
		if errors.As(callErr, &errno) {
			code = uint32(errno)
		}
		return nil, newError(KindAccessLost, "bitblt", code, callErr)
	}
	f := &gdiFrame{frame: frame{bounds: p.bounds, seq: seq}, captured: rect}
	p.guard.hold(f)
	return f, nil
}

func (p *gdiProvider) ReleaseFrame(f Frame) error {
	if err := p.guard.check(f); err != nil {
		return err
	}
	p.guard.drop()
	return nil
}

func (p *gdiProvider) CopyRegion(f Frame, region image.Rectangle) (Staging, error) {
	if err := p.guard.check(f); err != nil {
		return Staging{}, err
	}
	gf := f.(*gdiFrame)
	rect := ClampRegion(region, gf.Bounds())
	if !rect.In(gf.captured) {
		return Staging{}, fmt.Errorf("capture: region %v outside blitted %v", rect, gf.captured)
	}
	stride := p.opts.Size.X * 4
	off := rect.Min.Sub(gf.captured.Min)
	if err := p.staging.copyBGRA(p.bits[off.Y*stride+off.X*4:], stride, rect); err != nil {
		return Staging{}, err
	}
	return p.staging.view(rect), nil
}

func (p *gdiProvider) Region() image.Rectangle { return p.region }

func (p *gdiProvider) Close() error {
	p.guard.drop()
	p.destroySurface()
	p.staging = nil
	return nil
}
