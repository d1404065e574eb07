//go:build windows || linux

package capture

// Portable polling backend. Every acquisition grabs the capture region via
// github.com/vova616/screenshot (GDI on Windows, X11 on Linux); there is no
// revocable handle, so AccessLost never occurs and timeouts are not used.

import (
	"errors"
	"image"
	"log/slog"
	"time"

	"github.com/vova616/screenshot"
)

func init() {
	registerBackend("screenshot", func(opts Options, logger *slog.Logger) Provider {
		return newScreenshotProvider(opts, logger)
	})
}

type screenshotFrame struct {
	frame
	img *image.RGBA
}

type screenshotProvider struct {
	opts    Options
	logger  *slog.Logger
	bounds  image.Rectangle
	region  image.Rectangle
	staging *stagingBuffer
	guard   frameGuard

	// swappable for tests
	screenRect  func() (image.Rectangle, error)
	captureRect func(image.Rectangle) (*image.RGBA, error)
}

func newScreenshotProvider(opts Options, logger *slog.Logger) *screenshotProvider {
	return &screenshotProvider{
		opts:        opts,
		logger:      logger,
		screenRect:  screenshot.ScreenRect,
		captureRect: screenshot.CaptureRect,
	}
}

func (p *screenshotProvider) Name() string { return "screenshot" }

func (p *screenshotProvider) Initialize() error {
	bounds, err := p.screenRect()
	if err != nil {
		return newError(KindDeviceFatal, "screen rect", 0, err)
	}
	if bounds.Empty() {
		return newError(KindDeviceFatal, "screen rect", 0, errors.New("empty screen"))
	}
	p.bounds = bounds
	p.region = CenteredRegion(bounds, p.opts.Center, p.opts.Size)
	p.staging = newStagingBuffer(p.opts.Size)
	p.guard.drop()
	p.logger.Info("capture.init", "bounds", bounds, "region", p.region)
	return nil
}

// Reinitialize re-reads the screen bounds and recenters the region if the
// resolution changed.
func (p *screenshotProvider) Reinitialize() error {
	bounds, err := p.screenRect()
	if err != nil {
		return newError(KindTransient, "screen rect", 0, err)
	}
	p.guard.drop()
	if bounds != p.bounds {
		p.bounds = bounds
		p.region = CenteredRegion(bounds, p.opts.Center, p.opts.Size)
		p.logger.Info("capture.region_changed", "bounds", bounds, "region", p.region)
	}
	return nil
}

func (p *screenshotProvider) AcquireNextFrame(_ time.Duration) (Frame, error) {
	if p.staging == nil {
		return nil, newError(KindTransient, "acquire", 0, errors.New("not initialized"))
	}
	seq, err := p.guard.next()
	if err != nil {
		return nil, newError(KindTransient, "acquire", 0, err)
	}
	rect := ClampRegion(p.region, p.bounds)
	img, err := p.captureRect(rect)
	if err != nil {
		return nil, newError(KindTransient, "capture rect", 0, err)
	}
	// The library returns images anchored at (0,0); anchor at rect instead.
	img.Rect = img.Rect.Add(rect.Min.Sub(img.Rect.Min))
	f := &screenshotFrame{frame: frame{bounds: p.bounds, seq: seq}, img: img}
	p.guard.hold(f)
	return f, nil
}

func (p *screenshotProvider) ReleaseFrame(f Frame) error {
	if err := p.guard.check(f); err != nil {
		return err
	}
	p.guard.drop()
	return nil
}

func (p *screenshotProvider) CopyRegion(f Frame, region image.Rectangle) (Staging, error) {
	if err := p.guard.check(f); err != nil {
		return Staging{}, err
	}
	sf := f.(*screenshotFrame)
	rect := ClampRegion(region, sf.Bounds())
	if err := p.staging.copyRGBA(sf.img, rect); err != nil {
		return Staging{}, err
	}
	return p.staging.view(rect), nil
}

func (p *screenshotProvider) Region() image.Rectangle { return p.region }

func (p *screenshotProvider) Close() error {
	p.guard.drop()
	p.staging = nil
	return nil
}
