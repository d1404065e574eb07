//go:build linux

package capture

// X11 backend. The capture handle is the X connection: it is revoked when the
// server goes away or the socket breaks, and Reinitialize reconnects. Frame
// bounds come from the RandR primary output, falling back to the root window.

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
)

func init() {
	registerBackend("x11", func(opts Options, logger *slog.Logger) Provider {
		return &x11Provider{opts: opts, logger: logger}
	})
}

type x11Provider struct {
	opts    Options
	logger  *slog.Logger
	xu      *xgbutil.XUtil
	root    xproto.Window
	output  image.Rectangle // primary output in root coordinates, empty if unknown
	bounds  image.Rectangle // bounds seen at the last (re)initialization
	region  image.Rectangle
	staging *stagingBuffer
	guard   frameGuard
}

func (p *x11Provider) Name() string { return "x11" }

func (p *x11Provider) Initialize() error {
	if err := p.connect(); err != nil {
		// Without a reachable X server there is nothing to capture.
		return newError(KindDeviceFatal, "connect", 0, err)
	}
	p.staging = newStagingBuffer(p.opts.Size)
	p.region = CenteredRegion(p.bounds, p.opts.Center, p.opts.Size)
	p.logger.Info("capture.init", "display", p.opts.Display, "bounds", p.bounds, "region", p.region)
	return nil
}

// Reinitialize drops the connection and dials again. The staging buffer is
// kept; the region is recomputed only if the output geometry changed.
func (p *x11Provider) Reinitialize() error {
	prev := p.bounds
	p.disconnect()
	if err := p.connect(); err != nil {
		return newError(KindTransient, "reconnect", 0, err)
	}
	if p.bounds != prev {
		p.region = CenteredRegion(p.bounds, p.opts.Center, p.opts.Size)
		p.logger.Info("capture.region_changed", "bounds", p.bounds, "region", p.region)
	}
	return nil
}

func (p *x11Provider) connect() error {
	xu, err := xgbutil.NewConnDisplay(p.opts.Display)
	if err != nil {
		return err
	}
	p.xu = xu
	p.root = xu.RootWin()
	p.output = p.primaryOutput()
	root, err := p.rootRect(0)
	if err != nil {
		p.disconnect()
		return err
	}
	p.bounds = p.visible(root)
	if p.bounds.Empty() {
		p.disconnect()
		return fmt.Errorf("empty screen %v", root)
	}
	return nil
}

func (p *x11Provider) disconnect() {
	p.guard.drop()
	if p.xu != nil {
		p.xu.Conn().Close()
		p.xu = nil
	}
}

// primaryOutput returns the primary CRTC rectangle, or an empty rectangle
// when RandR is missing or no primary output is set.
func (p *x11Provider) primaryOutput() image.Rectangle {
	conn := p.xu.Conn()
	if err := randr.Init(conn); err != nil {
		p.logger.Debug("capture.randr_unavailable", "error", err)
		return image.Rectangle{}
	}
	primary, err := randr.GetOutputPrimary(conn, p.root).Reply()
	if err != nil || primary == nil || primary.Output == 0 {
		return image.Rectangle{}
	}
	info, err := randr.GetOutputInfo(conn, primary.Output, xproto.TimeCurrentTime).Reply()
	if err != nil || info == nil || info.Crtc == 0 {
		return image.Rectangle{}
	}
	crtc, err := randr.GetCrtcInfo(conn, info.Crtc, xproto.TimeCurrentTime).Reply()
	if err != nil || crtc == nil || crtc.Width == 0 || crtc.Height == 0 {
		return image.Rectangle{}
	}
	x, y := int(crtc.X), int(crtc.Y)
	return image.Rect(x, y, x+int(crtc.Width), y+int(crtc.Height))
}

func (p *x11Provider) visible(root image.Rectangle) image.Rectangle {
	if p.output.Empty() {
		return root
	}
	return p.output.Intersect(root)
}

func (p *x11Provider) rootRect(timeout time.Duration) (image.Rectangle, error) {
	conn := p.xu.Conn()
	geom, err := waitReply(timeout, func() (*xproto.GetGeometryReply, error) {
		return xproto.GetGeometry(conn, xproto.Drawable(p.root)).Reply()
	})
	if err != nil {
		return image.Rectangle{}, err
	}
	if geom == nil {
		return image.Rectangle{}, errors.New("connection closed")
	}
	return image.Rect(0, 0, int(geom.Width), int(geom.Height)), nil
}

// AcquireNextFrame queries the root geometry; the round trip doubles as a
// liveness check on the connection.
func (p *x11Provider) AcquireNextFrame(timeout time.Duration) (Frame, error) {
	if p.xu == nil {
		return nil, newError(KindAccessLost, "acquire", 0, errors.New("not connected"))
	}
	seq, err := p.guard.next()
	if err != nil {
		return nil, newError(KindTransient, "acquire", 0, err)
	}
	root, err := p.rootRect(timeout)
	if err != nil {
		return nil, classifyX("acquire", err)
	}
	f := &frame{bounds: p.visible(root), seq: seq}
	p.guard.hold(f)
	return f, nil
}

func (p *x11Provider) ReleaseFrame(f Frame) error {
	if err := p.guard.check(f); err != nil {
		return err
	}
	p.guard.drop()
	return nil
}

func (p *x11Provider) CopyRegion(f Frame, region image.Rectangle) (Staging, error) {
	if err := p.guard.check(f); err != nil {
		return Staging{}, err
	}
	rect := ClampRegion(region, f.Bounds())
	if err := p.staging.fit(rect); err != nil {
		return Staging{}, err
	}
	img, err := xproto.GetImage(p.xu.Conn(), xproto.ImageFormatZPixmap, xproto.Drawable(p.root),
		int16(rect.Min.X), int16(rect.Min.Y), uint16(rect.Dx()), uint16(rect.Dy()), 0xffffffff).Reply()
	if err != nil {
		return Staging{}, classifyX("get image", err)
	}
	if img == nil {
		return Staging{}, newError(KindAccessLost, "get image", 0, errors.New("connection closed"))
	}
	if img.Depth != 24 && img.Depth != 32 {
		return Staging{}, newError(KindTransient, "get image", 0, fmt.Errorf("unsupported depth %d", img.Depth))
	}
	if err := p.staging.copyBGRA(img.Data, rect.Dx()*4, rect); err != nil {
		return Staging{}, err
	}
	return p.staging.view(rect), nil
}

func (p *x11Provider) Region() image.Rectangle { return p.region }

func (p *x11Provider) Close() error {
	p.disconnect()
	p.staging = nil
	return nil
}

// classifyX maps X protocol errors to transient failures and everything else
// (socket errors, closed connection) to access lost.
func classifyX(op string, err error) *Error {
	if errors.Is(err, ErrTimeout) {
		return newError(KindTimeout, op, 0, nil)
	}
	var xerr xgb.Error
	if errors.As(err, &xerr) {
		return newError(KindTransient, op, xerr.BadId(), err)
	}
	return newError(KindAccessLost, op, 0, err)
}

// waitReply runs fn and gives up after timeout. A zero timeout waits forever.
// An abandoned fn keeps running until its reply arrives or the connection is
// closed.
func waitReply[T any](timeout time.Duration, fn func() (T, error)) (T, error) {
	if timeout <= 0 {
		return fn()
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-t.C:
		var zero T
		return zero, ErrTimeout
	}
}
