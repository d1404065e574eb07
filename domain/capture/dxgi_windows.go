//go:build windows

package capture

// DXGI desktop duplication backend. A D3D11 device owns a CPU-readable
// staging texture; the duplication of the primary output is the revocable
// capture handle. Desktop switches, mode changes and session locks revoke it
// (DXGI_ERROR_ACCESS_LOST) and Reinitialize recreates only the duplication.

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	hrDXGIErrorDeviceRemoved = 0x887A0005
	hrDXGIErrorDeviceReset   = 0x887A0007
	hrDXGIErrorAccessLost    = 0x887A0026
	hrDXGIErrorWaitTimeout   = 0x887A0027

	d3dDriverTypeHardware = 1
	d3d11SDKVersion       = 7
	d3d11CreateDeviceBGRA = 0x20

	dxgiFormatB8G8R8A8Unorm = 87
	d3d11UsageStaging       = 3
	d3d11CPUAccessRead      = 0x20000
	d3d11MapRead            = 1
)

// vtable slots past IUnknown/IDXGIObject/ID3D11DeviceChild.
const (
	vtDXGIDeviceGetAdapter       = 7
	vtDXGIAdapterEnumOutputs     = 7
	vtDXGIOutput1DuplicateOutput = 22
	vtDuplGetDesc                = 7
	vtDuplAcquireNextFrame       = 8
	vtDuplReleaseFrame           = 14
	vtDeviceCreateTexture2D      = 5
	vtContextMap                 = 14
	vtContextUnmap               = 15
	vtContextCopySubresource     = 46
	vtTexture2DGetDesc           = 10
)

var (
	iidIDXGIDevice     = windows.GUID{Data1: 0x54ec77fa, Data2: 0x1377, Data3: 0x44e6, Data4: [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}
	iidIDXGIOutput1    = windows.GUID{Data1: 0x00cddea8, Data2: 0x939b, Data3: 0x4b83, Data4: [8]byte{0xa3, 0x40, 0xa6, 0x85, 0x22, 0x66, 0x66, 0xcc}}
	iidID3D11Texture2D = windows.GUID{Data1: 0x6f15aaf2, Data2: 0xd208, Data3: 0x4e89, Data4: [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}

	modD3D11              = windows.NewLazySystemDLL("d3d11.dll")
	procD3D11CreateDevice = modD3D11.NewProc("D3D11CreateDevice")
)

type dxgiOutduplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerX, PointerY        int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

type dxgiOutduplDesc struct {
	Width, Height                  uint32
	RefreshNumerator, RefreshDenom uint32
	Format                         uint32
	ScanlineOrdering               uint32
	Scaling                        uint32
	Rotation                       uint32
	DesktopImageInSystemMemory     int32
}

type d3d11Texture2DDesc struct {
	Width, Height  uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

type d3d11Box struct {
	Left, Top, Front, Right, Bottom, Back uint32
}

type d3d11MappedSubresource struct {
	Data       unsafe.Pointer
	RowPitch   uint32
	DepthPitch uint32
}

func init() {
	registerBackend("dxgi", func(opts Options, logger *slog.Logger) Provider {
		return &dxgiProvider{opts: opts, logger: logger}
	})
}

type dxgiFrame struct {
	frame
	tex comObject
}

type dxgiProvider struct {
	opts       Options
	logger     *slog.Logger
	device     comObject
	context    comObject
	dupl       comObject
	stagingTex comObject
	staging    *stagingBuffer
	bounds     image.Rectangle
	region     image.Rectangle
	guard      frameGuard
}

func (p *dxgiProvider) Name() string { return "dxgi" }

// Initialize is idempotent: parts that already exist are kept, so a caller
// may retry it after a non-fatal failure.
func (p *dxgiProvider) Initialize() error {
	if !p.device.valid() {
		var level uint32
		hr, _, _ := procD3D11CreateDevice.Call(0, d3dDriverTypeHardware, 0, d3d11CreateDeviceBGRA, 0, 0,
			d3d11SDKVersion, uintptr(unsafe.Pointer(&p.device.ptr)), uintptr(unsafe.Pointer(&level)),
			uintptr(unsafe.Pointer(&p.context.ptr)))
		if failed(uint32(hr)) {
			p.device.ptr, p.context.ptr = nil, nil
			return newError(KindDeviceFatal, "create device", uint32(hr), nil)
		}
		p.logger.Debug("capture.device", "feature_level", fmt.Sprintf("0x%x", level))
	}
	if !p.stagingTex.valid() {
		if err := p.createStagingTexture(); err != nil {
			return err
		}
	}
	if err := p.duplicate(); err != nil {
		return err
	}
	p.logger.Info("capture.init", "bounds", p.bounds, "region", p.region)
	return nil
}

func (p *dxgiProvider) createStagingTexture() error {
	desc := d3d11Texture2DDesc{
		Width:          uint32(p.opts.Size.X),
		Height:         uint32(p.opts.Size.Y),
		MipLevels:      1,
		ArraySize:      1,
		Format:         dxgiFormatB8G8R8A8Unorm,
		SampleCount:    1,
		Usage:          d3d11UsageStaging,
		CPUAccessFlags: d3d11CPUAccessRead,
	}
	hr := p.device.call(vtDeviceCreateTexture2D, uintptr(unsafe.Pointer(&desc)), 0, uintptr(unsafe.Pointer(&p.stagingTex.ptr)))
	if failed(hr) {
		p.stagingTex.ptr = nil
		return newError(KindTransient, "create staging texture", hr, nil)
	}
	p.staging = newStagingBuffer(p.opts.Size)
	return nil
}

// duplicate walks device -> adapter -> output 0 -> IDXGIOutput1 and creates
// a fresh duplication, releasing any previous one first.
func (p *dxgiProvider) duplicate() error {
	p.releaseDuplication()

	dxgiDevice, hr := p.device.queryInterface(&iidIDXGIDevice)
	if failed(hr) {
		return p.walkError("query dxgi device", hr)
	}
	defer dxgiDevice.release()

	var adapter comObject
	if hr := dxgiDevice.call(vtDXGIDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter.ptr))); failed(hr) {
		return p.walkError("get adapter", hr)
	}
	defer adapter.release()

	var output comObject
	if hr := adapter.call(vtDXGIAdapterEnumOutputs, 0, uintptr(unsafe.Pointer(&output.ptr))); failed(hr) {
		return p.walkError("enum outputs", hr)
	}
	defer output.release()

	output1, hr := output.queryInterface(&iidIDXGIOutput1)
	if failed(hr) {
		return p.walkError("query output1", hr)
	}
	defer output1.release()

	if hr := output1.call(vtDXGIOutput1DuplicateOutput, uintptr(p.device.ptr), uintptr(unsafe.Pointer(&p.dupl.ptr))); failed(hr) {
		p.dupl.ptr = nil
		return p.walkError("duplicate output", hr)
	}

	var desc dxgiOutduplDesc
	p.dupl.call(vtDuplGetDesc, uintptr(unsafe.Pointer(&desc)))
	bounds := image.Rect(0, 0, int(desc.Width), int(desc.Height))
	if bounds != p.bounds {
		p.bounds = bounds
		p.region = CenteredRegion(bounds, p.opts.Center, p.opts.Size)
		p.logger.Info("capture.region_changed", "bounds", bounds, "region", p.region)
	}
	return nil
}

func (p *dxgiProvider) walkError(op string, hr uint32) error {
	switch hr {
	case hrDXGIErrorDeviceRemoved, hrDXGIErrorDeviceReset:
		return newError(KindDeviceFatal, op, hr, nil)
	}
	return newError(KindTransient, op, hr, nil)
}

func (p *dxgiProvider) releaseDuplication() {
	if p.guard.out != nil {
		if df, ok := p.guard.out.(*dxgiFrame); ok {
			df.tex.release()
		}
		p.guard.drop()
	}
	p.dupl.release()
}

// Reinitialize recreates the duplication against the existing device.
func (p *dxgiProvider) Reinitialize() error {
	if !p.device.valid() {
		return newError(KindDeviceFatal, "reinitialize", 0, errors.New("no device"))
	}
	return p.duplicate()
}

func (p *dxgiProvider) AcquireNextFrame(timeout time.Duration) (Frame, error) {
	if !p.dupl.valid() {
		return nil, newError(KindAccessLost, "acquire", 0, errors.New("no duplication"))
	}
	seq, err := p.guard.next()
	if err != nil {
		return nil, newError(KindTransient, "acquire", 0, err)
	}
	var info dxgiOutduplFrameInfo
	var resource comObject
	hr := p.dupl.call(vtDuplAcquireNextFrame, uintptr(timeout/time.Millisecond),
		uintptr(unsafe.Pointer(&info)), uintptr(unsafe.Pointer(&resource.ptr)))
	switch {
	case hr == hrDXGIErrorWaitTimeout:
		return nil, newError(KindTimeout, "acquire", hr, nil)
	case hr == hrDXGIErrorAccessLost, hr == hrDXGIErrorDeviceRemoved, hr == hrDXGIErrorDeviceReset:
		return nil, newError(KindAccessLost, "acquire", hr, nil)
	case failed(hr):
		return nil, newError(KindTransient, "acquire", hr, nil)
	}

	// Frame and texture interface succeed or fail together.
	tex, hr := resource.queryInterface(&iidID3D11Texture2D)
	resource.release()
	if failed(hr) {
		p.dupl.call(vtDuplReleaseFrame)
		return nil, newError(KindTransient, "query texture", hr, nil)
	}
	var td d3d11Texture2DDesc
	tex.call(vtTexture2DGetDesc, uintptr(unsafe.Pointer(&td)))
	f := &dxgiFrame{frame: frame{bounds: image.Rect(0, 0, int(td.Width), int(td.Height)), seq: seq}, tex: tex}
	p.guard.hold(f)
	return f, nil
}

func (p *dxgiProvider) ReleaseFrame(f Frame) error {
	if err := p.guard.check(f); err != nil {
		return err
	}
	df := f.(*dxgiFrame)
	df.tex.release()
	p.guard.drop()
	if hr := p.dupl.call(vtDuplReleaseFrame); failed(hr) {
		if hr == hrDXGIErrorAccessLost {
			return newError(KindAccessLost, "release", hr, nil)
		}
		return newError(KindTransient, "release", hr, nil)
	}
	return nil
}

func (p *dxgiProvider) CopyRegion(f Frame, region image.Rectangle) (Staging, error) {
	if err := p.guard.check(f); err != nil {
		return Staging{}, err
	}
	df := f.(*dxgiFrame)
	rect := ClampRegion(region, df.Bounds())
	if err := p.staging.fit(rect); err != nil {
		return Staging{}, err
	}
	box := d3d11Box{
		Left: uint32(rect.Min.X), Top: uint32(rect.Min.Y), Front: 0,
		Right: uint32(rect.Max.X), Bottom: uint32(rect.Max.Y), Back: 1,
	}
	p.context.call(vtContextCopySubresource, uintptr(p.stagingTex.ptr), 0, 0, 0, 0,
		uintptr(df.tex.ptr), 0, uintptr(unsafe.Pointer(&box)))

	var mapped d3d11MappedSubresource
	hr := p.context.call(vtContextMap, uintptr(p.stagingTex.ptr), 0, d3d11MapRead, 0, uintptr(unsafe.Pointer(&mapped)))
	if failed(hr) {
		return Staging{}, newError(KindTransient, "map staging", hr, nil)
	}
	defer p.context.call(vtContextUnmap, uintptr(p.stagingTex.ptr), 0)

	pitch := int(mapped.RowPitch)
	src := unsafe.Slice((*byte)(mapped.Data), pitch*rect.Dy())
	if err := p.staging.copyBGRA(src, pitch, rect); err != nil {
		return Staging{}, err
	}
	return p.staging.view(rect), nil
}

func (p *dxgiProvider) Region() image.Rectangle { return p.region }

func (p *dxgiProvider) Close() error {
	if p.guard.out != nil {
		_ = p.ReleaseFrame(p.guard.out)
	}
	p.releaseDuplication()
	p.stagingTex.release()
	p.context.release()
	p.device.release()
	p.staging = nil
	return nil
}
