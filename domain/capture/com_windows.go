//go:build windows

package capture

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// comObject is a raw COM interface pointer called through its vtable.
type comObject struct {
	ptr unsafe.Pointer
}

// IUnknown slots.
const (
	vtQueryInterface = 0
	vtRelease        = 2
)

func (o comObject) valid() bool { return o.ptr != nil }

func (o comObject) method(slot int) uintptr {
	vtbl := *(*unsafe.Pointer)(o.ptr)
	return *(*uintptr)(unsafe.Add(vtbl, slot*int(unsafe.Sizeof(uintptr(0)))))
}

// call invokes vtable slot with the receiver prepended and returns the raw
// HRESULT (meaningless for void methods).
//
//go:uintptrescapes
func (o comObject) call(slot int, args ...uintptr) uint32 {
	full := make([]uintptr, 0, len(args)+1)
	full = append(full, uintptr(o.ptr))
	full = append(full, args...)
	r, _, _ := syscall.SyscallN(o.method(slot), full...)
	return uint32(r)
}

func (o comObject) queryInterface(iid *windows.GUID) (comObject, uint32) {
	var out comObject
	hr := o.call(vtQueryInterface, uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out.ptr)))
	return out, hr
}

func (o *comObject) release() {
	if o.ptr != nil {
		o.call(vtRelease)
		o.ptr = nil
	}
}

func failed(hr uint32) bool { return int32(hr) < 0 }
