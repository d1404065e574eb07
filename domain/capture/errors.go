package capture

import (
	"errors"
	"fmt"
)

// Kind classifies capture failures by how the caller must react.
type Kind int

const (
	// KindTransient is any acquisition failure worth a delayed retry.
	KindTransient Kind = iota
	// KindTimeout means no new frame arrived within the wait window.
	KindTimeout
	// KindAccessLost means the capture handle is permanently invalid and
	// must be recreated with Reinitialize.
	KindAccessLost
	// KindDeviceFatal means no capture is possible on this device.
	KindDeviceFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindAccessLost:
		return "access_lost"
	case KindDeviceFatal:
		return "device_fatal"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrTimeout     = errors.New("capture: frame timeout")
	ErrAccessLost  = errors.New("capture: access lost")
	ErrDeviceFatal = errors.New("capture: device unavailable")
)

// Error is a classified capture failure. Code holds the native status
// (HRESULT, X error code) when there is one.
type Error struct {
	Kind Kind
	Op   string
	Code uint32
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("capture: [%s] %s", e.Kind, e.Op)
	if e.Code != 0 {
		s += fmt.Sprintf(" code=0x%08x", e.Code)
	}
	if e.Err != nil {
		s += fmt.Sprintf(" caused by: %v", e.Err)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrAccessLost:
		return e.Kind == KindAccessLost
	case ErrDeviceFatal:
		return e.Kind == KindDeviceFatal
	}
	return false
}

func newError(kind Kind, op string, code uint32, err error) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// KindOf classifies err. Unclassified errors are transient.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrAccessLost):
		return KindAccessLost
	case errors.Is(err, ErrDeviceFatal):
		return KindDeviceFatal
	}
	return KindTransient
}

// IsFatal reports whether err ends all capture on this device.
func IsFatal(err error) bool { return err != nil && KindOf(err) == KindDeviceFatal }
