//go:build windows

package capture

const defaultBackend = "dxgi"
