//go:build linux

package capture

const defaultBackend = "x11"
