//go:build !windows && !linux

package capture

const defaultBackend = ""
