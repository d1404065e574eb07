package capture

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
)

// BackendAuto picks the platform's preferred backend.
const BackendAuto = "auto"

type backendFactory func(opts Options, logger *slog.Logger) Provider

// backends is filled by init functions of the platform files.
var backends = map[string]backendFactory{}

func registerBackend(name string, f backendFactory) { backends[name] = f }

// Backends lists the backends compiled into this binary.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New constructs an uninitialized provider. Call Initialize before use.
func New(name string, opts Options, logger *slog.Logger) (Provider, error) {
	if name == "" || name == BackendAuto {
		name = defaultBackend
	}
	f, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("capture: backend %q not available on %s (have %v)", name, runtime.GOOS, Backends())
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return f(opts.withDefaults(), logger.With("backend", name)), nil
}
