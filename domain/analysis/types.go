package analysis

import (
	"errors"
	"image"
	"time"
)

// Loop defaults.
const (
	DefaultFrameTimeout  = 100 * time.Millisecond
	DefaultTimeoutDelay  = 50 * time.Millisecond
	DefaultErrorDelay    = 100 * time.Millisecond
	DefaultMaxAttempts   = 5
	DefaultMaxReinits    = 5
	DefaultStatsInterval = time.Second
)

var (
	// ErrRetriesExhausted marks a cycle abandoned without a frame.
	ErrRetriesExhausted = errors.New("analysis: acquisition retries exhausted")
	// ErrScan marks a copy or scan failure on an acquired frame.
	ErrScan = errors.New("analysis: scan failed")
)

// Options tunes the acquisition retry policy and telemetry.
type Options struct {
	// FrameTimeout bounds each AcquireNextFrame call.
	FrameTimeout time.Duration
	// TimeoutDelay is the pause after a frame timeout.
	TimeoutDelay time.Duration
	// ErrorDelay is the pause after any other acquisition failure.
	ErrorDelay time.Duration
	// MaxAttempts caps counted failures per cycle.
	MaxAttempts int
	// MaxReinits caps handle reinitializations per cycle.
	MaxReinits int
	// StatsInterval is the throughput reporting window.
	StatsInterval time.Duration
}

// DefaultOptions returns the standard retry policy.
func DefaultOptions() Options {
	return Options{
		FrameTimeout:  DefaultFrameTimeout,
		TimeoutDelay:  DefaultTimeoutDelay,
		ErrorDelay:    DefaultErrorDelay,
		MaxAttempts:   DefaultMaxAttempts,
		MaxReinits:    DefaultMaxReinits,
		StatsInterval: DefaultStatsInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.FrameTimeout < 0 {
		o.FrameTimeout = DefaultFrameTimeout
	}
	if o.TimeoutDelay < 0 {
		o.TimeoutDelay = DefaultTimeoutDelay
	}
	if o.ErrorDelay < 0 {
		o.ErrorDelay = DefaultErrorDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxReinits <= 0 {
		o.MaxReinits = DefaultMaxReinits
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = DefaultStatsInterval
	}
	return o
}

// Outcome is how one cycle ended.
type Outcome int

const (
	OutcomeNoMatch Outcome = iota
	OutcomeMatch
	OutcomeSkipped
	OutcomeScanFailed
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeMatch:
		return "match"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeScanFailed:
		return "scan_failed"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CycleResult describes one acquire-analyze-release pass.
type CycleResult struct {
	Outcome Outcome
	// Point is the match in absolute display coordinates.
	Point image.Point
	// Target is the index of the matched color.
	Target int
	// Region is the rectangle actually scanned.
	Region   image.Rectangle
	Sequence uint64
	// Attempts counts failures since the last reset when the frame arrived.
	Attempts int
	Reinits  int
	// Err is the non-fatal cause for skipped and scan-failed cycles.
	Err error
}

// Stats summarises loop behaviour for instrumentation.
type Stats struct {
	Cycles       uint64
	Matches      uint64
	Skipped      uint64
	ScanFailures uint64
	Reinits      uint64
	AvgCycle     time.Duration
	LastFPS      float64
}
