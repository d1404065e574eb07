package analysis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/soocke/pixel-scan-go/domain/capture"
	"github.com/soocke/pixel-scan-go/domain/detect"
)

// Loop repeatedly acquires a frame, scans the capture region for target
// colors and reports the result. It runs on the caller's goroutine; the
// provider must already be initialized.
type Loop struct {
	provider capture.Provider
	matcher  *detect.Matcher
	opts     Options
	logger   *slog.Logger
	reporter Reporter
	meter    *throughputMeter

	// swappable for tests
	sleep func(context.Context, time.Duration) error
	now   func() time.Time

	running atomic.Bool
	stop    atomic.Bool
	last    atomic.Pointer[CycleResult]

	cycles       atomic.Uint64
	matches      atomic.Uint64
	skipped      atomic.Uint64
	scanFailures atomic.Uint64
	reinits      atomic.Uint64
	cycleNanos   atomic.Uint64
	lastFPS      atomic.Uint64 // math.Float64bits
}

// NewLoop wires a loop. A nil reporter logs results through logger.
func NewLoop(provider capture.Provider, matcher *detect.Matcher, opts Options, logger *slog.Logger, reporter Reporter) *Loop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if reporter == nil {
		reporter = NewLogReporter(logger)
	}
	opts = opts.withDefaults()
	return &Loop{
		provider: provider,
		matcher:  matcher,
		opts:     opts,
		logger:   logger,
		reporter: reporter,
		meter:    newThroughputMeter(opts.StatsInterval),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Run cycles until ctx is done or Stop is called, both checked between
// cycles. It returns nil on a requested stop and a KindDeviceFatal error when
// capture can no longer continue.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("analysis: loop already running")
	}
	defer l.running.Store(false)
	l.stop.Store(false)
	l.meter.reset(l.now())
	l.logger.Info("loop.start", "provider", l.provider.Name(), "region", l.provider.Region(),
		"targets", len(l.matcher.Targets()), "tolerance", l.matcher.Tolerance())
	for {
		if ctx.Err() != nil || l.stop.Load() {
			l.logger.Info("loop.stop", "cycles", l.cycles.Load())
			return nil
		}
		if _, err := l.RunCycle(ctx); err != nil {
			l.logger.Error("loop.fatal", "error", err)
			return err
		}
	}
}

// Stop asks a running loop to exit at the next cycle boundary.
func (l *Loop) Stop() { l.stop.Store(true) }

func (l *Loop) Running() bool { return l.running.Load() }

// Last returns the result of the most recent cycle.
func (l *Loop) Last() CycleResult {
	r := l.last.Load()
	if r == nil {
		return CycleResult{}
	}
	return *r
}

// RunCycle performs one acquire-copy-scan-release pass. The returned error
// is non-nil only for device-fatal failures; everything else is carried in
// the result.
func (l *Loop) RunCycle(ctx context.Context) (res CycleResult, err error) {
	start := l.now()
	defer func() {
		l.last.Store(&res)
		l.finishCycle(start)
	}()

	acq, err := l.acquire(ctx)
	res = CycleResult{Attempts: acq.attempts, Reinits: acq.reinits}
	if err != nil {
		if capture.IsFatal(err) {
			res.Outcome = OutcomeFatal
			return res, err
		}
		res.Outcome = OutcomeSkipped
		res.Err = err
		l.skipped.Add(1)
		if ctx.Err() == nil {
			l.logger.Warn("cycle.skipped", "error", err, "attempts", acq.attempts)
		}
		return res, nil
	}
	res.Sequence = acq.frame.Sequence()

	found, rect, err := l.analyze(acq.frame)
	res.Region = rect
	switch {
	case err != nil:
		res.Outcome = OutcomeScanFailed
		res.Err = err
		l.scanFailures.Add(1)
		l.logger.Warn("cycle.scan_failed", "error", err, "seq", res.Sequence)
	case found.Found:
		res.Outcome = OutcomeMatch
		res.Point = rect.Min.Add(image.Pt(found.X, found.Y))
		res.Target = found.Target
		l.matches.Add(1)
	default:
		res.Outcome = OutcomeNoMatch
	}
	l.reporter.Result(l.report(res))
	return res, nil
}

// analyze copies the region and scans it. The frame is released on every
// path before analyze returns.
func (l *Loop) analyze(f capture.Frame) (res detect.Result, rect image.Rectangle, err error) {
	defer func() {
		if rerr := l.provider.ReleaseFrame(f); rerr != nil {
			l.logger.Warn("capture.release_failed", "error", rerr)
		}
	}()
	st, err := l.provider.CopyRegion(f, l.provider.Region())
	if err != nil {
		return detect.Result{}, image.Rectangle{}, fmt.Errorf("%w: copy region: %w", ErrScan, err)
	}
	buf := detect.Buffer{Pix: st.Pix, Stride: st.Stride, Width: st.Rect.Dx(), Height: st.Rect.Dy(), Order: detect.OrderBGRA}
	res, err = l.matcher.Scan(buf)
	if err != nil {
		return detect.Result{}, st.Rect, fmt.Errorf("%w: %w", ErrScan, err)
	}
	return res, st.Rect, nil
}

func (l *Loop) report(res CycleResult) Report {
	r := Report{
		Found:    res.Outcome == OutcomeMatch,
		Point:    res.Point,
		Region:   res.Region,
		Sequence: res.Sequence,
		Attempts: res.Attempts,
	}
	if r.Found {
		r.Color = l.matcher.Target(res.Target)
	}
	return r
}

func (l *Loop) finishCycle(start time.Time) {
	now := l.now()
	l.cycles.Add(1)
	if d := now.Sub(start); d > 0 {
		l.cycleNanos.Add(uint64(d))
	}
	if fps, ok := l.meter.tick(now); ok {
		l.lastFPS.Store(math.Float64bits(fps))
		l.reporter.Throughput(fps, l.Stats())
	}
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	cycles := l.cycles.Load()
	var avg time.Duration
	if cycles > 0 {
		avg = time.Duration(l.cycleNanos.Load() / cycles)
	}
	return Stats{
		Cycles:       cycles,
		Matches:      l.matches.Load(),
		Skipped:      l.skipped.Load(),
		ScanFailures: l.scanFailures.Load(),
		Reinits:      l.reinits.Load(),
		AvgCycle:     avg,
		LastFPS:      math.Float64frombits(l.lastFPS.Load()),
	}
}
