package analysis

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/soocke/pixel-scan-go/domain/capture"
	"github.com/soocke/pixel-scan-go/domain/detect"
)

type fakeFrame struct{ seq uint64 }

func (f fakeFrame) Bounds() image.Rectangle { return image.Rect(0, 0, 100, 100) }
func (f fakeFrame) Sequence() uint64        { return f.seq }

// fakeProvider replays a scripted list of acquire errors; a nil entry (or an
// exhausted script) yields a frame.
type fakeProvider struct {
	mu        sync.Mutex
	script    []error
	acquires  int
	releases  int
	reinits   int
	reinitErr error
	copyErr   error
	region    image.Rectangle
	pix       []byte // 2x2 BGRA
	seq       uint64
	initErrs  []error
	initCalls int
}

func newFakeProvider(script ...error) *fakeProvider {
	return &fakeProvider{
		script: script,
		region: image.Rect(10, 20, 12, 22),
		pix:    make([]byte, 2*2*4),
	}
}

func (p *fakeProvider) Initialize() error {
	p.initCalls++
	if len(p.initErrs) == 0 {
		return nil
	}
	err := p.initErrs[0]
	p.initErrs = p.initErrs[1:]
	return err
}

func (p *fakeProvider) Reinitialize() error {
	p.reinits++
	return p.reinitErr
}

func (p *fakeProvider) AcquireNextFrame(time.Duration) (capture.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if len(p.script) > 0 {
		err := p.script[0]
		p.script = p.script[1:]
		if err != nil {
			return nil, err
		}
	}
	p.seq++
	return fakeFrame{seq: p.seq}, nil
}

func (p *fakeProvider) ReleaseFrame(capture.Frame) error {
	p.releases++
	return nil
}

func (p *fakeProvider) CopyRegion(_ capture.Frame, region image.Rectangle) (capture.Staging, error) {
	if p.copyErr != nil {
		return capture.Staging{}, p.copyErr
	}
	return capture.Staging{Pix: p.pix, Stride: 8, Rect: region}, nil
}

func (p *fakeProvider) Region() image.Rectangle { return p.region }
func (p *fakeProvider) Name() string            { return "fake" }
func (p *fakeProvider) Close() error            { return nil }

// setBGRA writes an RGB pixel into the 2x2 BGRA buffer.
func (p *fakeProvider) setBGRA(x, y int, c detect.Pixel) {
	i := y*8 + x*4
	p.pix[i], p.pix[i+1], p.pix[i+2], p.pix[i+3] = c.B, c.G, c.R, 0xFF
}

type recordingReporter struct {
	results []Report
	fps     []float64
}

func (r *recordingReporter) Result(rep Report)             { r.results = append(r.results, rep) }
func (r *recordingReporter) Throughput(f float64, _ Stats) { r.fps = append(r.fps, f) }

type sleepRecorder struct{ delays []time.Duration }

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

var red = detect.Pixel{R: 0xEA, G: 0x23, B: 0x01}

func newTestLoop(t *testing.T, p *fakeProvider) (*Loop, *recordingReporter, *sleepRecorder) {
	t.Helper()
	m, err := detect.NewMatcher([]detect.Pixel{red}, 15)
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	rep := &recordingReporter{}
	sl := &sleepRecorder{}
	l := NewLoop(p, m, DefaultOptions(), slog.New(slog.DiscardHandler), rep)
	l.sleep = sl.sleep
	return l, rep, sl
}

func timeoutErr() error {
	return &capture.Error{Kind: capture.KindTimeout, Op: "acquire"}
}

func TestRunCycle_TimeoutsExhaustAttempts(t *testing.T) {
	script := make([]error, 10)
	for i := range script {
		script[i] = timeoutErr()
	}
	p := newFakeProvider(script...)
	l, rep, sl := newTestLoop(t, p)

	res, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected fatal: %v", err)
	}
	if res.Outcome != OutcomeSkipped || !errors.Is(res.Err, ErrRetriesExhausted) {
		t.Fatalf("expected skipped cycle, got %v err=%v", res.Outcome, res.Err)
	}
	if p.acquires != DefaultMaxAttempts {
		t.Fatalf("expected %d acquires, got %d", DefaultMaxAttempts, p.acquires)
	}
	if p.reinits != 0 || p.releases != 0 {
		t.Fatalf("reinits=%d releases=%d", p.reinits, p.releases)
	}
	if len(sl.delays) != DefaultMaxAttempts {
		t.Fatalf("expected %d waits, got %v", DefaultMaxAttempts, sl.delays)
	}
	for _, d := range sl.delays {
		if d != DefaultTimeoutDelay {
			t.Fatalf("timeout wait should be %v, got %v", DefaultTimeoutDelay, d)
		}
	}
	if len(rep.results) != 0 {
		t.Fatalf("skipped cycle must not report a result")
	}
	if st := l.Stats(); st.Skipped != 1 || st.Cycles != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestRunCycle_AccessLostReinitializesAndResets(t *testing.T) {
	lost := &capture.Error{Kind: capture.KindAccessLost, Op: "acquire"}
	p := newFakeProvider(timeoutErr(), timeoutErr(), lost)
	p.setBGRA(1, 0, red)
	l, rep, _ := newTestLoop(t, p)

	res, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected fatal: %v", err)
	}
	if p.reinits != 1 {
		t.Fatalf("expected one reinit, got %d", p.reinits)
	}
	if res.Attempts != 0 || res.Reinits != 1 {
		t.Fatalf("attempts should reset after reinit: %+v", res)
	}
	if res.Outcome != OutcomeMatch || res.Point != image.Pt(11, 20) {
		t.Fatalf("expected match at (11,20), got %v %v", res.Outcome, res.Point)
	}
	if p.releases != 1 {
		t.Fatalf("frame must be released once, got %d", p.releases)
	}
	if len(rep.results) != 1 || rep.results[0].Color != red || !rep.results[0].Found {
		t.Fatalf("unexpected report %+v", rep.results)
	}
}

func TestRunCycle_FailedReinitIsFatal(t *testing.T) {
	p := newFakeProvider(&capture.Error{Kind: capture.KindAccessLost, Op: "acquire"})
	p.reinitErr = errors.New("duplicate output: not available")
	l, _, _ := newTestLoop(t, p)

	res, err := l.RunCycle(context.Background())
	if err == nil || !capture.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if res.Outcome != OutcomeFatal {
		t.Fatalf("expected fatal outcome, got %v", res.Outcome)
	}
	if p.acquires != 1 {
		t.Fatalf("no acquire after failed reinit, got %d", p.acquires)
	}
}

func TestRunCycle_ReinitCap(t *testing.T) {
	script := make([]error, 20)
	for i := range script {
		script[i] = &capture.Error{Kind: capture.KindAccessLost, Op: "acquire"}
	}
	p := newFakeProvider(script...)
	l, _, _ := newTestLoop(t, p)

	res, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("reinit cap should skip, not fail: %v", err)
	}
	if res.Outcome != OutcomeSkipped || p.reinits != DefaultMaxReinits {
		t.Fatalf("outcome=%v reinits=%d", res.Outcome, p.reinits)
	}
}

func TestRunCycle_TransientUsesErrorDelay(t *testing.T) {
	p := newFakeProvider(errors.New("driver hiccup"))
	l, _, sl := newTestLoop(t, p)

	res, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected fatal: %v", err)
	}
	if res.Outcome != OutcomeNoMatch || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sl.delays) != 1 || sl.delays[0] != DefaultErrorDelay {
		t.Fatalf("expected one %v wait, got %v", DefaultErrorDelay, sl.delays)
	}
}

func TestRunCycle_DeviceFatalFromAcquire(t *testing.T) {
	p := newFakeProvider(&capture.Error{Kind: capture.KindDeviceFatal, Op: "acquire"})
	l, _, _ := newTestLoop(t, p)
	if _, err := l.RunCycle(context.Background()); !errors.Is(err, capture.ErrDeviceFatal) {
		t.Fatalf("expected device fatal, got %v", err)
	}
}

func TestRunCycle_ReleasesOnCopyFailure(t *testing.T) {
	p := newFakeProvider()
	p.copyErr = errors.New("map failed")
	l, rep, _ := newTestLoop(t, p)

	res, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("scan failure is not fatal: %v", err)
	}
	if res.Outcome != OutcomeScanFailed || !errors.Is(res.Err, ErrScan) {
		t.Fatalf("unexpected result %+v", res)
	}
	if p.releases != 1 {
		t.Fatalf("frame not released after copy failure")
	}
	if len(rep.results) != 1 || rep.results[0].Found {
		t.Fatalf("scan failure should report as no match: %+v", rep.results)
	}
}

func TestRunCycle_NoMatch(t *testing.T) {
	p := newFakeProvider()
	l, rep, _ := newTestLoop(t, p)
	res, err := l.RunCycle(context.Background())
	if err != nil || res.Outcome != OutcomeNoMatch {
		t.Fatalf("expected no match, got %v %v", res.Outcome, err)
	}
	if res.Sequence != 1 || res.Region != p.region {
		t.Fatalf("unexpected result %+v", res)
	}
	if last := l.Last(); last.Sequence != 1 || last.Outcome != OutcomeNoMatch {
		t.Fatalf("Last() out of date: %+v", last)
	}
	if len(rep.results) != 1 || rep.results[0].Found {
		t.Fatalf("unexpected report %+v", rep.results)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	p := newFakeProvider()
	l, _, _ := newTestLoop(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancel should end Run cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if l.Running() {
		t.Fatalf("loop still marked running")
	}
	if l.Stats().Cycles == 0 {
		t.Fatalf("expected at least one cycle")
	}
}

func TestRun_StopAndFatal(t *testing.T) {
	p := newFakeProvider()
	l, _, _ := newTestLoop(t, p)
	stopper := &stopReporter{loop: l, after: 3}
	l.reporter = stopper
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("stop should end Run cleanly, got %v", err)
	}
	if got := l.Stats().Cycles; got != 3 {
		t.Fatalf("expected 3 cycles before stop, got %d", got)
	}

	p2 := newFakeProvider(&capture.Error{Kind: capture.KindDeviceFatal, Op: "acquire"})
	l2, _, _ := newTestLoop(t, p2)
	if err := l2.Run(context.Background()); !capture.IsFatal(err) {
		t.Fatalf("expected fatal from Run, got %v", err)
	}
}

type stopReporter struct {
	loop  *Loop
	after int
	n     int
}

func (s *stopReporter) Result(Report) {
	s.n++
	if s.n >= s.after {
		s.loop.Stop()
	}
}
func (s *stopReporter) Throughput(float64, Stats) {}

func TestLoop_ThroughputReported(t *testing.T) {
	p := newFakeProvider()
	l, rep, _ := newTestLoop(t, p)
	base := time.Unix(1000, 0)
	now := base
	l.now = func() time.Time { return now }
	l.meter.reset(base)

	for i := 0; i < 9; i++ {
		now = now.Add(100 * time.Millisecond)
		if _, err := l.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if len(rep.fps) != 0 {
		t.Fatalf("no throughput before the window closes, got %v", rep.fps)
	}
	now = now.Add(100 * time.Millisecond)
	if _, err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(rep.fps) != 1 || rep.fps[0] != 10 {
		t.Fatalf("expected 10 fps, got %v", rep.fps)
	}
	if l.Stats().LastFPS != 10 {
		t.Fatalf("stats fps %v", l.Stats().LastFPS)
	}
}
