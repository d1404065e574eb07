package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/soocke/pixel-scan-go/domain/capture"
)

type acquisition struct {
	frame    capture.Frame
	attempts int
	reinits  int
}

// acquire drives AcquireNextFrame until it yields a frame, the attempt cap is
// hit, or the device is gone.
//
//	timeout      -> attempts++, short delay, retry
//	access lost  -> reinitialize handle; ok: attempts = 0, retry now; fail: fatal
//	other error  -> attempts++, long delay, retry
func (l *Loop) acquire(ctx context.Context) (acquisition, error) {
	var a acquisition
	for a.attempts < l.opts.MaxAttempts {
		f, err := l.provider.AcquireNextFrame(l.opts.FrameTimeout)
		if err == nil {
			a.frame = f
			return a, nil
		}
		switch capture.KindOf(err) {
		case capture.KindTimeout:
			a.attempts++
			if werr := l.wait(ctx, l.opts.TimeoutDelay); werr != nil {
				return a, werr
			}
		case capture.KindAccessLost:
			if a.reinits >= l.opts.MaxReinits {
				return a, fmt.Errorf("%w: access lost after %d reinitializations: %w", ErrRetriesExhausted, a.reinits, err)
			}
			l.logger.Warn("capture.access_lost", "error", err, "reinits", a.reinits)
			if rerr := l.provider.Reinitialize(); rerr != nil {
				return a, &capture.Error{Kind: capture.KindDeviceFatal, Op: "reinitialize after access lost", Err: rerr}
			}
			a.reinits++
			l.reinits.Add(1)
			a.attempts = 0
			l.logger.Info("capture.reinit", "region", l.provider.Region())
		case capture.KindDeviceFatal:
			return a, err
		default:
			a.attempts++
			l.logger.Warn("capture.acquire_failed", "error", err, "attempt", a.attempts)
			if werr := l.wait(ctx, l.opts.ErrorDelay); werr != nil {
				return a, werr
			}
		}
	}
	return a, fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, a.attempts)
}

func (l *Loop) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return l.sleep(ctx, d)
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
