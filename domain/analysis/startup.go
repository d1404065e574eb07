package analysis

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/soocke/pixel-scan-go/domain/capture"
)

// Start-up retry defaults.
const (
	DefaultInitRetries  = 3
	DefaultInitDelay    = 500 * time.Millisecond
	DefaultInitMaxDelay = 10 * time.Second
	DefaultJitterFactor = 0.2
)

// RetryConfig controls how provider initialization is retried.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultInitRetries,
		BaseDelay:    DefaultInitDelay,
		MaxDelay:     DefaultInitMaxDelay,
		JitterFactor: DefaultJitterFactor,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultInitRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultInitDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultInitMaxDelay
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	return c
}

// InitializeProvider calls p.Initialize, retrying non-fatal failures with
// exponential backoff. A KindDeviceFatal failure is returned immediately.
func InitializeProvider(ctx context.Context, p capture.Provider, cfg RetryConfig, logger *slog.Logger) error {
	return initializeProvider(ctx, p, cfg, logger, sleepContext)
}

func initializeProvider(ctx context.Context, p capture.Provider, cfg RetryConfig, logger *slog.Logger,
	sleep func(context.Context, time.Duration) error) error {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = p.Initialize(); lastErr == nil {
			return nil
		}
		if capture.IsFatal(lastErr) || attempt == cfg.MaxRetries {
			return lastErr
		}
		delay := backoffDelay(cfg, attempt)
		logger.Warn("capture.init_retry", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", lastErr)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// backoffDelay is BaseDelay doubled per attempt, capped at MaxDelay, with
// +/- JitterFactor/2 jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << min(attempt, 6)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	jitter := float64(delay) * cfg.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}
