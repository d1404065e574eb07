package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/soocke/pixel-scan-go/config"
	"github.com/soocke/pixel-scan-go/debug"
	"github.com/soocke/pixel-scan-go/domain/analysis"
	"github.com/soocke/pixel-scan-go/domain/capture"
	"github.com/soocke/pixel-scan-go/domain/detect"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("pixel-scan", flag.ContinueOnError)
	cfgPath := fs.String("config", "pixel-scan.json", "path to a JSON or YAML config file")
	backend := fs.String("backend", "", "capture backend: "+strings.Join(append([]string{capture.BackendAuto}, capture.Backends()...), ", "))
	debugFlag := fs.Bool("debug", false, "log runtime memory and goroutine stats")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	tolerance := fs.Float64("tolerance", -1, "maximum color distance for a match")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Base config from file (or defaults), flags on top.
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backend
		case "debug":
			cfg.Debug = *debugFlag
		case "log-level":
			cfg.LogLevel = *logLevel
		case "tolerance":
			cfg.Tolerance = *tolerance
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	logger := NewLogger(os.Stdout, parseLevel(cfg.LogLevel), cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Debug {
		debug.StartGoroutineLogger(ctx, 5*time.Second, logger)
		debug.StartMemLogger(ctx, 5*time.Second, logger)
	}

	if err := scan(ctx, cfg, logger); err != nil {
		logger.Error("pixel-scan exited", "error", err)
		return 1
	}
	return 0
}

func scan(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	targets, err := cfg.TargetColors()
	if err != nil {
		return err
	}
	matcher, err := detect.NewMatcher(targets, cfg.Tolerance)
	if err != nil {
		return err
	}
	provider, err := capture.New(cfg.Backend, cfg.CaptureOptions(), logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	if err := analysis.InitializeProvider(ctx, provider, cfg.InitRetry(), logger); err != nil {
		return fmt.Errorf("initialize %s capture: %w", provider.Name(), err)
	}
	logger.Info("capture.ready", "backend", provider.Name(), "region", provider.Region())

	loop := analysis.NewLoop(provider, matcher, cfg.LoopOptions(), logger, nil)
	return loop.Run(ctx)
}
