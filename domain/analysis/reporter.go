package analysis

import (
	"image"
	"log/slog"

	"github.com/soocke/pixel-scan-go/domain/detect"
)

// Report is the published result of one scanned frame.
type Report struct {
	Found bool
	// Point is in absolute display coordinates.
	Point    image.Point
	Color    detect.Pixel
	Region   image.Rectangle
	Sequence uint64
	Attempts int
}

// Reporter receives cycle results and throughput figures.
type Reporter interface {
	Result(Report)
	Throughput(fps float64, stats Stats)
}

// LogReporter writes one record per match and per throughput window.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Result(rep Report) {
	if !rep.Found {
		r.logger.Debug("no_match", "seq", rep.Sequence, "region", rep.Region)
		return
	}
	r.logger.Info("match",
		"x", rep.Point.X,
		"y", rep.Point.Y,
		"color", rep.Color.String(),
		"seq", rep.Sequence,
	)
}

func (r *LogReporter) Throughput(fps float64, stats Stats) {
	r.logger.Info("throughput",
		slog.Float64("fps", fps),
		slog.Uint64("cycles", stats.Cycles),
		slog.Uint64("matches", stats.Matches),
		slog.Uint64("skipped", stats.Skipped),
		slog.Uint64("scan_failures", stats.ScanFailures),
		slog.Uint64("reinits", stats.Reinits),
		slog.Duration("avg_cycle", stats.AvgCycle),
	)
}
