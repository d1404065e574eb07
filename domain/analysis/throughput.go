package analysis

import "time"

// throughputMeter counts cycles in a rolling window and yields cycles per
// second once the window has elapsed.
type throughputMeter struct {
	interval time.Duration
	start    time.Time
	count    int
}

func newThroughputMeter(interval time.Duration) *throughputMeter {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &throughputMeter{interval: interval}
}

func (m *throughputMeter) reset(now time.Time) {
	m.start = now
	m.count = 0
}

// tick records one completed cycle at now.
func (m *throughputMeter) tick(now time.Time) (float64, bool) {
	if m.start.IsZero() {
		m.start = now
	}
	m.count++
	elapsed := now.Sub(m.start)
	if elapsed < m.interval {
		return 0, false
	}
	fps := float64(m.count) / elapsed.Seconds()
	m.reset(now)
	return fps, true
}
