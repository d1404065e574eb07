package config

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soocke/pixel-scan-go/domain/analysis"
	"github.com/soocke/pixel-scan-go/domain/capture"
	"github.com/soocke/pixel-scan-go/domain/detect"
)

// Config holds runtime configuration for capture, detection and the loop.
// Fields may be loaded from a JSON or YAML file and overridden by
// command-line flags.
type Config struct {
	Debug   bool   `json:"debug" yaml:"debug"`
	Backend string `json:"backend" yaml:"backend"`
	Display string `json:"display,omitempty" yaml:"display,omitempty"`

	// Capture region, centered on (CenterX, CenterY); -1 selects the display
	// center on that axis.
	RegionW int `json:"region_w" yaml:"region_w"`
	RegionH int `json:"region_h" yaml:"region_h"`
	CenterX int `json:"center_x" yaml:"center_x"`
	CenterY int `json:"center_y" yaml:"center_y"`

	// Detection parameters
	Targets   []string `json:"targets" yaml:"targets"`
	Tolerance float64  `json:"tolerance" yaml:"tolerance"`

	// Acquisition retry policy
	FrameTimeoutMS  int `json:"frame_timeout_ms" yaml:"frame_timeout_ms"`
	TimeoutDelayMS  int `json:"timeout_delay_ms" yaml:"timeout_delay_ms"`
	ErrorDelayMS    int `json:"error_delay_ms" yaml:"error_delay_ms"`
	MaxAttempts     int `json:"max_attempts" yaml:"max_attempts"`
	MaxReinits      int `json:"max_reinits" yaml:"max_reinits"`
	StatsIntervalMS int `json:"stats_interval_ms" yaml:"stats_interval_ms"`
	InitRetries     int `json:"init_retries" yaml:"init_retries"`
	InitDelayMS     int `json:"init_delay_ms" yaml:"init_delay_ms"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// DefaultTargets are the reference reds the scanner looks for.
var DefaultTargets = []string{"#EA2301", "#DA0901", "#E34535", "#E34535"}

const DefaultTolerance = 15

// DefaultConfig returns a Config populated with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug:           false,
		Backend:         capture.BackendAuto,
		RegionW:         capture.DefaultRegionSize,
		RegionH:         capture.DefaultRegionSize,
		CenterX:         -1,
		CenterY:         -1,
		Targets:         append([]string(nil), DefaultTargets...),
		Tolerance:       DefaultTolerance,
		FrameTimeoutMS:  int(analysis.DefaultFrameTimeout / time.Millisecond),
		TimeoutDelayMS:  int(analysis.DefaultTimeoutDelay / time.Millisecond),
		ErrorDelayMS:    int(analysis.DefaultErrorDelay / time.Millisecond),
		MaxAttempts:     analysis.DefaultMaxAttempts,
		MaxReinits:      analysis.DefaultMaxReinits,
		StatsIntervalMS: int(analysis.DefaultStatsInterval / time.Millisecond),
		InitRetries:     analysis.DefaultInitRetries,
		InitDelayMS:     int(analysis.DefaultInitDelay / time.Millisecond),
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Validate clamps/normalizes values to safe ranges. It fails only when a
// target color cannot be parsed.
func (c *Config) Validate() error {
	d := DefaultConfig()
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.RegionW <= 0 {
		c.RegionW = d.RegionW
	}
	if c.RegionH <= 0 {
		c.RegionH = d.RegionH
	}
	if c.CenterX < 0 || c.CenterY < 0 {
		c.CenterX, c.CenterY = -1, -1
	}
	if len(c.Targets) == 0 {
		c.Targets = d.Targets
	}
	if c.Tolerance < 0 {
		c.Tolerance = d.Tolerance
	}
	if c.FrameTimeoutMS < 0 {
		c.FrameTimeoutMS = d.FrameTimeoutMS
	}
	if c.TimeoutDelayMS < 0 {
		c.TimeoutDelayMS = d.TimeoutDelayMS
	}
	if c.ErrorDelayMS < 0 {
		c.ErrorDelayMS = d.ErrorDelayMS
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxReinits <= 0 {
		c.MaxReinits = d.MaxReinits
	}
	if c.StatsIntervalMS <= 0 {
		c.StatsIntervalMS = d.StatsIntervalMS
	}
	if c.InitRetries < 0 {
		c.InitRetries = d.InitRetries
	}
	if c.InitDelayMS <= 0 {
		c.InitDelayMS = d.InitDelayMS
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	_, err := c.TargetColors()
	return err
}

// TargetColors parses Targets in order.
func (c *Config) TargetColors() ([]detect.Pixel, error) {
	out := make([]detect.Pixel, 0, len(c.Targets))
	for i, s := range c.Targets {
		p, err := detect.ParseColor(s)
		if err != nil {
			return nil, fmt.Errorf("config: targets[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Center returns the configured capture center, or nil for the display
// center.
func (c *Config) Center() *image.Point {
	if c.CenterX < 0 || c.CenterY < 0 {
		return nil
	}
	return &image.Point{X: c.CenterX, Y: c.CenterY}
}

func (c *Config) CaptureOptions() capture.Options {
	return capture.Options{
		Size:    image.Pt(c.RegionW, c.RegionH),
		Center:  c.Center(),
		Display: c.Display,
	}
}

func (c *Config) LoopOptions() analysis.Options {
	return analysis.Options{
		FrameTimeout:  ms(c.FrameTimeoutMS),
		TimeoutDelay:  ms(c.TimeoutDelayMS),
		ErrorDelay:    ms(c.ErrorDelayMS),
		MaxAttempts:   c.MaxAttempts,
		MaxReinits:    c.MaxReinits,
		StatsInterval: ms(c.StatsIntervalMS),
	}
}

func (c *Config) InitRetry() analysis.RetryConfig {
	r := analysis.DefaultRetryConfig()
	r.MaxRetries = c.InitRetries
	r.BaseDelay = ms(c.InitDelayMS)
	return r
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load attempts to read configuration from the given JSON or YAML file path.
// If the file does not exist it returns DefaultConfig(). On a decode error
// it returns defaults with the error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	loaded := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, loaded)
	} else {
		err = json.Unmarshal(data, loaded)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := loaded.Validate(); err != nil {
		return cfg, err
	}
	return loaded, nil
}

// Save writes the configuration to the given path, as YAML for .yaml/.yml
// paths and JSON otherwise.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
