package config

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Tolerance != DefaultTolerance || cfg.RegionW != 40 || cfg.MaxAttempts != 5 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Center() != nil {
		t.Fatalf("default center should follow the display")
	}
}

func TestLoad_JSONAndClamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	body := `{"backend":"X11","tolerance":-3,"max_attempts":0,"center_x":100,"center_y":200,"targets":["#00FF00"]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != "x11" {
		t.Fatalf("backend not normalized: %q", cfg.Backend)
	}
	if cfg.Tolerance != DefaultTolerance || cfg.MaxAttempts != 5 {
		t.Fatalf("values not clamped: tol=%v attempts=%d", cfg.Tolerance, cfg.MaxAttempts)
	}
	if c := cfg.Center(); c == nil || *c != image.Pt(100, 200) {
		t.Fatalf("unexpected center %v", c)
	}
	cols, err := cfg.TargetColors()
	if err != nil || len(cols) != 1 || cols[0].G != 0xFF {
		t.Fatalf("unexpected targets %v %v", cols, err)
	}
	// untouched fields keep their defaults
	if cfg.FrameTimeoutMS != 100 {
		t.Fatalf("frame timeout default lost: %d", cfg.FrameTimeoutMS)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "region_w: 20\nregion_h: 10\ntimeout_delay_ms: 25\ntargets:\n  - \"234,35,1\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	opts := cfg.CaptureOptions()
	if opts.Size != image.Pt(20, 10) || opts.Center != nil {
		t.Fatalf("unexpected capture options %+v", opts)
	}
	if lo := cfg.LoopOptions(); lo.TimeoutDelay != 25*time.Millisecond || lo.ErrorDelay != 100*time.Millisecond {
		t.Fatalf("unexpected loop options %+v", lo)
	}
}

func TestLoad_BadTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"targets":["#GG0000"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for bad target color")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"cfg.json", "cfg.yml"} {
		cfg := DefaultConfig()
		cfg.Tolerance = 22
		cfg.Backend = "screenshot"
		path := filepath.Join(dir, name)
		if err := cfg.Save(path); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		got, err := Load(path)
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if got.Tolerance != 22 || got.Backend != "screenshot" || len(got.Targets) != 4 {
			t.Fatalf("%s: round trip mismatch %+v", name, got)
		}
	}
}

func TestInitRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitRetries = 0
	cfg.InitDelayMS = 250
	r := cfg.InitRetry()
	if r.MaxRetries != 0 || r.BaseDelay != 250*time.Millisecond {
		t.Fatalf("unexpected retry config %+v", r)
	}
}
