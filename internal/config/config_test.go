package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("MOTIONCOR_CONFIG", filepath.Join(t.TempDir(), "absent.json"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Motion.Passes != 3 || cfg.Correction.DefaultProcessor != "hierarchical" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.Motion.Anchor || !cfg.Motion.SuppressOrigin {
		t.Fatalf("anchor and origin suppression should default on")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"motion": {"passes": 5, "workers": 3, "align_timeout": "2s", "anchor": false},
	          "server": {"http_addr": ":9999"},
	          "watch": {"dirs": ["/data/movies"], "settle": "250ms"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOTIONCOR_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9999" || cfg.Server.GRPCAddr != ":9090" {
		t.Fatalf("unexpected server section %+v", cfg.Server)
	}
	if cfg.SettleDuration() != 250*time.Millisecond {
		t.Fatalf("unexpected settle %v", cfg.SettleDuration())
	}

	opts, err := cfg.MotionOptions()
	if err != nil {
		t.Fatalf("motion options: %v", err)
	}
	if opts.Passes != 5 || opts.Workers != 3 || opts.AlignTimeout != 2*time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.Anchor {
		t.Fatalf("expected anchor disabled")
	}
	if opts.SearchRadius != 192 || opts.FineLowPass != 0.12 {
		t.Fatalf("untouched fields must keep defaults, got %+v", opts)
	}
}

func TestMotionOptionsSkipThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"motion": {"skip_threshold": 0}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	opts, err := cfg.MotionOptions()
	if err != nil {
		t.Fatalf("motion options: %v", err)
	}
	if opts.SkipThreshold != 0 {
		t.Fatalf("skip_threshold 0 should disable skipping, got %v", opts.SkipThreshold)
	}

	opts, err = Default().MotionOptions()
	if err != nil {
		t.Fatalf("motion options: %v", err)
	}
	if opts.SkipThreshold != 2 {
		t.Fatalf("expected default threshold 2, got %v", opts.SkipThreshold)
	}
}

func TestMotionOptionsRejectsBadTimeout(t *testing.T) {
	cfg := Default()
	cfg.Motion.AlignTimeout = "soon"
	if _, err := cfg.MotionOptions(); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

func TestLoadFileBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandUser("~/x/y.json")
	if err != nil || got != filepath.Join(home, "x/y.json") {
		t.Fatalf("unexpected expansion %q (%v)", got, err)
	}
	if got, _ := expandUser("/abs"); got != "/abs" {
		t.Fatalf("absolute paths must pass through")
	}
}
