package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"motioncor/internal/config"
)

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("job", "j1").WithGroup("pass").Info("pass complete", "n", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %q", out)
	}
	if !strings.Contains(out, "[INFO] pass complete [job=j1 pass.n=2]") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestSetupWritesDatedFileAndSymlink(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Logging.LogDir = dir
	cfg.Logging.FileOutput = true

	var stdout bytes.Buffer
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	logger, err := setup(cfg, &stdout, now)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Info("hello")

	body, err := os.ReadFile(filepath.Join(dir, "motioncor-2026-03-14.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(body), "hello") || !strings.Contains(stdout.String(), "hello") {
		t.Fatalf("expected message in file and stdout")
	}
	target, err := os.Readlink(filepath.Join(dir, "motioncor-current.log"))
	if err != nil || target != "motioncor-2026-03-14.log" {
		t.Fatalf("unexpected symlink %q (%v)", target, err)
	}
}
