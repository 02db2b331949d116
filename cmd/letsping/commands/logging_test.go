package commands

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/MEKXH/letsping/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		config, override string
		want             slog.Level
	}{
		{"", "", slog.LevelInfo},
		{"debug", "", slog.LevelDebug},
		{"info", "warning", slog.LevelWarn},
		{"warn", "error", slog.LevelError},
		{"error", " ", slog.LevelError},
	}
	for _, tc := range cases {
		got, err := parseLogLevel(tc.config, tc.override)
		if err != nil {
			t.Fatalf("parseLogLevel(%q, %q): %v", tc.config, tc.override, err)
		}
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q, %q) = %v, want %v", tc.config, tc.override, got, tc.want)
		}
	}

	if _, err := parseLogLevel("verbose", ""); err == nil {
		t.Fatal("expected invalid level error")
	}
}

func TestConfigureLogger_WritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "letsping.log")
	cfg := config.DefaultConfig()
	cfg.Log.File = logPath
	t.Cleanup(func() {
		_ = configureLogger(config.DefaultConfig(), "", false)
	})

	if err := configureLogger(cfg, "debug", true); err != nil {
		t.Fatalf("configureLogger: %v", err)
	}
	slog.Debug("approval gate configured", "tool", "stripe_charge")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "tool=stripe_charge") {
		t.Fatalf("expected log line in file, got %q", data)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(logPath)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0600 {
			t.Fatalf("expected log mode 0600, got %v", info.Mode().Perm())
		}
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	if got := expandHome("~/logs/letsping.log"); got != filepath.Join(home, "logs", "letsping.log") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := expandHome("/var/log/letsping.log"); got != "/var/log/letsping.log" {
		t.Fatalf("expected absolute path to be kept, got %q", got)
	}
	if got := expandHome(""); got != "" {
		t.Fatalf("expected empty path to stay empty, got %q", got)
	}
}
