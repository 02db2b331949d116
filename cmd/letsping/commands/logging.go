package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MEKXH/letsping/internal/config"
)

// logFile is the currently open log destination, reused across
// reconfigurations that keep the same path.
var logFile struct {
	sync.Mutex
	f *os.File
}

// configureLogger installs the default slog logger. The waiting screen owns
// the terminal, so in TUI mode logs go to the configured file or nowhere.
func configureLogger(cfg *config.Config, overrideLevel string, tuiMode bool) error {
	level, err := parseLogLevel(cfg.Log.Level, overrideLevel)
	if err != nil {
		return err
	}

	sink, err := logSink(expandHome(strings.TrimSpace(cfg.Log.File)), tuiMode)
	if err != nil {
		return err
	}

	handler := slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With("app", "letsping"))
	return nil
}

func logSink(path string, tuiMode bool) (io.Writer, error) {
	logFile.Lock()
	defer logFile.Unlock()

	if logFile.f != nil && logFile.f.Name() != path {
		_ = logFile.f.Close()
		logFile.f = nil
	}

	switch {
	case path != "":
		if logFile.f == nil {
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("open log file: %w", err)
			}
			logFile.f = f
		}
		return logFile.f, nil
	case tuiMode:
		return io.Discard, nil
	default:
		return os.Stderr, nil
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// parseLogLevel resolves the effective level; a non-blank override wins.
func parseLogLevel(configLevel, override string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(override))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(configLevel))
	}

	levels := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	level, ok := levels[name]
	if !ok {
		return 0, fmt.Errorf("invalid log level: %s", name)
	}
	return level, nil
}
