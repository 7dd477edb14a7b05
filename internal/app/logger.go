package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogctx "github.com/veqryn/slog-context"
)

// LogFileName is the log file the bootstrap writes to when a log directory
// is configured.
const LogFileName = "NekoShopApp.log"

// NewLogger returns a JSON logger on w. Attributes stored in a context with
// slogctx.Append or slogctx.Prepend are added to every record logged with
// that context.
func NewLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(slogctx.NewHandler(h, nil))
}

// OpenLogFile opens (creating if needed) path for appending. When path is a
// directory, LogFileName inside it is used.
func OpenLogFile(path string) (*os.File, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, LogFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
