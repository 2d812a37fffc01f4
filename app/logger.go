package app

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
)

// newLogger returns an slog.Logger rendered by a charm log handler on w.
// verbose forces debug level.
func newLogger(w io.Writer, level string, verbose bool) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "acegen",
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
	return slog.New(handler), nil
}
