// Package logging builds the charm logger the explorer reports its
// progress to. Level, prefix and destination come from LIFTER_LOG_*
// variables so a run can be traced without changing flags.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser is a logger that owns its destination. Close releases a log
// file; it never closes the process's standard streams.
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps a LIFTER_LOG_LEVEL value to a log level. Unknown values
// select info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	}
	return log.InfoLevel
}

// NewLoggerWithWriter logs to w. The interactive browser passes
// io.Discard, since lines written to the terminal would tear its screen.
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(ParseLevel(os.Getenv("LIFTER_LOG_LEVEL")))

	prefix := os.Getenv("LIFTER_LOG_PREFIX")
	if prefix == "" {
		prefix = "lifter "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger logs to stderr, or to lifter-<timestamp>-debug.log in the
// working directory when LIFTER_LOG_TO_FILE=1. That file is also the only
// way to see explorer logs while the browser is running.
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)

	if os.Getenv("LIFTER_LOG_TO_FILE") == "1" {
		timestamp := time.Now().Format("20060102-150405")
		logFile := fmt.Sprintf("lifter-%s-debug.log", timestamp)

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
	}

	return NewLoggerWithWriter(output)
}

// IsDebug reports whether LIFTER_LOG_LEVEL asks for split and
// invalid-exit details.
func IsDebug() bool {
	return ParseLevel(os.Getenv("LIFTER_LOG_LEVEL")) == log.DebugLevel
}
