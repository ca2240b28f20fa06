// Package logger provides charmbracelet/log loggers for titleserve components.
// Everything goes to stderr: stdout carries the IPC stream.
package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

var output io.Writer = os.Stderr

// SetOutput changes where loggers created afterwards write to.
func SetOutput(w io.Writer) {
	output = w
	log.SetOutput(w)
}

// New creates a prefixed logger that follows the global log level.
func New(prefix string) *log.Logger {
	return log.NewWithOptions(output, log.Options{
		Prefix:          prefix,
		ReportCaller:    false,
		ReportTimestamp: log.GetLevel() <= log.DebugLevel,
		Formatter:       log.TextFormatter,
		Level:           log.GetLevel(),
	})
}

// NewWithConfig creates a charm logger with custom options.
func NewWithConfig(prefix string, level log.Level, caller bool, showTimestamp bool, fmt log.Formatter) *log.Logger {
	return log.NewWithOptions(output, log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportCaller:    caller,
		ReportTimestamp: showTimestamp,
		Formatter:       fmt,
	})
}

// Setup configures the global logger for the process.
func Setup(debug bool) {
	log.SetOutput(output)
	if debug {
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
		return
	}
	log.SetLevel(log.WarnLevel)
	log.SetReportTimestamp(false)
}
