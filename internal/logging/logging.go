// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configure the global logger.
type Options struct {
	Debug  bool
	Format string
	// Out defaults to stderr.
	Out io.Writer
}

var debugEnabled bool

// Init initializes the global logger with console output on stderr.
func Init(debug bool) {
	_ = Setup(Options{Debug: debug})
}

// Setup initializes the global logger. Console output is used when Format is
// empty; JSON output carries a timestamp per line for log shippers.
func Setup(opts Options) error {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var logger zerolog.Logger
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	case FormatJSON:
		logger = zerolog.New(out)
	default:
		return fmt.Errorf("unknown log format %q", opts.Format)
	}

	debugEnabled = opts.Debug
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = logger.With().Timestamp().Logger()
	return nil
}

// DebugEnabled reports whether debug logging is enabled.
func DebugEnabled() bool {
	return debugEnabled
}
