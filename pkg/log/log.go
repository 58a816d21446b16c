package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Subsystems derive their own
// child via WithComponent instead of logging through it directly.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Config selects the output shape of the root logger
type Config struct {
	// Level names a zerolog level ("debug", "info", "warn", "error");
	// unknown or empty values fall back to info
	Level string
	// JSONOutput emits machine-readable lines; otherwise a console
	// writer formats for humans
	JSONOutput bool
	// Output defaults to stdout
	Output io.Writer
}

// Init rebuilds the root logger and sets the global level filter.
// Child loggers created before Init keep the previous output, so it
// runs before any component is constructed.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent derives the child logger a subsystem logs through,
// tagged with a component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
