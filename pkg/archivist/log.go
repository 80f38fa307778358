package archivist

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the console logger shared by the CLI and the
// library tests: RFC3339 timestamps, no colour, tagged with the tool
// name so archive runs are attributable in mixed pipeline logs.
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("tool", "archivist").
		Logger()
}

// VerbosityLevel maps a repeatable -v flag count onto a log level.
// The default is warnings only, so a clean run prints nothing.
func VerbosityLevel(verbose int) zerolog.Level {
	switch verbose {
	case 0:
		return zerolog.WarnLevel
	case 1:
		return zerolog.InfoLevel
	case 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// NewVerboseLogger builds a console logger directly from a -v count.
func NewVerboseLogger(w io.Writer, verbose int) zerolog.Logger {
	return NewLogger(w, VerbosityLevel(verbose))
}

// OpLogger derives a child logger scoped to one long-running
// operation over one tree. Every line emitted while archiving,
// copying or unpacking carries the operation name and the path it
// works on, so interleaved failures stay attributable.
func OpLogger(log zerolog.Logger, op, path string) zerolog.Logger {
	return log.With().Str("op", op).Str("path", path).Logger()
}

// DefaultLogger returns the stderr warn-level logger used when a
// caller does not supply one.
func DefaultLogger() zerolog.Logger {
	return NewLogger(os.Stderr, zerolog.WarnLevel)
}
