package cmds

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global logger. Console output is colored only when
// stderr is a terminal.
func InitLogger(level, format string) error {
	w, err := logWriter(format, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(parseZerologLevel(level))
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

func logWriter(format string, out io.Writer, terminal bool) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: !terminal}, nil
	case "json":
		return out, nil
	default:
		return nil, errors.Errorf("unknown log format %q (want console or json)", format)
	}
}

// parseZerologLevel converts a string level into zerolog.Level with a safe default
func parseZerologLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "info":
		fallthrough
	default:
		return zerolog.InfoLevel
	}
}
