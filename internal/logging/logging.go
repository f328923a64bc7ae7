// Package logging configures the global zerolog logger and provides the
// security/audit event helper used on every failure path.
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

// Severity is the audit severity attached to a security event. It is kept
// separate from the zerolog level because zerolog has no CRITICAL.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Level maps the severity onto the zerolog level used to emit it.
func (s Severity) Level() zerolog.Level {
	switch s {
	case SeverityWarning:
		return zerolog.WarnLevel
	case SeverityError, SeverityCritical:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel accepts DEBUG, INFO, WARNING (or WARN), ERROR and CRITICAL.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "", "INFO":
		return zerolog.InfoLevel, nil
	case "WARNING", "WARN":
		return zerolog.WarnLevel, nil
	case "ERROR", "CRITICAL":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Setup installs the global logger. Format "console" gives human-readable
// output; anything else writes one JSON object per line.
func Setup(level, format string) error {
	return SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(lvl)

	out := w
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// SecurityEvent starts a structured audit entry. Callers add context fields
// (request_id, client_ip, path) and finish with Msg.
func SecurityEvent(eventType string, sev Severity) *zerolog.Event {
	return log.WithLevel(sev.Level()).
		Str("logger", "security").
		Str("event_type", eventType).
		Str("severity", string(sev))
}
