// Package logging configures the zerolog logger shared by the poller and
// derives the per-component, per-cycle and per-contract child loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Service, when set, is attached to every line as "service".
	Service string
}

// ParseLevel maps a level name to zerolog. Names are case-insensitive and
// "warning" is accepted for warn.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// Setup configures the global zerolog logger. An unknown level falls back
// to info; config validation reports it before Setup is reached.
func Setup(cfg Config) zerolog.Logger {
	level, _ := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()

	return log.Logger
}

// NewLogger returns a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForCycle tags logger with a poll cycle ID.
func ForCycle(logger zerolog.Logger, cycleID string) zerolog.Logger {
	return logger.With().Str("cycle_id", cycleID).Logger()
}

// ForContract tags logger with an account contract. An empty contract
// (account-scope resources) leaves the logger unchanged.
func ForContract(logger zerolog.Logger, accountContract string) zerolog.Logger {
	if accountContract == "" {
		return logger
	}
	return logger.With().Str("account_contract", accountContract).Logger()
}

// MaskUsername hides the local part of an account e-mail for log output,
// keeping the first character: "jane@example.com" becomes "j***@example.com".
func MaskUsername(username string) string {
	at := strings.LastIndex(username, "@")
	if at <= 0 {
		if username == "" {
			return ""
		}
		return username[:1] + "***"
	}
	return username[:1] + "***" + username[at:]
}

// Levels in use:
//
//	debug  request flow, token obtained, snapshot reads and writes
//	info   cycle completion, reading submissions, recoveries, startup
//	warn   a resource served from its snapshot, pagination cut short
//	error  login failures, non-401 HTTP errors, persistent 401, resources down
//
// Common fields: component, cycle_id, account_contract, resource, method,
// url, status, error_class, page.
