// Package logger wraps github.com/rs/zerolog behind package-level Infof/Warnf/
// Errorf helpers against a shared global logger, plus a Code helper that emits
// the machine-readable codes (REJECTED, SKIP, EQUITY_DRIFT_DETECTED,
// INVARIANT_VIOLATION, …) as typed zerolog fields rather than only in free text.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var log = newDefault()

func newDefault() zerolog.Logger {
	format := os.Getenv("LOG_FORMAT")
	var w = os.Stdout
	if format == "json" {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(console).With().Timestamp().Logger()
}

// Init replaces the package logger, used by cmd/tradecycle to apply a configured
// level before the cycle loop starts.
func Init(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log = log.Level(lvl)
}

func Infof(format string, args ...interface{})  { log.Info().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { log.Warn().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { log.Error().Msgf(format, args...) }
func Info(msg string)                           { log.Info().Msg(msg) }
func Warn(msg string)                           { log.Warn().Msg(msg) }
func Error(msg string)                          { log.Error().Msg(msg) }

// Code logs msg at level with a structured "code" field carrying one of the
// machine-readable taxonomy members (REJECTED, SKIP, EQUITY_DRIFT_DETECTED,
// INVARIANT_VIOLATION, PROFIT_LADDER_HIT, STOP_LOSS_HIT, …), plus arbitrary extra
// structured fields. Level must be "info", "warn", or "error"; anything else logs
// at info.
func Code(level, code, msg string, fields map[string]interface{}) {
	var ev *zerolog.Event
	switch level {
	case "warn":
		ev = log.Warn()
	case "error":
		ev = log.Error()
	default:
		ev = log.Info()
	}
	ev = ev.Str("code", code)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
