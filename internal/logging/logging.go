// Package logging builds the process-wide zap logger and per-component
// child loggers.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger. debug selects the human-readable development
// encoder; otherwise the JSON production encoder is used.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Component returns a child logger scoped to name, mirroring the
// `[component]` log-line prefix convention with a structured field instead
// of a string prefix.
func Component(base *zap.Logger, name string) *zap.Logger {
	return base.Named(name)
}
