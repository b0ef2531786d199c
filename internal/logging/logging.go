// Package logging configures the process-wide zerolog logger used by every
// component in this module. Call Init once at process start; everywhere
// else, use zerolog/log's package-level logger directly.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the global logger's level and output shape.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output io.Writer
}

func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "console", Output: os.Stderr}
}

// Init installs the global zerolog logger used across the module.
func Init(cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = cfg.Output
	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
}

// For mirrors the teacher's convention of deriving a component-scoped
// sub-logger rather than passing *zerolog.Logger around by value.
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
