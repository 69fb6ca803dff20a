package logger

import (
	"io"
	"os"
	"time"

	"ai-rivu-backend/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Initialize sets up the global logger
func Initialize(cfg config.LoggingConfig) {
	var output io.Writer = os.Stdout
	if cfg.Pretty {
		// Use pretty console output for development
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(output).With().Timestamp().Caller().Logger()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// Get returns the global logger
func Get() *zerolog.Logger {
	return &log.Logger
}
