package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupEnvironment loads .env file and configures zerolog output and log level.
func setupEnvironment() {
	// Load .env file if it exists
	err := godotenv.Load()

	var out io.Writer = os.Stderr
	if os.Getenv("ENV") != "production" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	// LOG_FILE adds a rotating JSON log next to the terminal output
	if path := os.Getenv("LOG_FILE"); path != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	log.Logger = log.Output(out)

	levelStr := strings.ToLower(os.Getenv("LOGLEVEL"))
	level, ok := logLevel(levelStr, os.Getenv("ENV") == "production")
	zerolog.SetGlobalLevel(level)
	if !ok {
		log.Warn().Msgf("Unknown LOGLEVEL '%s', defaulting to info.", levelStr)
	}

	// wait until now to report on the .env file so we have the chance to set up logging first
	if err == nil {
		log.Debug().Msg("Loaded environment variables from .env file.")
	} else {
		log.Debug().Msg("No .env file found or error loading .env file; proceeding with existing environment variables.")
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"fatal":    zerolog.FatalLevel,
	"panic":    zerolog.PanicLevel,
	"disabled": zerolog.Disabled,
}

// logLevel maps a LOGLEVEL value to a zerolog level. An empty value defaults
// to warn in production and info elsewhere; unknown values report false.
func logLevel(name string, production bool) (zerolog.Level, bool) {
	if name == "" {
		if production {
			return zerolog.WarnLevel, true
		}
		return zerolog.InfoLevel, true
	}
	level, ok := logLevels[name]
	if !ok {
		return zerolog.InfoLevel, false
	}
	return level, true
}
