package util

import (
	"github.com/rs/zerolog"
)

// Logger routes the internal logs of the embedded databases to zerolog. It satisfies both
// badger.Logger and pebble.Logger.
type Logger struct {
	log zerolog.Logger
}

// NewLogger returns a Logger tagging every entry with the database name.
func NewLogger(logger zerolog.Logger, db string) *Logger {
	return &Logger{
		log: logger.With().Str("component", "storage").Str("db", db).Logger(),
	}
}

func (l *Logger) Errorf(msg string, args ...interface{}) {
	l.log.Error().Msgf(msg, args...)
}

func (l *Logger) Warningf(msg string, args ...interface{}) {
	l.log.Warn().Msgf(msg, args...)
}

func (l *Logger) Infof(msg string, args ...interface{}) {
	l.log.Info().Msgf(msg, args...)
}

func (l *Logger) Debugf(msg string, args ...interface{}) {
	l.log.Debug().Msgf(msg, args...)
}

// Fatalf is called by pebble on unrecoverable corruption; it logs and exits the process.
func (l *Logger) Fatalf(msg string, args ...interface{}) {
	l.log.Fatal().Msgf(msg, args...)
}
