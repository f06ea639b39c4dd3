package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	log  zerolog.Logger
	once sync.Once
)

// Init configures the global logger. Console output in development,
// JSON everywhere else.
func Init(level, environment string) {
	once.Do(func() {
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			lvl = zerolog.InfoLevel
		}

		if environment == "development" {
			log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(lvl).
				With().Timestamp().Logger()
			return
		}

		log = zerolog.New(os.Stderr).
			Level(lvl).
			With().Timestamp().Logger()
	})
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &log
}
