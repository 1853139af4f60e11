package logger

import (
	"os"

	"github.com/lumenwatch/ingestd/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger. JSON output in production,
// a human-readable console writer in development.
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out interface {
		Write([]byte) (int, error)
	} = os.Stderr
	if cfg.Env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
