package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/config"
)

// NewLogger creates the daemon's structured zerolog.Logger with the level
// taken from config. Unparseable levels fall back to info.
func NewLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "backupd").
		Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
