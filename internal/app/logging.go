package app

import (
	"fmt"

	"textreplacer/internal/config"
	"textreplacer/internal/logging"
)

// LoggerConfig converts the [logging] section into a logging.Config.
func LoggerConfig(c config.LoggingConfig) (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return nil, fmt.Errorf("logging.format: %w", err)
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	if c.Output != "" {
		lc.Output = c.Output
	}
	if c.FilePath != "" {
		lc.FilePath = c.FilePath
	}
	if c.MaxSizeMB > 0 {
		lc.MaxSize = int64(c.MaxSizeMB)
	}
	lc.MaxBackups = c.MaxBackups
	lc.MaxAge = c.MaxAgeDays
	lc.Compress = c.Compress
	lc.LogReplacements = c.LogReplacements
	return lc, nil
}

// NewLogger builds the daemon logger from the [logging] section.
func NewLogger(c config.LoggingConfig) (*logging.Logger, error) {
	lc, err := LoggerConfig(c)
	if err != nil {
		return nil, err
	}
	return logging.New(lc)
}
