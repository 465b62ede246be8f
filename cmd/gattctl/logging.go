package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/pkg/config"
)

// configureLogger creates a logger with the appropriate log level based on flags.
// --log-level takes precedence over --verbose, which takes precedence over the log level
// of an explicitly loaded configuration file. Without any of them the logger stays silent.
func configureLogger(cfg *config.Config, g *globalOptions) (*logrus.Logger, error) {
	// Default to panic level (essentially silent for normal operations)
	logLevel := logrus.PanicLevel

	switch {
	case g.logLevel != "":
		switch g.logLevel {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", g.logLevel)
		}
	case g.verbose:
		logLevel = logrus.DebugLevel
	case g.configPath != "":
		logLevel = cfg.LogLevel
	}

	lc := *cfg
	lc.LogLevel = logLevel
	return lc.NewLogger(), nil
}
