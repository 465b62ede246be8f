package testutils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewTestLogger returns a debug-level logger for mocked sessions. Setting GATTKIT_TEST_QUIET
// raises the level to warnings.
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.SetLevel(logrus.DebugLevel)
	if os.Getenv("GATTKIT_TEST_QUIET") != "" {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}
