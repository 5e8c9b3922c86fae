package logger

import corelogger "github.com/aquamarket/dispatch/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// New returns a Logger for the given component. Format follows APP_ENV and
// the level follows LOG_LEVEL.
func New(component string) Logger {
	return NewZerologLogger(component)
}
