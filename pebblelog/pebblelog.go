// Package pebblelog is the structured logging collaborator every
// other package logs through: the server loop, the transport channels,
// the middleware, the client and the naming registry all call L() rather than building
// their own *zap.Logger, so swapping the sink (or the level) is one
// call to SetLogger.
package pebblelog

import (
	"go.uber.org/zap"
)

var sugar = mustNop()

func mustNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// L returns the process-wide logger. Safe to call before SetLogger;
// it starts out discarding everything.
func L() *zap.SugaredLogger { return sugar }

// SetLogger installs logger as the process-wide logger. Call it once
// during startup, typically with a *zap.Logger built from config
// (production JSON encoding, or a development console encoder for
// local runs).
func SetLogger(logger *zap.Logger) {
	sugar = logger.Sugar()
}

// NewDevelopment builds and installs a human-readable console logger,
// the one tests and local `control_client` runs want.
func NewDevelopment() error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	SetLogger(logger)
	return nil
}

// NewProduction builds and installs a JSON-encoded logger suitable
// for a long-running server process.
func NewProduction() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	SetLogger(logger)
	return nil
}
