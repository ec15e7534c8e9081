package modem

import "errors"

var (
	// ErrMissingIdentity means the station callsign is empty. No engine
	// I/O happens before this is checked.
	ErrMissingIdentity = errors.New("station callsign is not configured")

	// ErrChannelClosed means a send was attempted on a channel whose
	// connection is gone.
	ErrChannelClosed = errors.New("channel is closed")

	// ErrUnknownMode means no engine implementation is registered for
	// the requested mode.
	ErrUnknownMode = errors.New("unknown modem mode")

	// ErrNotRunning means an operation requires a started engine.
	ErrNotRunning = errors.New("modem engine is not running")
)
