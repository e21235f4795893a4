package worker

import "errors"

// Error taxonomy surfaced to meta-tool callers. Every layer wraps one of
// these sentinels (or returns a *CallError) so the session layer can map
// failures onto plain-text tool results without string matching.
var (
	ErrBadInput       = errors.New("bad input")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrSpawnFailed    = errors.New("spawn failed")
	ErrNotConnected   = errors.New("not connected")
	ErrNotRunning     = errors.New("not running")
	ErrAlreadyRunning = errors.New("already running")
	ErrTimeout        = errors.New("timeout")
	ErrCancelled      = errors.New("cancelled")
	ErrProtected      = errors.New("protected")
)

// CallError is a structured error reported by the worker itself in a
// tool-call response, as opposed to a transport or supervisor failure.
type CallError struct {
	Message string
}

func (e *CallError) Error() string {
	return "worker error: " + e.Message
}
