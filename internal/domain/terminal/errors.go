package terminal

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID       = errors.New("invalid session id")
	ErrTooManySessions = errors.New("too many live terminal sessions")
	ErrShuttingDown    = errors.New("terminal manager is shutting down")
	ErrCwdNotAllowed   = errors.New("working directory not allowed")
	ErrNotReady        = errors.New("provider CLI is not installed")
)

// ErrorKind classifies why a session never reached Running
type ErrorKind string

const (
	KindResolution ErrorKind = "resolution"
	KindPreflight  ErrorKind = "preflight"
	KindSpawn      ErrorKind = "spawn"
	KindCanceled   ErrorKind = "canceled"
)

// SpawnError is returned by EnsureRunning when the session ends in Exited
// without a process having run.
type SpawnError struct {
	Kind          ErrorKind
	SessionID     string
	ProviderID    string
	InstallOutput string
	Err           error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("terminal %s (%s): %s failed: %v", e.SessionID, e.ProviderID, e.Kind, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsSpawnError reports whether err carries a SpawnError of the given kind
func IsSpawnError(err error, kind ErrorKind) bool {
	var se *SpawnError
	return errors.As(err, &se) && se.Kind == kind
}
