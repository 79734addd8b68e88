package terminal

import (
	"errors"
	"fmt"
)

// Sentinel errors for the terminal package.
var (
	// ErrDuplicateID is returned when a caller-supplied id is already live.
	ErrDuplicateID = errors.New("terminal id already exists")

	// ErrUnknownSession is returned when a request names an id with no live session.
	ErrUnknownSession = errors.New("unknown terminal session")

	// ErrClosedHandle is returned when an operation races with process exit.
	ErrClosedHandle = errors.New("terminal process has exited")

	// ErrInvalidSize is returned for zero column or row counts.
	ErrInvalidSize = errors.New("invalid terminal size")

	// ErrShellNotFound is returned when the shell executable cannot be resolved.
	ErrShellNotFound = errors.New("shell not found")

	// ErrMultiplexerClosed is returned when requests arrive after shutdown.
	ErrMultiplexerClosed = errors.New("terminal multiplexer is closed")
)

// SpawnError reports a failure to start the shell process for a session.
type SpawnError struct {
	ID    string
	Shell string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s for %s: %v", e.Shell, e.ID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsBenign reports whether err only reflects a process that already exited.
// Such errors are expected while an exit notification is still in flight.
func IsBenign(err error) bool {
	return errors.Is(err, ErrClosedHandle)
}
