package terminal

import (
	"fmt"
	"time"
)

// Session is the bookkeeping for one spawned shell. The multiplexer loop is the
// only goroutine that reads or mutates it.
type Session struct {
	ID         string
	Shell      string
	WorkingDir string
	Env        map[string]string
	Cols       uint16
	Rows       uint16
	StartedAt  time.Time

	state    State
	handle   Handle
	exitCode *int

	// killRequested records that a kill request is waiting for the exit event.
	killRequested bool

	scrollback *Buffer
}

func newSession(id, shell, workingDir string, cols, rows uint16, scrollback int) *Session {
	return &Session{
		ID:         id,
		Shell:      shell,
		WorkingDir: workingDir,
		Cols:       cols,
		Rows:       rows,
		StartedAt:  time.Now(),
		state:      StateStarting,
		scrollback: NewBuffer(scrollback),
	}
}

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Handle returns the process handle, or nil before the process is running.
func (s *Session) Handle() Handle { return s.handle }

// ExitCode returns the exit code and whether the process has terminated.
func (s *Session) ExitCode() (int, bool) {
	if s.exitCode == nil {
		return 0, false
	}
	return *s.exitCode, true
}

// transition moves the session forward. Backward or repeated moves are rejected.
func (s *Session) transition(to State) error {
	if to <= s.state {
		return fmt.Errorf("session %s: invalid transition %s -> %s", s.ID, s.state, to)
	}
	s.state = to
	return nil
}

// attach binds the spawned process and marks the session running.
func (s *Session) attach(h Handle) error {
	if s.handle != nil {
		return fmt.Errorf("session %s: handle already attached", s.ID)
	}
	if err := s.transition(StateRunning); err != nil {
		return err
	}
	s.handle = h
	return nil
}

// terminate records the exit code. It may be called from Running or Exiting.
func (s *Session) terminate(code int) error {
	if err := s.transition(StateTerminated); err != nil {
		return err
	}
	s.exitCode = &code
	return nil
}

func (s *Session) entry() Entry {
	e := Entry{
		ID:         s.ID,
		State:      s.state,
		Shell:      s.Shell,
		WorkingDir: s.WorkingDir,
		Cols:       s.Cols,
		Rows:       s.Rows,
		StartedAt:  s.StartedAt,
	}
	if s.handle != nil {
		e.PID = s.handle.PID()
	}
	return e
}
