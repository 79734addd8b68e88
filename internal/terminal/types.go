package terminal

import (
	"time"
)

// State is the lifecycle state of a session. Transitions only move forward.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateExiting
	StateTerminated
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExiting:
		return "exiting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText lets states render by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Entry is the public snapshot of a session returned by list requests.
type Entry struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Shell      string    `json:"shell,omitempty"`
	WorkingDir string    `json:"working_dir,omitempty"`
	Cols       uint16    `json:"cols,omitempty"`
	Rows       uint16    `json:"rows,omitempty"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// SpawnOptions describes the process an adapter should start.
type SpawnOptions struct {
	Shell      string
	WorkingDir string
	Cols       uint16
	Rows       uint16
	Env        map[string]string
}

// Callbacks receive process output and termination from an adapter.
// OnOutput may be called many times; OnExit is called exactly once and last.
type Callbacks struct {
	OnOutput func(h Handle, data []byte)
	OnExit   func(h Handle, exitCode int)
}

// Buffer is a fixed-size circular buffer holding the most recent output of a session.
// It is owned by the multiplexer loop and is not safe for concurrent use.
type Buffer struct {
	data []byte
	size int
	pos  int
	full bool
}

// NewBuffer creates a new circular buffer. A non-positive size disables retention.
func NewBuffer(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	return &Buffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends p, overwriting the oldest bytes once the buffer is full.
func (b *Buffer) Write(p []byte) (n int, err error) {
	if b.size == 0 {
		return len(p), nil
	}
	if len(p) >= b.size {
		copy(b.data, p[len(p)-b.size:])
		b.pos = 0
		b.full = true
		return len(p), nil
	}

	k := copy(b.data[b.pos:], p)
	if k < len(p) {
		copy(b.data, p[k:])
		b.full = true
	}
	next := b.pos + len(p)
	if next >= b.size {
		b.full = true
		next -= b.size
	}
	b.pos = next
	return len(p), nil
}

// Bytes returns a copy of the retained output in chronological order.
func (b *Buffer) Bytes() []byte {
	if !b.full {
		return append([]byte(nil), b.data[:b.pos]...)
	}
	result := make([]byte, b.size)
	n := copy(result, b.data[b.pos:])
	copy(result[n:], b.data[:b.pos])
	return result
}

// Len returns the number of retained bytes.
func (b *Buffer) Len() int {
	if b.full {
		return b.size
	}
	return b.pos
}
