package terminal

import (
	"fmt"
	"strconv"
)

// AutoIDPrefix prefixes identifiers assigned by the registry.
const AutoIDPrefix = "terminal-"

// Registry maps session identifiers to sessions in insertion order.
//
// The registry is owned by the multiplexer loop; it performs no locking. The
// auto-id counter starts at 1 and is only reset by constructing a new Registry.
type Registry struct {
	sessions   map[string]*Session
	order      []string
	counter    uint64
	scrollback int
}

// NewRegistry creates an empty registry. scrollback is the per-session output
// retention in bytes.
func NewRegistry(scrollback int) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		scrollback: scrollback,
	}
}

// Create registers a new session in the Starting state. An empty id asks the
// registry to assign the next terminal-<n>.
func (r *Registry) Create(id, shell, workingDir string, cols, rows uint16) (*Session, error) {
	if id == "" {
		id = r.nextID()
	} else if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	sess := newSession(id, shell, workingDir, cols, rows, r.scrollback)
	r.sessions[id] = sess
	r.order = append(r.order, id)
	return sess, nil
}

// nextID advances the counter past any value held by a live, explicitly named session.
func (r *Registry) nextID() string {
	for {
		r.counter++
		id := AutoIDPrefix + strconv.FormatUint(r.counter, 10)
		if _, taken := r.sessions[id]; !taken {
			return id
		}
	}
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove deletes and returns the entry. It does not release the process handle.
func (r *Registry) Remove(id string) (*Session, bool) {
	sess, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return sess, true
}

// List returns a snapshot of every session in insertion order.
func (r *Registry) List() []Entry {
	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.sessions[id].entry())
	}
	return entries
}

// Sessions returns live sessions in insertion order.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}
