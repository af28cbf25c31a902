package peer

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a peer session.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrInvalidTransition is returned for a transition the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// machine holds the session state. Ended is terminal: nothing leaves it.
type machine struct {
	mu        sync.Mutex
	state     State
	observers []func(State)

	// held across observer calls so they see transitions in order
	notifyMu sync.Mutex
}

func (m *machine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine) observe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// markConnected moves connecting to connected.
func (m *machine) markConnected() error {
	return m.transition(StateConnected, StateConnecting)
}

// markEnded moves connecting or connected to ended.
func (m *machine) markEnded() error {
	return m.transition(StateEnded, StateConnecting, StateConnected)
}

func (m *machine) transition(to State, from ...State) error {
	m.mu.Lock()
	cur := m.state
	allowed := false
	for _, f := range from {
		if cur == f {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, to)
	}
	m.state = to
	observers := append(([]func(State))(nil), m.observers...)
	m.notifyMu.Lock()
	m.mu.Unlock()

	defer m.notifyMu.Unlock()
	for _, fn := range observers {
		fn(to)
	}
	return nil
}
