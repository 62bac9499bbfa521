// Package pod holds the process-wide state shared between the BLE callback
// context and the periodic device tasks: the live connection with its
// notification subscription, and the actuator pulse-width target.
package pod

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrPulseOutOfRange is returned when a pulse width outside the configured
// limits is applied to the actuator target.
var ErrPulseOutOfRange = errors.New("pod: pulse width out of range")

// ConnHandle identifies a link-layer connection. The link layer owns the
// connection; the pod only keeps the handle.
type ConnHandle string

// ConnectionState is the per-link state created on connect and destroyed on
// disconnect.
type ConnectionState struct {
	Handle     ConnHandle
	Subscribed bool
	Session    uuid.UUID // correlates diagnostics for one link
	Since      time.Time
}

// PulseLimits bounds the actuator pulse width, in nanoseconds.
type PulseLimits struct {
	Min uint32
	Max uint32
}

// Contains reports whether w is within [Min, Max].
func (l PulseLimits) Contains(w uint32) bool {
	return w >= l.Min && w <= l.Max
}

// State is the shared pod state. The zero value is not usable; create it
// with NewState. Safe for concurrent use.
//
// The connection and its subscription flag live under one mutex so that a
// disconnect is always observed by the next notify-target lookup. The pulse
// width is a single word and is kept in an atomic.
type State struct {
	mu   sync.Mutex
	conn *ConnectionState

	limits PulseLimits
	pulse  atomic.Uint32
}

// NewState creates a State whose pulse width starts at limits.Min.
func NewState(limits PulseLimits) (*State, error) {
	if limits.Min > limits.Max {
		return nil, fmt.Errorf("pod: pulse min %d exceeds max %d", limits.Min, limits.Max)
	}
	s := &State{limits: limits}
	s.pulse.Store(limits.Min)
	return s, nil
}

// Connect records a new connection with notifications disabled. Any
// previous connection state is replaced.
func (s *State) Connect(h ConnHandle) ConnectionState {
	cs := &ConnectionState{
		Handle:  h,
		Session: uuid.New(),
		Since:   time.Now(),
	}
	s.mu.Lock()
	s.conn = cs
	s.mu.Unlock()
	return *cs
}

// Disconnect destroys the state for h. It returns the destroyed state and
// false if h was not the current connection.
func (s *State) Disconnect(h ConnHandle) (ConnectionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.Handle != h {
		return ConnectionState{}, false
	}
	cs := *s.conn
	s.conn.Subscribed = false
	s.conn = nil
	return cs, true
}

// SetSubscribed updates the subscription flag of the current connection.
// It returns the updated state and false when there is no connection.
func (s *State) SetSubscribed(on bool) (ConnectionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ConnectionState{}, false
	}
	s.conn.Subscribed = on
	return *s.conn, true
}

// Connection returns a copy of the current connection state.
func (s *State) Connection() (ConnectionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ConnectionState{}, false
	}
	return *s.conn, true
}

// NotifyTarget returns the handle to notify, or false if no connected
// client is subscribed.
func (s *State) NotifyTarget() (ConnHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.conn.Subscribed {
		return "", false
	}
	return s.conn.Handle, true
}

// Limits returns the configured pulse width limits.
func (s *State) Limits() PulseLimits {
	return s.limits
}

// PulseWidth returns the current actuator target in nanoseconds.
func (s *State) PulseWidth() uint32 {
	return s.pulse.Load()
}

// SetPulseWidth stores w as the actuator target. Values outside the limits
// are rejected and leave the target unchanged.
func (s *State) SetPulseWidth(w uint32) error {
	if !s.limits.Contains(w) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrPulseOutOfRange, w, s.limits.Min, s.limits.Max)
	}
	s.pulse.Store(w)
	return nil
}
