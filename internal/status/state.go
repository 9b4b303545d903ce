package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ravelhq/inboxd/internal/bus"
)

// State represents the gateway connection state as seen by the engine.
type State string

const (
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Disconnected State = "DISCONNECTED"
)

// validTransitions defines allowed state transitions. A gateway poll can
// report open directly after a disconnect, so disconnected->open is legal.
var validTransitions = map[State][]State{
	Connecting:   {Open, Disconnected},
	Open:         {Connecting, Disconnected},
	Disconnected: {Connecting, Open},
}

// Machine tracks the connection state and publishes transitions on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Connecting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Connecting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// Observe applies a state reported by a connection poll. Repeated
// observations of the current state are no-ops.
func (m *Machine) Observe(s State) {
	_ = m.Transition(s)
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
