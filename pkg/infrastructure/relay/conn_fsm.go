package relay

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// Connection states of the relay client.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateClosed       = "closed"
)

// Connection events.
const (
	eventDial  = "dial"
	eventUp    = "up"
	eventDown  = "down"
	eventClose = "close"
)

type connContext struct{}

// connMachine tracks the live channel's lifecycle. Closed is terminal.
type connMachine struct {
	mu          sync.Mutex
	interpreter *statekit.Interpreter[connContext]
}

func newConnMachine() (*connMachine, error) {
	builder := statekit.NewMachine[connContext]("relay-connection").
		WithInitial(statekit.StateID(StateDisconnected)).
		WithContext(connContext{})

	builder.State(StateDisconnected).
		On(eventDial).Target(StateConnecting).
		On(eventClose).Target(StateClosed).
		Done()

	builder.State(StateConnecting).
		On(eventUp).Target(StateConnected).
		On(eventDown).Target(StateDisconnected).
		On(eventClose).Target(StateClosed).
		Done()

	builder.State(StateConnected).
		On(eventDown).Target(StateDisconnected).
		On(eventClose).Target(StateClosed).
		Done()

	builder.State(StateClosed).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection machine: %w", err)
	}
	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()
	return &connMachine{interpreter: interpreter}, nil
}

// fire sends event and fails when the current state does not accept it.
func (m *connMachine) fire(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := string(m.interpreter.State().Value)
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	if after := string(m.interpreter.State().Value); after != before {
		return nil
	}
	return fmt.Errorf("connection cannot %s while %s", event, before)
}

func (m *connMachine) current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.interpreter.State().Value)
}
