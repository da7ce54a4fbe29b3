// Package lifecycle tracks the run state of a long-lived network listener
// using an atomic variable.
package lifecycle

import "sync/atomic"

// State is the run state of a component.
type State uint32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// Machine is a lock-free state holder. The zero value is Stopped.
type Machine struct {
	state atomic.Uint32
}

func (m *Machine) Get() State {
	return State(m.state.Load())
}

func (m *Machine) Set(s State) {
	m.state.Store(uint32(s))
}

// Change moves from old to next and reports whether the swap happened.
func (m *Machine) Change(old, next State) bool {
	return m.state.CompareAndSwap(uint32(old), uint32(next))
}

// BeginStart claims the Starting state from Stopped or Failed.
func (m *Machine) BeginStart() bool {
	return m.Change(Stopped, Starting) || m.Change(Failed, Starting)
}

// BeginStop claims the Stopping state from Running.
func (m *Machine) BeginStop() bool {
	return m.Change(Running, Stopping)
}
