// Package statemachine implements the generic State Machine core of
// spec.md §4.4: keep the current State, execute guarded transitions,
// notify lifecycle hooks, route exceptions.
//
// It generalizes orchestrate/state/graph.go's execution loop (which walks
// a graph of named nodes connected by predicate edges) down to a single
// entity's current-state pointer and a fixed ALLOWED-successor table per
// state, the shape spec.md §4.4 and §4.6 describe. The graph's
// checkpoint/observer wiring is the direct ancestor of this package's
// hook subscription and of process.Process's save/load integration.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tailored-agentic-units/procrt/observability"
)

// Label identifies a State class independent of any particular instance,
// the unit ALLOWED successor sets and transition targets are expressed in.
type Label string

// State is one node of the machine. Allowed declares which labels this
// state may transition into; Enter/Exit are the transition hooks;
// OnEntered/OnTerminated are lifecycle notifications fired after a
// successful transition.
type State interface {
	Label() Label
	Allowed() []Label
	Enter(previous Label) error
	Exit() error
	OnEntered(previous Label)
	Terminal() bool
	OnTerminated()
}

// StateEntryFailed is a distinguished error a State's Enter method can
// return to request a one-time substitution: the machine retries entry
// into Alternative instead of failing the transition outright.
type StateEntryFailed struct {
	Alternative State
	Err         error
}

func (e *StateEntryFailed) Error() string {
	return fmt.Sprintf("state entry failed, substituting %s: %v", e.Alternative.Label(), e.Err)
}

func (e *StateEntryFailed) Unwrap() error { return e.Err }

// HookEvent names a lifecycle point a Hook can observe.
type HookEvent string

const (
	Entering HookEvent = "entering"
	Entered  HookEvent = "entered"
	Exiting  HookEvent = "exiting"
)

// Hook receives state-event notifications so generic instrumentation
// (logging, persistence) need not subclass a State, per spec.md §4.4's
// "State-event hooks."
type Hook func(event HookEvent, from, to Label)

// ExceptedPolicy decides how to route a transition failure. Returning a
// non-nil State substitutes it as the new current state (the EXCEPTED
// state, typically). Returning a non-nil error makes that error fatal —
// spec.md §4.4: "A second failure inside transition_excepted is fatal."
// A nil State and nil error re-raises the original transition error.
type ExceptedPolicy func(from, to Label, cause error) (State, error)

// Machine owns the current State and the mechanics of moving between
// states. The zero value is not usable; construct with New.
type Machine struct {
	mu            sync.Mutex
	current       State
	transitioning bool
	hooks         []Hook
	policy        ExceptedPolicy
	observer      observability.Observer
}

// Option configures a Machine at construction time.
type Option func(*Machine)

// WithObserver attaches obs so every transition emits sm.state.enter/exit/
// transition/excepted events, per SPEC_FULL.md's ambient stack claim that
// statemachine is one of the subsystems wired to an observability.Observer.
func WithObserver(obs observability.Observer) Option {
	return func(m *Machine) {
		if obs != nil {
			m.observer = obs
		}
	}
}

// New creates a Machine already in the initial state. The initial state
// does not go through Enter/hooks — it is simply the starting point, the
// same way spec.md §4.4 treats the declared "initial label" as a given
// rather than a transition. By default it reports through
// observability.NoOpObserver{}; pass WithObserver to change that.
func New(initial State, policy ExceptedPolicy, opts ...Option) *Machine {
	m := &Machine{current: initial, policy: policy, observer: observability.NoOpObserver{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) emit(typ observability.EventType, from, to Label, extra map[string]any) {
	data := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range extra {
		data[k] = v
	}
	m.observer.OnEvent(context.Background(), observability.Event{
		Type: typ, Level: observability.LevelOf(typ), Timestamp: time.Now(), Source: "statemachine.Machine", Data: data,
	})
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe registers a Hook that fires on every ENTERING/ENTERED/EXITING
// event for the lifetime of the Machine.
func (m *Machine) Subscribe(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

func (m *Machine) fire(event HookEvent, from, to Label) {
	for _, h := range m.hooks {
		h(event, from, to)
	}
}

// TransitionTo moves the machine to target, per spec.md §4.4's six-step
// algorithm. Calling TransitionTo while already mid-transition is an
// engine bug and panics, matching the spec's "guarded by assertion."
func (m *Machine) TransitionTo(target State) error {
	m.mu.Lock()
	if m.transitioning {
		m.mu.Unlock()
		panic("statemachine: TransitionTo called while already transitioning")
	}
	m.transitioning = true
	current := m.current
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.transitioning = false
		m.mu.Unlock()
	}()

	var from Label
	if current != nil {
		from = current.Label()
	}
	to := target.Label()

	if current != nil && !labelAllowed(current.Allowed(), to) {
		return &TransitionNotAllowedError{From: from, To: to}
	}

	m.fire(Exiting, from, to)
	if current != nil {
		if err := current.Exit(); err != nil {
			return m.transitionExcepted(from, to, err)
		}
		m.emit(observability.EventStateExit, from, to, nil)
	}

	m.fire(Entering, from, to)
	if err := target.Enter(from); err != nil {
		var failed *StateEntryFailed
		if errors.As(err, &failed) {
			target = failed.Alternative
			to = target.Label()
			if err := target.Enter(from); err != nil {
				return m.transitionExcepted(from, to, err)
			}
		} else {
			return m.transitionExcepted(from, to, err)
		}
	}
	m.emit(observability.EventStateEnter, from, to, nil)

	m.mu.Lock()
	m.current = target
	m.mu.Unlock()

	m.fire(Entered, from, to)
	target.OnEntered(from)
	if target.Terminal() {
		target.OnTerminated()
	}
	m.emit(observability.EventStateTransition, from, to, map[string]any{"terminal": target.Terminal()})
	return nil
}

// transitionExcepted implements spec.md §4.4's failure routing: ask the
// policy for a substitute state, install it directly (no ALLOWED check —
// the policy is trusted), or propagate its verdict as fatal.
func (m *Machine) transitionExcepted(from, to Label, cause error) error {
	m.emit(observability.EventStateExcepted, from, to, map[string]any{"error": cause.Error()})

	if m.policy == nil {
		return &TransitionExceptedError{From: from, To: to, Err: cause}
	}

	substitute, err := m.policy(from, to, cause)
	if err != nil {
		return err
	}
	if substitute == nil {
		return &TransitionExceptedError{From: from, To: to, Err: cause}
	}

	m.mu.Lock()
	m.current = substitute
	m.mu.Unlock()

	m.fire(Entered, from, substitute.Label())
	substitute.OnEntered(from)
	if substitute.Terminal() {
		substitute.OnTerminated()
	}
	m.emit(observability.EventStateTransition, from, substitute.Label(), map[string]any{"terminal": substitute.Terminal(), "substituted": true})
	return nil
}

func labelAllowed(allowed []Label, target Label) bool {
	for _, l := range allowed {
		if l == target {
			return true
		}
	}
	return false
}
