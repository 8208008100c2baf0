package statemachine_test

import (
	"errors"
	"testing"

	"github.com/tailored-agentic-units/procrt/statemachine"
)

type recordingState struct {
	label      statemachine.Label
	allowed    []statemachine.Label
	enterErr   error
	exitErr    error
	terminal   bool
	entered    []statemachine.Label
	terminated bool
}

func (s *recordingState) Label() statemachine.Label      { return s.label }
func (s *recordingState) Allowed() []statemachine.Label  { return s.allowed }
func (s *recordingState) Exit() error                    { return s.exitErr }
func (s *recordingState) Terminal() bool                 { return s.terminal }
func (s *recordingState) OnTerminated()                  { s.terminated = true }
func (s *recordingState) Enter(prev statemachine.Label) error {
	return s.enterErr
}
func (s *recordingState) OnEntered(prev statemachine.Label) {
	s.entered = append(s.entered, prev)
}

func TestTransitionToAllowed(t *testing.T) {
	a := &recordingState{label: "A", allowed: []statemachine.Label{"B"}}
	b := &recordingState{label: "B"}
	m := statemachine.New(a, nil)

	if err := m.TransitionTo(b); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if m.Current().Label() != "B" {
		t.Fatalf("current = %s, want B", m.Current().Label())
	}
	if len(b.entered) != 1 || b.entered[0] != "A" {
		t.Fatalf("OnEntered not called with previous label: %v", b.entered)
	}
}

func TestTransitionToDisallowed(t *testing.T) {
	a := &recordingState{label: "A", allowed: []statemachine.Label{"B"}}
	c := &recordingState{label: "C"}
	m := statemachine.New(a, nil)

	err := m.TransitionTo(c)
	var notAllowed *statemachine.TransitionNotAllowedError
	if !errors.As(err, &notAllowed) {
		t.Fatalf("expected TransitionNotAllowedError, got %v", err)
	}
}

func TestTerminalFiresOnTerminated(t *testing.T) {
	a := &recordingState{label: "A", allowed: []statemachine.Label{"Z"}}
	z := &recordingState{label: "Z", terminal: true}
	m := statemachine.New(a, nil)

	if err := m.TransitionTo(z); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if !z.terminated {
		t.Fatal("expected OnTerminated to fire for terminal state")
	}
}

func TestEnterFailedSubstitution(t *testing.T) {
	alt := &recordingState{label: "Alt"}
	a := &recordingState{label: "A", allowed: []statemachine.Label{"B"}}
	b := &recordingState{label: "B", enterErr: &statemachine.StateEntryFailed{Alternative: alt, Err: errors.New("boom")}}
	m := statemachine.New(a, nil)

	if err := m.TransitionTo(b); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if m.Current().Label() != "Alt" {
		t.Fatalf("current = %s, want Alt (substituted)", m.Current().Label())
	}
}

func TestTransitionExceptedPolicy(t *testing.T) {
	excepted := &recordingState{label: "Excepted", terminal: true}
	a := &recordingState{label: "A", allowed: []statemachine.Label{"B"}}
	enterErr := errors.New("entry blew up")
	b := &recordingState{label: "B", enterErr: enterErr}

	policy := func(from, to statemachine.Label, cause error) (statemachine.State, error) {
		if from == "A" {
			return nil, errors.New("re-raised: construction failed")
		}
		return excepted, nil
	}
	m := statemachine.New(a, policy)

	err := m.TransitionTo(b)
	if err == nil || err.Error() != "re-raised: construction failed" {
		t.Fatalf("expected policy's fatal error when failing from A, got %v", err)
	}
}

func TestTransitionExceptedSubstitutesState(t *testing.T) {
	excepted := &recordingState{label: "Excepted", terminal: true}
	waiting := &recordingState{label: "Waiting", allowed: []statemachine.Label{"Next"}, exitErr: errors.New("exit blew up")}
	next := &recordingState{label: "Next"}

	policy := func(from, to statemachine.Label, cause error) (statemachine.State, error) {
		return excepted, nil
	}
	m := statemachine.New(waiting, policy)

	if err := m.TransitionTo(next); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if m.Current().Label() != "Excepted" {
		t.Fatalf("current = %s, want Excepted after Exit failure routed through policy", m.Current().Label())
	}
	if !excepted.terminated {
		t.Fatal("expected OnTerminated on substituted terminal state")
	}
}

func TestGuardEnforcesFromStates(t *testing.T) {
	a := &recordingState{label: "A", allowed: []statemachine.Label{"B"}}
	m := statemachine.New(a, nil)

	spec := statemachine.EventSpec{Name: "play", FromStates: []statemachine.Label{"Paused"}}
	err := m.Guard(spec, func() (bool, error) { return false, nil })

	var invalid *statemachine.EventInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected EventInvalidError, got %v", err)
	}
}

func TestGuardEnforcesToStates(t *testing.T) {
	a := &recordingState{label: "A", allowed: []statemachine.Label{"B"}}
	b := &recordingState{label: "B"}
	m := statemachine.New(a, nil)

	spec := statemachine.EventSpec{Name: "advance", FromStates: []statemachine.Label{"A"}, ToStates: []statemachine.Label{"C"}}
	err := m.Guard(spec, func() (bool, error) {
		return false, m.TransitionTo(b)
	})

	var invalid *statemachine.EventInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected EventInvalidError for wrong to-state, got %v", err)
	}
}

func TestGuardSkipSuppressesToCheck(t *testing.T) {
	a := &recordingState{label: "A", allowed: []statemachine.Label{"B"}}
	m := statemachine.New(a, nil)

	spec := statemachine.EventSpec{Name: "pause", FromStates: []statemachine.Label{"A"}, ToStates: []statemachine.Label{"Paused"}}
	err := m.Guard(spec, func() (bool, error) { return true, nil })
	if err != nil {
		t.Fatalf("expected skip to suppress to-state check, got %v", err)
	}
}

func TestReentrantTransitionPanics(t *testing.T) {
	a := &recordingState{label: "A", allowed: []statemachine.Label{"D"}}
	m := statemachine.New(a, nil)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on re-entrant TransitionTo")
		}
	}()

	// Simulate re-entrancy by calling TransitionTo from within Enter.
	reentrant := &recordingStateWithCallback{
		recordingState: recordingState{label: "D"},
		onEnter: func() {
			m.TransitionTo(&recordingState{label: "E"})
		},
	}
	_ = m.TransitionTo(reentrant)
}

type recordingStateWithCallback struct {
	recordingState
	onEnter func()
}

func (s *recordingStateWithCallback) Enter(prev statemachine.Label) error {
	s.onEnter()
	return nil
}
