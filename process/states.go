package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/loader"
	"github.com/tailored-agentic-units/procrt/savable"
	"github.com/tailored-agentic-units/procrt/statemachine"
)

// Labels for the six Process states of spec.md §4.6.
const (
	LabelCreated  statemachine.Label = "created"
	LabelRunning  statemachine.Label = "running"
	LabelWaiting  statemachine.Label = "waiting"
	LabelFinished statemachine.Label = "finished"
	LabelExcepted statemachine.Label = "excepted"
	LabelKilled   statemachine.Label = "killed"
)

// execState is the extra contract process.Process needs beyond
// statemachine.State: a chance to run user code and produce either the
// next statemachine.State directly (non-Running states are mostly
// pass-through) or, for Created/Running, a Command that Process
// dispatches into the next state.
type execState interface {
	statemachine.State
	// execute runs this state's logic and returns the state to
	// transition into. ctx carries cancellation for interrupts external
	// code may request.
	execute(ctx context.Context, p *Process) (statemachine.State, error)
}

// -- Created -----------------------------------------------------------

type createdState struct {
	fnID   loader.Identifier
	args   []any
	kwargs map[string]any
}

func newCreated(fnID loader.Identifier, args []any, kwargs map[string]any) *createdState {
	return &createdState{fnID: fnID, args: args, kwargs: kwargs}
}

func (s *createdState) Label() statemachine.Label { return LabelCreated }
func (s *createdState) Allowed() []statemachine.Label {
	return []statemachine.Label{LabelRunning, LabelKilled, LabelExcepted}
}
func (s *createdState) Enter(statemachine.Label) error  { return nil }
func (s *createdState) Exit() error                     { return nil }
func (s *createdState) OnEntered(statemachine.Label)     {}
func (s *createdState) Terminal() bool                  { return false }
func (s *createdState) OnTerminated()                   {}

func (s *createdState) execute(ctx context.Context, p *Process) (statemachine.State, error) {
	return newRunning(s.fnID, s.args, s.kwargs), nil
}

func (s *createdState) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(createdClassID)
	b.Set("fn_id", string(s.fnID))
	b.Set("args", s.args)
	b.Set("kwargs", toAnyMap(s.kwargs))
	return b, nil
}

func recreateCreated(b *bundle.Bundle, ctx savable.Context) (savable.Savable, error) {
	fnID, err := b.GetString("fn_id")
	if err != nil {
		return nil, err
	}
	args, _ := b.Get("args")
	kwargs, _ := b.Get("kwargs")
	return newCreated(loader.Identifier(fnID), toAnySlice(args), toStringMap(kwargs)), nil
}

// -- Running -------------------------------------------------------------

type runningState struct {
	fnID    loader.Identifier
	args    []any
	kwargs  map[string]any
	pending Command
}

func newRunning(fnID loader.Identifier, args []any, kwargs map[string]any) *runningState {
	return &runningState{fnID: fnID, args: args, kwargs: kwargs}
}

func (s *runningState) Label() statemachine.Label { return LabelRunning }
func (s *runningState) Allowed() []statemachine.Label {
	return []statemachine.Label{LabelRunning, LabelWaiting, LabelFinished, LabelKilled, LabelExcepted}
}
func (s *runningState) Enter(statemachine.Label) error { return nil }
func (s *runningState) Exit() error                    { return nil }
func (s *runningState) OnEntered(statemachine.Label)    {}
func (s *runningState) Terminal() bool                 { return false }
func (s *runningState) OnTerminated()                  {}

// execute invokes the registered RunFunc inside the process's stack
// scope, per spec.md §4.6's Running row. A *KillInterruption that the
// RunFunc returns or panics with (CheckInterrupt panics with one) becomes
// the Killed state here. Kill and pause requests made during the call
// are applied afterwards by Process.step from its pending-interrupt flag.
func (s *runningState) execute(ctx context.Context, p *Process) (statemachine.State, error) {
	fn, err := resolveRunFunc(s.fnID)
	if err != nil {
		return nil, err
	}

	pushCurrent(p)
	p.setRunning(true)
	result, runErr := func() (res any, err error) {
		defer func() {
			if r := recover(); r != nil {
				if ki, ok := r.(*KillInterruption); ok {
					err = ki
					return
				}
				panic(r)
			}
		}()
		return fn(p, s.args, s.kwargs)
	}()
	p.setRunning(false)
	popCurrent(p)

	if runErr != nil {
		var ki *KillInterruption
		if errors.As(runErr, &ki) {
			return newKilled(ki.Msg), nil
		}
		return nil, runErr
	}

	cmd := Coerce(result)
	s.pending = cmd
	switch c := cmd.(type) {
	case Kill:
		return newKilled(c.Msg), nil
	case Stop:
		return newFinished(c.Result, c.Successful), nil
	case Wait:
		return newWaiting(c.FnID, c.Msg, c.Data), nil
	case Continue:
		return newRunning(c.FnID, c.Args, c.Kwargs), nil
	default:
		return nil, fmt.Errorf("process: unrecognized command type %T", cmd)
	}
}

func (s *runningState) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(runningClassID)
	b.Set("fn_id", string(s.fnID))
	b.Set("args", s.args)
	b.Set("kwargs", toAnyMap(s.kwargs))
	if s.pending != nil {
		pendingBundle, err := s.pending.Save(ctx)
		if err != nil {
			return nil, err
		}
		b.SetSavable("pending_command", pendingBundle)
	}
	return b, nil
}

func recreateRunning(b *bundle.Bundle, ctx savable.Context) (savable.Savable, error) {
	fnID, err := b.GetString("fn_id")
	if err != nil {
		return nil, err
	}
	args, _ := b.Get("args")
	kwargs, _ := b.Get("kwargs")
	rs := newRunning(loader.Identifier(fnID), toAnySlice(args), toStringMap(kwargs))
	if pb, err := b.GetBundle("pending_command"); err == nil {
		cmd, err := LoadCommand(pb)
		if err != nil {
			return nil, err
		}
		rs.pending = cmd
	}
	return rs, nil
}

// -- Waiting -------------------------------------------------------------

type waitingState struct {
	callbackID loader.Identifier
	msg        string
	data       any
	resumeCh   chan any
}

func newWaiting(callbackID loader.Identifier, msg string, data any) *waitingState {
	return &waitingState{callbackID: callbackID, msg: msg, data: data, resumeCh: make(chan any, 1)}
}

func (s *waitingState) Label() statemachine.Label { return LabelWaiting }
func (s *waitingState) Allowed() []statemachine.Label {
	return []statemachine.Label{LabelRunning, LabelWaiting, LabelKilled, LabelExcepted, LabelFinished}
}
func (s *waitingState) Enter(statemachine.Label) error {
	// Open Question 3: the resume future is re-created fresh every time
	// Waiting is entered (including on load), never persisted mid-await.
	if s.resumeCh == nil {
		s.resumeCh = make(chan any, 1)
	}
	return nil
}
func (s *waitingState) Exit() error                 { return nil }
func (s *waitingState) OnEntered(statemachine.Label) {}
func (s *waitingState) Terminal() bool              { return false }
func (s *waitingState) OnTerminated()               {}

// resume unblocks execute with value, per spec.md §4.6's "exposes a
// resume(value?) method the host calls when ready."
func (s *waitingState) resume(value any) {
	select {
	case s.resumeCh <- value:
	default:
	}
}

func (s *waitingState) execute(ctx context.Context, p *Process) (statemachine.State, error) {
	select {
	case v := <-s.resumeCh:
		return newRunning(s.callbackID, []any{v}, nil), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *waitingState) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(waitingClassID)
	b.Set("callback_id", string(s.callbackID))
	b.Set("msg", s.msg)
	b.Set("data", s.data)
	return b, nil
}

func recreateWaiting(b *bundle.Bundle, ctx savable.Context) (savable.Savable, error) {
	callbackID, err := b.GetString("callback_id")
	if err != nil {
		return nil, err
	}
	msg, _ := b.GetString("msg")
	data, _ := b.Get("data")
	return newWaiting(loader.Identifier(callbackID), msg, data), nil
}

// -- Finished --------------------------------------------------------------

type finishedState struct {
	result     any
	successful bool
}

func newFinished(result any, successful bool) *finishedState {
	return &finishedState{result: result, successful: successful}
}

func (s *finishedState) Label() statemachine.Label      { return LabelFinished }
func (s *finishedState) Allowed() []statemachine.Label  { return nil }
func (s *finishedState) Enter(statemachine.Label) error { return nil }
func (s *finishedState) Exit() error                    { return nil }
func (s *finishedState) OnEntered(statemachine.Label)    {}
func (s *finishedState) Terminal() bool                 { return true }
func (s *finishedState) OnTerminated()                  {}

func (s *finishedState) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(finishedClassID)
	b.Set("result", s.result)
	b.Set("successful", s.successful)
	return b, nil
}

func recreateFinished(b *bundle.Bundle, ctx savable.Context) (savable.Savable, error) {
	result, _ := b.Get("result")
	successfulRaw, _ := b.Get("successful")
	successful, _ := successfulRaw.(bool)
	return newFinished(result, successful), nil
}

// -- Excepted --------------------------------------------------------------

type exceptedState struct {
	message    string
	traceback  string
}

func newExcepted(err error, traceback string) *exceptedState {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &exceptedState{message: msg, traceback: traceback}
}

func (s *exceptedState) Label() statemachine.Label      { return LabelExcepted }
func (s *exceptedState) Allowed() []statemachine.Label  { return nil }
func (s *exceptedState) Enter(statemachine.Label) error { return nil }
func (s *exceptedState) Exit() error                    { return nil }
func (s *exceptedState) OnEntered(statemachine.Label)    {}
func (s *exceptedState) Terminal() bool                 { return true }
func (s *exceptedState) OnTerminated()                  {}

func (s *exceptedState) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(exceptedClassID)
	b.Set("message", s.message)
	b.Set("traceback", s.traceback)
	return b, nil
}

func recreateExcepted(b *bundle.Bundle, ctx savable.Context) (savable.Savable, error) {
	message, _ := b.GetString("message")
	traceback, _ := b.GetString("traceback")
	return &exceptedState{message: message, traceback: traceback}, nil
}

// -- Killed --------------------------------------------------------------

type killedState struct {
	msg       string
	at        time.Time
}

func newKilled(msg string) *killedState {
	return &killedState{msg: msg, at: time.Now()}
}

func (s *killedState) Label() statemachine.Label      { return LabelKilled }
func (s *killedState) Allowed() []statemachine.Label  { return nil }
func (s *killedState) Enter(statemachine.Label) error { return nil }
func (s *killedState) Exit() error                    { return nil }
func (s *killedState) OnEntered(statemachine.Label)    {}
func (s *killedState) Terminal() bool                 { return true }
func (s *killedState) OnTerminated()                  {}

func (s *killedState) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(killedClassID)
	b.Set("msg", s.msg)
	b.Set("at", s.at)
	return b, nil
}

func recreateKilled(b *bundle.Bundle, ctx savable.Context) (savable.Savable, error) {
	msg, _ := b.GetString("msg")
	return &killedState{msg: msg, at: time.Now()}, nil
}

const (
	createdClassID  loader.Identifier = "github.com/tailored-agentic-units/procrt/process.createdState"
	runningClassID  loader.Identifier = "github.com/tailored-agentic-units/procrt/process.runningState"
	waitingClassID  loader.Identifier = "github.com/tailored-agentic-units/procrt/process.waitingState"
	finishedClassID loader.Identifier = "github.com/tailored-agentic-units/procrt/process.finishedState"
	exceptedClassID loader.Identifier = "github.com/tailored-agentic-units/procrt/process.exceptedState"
	killedClassID   loader.Identifier = "github.com/tailored-agentic-units/procrt/process.killedState"
)

func init() {
	reg := savable.DefaultRecreators()
	mustRegister(reg, createdClassID, recreateCreated)
	mustRegister(reg, runningClassID, recreateRunning)
	mustRegister(reg, waitingClassID, recreateWaiting)
	mustRegister(reg, finishedClassID, recreateFinished)
	mustRegister(reg, exceptedClassID, recreateExcepted)
	mustRegister(reg, killedClassID, recreateKilled)
}

func mustRegister(reg *savable.RecreatorRegistry, id loader.Identifier, r savable.Recreator) {
	if err := reg.Register(id, r); err != nil {
		// Only fires on duplicate package init, which does not happen
		// outside of test binaries that import this package twice.
		panic(err)
	}
}
