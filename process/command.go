package process

import (
	"fmt"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/loader"
	"github.com/tailored-agentic-units/procrt/savable"
)

// RunFunc is a step function: the body of Created/Running's execute. It
// returns either a Command or a bare value (coerced to Stop(value, true)
// by Coerce), plus an error for user/run failures.
//
// Per SPEC_FULL.md DESIGN NOTES §9's "bound-method persistence" guidance,
// RunFunc is always a free function, persisted by its loader.Identifier —
// never a bound method closed over receiver state, which Go cannot name
// stably anyway (runtime.FuncForPC names bound method-value wrappers with
// an "-fm" suffix, which loader.isStableFuncName rejects).
type RunFunc func(p *Process, args []any, kwargs map[string]any) (any, error)

// Unsuccessful wraps a value to coerce it into Stop(Value, false) instead
// of the default Stop(value, true), standing in for the spec's sentinel
// "unsuccessful result" value.
type Unsuccessful struct{ Value any }

// Command is the closed sum of directives a RunFunc may return, per
// spec.md §3 and DESIGN NOTES §9 ("dispatch on tag, not isinstance").
type Command interface {
	Save(ctx savable.Context) (*bundle.Bundle, error)
	isCommand()
}

// Continue asks Running to re-invoke Fn with Args/Kwargs on the next step.
type Continue struct {
	FnID   loader.Identifier
	Args   []any
	Kwargs map[string]any
}

func (Continue) isCommand() {}

// Save writes the continuation name and arguments, per spec.md §4.6's
// "Persist: run_fn name, args, kwargs."
func (c Continue) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(continueClassID)
	b.Set("fn_id", string(c.FnID))
	b.Set("args", c.Args)
	b.Set("kwargs", toAnyMap(c.Kwargs))
	return b, nil
}

// Wait asks the process to suspend until something external calls
// Process.Resume. Data is an opaque payload the host can inspect while
// the process is parked.
type Wait struct {
	FnID loader.Identifier
	Msg  string
	Data any
}

func (Wait) isCommand() {}

func (w Wait) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(waitClassID)
	b.Set("fn_id", string(w.FnID))
	b.Set("msg", w.Msg)
	b.Set("data", w.Data)
	return b, nil
}

// Stop ends the process successfully or unsuccessfully with Result.
type Stop struct {
	Result     any
	Successful bool
}

func (Stop) isCommand() {}

func (s Stop) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(stopClassID)
	b.Set("result", s.Result)
	b.Set("successful", s.Successful)
	return b, nil
}

// Kill ends the process with a kill message.
type Kill struct {
	Msg string
}

func (Kill) isCommand() {}

func (k Kill) Save(ctx savable.Context) (*bundle.Bundle, error) {
	b := bundle.New(killClassID)
	b.Set("msg", k.Msg)
	return b, nil
}

const (
	continueClassID loader.Identifier = "github.com/tailored-agentic-units/procrt/process.Continue"
	waitClassID     loader.Identifier = "github.com/tailored-agentic-units/procrt/process.Wait"
	stopClassID     loader.Identifier = "github.com/tailored-agentic-units/procrt/process.Stop"
	killClassID     loader.Identifier = "github.com/tailored-agentic-units/procrt/process.Kill"
)

// LoadCommand is the inverse of Command.Save, dispatching on b's
// meta.class_name the way savable.Load dispatches Savables — Command
// is not registered in a savable.RecreatorRegistry because it is a
// closed sum rather than an open type hierarchy; a switch is the more
// honest Go idiom here (DESIGN NOTES §9).
func LoadCommand(b *bundle.Bundle) (Command, error) {
	switch b.Meta.ClassName {
	case continueClassID:
		fnID, err := b.GetString("fn_id")
		if err != nil {
			return nil, err
		}
		args, _ := b.Get("args")
		kwargsRaw, _ := b.Get("kwargs")
		return Continue{
			FnID:   loader.Identifier(fnID),
			Args:   toAnySlice(args),
			Kwargs: toStringMap(kwargsRaw),
		}, nil
	case waitClassID:
		fnID, err := b.GetString("fn_id")
		if err != nil {
			return nil, err
		}
		msg, _ := b.GetString("msg")
		data, _ := b.Get("data")
		return Wait{FnID: loader.Identifier(fnID), Msg: msg, Data: data}, nil
	case stopClassID:
		result, _ := b.Get("result")
		successful, _ := b.Get("successful")
		ok, _ := successful.(bool)
		return Stop{Result: result, Successful: ok}, nil
	case killClassID:
		msg, _ := b.GetString("msg")
		return Kill{Msg: msg}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command class %s", bundle.ErrBundleFormat, b.Meta.ClassName)
	}
}

// Coerce turns a RunFunc's raw return value into a Command, per spec.md
// §3: "A returned bare value is coerced to Stop(value, true); a sentinel
// unsuccessful result is coerced to Stop(value, false)."
func Coerce(v any) Command {
	if cmd, ok := v.(Command); ok {
		return cmd
	}
	if unsuccessful, ok := v.(Unsuccessful); ok {
		return Stop{Result: unsuccessful.Value, Successful: false}
	}
	return Stop{Result: v, Successful: true}
}

func toAnySlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func toStringMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func toAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
