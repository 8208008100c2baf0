// Package workchain implements the outline engine of spec.md §4.8: a
// WorkChain is a Process whose run() delegates to a Stepper built from a
// declarative outline of FunctionCall/Block/If/While/Return instructions.
//
// Grounded on orchestrate/workflows/chain.go's fold-style StepProcessor
// (a single step function advancing accumulated state, observed through
// EventChainStart/EventStepStart/EventStepComplete/EventChainComplete) and
// orchestrate/workflows/conditional.go's predicate-then-handler dispatch
// (EventRouteEvaluate/EventRouteSelect), adapted here from "one function
// processes the whole sequence" to "the outline is compiled into a tree
// of Steppers, each Savable, that the Process driver advances one
// FunctionCall at a time" — chain.go and conditional.go both run to
// completion inside a single Go call, which cannot be interrupted/resumed
// across a process boundary the way spec.md §4.8 requires.
package workchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/loader"
	"github.com/tailored-agentic-units/procrt/observability"
	"github.com/tailored-agentic-units/procrt/process"
	"github.com/tailored-agentic-units/procrt/savable"
)

// StepFunc is a FunctionCall unit: "a method to invoke; fn must take
// exactly one argument (the workchain)," per spec.md §4.8. It returns
// nil to simply advance, a ToContext to record awaitables and advance,
// or any other value to end the whole WorkChain with that result.
type StepFunc func(wc *WorkChain) (any, error)

// Predicate evaluates an If/While condition against the workchain's
// accumulated context. spec.md §4.8 warns "predicates must return
// something truthy/falsy" — Go's bool return makes that check static
// instead of a runtime warning.
type Predicate func(wc *WorkChain) (bool, error)

// ToContext is the "(key, awaitable) pair" mapping of spec.md §4.8. A
// value that is a *process.Future[any] is an awaitable in flight; any
// other value is stored into the context immediately. This reuses
// process.Future instead of inventing a parallel awaitable type, since
// the Process's own suspension primitive (Wait/Resume) is exactly the
// "awaitable" spec.md describes.
type ToContext map[string]any

// WorkChain holds the compiled outline, the live cursor Stepper, and the
// ContextMixin attribute map spec.md §4.8 says later steps can read.
type WorkChain struct {
	mu       sync.Mutex
	outline  Instruction
	cursor   Stepper
	context  map[string]any
	pending  map[string]*process.Future[any]
	observer observability.Observer
}

// driveID is Drive's Object Loader identifier, registered once at init
// time and reused as every WorkChain's Continue/Wait FnID — the outline
// position, not the function identifier, is what distinguishes one step
// from the next, per DESIGN NOTES §9's step-function table guidance.
var driveID loader.Identifier

func init() {
	id, err := process.RegisterRunFunc(Drive)
	if err != nil {
		panic(err)
	}
	driveID = id
}

var (
	chainsMu sync.Mutex
	chains   = map[string]*WorkChain{}
)

// New compiles outline and constructs a Process whose run function is
// Drive, wired to this WorkChain via the process pid. inputs/cfg are
// passed through to process.New unchanged.
func New(outline Instruction, inputs map[string]any, cfg process.Config) (*process.Process, *WorkChain, error) {
	wc := &WorkChain{
		outline:  outline,
		cursor:   outline.newStepper(),
		context:  make(map[string]any),
		pending:  make(map[string]*process.Future[any]),
		observer: cfg.Observer,
	}
	if wc.observer == nil {
		wc.observer = observability.NoOpObserver{}
	}

	p, err := process.New(Drive, inputs, cfg)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range p.InputsParsed() {
		wc.context[k] = v
	}

	chainsMu.Lock()
	chains[p.PID()] = wc
	chainsMu.Unlock()
	p.AddCleanup(func() {
		chainsMu.Lock()
		delete(chains, p.PID())
		chainsMu.Unlock()
	})

	return p, wc, nil
}

// Context reads a previously stored context attribute.
func (wc *WorkChain) Context(key string) (any, bool) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	v, ok := wc.context[key]
	return v, ok
}

// SetContext stores a context attribute directly, for step functions
// that don't need the ToContext/awaitable machinery.
func (wc *WorkChain) SetContext(key string, value any) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.context[key] = value
}

// Drive is the single free RunFunc every WorkChain-backed Process
// registers. It looks the WorkChain instance up by pid (the Process
// holds a name, not a callable, per DESIGN NOTES §9) and advances its
// cursor by exactly one FunctionCall.
func Drive(p *process.Process, args []any, kwargs map[string]any) (any, error) {
	wc, ok := lookupChain(p.PID())
	if !ok {
		return nil, fmt.Errorf("workchain: no WorkChain registered for pid %s", p.PID())
	}
	if len(args) > 0 && args[0] != nil {
		wc.resolvePending(args[0])
	}
	return wc.advance(p)
}

func lookupChain(pid string) (*WorkChain, bool) {
	chainsMu.Lock()
	defer chainsMu.Unlock()
	wc, ok := chains[pid]
	return wc, ok
}

func (wc *WorkChain) resolvePending(resumeValue any) {
	values, ok := resumeValue.(map[string]any)
	if !ok {
		return
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()
	for key, v := range values {
		if fut, pending := wc.pending[key]; pending {
			fut.SetResult(v)
			wc.context[key] = v
			delete(wc.pending, key)
		}
	}
}

// advance runs exactly one unit of the outline and translates the
// result into the Command the Process driver expects, per spec.md
// §4.8's driver algorithm.
func (wc *WorkChain) advance(p *process.Process) (any, error) {
	p.CheckInterrupt()

	result, has, finished, err := wc.cursor.step(wc)
	if err != nil {
		if ret, ok := err.(*returnSignal); ok {
			wc.emit(observability.EventWorkchainReturn, map[string]any{"exit_code": ret.exitCode})
			return process.Stop{Result: ret.exitCode, Successful: true}, nil
		}
		return nil, err
	}

	if !has {
		if finished {
			return process.Stop{Result: wc.snapshotContext(), Successful: true}, nil
		}
		// Nothing ran and the outline is not finished: every concrete
		// Stepper is required to resolve this internally, so reaching
		// here is an engine bug rather than a valid outline state.
		return nil, fmt.Errorf("workchain: cursor made no progress")
	}

	switch v := result.(type) {
	case nil:
		return process.Continue{FnID: driveID}, nil
	case ToContext:
		pendingKeys := wc.applyToContext(v)
		if len(pendingKeys) == 0 {
			return process.Continue{FnID: driveID}, nil
		}
		return process.Wait{FnID: driveID, Msg: "workchain: awaiting context futures", Data: pendingKeys}, nil
	default:
		return process.Stop{Result: v, Successful: true}, nil
	}
}

func (wc *WorkChain) applyToContext(tc ToContext) []string {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	var waiting []string
	for key, v := range tc {
		fut, isFuture := v.(*process.Future[any])
		if !isFuture {
			wc.context[key] = v
			continue
		}
		if fut.IsResolved() {
			if val, err := fut.Result(); err == nil {
				wc.context[key] = val
			}
			continue
		}
		wc.pending[key] = fut
		waiting = append(waiting, key)
	}
	return waiting
}

func (wc *WorkChain) snapshotContext() map[string]any {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return bundle.DeepCopy(wc.context).(map[string]any)
}

func (wc *WorkChain) emit(typ observability.EventType, data map[string]any) {
	wc.observer.OnEvent(context.Background(), observability.Event{
		Type: typ, Level: observability.LevelOf(typ), Timestamp: time.Now(), Source: "workchain.WorkChain", Data: data,
	})
}

// RegisterStepFunc identifies fn via the Object Loader so FunctionCall
// instructions can round-trip it by name, the same pattern
// process.RegisterRunFunc uses for RunFunc.
func RegisterStepFunc(fn StepFunc) (loader.Identifier, error) {
	return loader.Default().RegisterSelf(fn)
}

// RegisterPredicate is RegisterStepFunc's counterpart for If/While
// predicates.
func RegisterPredicate(fn Predicate) (loader.Identifier, error) {
	return loader.Default().RegisterSelf(fn)
}

func resolveStepFunc(id loader.Identifier) (StepFunc, error) {
	obj, err := loader.Default().Load(id)
	if err != nil {
		return nil, err
	}
	fn, ok := obj.(StepFunc)
	if !ok {
		return nil, fmt.Errorf("workchain: identifier %s does not resolve to a StepFunc", id)
	}
	return fn, nil
}

func resolvePredicate(id loader.Identifier) (Predicate, error) {
	obj, err := loader.Default().Load(id)
	if err != nil {
		return nil, err
	}
	fn, ok := obj.(Predicate)
	if !ok {
		return nil, fmt.Errorf("workchain: identifier %s does not resolve to a Predicate", id)
	}
	return fn, nil
}

// Save persists the cursor and the context map; the outline itself is
// class-level and immutable and is not saved. It is passed back in at
// load time as Load's outline argument, so on load the stepper only
// needs its cursor.
func (wc *WorkChain) Save(ctx savable.Context) (*bundle.Bundle, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	b := bundle.New(ClassID)
	cursorBundle, err := wc.cursor.Save(ctx)
	if err != nil {
		return nil, err
	}
	b.SetSavable("_cursor", cursorBundle)
	b.Set("_context", wc.context)
	return b, nil
}

// ClassID identifies WorkChain in the Object Loader.
const ClassID loader.Identifier = "github.com/tailored-agentic-units/procrt/workchain.WorkChain"

// Load reconstructs a WorkChain's cursor against outline, which must be
// the same Instruction tree New originally compiled (outlines are not
// persisted, by spec.md §4.8 design).
func Load(b *bundle.Bundle, ctx savable.Context, outline Instruction, observer observability.Observer) (*WorkChain, error) {
	if b.Meta.ClassName != ClassID {
		return nil, fmt.Errorf("workchain: bundle class %s is not %s", b.Meta.ClassName, ClassID)
	}
	cursorBundle, err := b.GetBundle("_cursor")
	if err != nil {
		return nil, err
	}
	cursor, err := loadStepper(cursorBundle, outline)
	if err != nil {
		return nil, err
	}

	wc := &WorkChain{
		outline:  outline,
		cursor:   cursor,
		context:  make(map[string]any),
		pending:  make(map[string]*process.Future[any]),
		observer: observer,
	}
	if wc.observer == nil {
		wc.observer = observability.NoOpObserver{}
	}
	if ctxAny, ok := b.Get("_context"); ok {
		if m, ok := ctxAny.(map[string]any); ok {
			wc.context = m
		}
	}
	return wc, nil
}

// Attach registers wc as p's WorkChain, for hosts reconstructing both
// independently (e.g. a Controller's launcher) rather than through New.
func Attach(p *process.Process, wc *WorkChain) {
	chainsMu.Lock()
	defer chainsMu.Unlock()
	chains[p.PID()] = wc
	p.AddCleanup(func() {
		chainsMu.Lock()
		delete(chains, p.PID())
		chainsMu.Unlock()
	})
}
