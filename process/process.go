// Package process implements the Process state machine of spec.md §4.6
// and §4.7: the CREATED -> RUNNING <-> WAITING -> {FINISHED, EXCEPTED,
// KILLED} lifecycle, its pause/play/kill control surface, output
// namespace, listener fan-out, and save/load.
package process

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/eventhelper"
	"github.com/tailored-agentic-units/procrt/loader"
	"github.com/tailored-agentic-units/procrt/observability"
	"github.com/tailored-agentic-units/procrt/statemachine"
)

// Listener is the capability set of spec.md §4.7: lifecycle callbacks a
// process event receiver may implement.
type Listener interface {
	OnProcessCreated(p *Process)
	OnProcessRunning(p *Process)
	OnProcessWaiting(p *Process)
	OnProcessPaused(p *Process)
	OnProcessPlayed(p *Process)
	OnProcessFinished(p *Process, result any, successful bool)
	OnProcessExcepted(p *Process, err error)
	OnProcessKilled(p *Process, msg string)
	OnOutputEmitted(p *Process, port string, value any)
}

// BaseListener gives callers a no-op Listener to embed and override only
// the hooks they need, matching the teacher's habit of small capability
// interfaces with an embeddable default (see observability.NoOpObserver).
type BaseListener struct{}

func (BaseListener) OnProcessCreated(*Process)             {}
func (BaseListener) OnProcessRunning(*Process)             {}
func (BaseListener) OnProcessWaiting(*Process)             {}
func (BaseListener) OnProcessPaused(*Process)              {}
func (BaseListener) OnProcessPlayed(*Process)              {}
func (BaseListener) OnProcessFinished(*Process, any, bool) {}
func (BaseListener) OnProcessExcepted(*Process, error)     {}
func (BaseListener) OnProcessKilled(*Process, string)      {}
func (BaseListener) OnOutputEmitted(*Process, string, any) {}

type interruptKind int

const (
	interruptNone interruptKind = iota
	interruptPause
	interruptKill
)

// Process is a State Machine and Savable, per spec.md §3.
type Process struct {
	mu sync.Mutex

	pid       string
	createdAt time.Time
	inputsRaw map[string]any
	inputsPar map[string]any
	outputs   map[string]any
	outputSep string
	ports     PortNamespace
	observer  observability.Observer

	machine *statemachine.Machine

	paused          bool
	status          string
	prePausedStatus string

	stepping         bool
	pendingInterrupt interruptKind
	interruptMsg     string
	pauseCh          chan struct{}

	listeners *eventhelper.Set[Listener]
	cleanups  []func()

	coordinator Coordinator
	closed      bool

	outcome *Future[Outcome]
}

// Outcome is the terminal result a Process's outcome future resolves to.
type Outcome struct {
	Result     any
	Successful bool
	Err        error
	KillMsg    string
}

// Config customizes process construction. All fields are optional.
type Config struct {
	PID         string
	Ports       PortNamespace
	Observer    observability.Observer
	Coordinator Coordinator
	OutputSep   string
}

// New constructs a Process in CREATED, wrapping fn with args/kwargs as
// its initial run function, per spec.md §4.6's Created row.
func New(fn RunFunc, inputs map[string]any, cfg Config) (*Process, error) {
	fnID, err := loader.Identify(fn)
	if err != nil {
		return nil, fmt.Errorf("process: run function must be registered via RegisterRunFunc: %w", err)
	}

	ports := cfg.Ports
	if ports == nil {
		ports = AcceptAllPorts{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	sep := cfg.OutputSep
	if sep == "" {
		sep = "."
	}
	pid := cfg.PID
	if pid == "" {
		pid = uuid.New().String()
	}

	parsed, err := ports.PreProcess(inputs)
	if err != nil {
		return nil, fmt.Errorf("process: input validation failed: %w", err)
	}
	if err := ports.Validate(parsed); err != nil {
		return nil, fmt.Errorf("process: input validation failed: %w", err)
	}

	p := &Process{
		pid:         pid,
		createdAt:   time.Now(),
		inputsRaw:   bundle.DeepCopy(inputs).(map[string]any),
		inputsPar:   bundle.DeepCopy(parsed).(map[string]any),
		outputs:     make(map[string]any),
		outputSep:   sep,
		ports:       ports,
		observer:    observer,
		coordinator: cfg.Coordinator,
		pauseCh:     make(chan struct{}),
		outcome:     NewFuture[Outcome](),
	}
	p.listeners = eventhelper.New[Listener](observer)

	policy := func(from, to statemachine.Label, cause error) (statemachine.State, error) {
		if from == "" {
			// Failure entering CREATED: re-raise to the constructor.
			return nil, cause
		}
		return newExcepted(cause, ""), nil
	}

	created := newCreated(fnID, nil, nil)
	p.machine = statemachine.New(nil, policy, statemachine.WithObserver(observer))
	if err := p.machine.TransitionTo(created); err != nil {
		return nil, err
	}
	p.emit(func(l Listener) { l.OnProcessCreated(p) })
	p.emitObs(observability.EventProcessCreated, nil)

	if p.coordinator != nil {
		p.subscribeCoordinator()
	}

	return p, nil
}

// PID returns the process's unique id.
func (p *Process) PID() string { return p.pid }

// Label returns the current state's label.
func (p *Process) Label() statemachine.Label { return p.machine.Current().Label() }

// Closed reports whether the process has reached a terminal state.
func (p *Process) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Process) setRunning(running bool) {
	p.mu.Lock()
	p.stepping = running
	p.mu.Unlock()
}

// CheckInterrupt lets a long-running RunFunc cooperate with Kill: called
// periodically from inside fn, it panics with *KillInterruption once a
// Kill has been requested mid-step. Go has no mechanism to interrupt an
// arbitrary synchronous call from another goroutine, so unlike the
// Pause case (applied between steps, no cooperation needed), a Kill
// requested while execute is already running only takes effect at the
// next call a polite RunFunc makes to CheckInterrupt, or at the step's
// natural completion, whichever comes first.
func (p *Process) CheckInterrupt() {
	p.mu.Lock()
	kind := p.pendingInterrupt
	msg := p.interruptMsg
	p.mu.Unlock()

	if kind == interruptKill {
		panic(&KillInterruption{Msg: msg})
	}
}

func (p *Process) emit(fn func(Listener)) {
	p.listeners.Fire(fn)
}

// AddListener registers l to receive lifecycle callbacks.
func (p *Process) AddListener(l Listener) { p.listeners.Add(l) }

// RemoveListener unregisters l.
func (p *Process) RemoveListener(l Listener) { p.listeners.Remove(l) }

// Start transitions a CREATED process into RUNNING. Only valid from
// CREATED, per spec.md §4.7.
func (p *Process) Start() error {
	spec := statemachine.EventSpec{Name: "start", FromStates: []statemachine.Label{LabelCreated}, ToStates: []statemachine.Label{LabelRunning}}
	return p.machine.Guard(spec, func() (bool, error) {
		return false, p.step(context.Background())
	})
}

// Step executes one state's execute() and performs the resulting
// transition, per spec.md §4.7. If the process is paused, Step blocks
// until Play is called.
func (p *Process) Step(ctx context.Context) error {
	return p.step(ctx)
}

func (p *Process) step(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	pauseCh := p.pauseCh
	paused := p.paused
	p.mu.Unlock()

	if paused {
		select {
		case <-pauseCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	current := p.machine.Current()
	es, ok := current.(execState)
	if !ok {
		return fmt.Errorf("process: state %s does not support execute", current.Label())
	}

	p.mu.Lock()
	p.stepping = true
	p.mu.Unlock()

	next, err := es.execute(ctx, p)

	p.mu.Lock()
	kind := p.pendingInterrupt
	msg := p.interruptMsg
	p.pendingInterrupt = interruptNone
	p.interruptMsg = ""
	p.stepping = false
	p.mu.Unlock()

	if kind == interruptKill {
		return p.transition(newKilled(msg))
	}
	if err != nil {
		return p.Fail(err, "")
	}

	if err := p.transition(next); err != nil {
		return err
	}

	if kind == interruptPause && !p.Closed() {
		p.doPause(msg)
	}
	return nil
}

func (p *Process) transition(next statemachine.State) error {
	prev := p.machine.Current().Label()
	if err := p.machine.TransitionTo(next); err != nil {
		return err
	}
	p.afterTransition(prev, next.Label())
	return nil
}

func (p *Process) afterTransition(from, to statemachine.Label) {
	if p.coordinator != nil {
		subject := fmt.Sprintf("state_changed.%s.%s", lowerOrNone(from), strings.ToLower(string(to)))
		_ = p.coordinator.BroadcastSend(context.Background(), subject, nil)
	}

	switch to {
	case LabelRunning:
		p.emit(func(l Listener) { l.OnProcessRunning(p) })
		p.emitObs(observability.EventProcessRunning, nil)
	case LabelWaiting:
		p.emit(func(l Listener) { l.OnProcessWaiting(p) })
		p.emitObs(observability.EventProcessWaiting, nil)
	case LabelFinished:
		fs := p.machine.Current().(*finishedState)
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.runCleanups()
		p.outcome.SetResult(Outcome{Result: fs.result, Successful: fs.successful})
		p.emit(func(l Listener) { l.OnProcessFinished(p, fs.result, fs.successful) })
		p.emitObs(observability.EventProcessFinished, map[string]any{"successful": fs.successful})
	case LabelExcepted:
		es := p.machine.Current().(*exceptedState)
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.runCleanups()
		err := fmt.Errorf("%s", es.message)
		p.outcome.SetException(err)
		p.emit(func(l Listener) { l.OnProcessExcepted(p, err) })
		p.emitObs(observability.EventProcessExcepted, map[string]any{"error": err.Error()})
	case LabelKilled:
		ks := p.machine.Current().(*killedState)
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.runCleanups()
		p.outcome.SetResult(Outcome{KillMsg: ks.msg})
		p.emit(func(l Listener) { l.OnProcessKilled(p, ks.msg) })
		p.emitObs(observability.EventProcessKilled, map[string]any{"msg": ks.msg})
	}
}

// emitObs reports a process lifecycle event to the configured Observer,
// alongside afterTransition's Listener callbacks and coordinator
// broadcast — the three channels spec.md §4.9/§6 describes for state
// change: in-process listeners, the Coordinator's broadcast subject, and
// ambient observability.
func (p *Process) emitObs(typ observability.EventType, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["pid"] = p.pid
	p.observer.OnEvent(context.Background(), observability.Event{
		Type: typ, Level: observability.LevelOf(typ), Timestamp: time.Now(), Source: "process.Process", Data: data,
	})
}

func lowerOrNone(l statemachine.Label) string {
	if l == "" {
		return "none"
	}
	return strings.ToLower(string(l))
}

func (p *Process) runCleanups() {
	p.mu.Lock()
	cleanups := p.cleanups
	p.cleanups = nil
	p.mu.Unlock()

	if p.coordinator != nil {
		p.unsubscribeCoordinator()
	}
	for _, c := range cleanups {
		func() {
			defer func() { recover() }()
			c()
		}()
	}
}

// AddCleanup registers a thunk run exactly once when the process reaches
// a terminal state.
func (p *Process) AddCleanup(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanups = append(p.cleanups, fn)
}

// StepUntilTerminated loops Step until a terminal state is reached.
func (p *Process) StepUntilTerminated(ctx context.Context) error {
	for !p.Closed() {
		if err := p.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the process to completion and returns its outputs.
func (p *Process) Execute(ctx context.Context) (map[string]any, error) {
	if p.Closed() {
		return nil, ErrClosed
	}
	if p.Label() == LabelCreated {
		if err := p.Start(); err != nil {
			return nil, err
		}
	}
	if err := p.StepUntilTerminated(ctx); err != nil {
		return nil, err
	}
	return p.Outputs(), nil
}

// Outputs returns a deep copy of the process's output map.
func (p *Process) Outputs() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bundle.DeepCopy(p.outputs).(map[string]any)
}

// InputsRaw returns a deep copy of the unvalidated construction inputs.
func (p *Process) InputsRaw() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bundle.DeepCopy(p.inputsRaw).(map[string]any)
}

// InputsParsed returns a deep copy of the port-validated inputs.
func (p *Process) InputsParsed() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bundle.DeepCopy(p.inputsPar).(map[string]any)
}

// Out writes value at portName into the output namespace, validating
// against the PortNamespace capability and creating nested maps for
// dotted names, per spec.md §4.7.
func (p *Process) Out(portName string, value any) error {
	if err := p.ports.ValidateDynamicPorts(portName, value); err != nil {
		return fmt.Errorf("process: output validation failed for %q: %w", portName, err)
	}

	p.mu.Lock()
	setNested(p.outputs, strings.Split(portName, p.outputSep), value)
	p.mu.Unlock()

	p.emit(func(l Listener) { l.OnOutputEmitted(p, portName, value) })
	p.emitObs(observability.EventOutputEmitted, map[string]any{"port": portName})
	return nil
}

func setNested(m map[string]any, parts []string, value any) {
	if len(parts) == 1 {
		m[parts[0]] = value
		return
	}
	next, ok := m[parts[0]].(map[string]any)
	if !ok {
		next = make(map[string]any)
		m[parts[0]] = next
	}
	setNested(next, parts[1:], value)
}

// Status returns the process's human-readable status string.
func (p *Process) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Paused reports whether the process is currently paused.
func (p *Process) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Pause requests the process pause, per spec.md §4.7. Idempotent: a
// second call while already paused is a no-op returning true.
func (p *Process) Pause(msg string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if p.paused {
		return true
	}
	if p.stepping {
		p.pendingInterrupt = interruptPause
		p.interruptMsg = msg
		return true
	}
	p.doPauseLocked(msg)
	return true
}

func (p *Process) doPause(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doPauseLocked(msg)
}

func (p *Process) doPauseLocked(msg string) {
	p.prePausedStatus = p.status
	if msg != "" {
		p.status = msg
	}
	p.paused = true
	p.pauseCh = make(chan struct{})
	p.mu.Unlock()
	p.emit(func(l Listener) { l.OnProcessPaused(p) })
	p.emitObs(observability.EventProcessPaused, nil)
	p.mu.Lock()
}

// Play resumes a paused process, restoring its pre-pause status.
func (p *Process) Play() bool {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return false
	}
	p.paused = false
	p.status = p.prePausedStatus
	ch := p.pauseCh
	p.mu.Unlock()

	close(ch)
	p.emit(func(l Listener) { l.OnProcessPlayed(p) })
	p.emitObs(observability.EventProcessPlayed, nil)
	return true
}

// Kill requests the process terminate with msg, per spec.md §4.7.
// Idempotent once already killed; fails-false on any other terminal
// state.
func (p *Process) Kill(msg string) bool {
	p.mu.Lock()
	if p.closed {
		alreadyKilled := p.machine.Current().Label() == LabelKilled
		p.mu.Unlock()
		return alreadyKilled
	}
	if p.stepping {
		p.pendingInterrupt = interruptKill
		p.interruptMsg = msg
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()

	return p.transition(newKilled(msg)) == nil
}

// Resume unblocks a Waiting state's resume future with value, scheduling
// transition to Running on the next Step. Only valid from Waiting.
func (p *Process) Resume(value any) error {
	current := p.machine.Current()
	ws, ok := current.(*waitingState)
	if !ok {
		return fmt.Errorf("%w: resume called outside WAITING", ErrInvalidState)
	}
	ws.resume(value)
	return nil
}

// Fail forces a transition to EXCEPTED, per spec.md §4.7.
func (p *Process) Fail(err error, traceback string) error {
	return p.transition(newExcepted(err, traceback))
}

// Outcome blocks until the process reaches a terminal state and returns
// its Outcome.
func (p *Process) Outcome(ctx context.Context) (Outcome, error) {
	select {
	case <-p.outcome.Done():
		return p.outcome.Result()
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// -- Coordinator integration -------------------------------------------

func (p *Process) subscribeCoordinator() {
	err := p.coordinator.AddRPCSubscriber(p.pid, func(ctx context.Context, msg any) (any, error) {
		return p.handleControlMessage(msg)
	})
	if err != nil {
		p.observer.OnEvent(context.Background(), observability.Event{
			Type:      observability.EventCoordinatorSubscribe,
			Timestamp: time.Now(),
			Source:    "process",
			Data:      map[string]any{"pid": p.pid, "error": err.Error()},
		})
	}
}

func (p *Process) unsubscribeCoordinator() {
	_ = p.coordinator.RemoveRPCSubscriber(p.pid)
}

// ControlMessage is the RPC control shape of spec.md §6.
type ControlMessage struct {
	Intent  string
	Message map[string]any
}

func (p *Process) handleControlMessage(msg any) (any, error) {
	cm, ok := msg.(ControlMessage)
	if !ok {
		return nil, fmt.Errorf("process: unrecognized control message %T", msg)
	}
	switch cm.Intent {
	case "play":
		return p.Play(), nil
	case "pause":
		text, _ := cm.Message["text"].(string)
		return p.Pause(text), nil
	case "kill":
		text, _ := cm.Message["text"].(string)
		return p.Kill(text), nil
	case "status":
		return p.Status(), nil
	default:
		return nil, fmt.Errorf("process: unknown control intent %q", cm.Intent)
	}
}
