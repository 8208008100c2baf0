// Package controller implements the two façades of spec.md §4.9 (Async
// and Sync) plus the ProcessLauncher task subscriber they depend on to
// create and resume processes remotely over a Coordinator.
//
// Grounded on orchestrate/hub/hub.go's Request/Response correlation
// pattern (a typed message in, a typed message or error back) for the
// Async façade's rpc_send-based verbs, generalized here to go through
// coordinator.Coordinator's RPCSend/TaskSend rather than hub's
// channel-per-agent transport, since this module's Coordinator already
// dispatches synchronously in-process.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tailored-agentic-units/procrt/coordinator"
	"github.com/tailored-agentic-units/procrt/observability"
	"github.com/tailored-agentic-units/procrt/persist"
	"github.com/tailored-agentic-units/procrt/process"
	"github.com/tailored-agentic-units/procrt/savable"
	"github.com/tailored-agentic-units/procrt/workchain"
)

// LaunchQueue is the task queue name the ProcessLauncher subscribes
// under, per spec.md §4.9: "the subscriber registered with the
// Coordinator's task channel."
const LaunchQueue = "processes"

// LaunchTask is the task body a Controller sends to the ProcessLauncher,
// dispatching on Task ("create", "launch", "continue") per spec.md
// §4.9.
type LaunchTask struct {
	Task string

	// create/launch
	Outline workchain.Instruction
	Inputs  map[string]any
	Cfg     process.Config
	Persist bool

	// continue
	PID string
	Tag string

	NoWait bool
}

// LaunchResult is what the ProcessLauncher replies with: the process id
// and, once the process reaches a terminal state (NoWait false), its
// outcome.
type LaunchResult struct {
	PID     string
	Outcome *process.Outcome
}

// ProcessLauncher is the receiving-side subscriber of spec.md §4.9: it
// owns the live *process.Process/*workchain.WorkChain pairs it has
// created, uses persister to checkpoint a launch and reload a continue.
type ProcessLauncher struct {
	mu        sync.Mutex
	processes map[string]*process.Process
	chains    map[string]*workchain.WorkChain

	coord     *coordinator.Coordinator
	persister persist.Persister
	observer  observability.Observer
}

// NewProcessLauncher constructs a launcher bound to coord/persister but
// does not yet subscribe it — call Register to start accepting tasks.
func NewProcessLauncher(coord *coordinator.Coordinator, persister persist.Persister, obs observability.Observer) *ProcessLauncher {
	if obs == nil {
		obs = observability.NoOpObserver{}
	}
	return &ProcessLauncher{
		processes: make(map[string]*process.Process),
		chains:    make(map[string]*workchain.WorkChain),
		coord:     coord,
		persister: persister,
		observer:  obs,
	}
}

// Register subscribes the launcher to LaunchQueue on its Coordinator.
func (l *ProcessLauncher) Register() error {
	return l.coord.AddTaskSubscriber(LaunchQueue, "launcher", l.handle)
}

// Unregister removes the launcher's task subscription.
func (l *ProcessLauncher) Unregister() error {
	return l.coord.RemoveTaskSubscriber(LaunchQueue, "launcher")
}

func (l *ProcessLauncher) handle(ctx context.Context, body any) (any, error) {
	task, ok := body.(LaunchTask)
	if !ok {
		return nil, fmt.Errorf("controller: launcher received unrecognized task body %T", body)
	}
	switch task.Task {
	case "create":
		return l.create(ctx, task)
	case "launch":
		return l.launch(ctx, task)
	case "continue":
		return l.cont(ctx, task)
	default:
		return nil, fmt.Errorf("controller: unknown launch task %q", task.Task)
	}
}

// create builds and registers a Process/WorkChain pair without starting
// it, returning its pid.
func (l *ProcessLauncher) create(ctx context.Context, task LaunchTask) (LaunchResult, error) {
	cfg := task.Cfg
	if cfg.Coordinator == nil {
		cfg.Coordinator = l.coord
	}
	if cfg.Observer == nil {
		cfg.Observer = l.observer
	}

	p, wc, err := workchain.New(task.Outline, task.Inputs, cfg)
	if err != nil {
		return LaunchResult{}, err
	}

	l.mu.Lock()
	l.processes[p.PID()] = p
	l.chains[p.PID()] = wc
	l.mu.Unlock()

	return LaunchResult{PID: p.PID()}, nil
}

// launch creates the process then starts it. When task.Persist, it
// saves an initial checkpoint after the first step (spec.md §4.9: "store
// an initial checkpoint on launch(persist=true)"). When task.NoWait, it
// drives the process to completion in the background and returns
// immediately with just the pid; otherwise it blocks for the outcome.
func (l *ProcessLauncher) launch(ctx context.Context, task LaunchTask) (LaunchResult, error) {
	result, err := l.create(ctx, task)
	if err != nil {
		return LaunchResult{}, err
	}

	l.mu.Lock()
	p := l.processes[result.PID]
	l.mu.Unlock()

	if err := p.Start(); err != nil {
		return LaunchResult{}, err
	}
	if err := p.Step(ctx); err != nil {
		return LaunchResult{}, err
	}

	if task.Persist {
		if err := l.checkpoint(ctx, p, task.Tag); err != nil {
			return LaunchResult{}, err
		}
	}

	if task.NoWait {
		go func() {
			_ = p.StepUntilTerminated(context.Background())
			if task.Persist {
				_ = l.checkpoint(context.Background(), p, task.Tag)
			}
		}()
		return result, nil
	}

	if err := p.StepUntilTerminated(ctx); err != nil {
		return LaunchResult{}, err
	}
	outcome, err := p.Outcome(ctx)
	if err != nil {
		return LaunchResult{}, err
	}
	if task.Persist {
		if err := l.checkpoint(ctx, p, task.Tag); err != nil {
			return LaunchResult{}, err
		}
	}
	return LaunchResult{PID: result.PID, Outcome: &outcome}, nil
}

// cont reloads a previously checkpointed process and drives it to
// completion, re-attaching its WorkChain via the outline the caller
// supplies (outlines are never persisted, per spec.md §4.8).
func (l *ProcessLauncher) cont(ctx context.Context, task LaunchTask) (LaunchResult, error) {
	b, err := l.persister.LoadCheckpoint(ctx, task.PID, task.Tag)
	if err != nil {
		return LaunchResult{}, err
	}

	cfg := task.Cfg
	if cfg.Coordinator == nil {
		cfg.Coordinator = l.coord
	}
	if cfg.Observer == nil {
		cfg.Observer = l.observer
	}

	saveCtx := savable.Context{
		Observer: cfg.Observer,
		Extra: map[string]any{
			"ports":       cfg.Ports,
			"observer":    cfg.Observer,
			"coordinator": process.Coordinator(l.coord),
		},
	}

	restored, err := savable.Load(b, saveCtx)
	if err != nil {
		return LaunchResult{}, err
	}
	p, ok := restored.(*process.Process)
	if !ok {
		return LaunchResult{}, fmt.Errorf("controller: checkpoint %s did not recreate a *process.Process", task.PID)
	}

	wc, err := l.reattachWorkChain(task, p, saveCtx)
	if err != nil {
		return LaunchResult{}, err
	}

	l.mu.Lock()
	l.processes[p.PID()] = p
	l.chains[p.PID()] = wc
	l.mu.Unlock()

	if task.NoWait {
		go func() { _ = p.StepUntilTerminated(context.Background()) }()
		return LaunchResult{PID: p.PID()}, nil
	}

	if err := p.StepUntilTerminated(ctx); err != nil {
		return LaunchResult{}, err
	}
	outcome, err := p.Outcome(ctx)
	if err != nil {
		return LaunchResult{}, err
	}
	return LaunchResult{PID: p.PID(), Outcome: &outcome}, nil
}

// reattachWorkChain loads the WorkChain bundle stored under a sibling
// checkpoint tag ("<tag>.workchain") and attaches it to p, when present.
// A task.Outline with no stored WorkChain bundle (a plain, non-workchain
// RunFunc process) is left alone.
func (l *ProcessLauncher) reattachWorkChain(task LaunchTask, p *process.Process, saveCtx savable.Context) (*workchain.WorkChain, error) {
	if task.Outline == nil {
		return nil, nil
	}
	wcTag := task.Tag + ".workchain"
	wcBundle, err := l.persister.LoadCheckpoint(context.Background(), task.PID, wcTag)
	if err != nil {
		if errors.Is(err, persist.ErrCheckpointMissing) {
			return nil, nil
		}
		return nil, err
	}
	wc, err := workchain.Load(wcBundle, saveCtx, task.Outline, saveCtx.Observer)
	if err != nil {
		return nil, err
	}
	workchain.Attach(p, wc)
	return wc, nil
}

func (l *ProcessLauncher) checkpoint(ctx context.Context, p *process.Process, tag string) error {
	saveCtx := savable.Context{Observer: l.observer}
	b, err := p.Save(saveCtx)
	if err != nil {
		return err
	}
	if err := l.persister.SaveCheckpoint(ctx, p.PID(), tag, b); err != nil {
		return err
	}
	l.emit(observability.EventProcessCheckpoint, map[string]any{"pid": p.PID(), "tag": tag})

	l.mu.Lock()
	wc := l.chains[p.PID()]
	l.mu.Unlock()
	if wc == nil {
		return nil
	}
	wcBundle, err := wc.Save(saveCtx)
	if err != nil {
		return err
	}
	return l.persister.SaveCheckpoint(ctx, p.PID(), tag+".workchain", wcBundle)
}

func (l *ProcessLauncher) emit(typ observability.EventType, data map[string]any) {
	l.observer.OnEvent(context.Background(), observability.Event{
		Type: typ, Level: observability.LevelOf(typ), Timestamp: time.Now(), Source: "controller.ProcessLauncher", Data: data,
	})
}

// Process returns a previously created/launched/continued process by
// pid, for a caller that holds the launcher directly (e.g. tests, or a
// single-process host) rather than going through the Coordinator.
func (l *ProcessLauncher) Process(pid string) (*process.Process, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.processes[pid]
	return p, ok
}
