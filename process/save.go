package process

import (
	"fmt"
	"time"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/eventhelper"
	"github.com/tailored-agentic-units/procrt/loader"
	"github.com/tailored-agentic-units/procrt/observability"
	"github.com/tailored-agentic-units/procrt/savable"
	"github.com/tailored-agentic-units/procrt/statemachine"
)

// ClassID identifies Process itself in the Object Loader, per spec.md §6's
// Process bundle shape.
const ClassID loader.Identifier = "github.com/tailored-agentic-units/procrt/process.Process"

// Save snapshots the process per spec.md §6: pid, creation time, state,
// raw/parsed inputs, outputs, pause bookkeeping, and the listener set.
// The coordinator and ports capabilities are not persisted — they are
// re-injected by the host at load time via ctx.Extra, the same way
// spec.md treats externally supplied collaborators as load-time
// parameters rather than bundle fields.
func (p *Process) Save(ctx savable.Context) (*bundle.Bundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := bundle.New(ClassID)
	b.Set("_pid", p.pid)
	b.Set("_CREATION_TIME", p.createdAt)
	b.Set("_paused", p.paused)
	b.Set("_status", p.status)
	b.Set("_pre_paused_status", p.prePausedStatus)
	b.Set("INPUTS_RAW", p.inputsRaw)
	b.Set("INPUTS_PARSED", p.inputsPar)
	b.Set("OUTPUTS", p.outputs)

	current, ok := p.machine.Current().(savable.Savable)
	if !ok {
		return nil, fmt.Errorf("process: current state %s is not Savable", p.machine.Current().Label())
	}
	stateBundle, err := current.Save(ctx)
	if err != nil {
		return nil, err
	}
	b.SetSavable("_state", stateBundle)

	p.listeners.Save("_listeners", b)

	return b, nil
}

// recreateProcess is registered as Process's Recreator, restoring
// everything Save wrote and re-attaching the collaborators named in
// ctx.Extra["ports"]/["observer"]/["coordinator"], matching the
// Context.Extra convention savable.Context documents for
// subsystem-specific recreation state. Listeners are resolved through
// ctx.Loader, or loader.Default() when that is nil.
func recreateProcess(b *bundle.Bundle, ctx savable.Context) (savable.Savable, error) {
	pid, err := b.GetString("_pid")
	if err != nil {
		return nil, err
	}

	stateBundle, err := b.GetBundle("_state")
	if err != nil {
		return nil, err
	}

	p := &Process{
		pid:       pid,
		outputSep: ".",
		pauseCh:   make(chan struct{}),
		outcome:   NewFuture[Outcome](),
	}

	if createdAny, ok := b.Get("_CREATION_TIME"); ok {
		if createdAt, ok := createdAny.(time.Time); ok {
			p.createdAt = createdAt
		}
	}

	if rawAny, ok := b.Get("INPUTS_RAW"); ok {
		p.inputsRaw, _ = rawAny.(map[string]any)
	}
	if parsedAny, ok := b.Get("INPUTS_PARSED"); ok {
		p.inputsPar, _ = parsedAny.(map[string]any)
	}
	if outAny, ok := b.Get("OUTPUTS"); ok {
		p.outputs, _ = outAny.(map[string]any)
	}
	if p.inputsRaw == nil {
		p.inputsRaw = map[string]any{}
	}
	if p.inputsPar == nil {
		p.inputsPar = map[string]any{}
	}
	if p.outputs == nil {
		p.outputs = map[string]any{}
	}

	if pausedAny, ok := b.Get("_paused"); ok {
		p.paused, _ = pausedAny.(bool)
	}
	p.status, _ = b.GetString("_status")
	if v, ok := b.Get("_pre_paused_status"); ok {
		p.prePausedStatus, _ = v.(string)
	}

	if ctx.Extra != nil {
		if ports, ok := ctx.Extra["ports"].(PortNamespace); ok {
			p.ports = ports
		}
		if obs, ok := ctx.Extra["observer"].(observability.Observer); ok {
			p.observer = obs
		}
		if coord, ok := ctx.Extra["coordinator"].(Coordinator); ok {
			p.coordinator = coord
		}
	}
	if p.ports == nil {
		p.ports = AcceptAllPorts{}
	}
	if p.observer == nil {
		p.observer = observability.NoOpObserver{}
	}

	stateSavable, err := savable.Load(stateBundle, ctx)
	if err != nil {
		return nil, err
	}
	resumedState, ok := stateSavable.(statemachine.State)
	if !ok {
		return nil, fmt.Errorf("process: recreated state does not implement statemachine.State")
	}

	policy := func(from, to statemachine.Label, cause error) (statemachine.State, error) {
		if from == "" {
			return nil, cause
		}
		return newExcepted(cause, ""), nil
	}
	p.machine = statemachine.New(resumedState, policy, statemachine.WithObserver(p.observer))

	resolve := func(id loader.Identifier) (any, error) {
		var l loader.Loader = ctx.Loader
		if l == nil {
			l = loader.Default()
		}
		return l.Load(id)
	}
	listeners, err := eventhelper.Load[Listener](b, "_listeners", resolve, p.observer)
	if err != nil {
		return nil, err
	}
	p.listeners = listeners

	if p.coordinator != nil {
		p.subscribeCoordinator()
	}

	return p, nil
}

func init() {
	if err := savable.DefaultRecreators().Register(ClassID, recreateProcess); err != nil {
		panic(err)
	}
}
