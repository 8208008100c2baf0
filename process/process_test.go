package process_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tailored-agentic-units/procrt/loader"
	"github.com/tailored-agentic-units/procrt/process"
	"github.com/tailored-agentic-units/procrt/savable"
)

// -- fixtures --------------------------------------------------------------

type recordingListener struct {
	process.BaseListener
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) record(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingListener) OnProcessRunning(*process.Process)        { l.record("running") }
func (l *recordingListener) OnProcessWaiting(*process.Process)        { l.record("waiting") }
func (l *recordingListener) OnProcessPaused(*process.Process)         { l.record("paused") }
func (l *recordingListener) OnProcessPlayed(*process.Process)         { l.record("played") }
func (l *recordingListener) OnProcessKilled(*process.Process, string) { l.record("killed") }
func (l *recordingListener) OnProcessFinished(*process.Process, any, bool) {
	l.record("finished")
}
func (l *recordingListener) OnProcessExcepted(*process.Process, error) { l.record("excepted") }
func (l *recordingListener) OnOutputEmitted(p *process.Process, port string, value any) {
	l.record("output:" + port)
}

func (l *recordingListener) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func countOf(events []string, target string) int {
	n := 0
	for _, e := range events {
		if e == target {
			n++
		}
	}
	return n
}

func runImmediate(p *process.Process, args []any, kwargs map[string]any) (any, error) {
	return nil, nil
}

func runWithOutput(p *process.Process, args []any, kwargs map[string]any) (any, error) {
	if err := p.Out("default", 5); err != nil {
		return nil, err
	}
	return nil, nil
}

func resumeAfterWait(p *process.Process, args []any, kwargs map[string]any) (any, error) {
	return nil, nil
}

func runWaitThenFinish(p *process.Process, args []any, kwargs map[string]any) (any, error) {
	return process.Wait{FnID: resumeAfterWaitID, Msg: "waiting for resume"}, nil
}

func runPauseThenKill(p *process.Process, args []any, kwargs map[string]any) (any, error) {
	p.Pause("pause requested")
	p.Kill("kill requested")
	return nil, nil
}

func runFails(p *process.Process, args []any, kwargs map[string]any) (any, error) {
	return nil, errors.New("boom")
}

var resumeAfterWaitID loader.Identifier

func init() {
	mustRegisterFixture(runImmediate)
	mustRegisterFixture(runWithOutput)
	mustRegisterFixture(runPauseThenKill)
	mustRegisterFixture(runFails)
	mustRegisterFixture(runWaitThenFinish)

	id, err := process.RegisterRunFunc(resumeAfterWait)
	if err != nil {
		panic(err)
	}
	resumeAfterWaitID = id
}

func mustRegisterFixture(fn process.RunFunc) {
	if _, err := process.RegisterRunFunc(fn); err != nil {
		panic(err)
	}
}

// -- Scenario A: minimal process --------------------------------------------

func TestScenarioAMinimalProcess(t *testing.T) {
	p, err := process.New(runImmediate, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lst := &recordingListener{}
	p.AddListener(lst)

	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if p.Label() != process.LabelFinished {
		t.Fatalf("label = %s, want finished", p.Label())
	}
	if out := p.Outputs(); len(out) != 0 {
		t.Fatalf("outputs = %v, want empty", out)
	}
	events := lst.snapshot()
	if countOf(events, "running") != 1 || countOf(events, "finished") != 1 {
		t.Fatalf("events = %v, want exactly one running and one finished", events)
	}
}

// -- Scenario B: single output -----------------------------------------------

func TestScenarioBSingleOutput(t *testing.T) {
	p, err := process.New(runWithOutput, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lst := &recordingListener{}
	p.AddListener(lst)

	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	out := p.Outputs()
	if v, ok := out["default"]; !ok || v != 5 {
		t.Fatalf("outputs = %v, want {default: 5}", out)
	}
	if countOf(lst.snapshot(), "output:default") != 1 {
		t.Fatalf("events = %v, want exactly one output:default", lst.snapshot())
	}
}

// -- Scenario C: wait/resume --------------------------------------------------

func TestScenarioCWaitResume(t *testing.T) {
	p, err := process.New(runWaitThenFinish, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lst := &recordingListener{}
	p.AddListener(lst)

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step (run fn, expect Wait): %v", err)
	}
	if p.Label() != process.LabelWaiting {
		t.Fatalf("label = %s, want waiting", p.Label())
	}

	if err := p.Resume(nil); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := p.StepUntilTerminated(context.Background()); err != nil {
		t.Fatalf("StepUntilTerminated: %v", err)
	}

	if p.Label() != process.LabelFinished {
		t.Fatalf("label = %s, want finished", p.Label())
	}

	want := []string{"running", "waiting", "running", "finished"}
	got := lst.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

// -- Scenario E: kill during pause -------------------------------------------

func TestScenarioEKillDuringPause(t *testing.T) {
	p, err := process.New(runWaitThenFinish, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step (run fn, expect Wait): %v", err)
	}
	if p.Label() != process.LabelWaiting {
		t.Fatalf("label = %s, want waiting", p.Label())
	}

	if ok := p.Pause("pausing while waiting"); !ok {
		t.Fatalf("Pause returned false")
	}
	if !p.Paused() {
		t.Fatalf("process not marked paused")
	}

	if ok := p.Kill("kill while paused"); !ok {
		t.Fatalf("Kill returned false")
	}
	if p.Label() != process.LabelKilled {
		t.Fatalf("label = %s, want killed", p.Label())
	}

	outcome, err := p.Outcome(context.Background())
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if outcome.KillMsg != "kill while paused" {
		t.Fatalf("outcome.KillMsg = %q, want %q", outcome.KillMsg, "kill while paused")
	}
}

// -- Property 2: transitions stay within ALLOWED -----------------------------

func TestPropertyTransitionsWithinAllowed(t *testing.T) {
	p, err := process.New(runImmediate, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Label() != process.LabelCreated {
		t.Fatalf("label = %s, want created", p.Label())
	}
	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if p.Label() != process.LabelFinished {
		t.Fatalf("label = %s, want finished", p.Label())
	}
}

// -- Property 3: terminal process rejects further steps ----------------------

func TestPropertyClosedAfterTerminal(t *testing.T) {
	p, err := process.New(runImmediate, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := p.Execute(context.Background()); !errors.Is(err, process.ErrClosed) {
		t.Fatalf("Execute after terminal = %v, want ErrClosed", err)
	}
	if err := p.Step(context.Background()); !errors.Is(err, process.ErrClosed) {
		t.Fatalf("Step after terminal = %v, want ErrClosed", err)
	}
}

// -- Property 5: pause is idempotent, one play unpauses ----------------------

func TestPropertyPauseIdempotent(t *testing.T) {
	p, err := process.New(runWaitThenFinish, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step (run fn, expect Wait): %v", err)
	}

	if ok := p.Pause("first"); !ok {
		t.Fatalf("first Pause returned false")
	}
	if ok := p.Pause("second"); !ok {
		t.Fatalf("second Pause returned false")
	}
	if !p.Paused() {
		t.Fatalf("process not paused after two Pause calls")
	}

	if ok := p.Play(); !ok {
		t.Fatalf("Play returned false")
	}
	if p.Paused() {
		t.Fatalf("process still paused after one Play")
	}
}

// -- Property 6: kill dominates a pause requested mid-step -------------------

func TestPropertyKillDominatesPause(t *testing.T) {
	p, err := process.New(runPauseThenKill, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step (run fn, triggers pause-then-kill): %v", err)
	}

	if p.Label() != process.LabelKilled {
		t.Fatalf("label = %s, want killed", p.Label())
	}
	if p.Paused() {
		t.Fatalf("process left paused; kill must dominate pause")
	}
}

// -- Scenario D: save during WAITING, resume the reloaded copy ---------------

func TestScenarioDSaveDuringWaiting(t *testing.T) {
	original, err := process.New(runWaitThenFinish, nil, process.Config{PID: "scenario-d"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := original.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := original.Step(context.Background()); err != nil {
		t.Fatalf("Step (run fn, expect Wait): %v", err)
	}
	if original.Label() != process.LabelWaiting {
		t.Fatalf("label = %s, want waiting", original.Label())
	}

	b, err := original.Save(savable.Context{})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := savable.Load(b, savable.Context{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	reloaded, ok := loaded.(*process.Process)
	if !ok {
		t.Fatalf("Load returned %T, want *process.Process", loaded)
	}

	if reloaded.PID() != original.PID() {
		t.Fatalf("reloaded PID = %q, want %q", reloaded.PID(), original.PID())
	}
	if reloaded.Label() != process.LabelWaiting {
		t.Fatalf("reloaded label = %s, want waiting", reloaded.Label())
	}

	if err := reloaded.Resume(nil); err != nil {
		t.Fatalf("Resume on reloaded process: %v", err)
	}
	if err := reloaded.StepUntilTerminated(context.Background()); err != nil {
		t.Fatalf("StepUntilTerminated on reloaded process: %v", err)
	}
	if reloaded.Label() != process.LabelFinished {
		t.Fatalf("reloaded label = %s, want finished", reloaded.Label())
	}

	originalOutputs := original.Outputs()
	reloadedOutputs := reloaded.Outputs()
	if len(originalOutputs) != len(reloadedOutputs) {
		t.Fatalf("outputs diverged: original=%v reloaded=%v", originalOutputs, reloadedOutputs)
	}
}

// -- Property: run function failure transitions to EXCEPTED ------------------

func TestRunFuncErrorExcepts(t *testing.T) {
	p, err := process.New(runFails, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step (run fn, expect failure): %v", err)
	}
	if p.Label() != process.LabelExcepted {
		t.Fatalf("label = %s, want excepted", p.Label())
	}
	if _, err := p.Outcome(context.Background()); err == nil {
		t.Fatalf("Outcome error = nil, want non-nil")
	}
}
