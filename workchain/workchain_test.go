package workchain_test

import (
	"context"
	"sync"
	"testing"

	"github.com/tailored-agentic-units/procrt/process"
	"github.com/tailored-agentic-units/procrt/workchain"
)

// -- fixtures ----------------------------------------------------------------

// trace records step function names in execution order, shared by closure
// across a single outline's StepFuncs.
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (tr *trace) record(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.steps = append(tr.steps, name)
}

func (tr *trace) snapshot() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, len(tr.steps))
	copy(out, tr.steps)
	return out
}

func countOf(steps []string, name string) int {
	n := 0
	for _, s := range steps {
		if s == name {
			n++
		}
	}
	return n
}

func step(tr *trace, name string) workchain.StepFunc {
	return func(wc *workchain.WorkChain) (any, error) {
		tr.record(name)
		return nil, nil
	}
}

func runToCompletion(t *testing.T, p *process.Process) map[string]any {
	t.Helper()
	out, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if p.Label() != process.LabelFinished {
		t.Fatalf("label = %s, want finished", p.Label())
	}
	return out
}

// -- Scenario F: If/While outline ---------------------------------------------

func TestScenarioFIfWhile(t *testing.T) {
	tr := &trace{}

	isA := func(wc *workchain.WorkChain) (bool, error) {
		tr.record("isA")
		v, _ := wc.Context("value")
		return v == "A", nil
	}
	isB := func(wc *workchain.WorkChain) (bool, error) {
		tr.record("isB")
		v, _ := wc.Context("value")
		return v == "B", nil
	}
	ltN := func(wc *workchain.WorkChain) (bool, error) {
		tr.record("ltN")
		counter, _ := wc.Context("counter")
		n, _ := wc.Context("n")
		c, _ := counter.(int)
		limit, _ := n.(int)
		return c < limit, nil
	}

	outline := workchain.Seq(
		step(tr, "s1"),
		workchain.If(
			[]workchain.Branch{
				{Pred: isA, Body: step(tr, "s2")},
				{Pred: isB, Body: step(tr, "s3")},
			},
			step(tr, "s4"),
		),
		step(tr, "s5"),
		workchain.While(ltN, incrementCounter(tr)),
	)

	p, wc, err := workchain.New(outline, map[string]any{"value": "A", "n": 3, "counter": 0}, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wc.SetContext("value", "A")
	wc.SetContext("n", 3)
	wc.SetContext("counter", 0)

	runToCompletion(t, p)

	got := tr.snapshot()
	want := map[string]int{
		"s1": 1, "isA": 1, "s2": 1, "s5": 1,
		"ltN": 4, "s6": 3,
	}
	for name, n := range want {
		if c := countOf(got, name); c != n {
			t.Fatalf("step %q ran %d times in %v, want %d", name, c, got, n)
		}
	}
	if countOf(got, "isB") != 0 || countOf(got, "s3") != 0 || countOf(got, "s4") != 0 {
		t.Fatalf("unexpected branch taken: %v", got)
	}

	counter, _ := wc.Context("counter")
	if counter != 3 {
		t.Fatalf("counter = %v, want 3", counter)
	}
}

func incrementCounter(tr *trace) workchain.StepFunc {
	return func(wc *workchain.WorkChain) (any, error) {
		tr.record("s6")
		counter, _ := wc.Context("counter")
		c, _ := counter.(int)
		wc.SetContext("counter", c+1)
		return nil, nil
	}
}

// -- Block / Return ------------------------------------------------------------

func TestSeqReturnShortCircuits(t *testing.T) {
	tr := &trace{}
	outline := workchain.Seq(
		step(tr, "a"),
		workchain.Return("done-early"),
		step(tr, "b"),
	)

	p, _, err := workchain.New(outline, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if countOf(tr.snapshot(), "b") != 0 {
		t.Fatalf("step b ran after Return: %v", tr.snapshot())
	}

	outcome, err := p.Outcome(context.Background())
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if !outcome.Successful || outcome.Result != "done-early" {
		t.Fatalf("outcome = %+v, want successful result done-early", outcome)
	}
}

// -- ToContext / Wait / Resume --------------------------------------------------

func TestToContextAwaitsFutureAndResumes(t *testing.T) {
	tr := &trace{}
	fut := process.NewFuture[any]()

	waitStep := func(wc *workchain.WorkChain) (any, error) {
		tr.record("wait-step")
		return workchain.ToContext{"approval": fut}, nil
	}
	afterStep := func(wc *workchain.WorkChain) (any, error) {
		tr.record("after-step")
		v, _ := wc.Context("approval")
		if v != "granted" {
			t.Fatalf("approval = %v, want granted", v)
		}
		return nil, nil
	}

	outline := workchain.Seq(waitStep, afterStep)
	p, _, err := workchain.New(outline, nil, process.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if p.Label() != process.LabelWaiting {
		t.Fatalf("label = %s, want waiting", p.Label())
	}

	if err := p.Resume(map[string]any{"approval": "granted"}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := p.StepUntilTerminated(context.Background()); err != nil {
		t.Fatalf("StepUntilTerminated: %v", err)
	}

	if p.Label() != process.LabelFinished {
		t.Fatalf("label = %s, want finished", p.Label())
	}
	if countOf(tr.snapshot(), "after-step") != 1 {
		t.Fatalf("after-step did not run: %v", tr.snapshot())
	}
}
