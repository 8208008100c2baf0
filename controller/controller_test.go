package controller_test

import (
	"context"
	"testing"
	"time"

	"github.com/tailored-agentic-units/procrt/controller"
	"github.com/tailored-agentic-units/procrt/coordinator"
	"github.com/tailored-agentic-units/procrt/persist"
	"github.com/tailored-agentic-units/procrt/process"
	"github.com/tailored-agentic-units/procrt/workchain"
)

func echoStep(wc *workchain.WorkChain) (any, error) {
	wc.SetContext("ran", true)
	return nil, nil
}

func buildEnv(t *testing.T) (*coordinator.Coordinator, *controller.ProcessLauncher) {
	t.Helper()
	coord := coordinator.New()
	launcher := controller.NewProcessLauncher(coord, persist.NewMemoryPersister(), nil)
	if err := launcher.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return coord, launcher
}

func TestAsyncLaunchProcessRunsToCompletion(t *testing.T) {
	coord, _ := buildEnv(t)
	async := controller.NewAsync(coord)

	outline := workchain.Seq(workchain.Call(echoStep))
	result, err := async.LaunchProcess(context.Background(), outline, nil, process.Config{}, false, false)
	if err != nil {
		t.Fatalf("LaunchProcess: %v", err)
	}
	if result.PID == "" {
		t.Fatal("expected non-empty pid")
	}
	if result.Outcome == nil || !result.Outcome.Successful {
		t.Fatalf("outcome = %+v, want successful", result.Outcome)
	}
}

func TestAsyncExecuteProcessWaitsForOutcome(t *testing.T) {
	coord, _ := buildEnv(t)
	async := controller.NewAsync(coord)

	outline := workchain.Seq(workchain.Call(echoStep))
	result, err := async.ExecuteProcess(context.Background(), outline, nil, process.Config{})
	if err != nil {
		t.Fatalf("ExecuteProcess: %v", err)
	}
	if result.Outcome == nil {
		t.Fatal("expected an outcome from ExecuteProcess")
	}
}

func TestAsyncControlIntentsReachRunningProcess(t *testing.T) {
	coord, launcher := buildEnv(t)
	async := controller.NewAsync(coord)

	waitStep := func(wc *workchain.WorkChain) (any, error) {
		return workchain.ToContext{"unblock": process.NewFuture[any]()}, nil
	}
	outline := workchain.Seq(workchain.Call(waitStep))

	result, err := async.LaunchProcess(context.Background(), outline, nil, process.Config{}, false, true)
	if err != nil {
		t.Fatalf("LaunchProcess: %v", err)
	}

	p, ok := launcher.Process(result.PID)
	if !ok {
		t.Fatalf("launcher has no record of pid %s", result.PID)
	}
	deadline := time.Now().Add(time.Second)
	for p.Label() != process.LabelWaiting && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.Label() != process.LabelWaiting {
		t.Fatalf("label = %s, want waiting", p.Label())
	}

	status, err := async.GetStatus(context.Background(), result.PID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status == "" {
		t.Fatal("expected non-empty status")
	}
}

func TestSyncPauseAllDeliversToRunningProcesses(t *testing.T) {
	coord := coordinator.New()
	delivered := make(chan string, 1)
	_ = coord.AddRPCSubscriber("proc-a", func(ctx context.Context, msg any) (any, error) {
		cm, _ := msg.(process.ControlMessage)
		delivered <- cm.Intent
		return true, nil
	})

	sync := controller.NewSync(coord)
	fut := sync.PauseAll(context.Background(), "shutting down")

	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PauseAll future")
	}
	results, err := fut.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if _, ok := results["proc-a"]; !ok {
		t.Fatalf("results = %v, want an entry for proc-a", results)
	}

	select {
	case intent := <-delivered:
		if intent != "pause" {
			t.Fatalf("intent = %q, want pause", intent)
		}
	case <-time.After(time.Second):
		t.Fatal("proc-a never received the pause control message")
	}
}
