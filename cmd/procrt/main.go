// Command procrt runs a small WorkChain-based process end to end over a
// Coordinator, demonstrating launch/status/checkpoint/continue the way
// spec.md §8's scenarios describe.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/tailored-agentic-units/procrt/controller"
	"github.com/tailored-agentic-units/procrt/coordinator"
	"github.com/tailored-agentic-units/procrt/observability"
	"github.com/tailored-agentic-units/procrt/persist"
	"github.com/tailored-agentic-units/procrt/process"
	"github.com/tailored-agentic-units/procrt/workchain"
)

func main() {
	var (
		limit      = flag.Int("limit", 3, "loop bound for the work step")
		urgent     = flag.Bool("urgent", false, "take the escalate branch instead of the normal one")
		persistDir = flag.String("persist-dir", "", "checkpoint directory (overrides in-memory persister)")
		verbose    = flag.Bool("verbose", false, "enable debug logging to stderr")
		interrupt  = flag.Bool("interrupt", false, "kill the process after its first step, then resume from checkpoint")
	)
	flag.Parse()

	var logger *slog.Logger
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	observer := observability.NewSlogObserver(logger)

	var persister persist.Persister
	if *persistDir != "" {
		persister = persist.NewFilePersister(*persistDir, observer)
	} else {
		persister = persist.NewMemoryPersister(observer)
	}

	coord := coordinator.New(coordinator.WithName("procrt-demo"), coordinator.WithLogger(logger), coordinator.WithObserver(observer))
	launcher := controller.NewProcessLauncher(coord, persister, observer)
	if err := launcher.Register(); err != nil {
		log.Fatalf("register launcher: %v", err)
	}

	async := controller.NewAsync(coord)
	sync := controller.NewSync(coord)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	outline := buildOutline()
	inputs := map[string]any{"urgent": *urgent, "limit": *limit}

	if !*interrupt {
		result, err := async.ExecuteProcess(ctx, outline, inputs, process.Config{})
		if err != nil {
			log.Fatalf("execute process: %v", err)
		}
		printOutcome(result)
		return
	}

	// Simulate an interruption: launch with persist=true and nowait=true,
	// which checkpoints after the outline's first step and hands the rest
	// of the run to a background goroutine; kill that run immediately,
	// then continue_process reloads the checkpoint and drives the outline
	// to completion from where it was saved.
	launched, err := async.LaunchProcess(ctx, outline, inputs, process.Config{}, true, true)
	if err != nil {
		log.Fatalf("launch process: %v", err)
	}
	fmt.Printf("launched %s, checkpointed after its first step\n", launched.PID)

	statusFut := sync.GetStatus(ctx, launched.PID)
	select {
	case <-statusFut.Done():
		if status, err := statusFut.Result(); err == nil {
			fmt.Printf("status: %v\n", status)
		}
	case <-time.After(time.Second):
	}

	if _, err := async.KillProcess(ctx, launched.PID, "demo interrupt"); err != nil {
		log.Printf("kill process (already finished?): %v", err)
	}

	resumed, err := async.ContinueProcess(ctx, launched.PID, "", outline, false)
	if err != nil {
		log.Fatalf("continue process: %v", err)
	}
	printOutcome(resumed)
}

func printOutcome(result controller.LaunchResult) {
	fmt.Printf("pid: %s\n", result.PID)
	if result.Outcome == nil {
		fmt.Println("outcome: still running")
		return
	}
	fmt.Printf("successful: %v\nresult: %v\n", result.Outcome.Successful, result.Outcome.Result)
	if result.Outcome.Err != nil {
		fmt.Printf("error: %v\n", result.Outcome.Err)
	}
}

// buildOutline wires the Seq/If/While/Return shape spec.md §8's
// scenario walkthroughs describe: greet, branch on urgency, loop a
// bounded number of work iterations, then Return "completed" as the
// outcome's result.
func buildOutline() workchain.Instruction {
	return workchain.Seq(
		workchain.Call(stepGreet),
		workchain.If([]workchain.Branch{
			{Pred: predUrgent, Body: workchain.Call(stepEscalate)},
		}, workchain.Call(stepNormal)),
		workchain.While(predUnderLimit, workchain.Call(stepWork)),
		workchain.Return("completed"),
	)
}

func stepGreet(wc *workchain.WorkChain) (any, error) {
	wc.SetContext("greeted", true)
	return nil, nil
}

func predUrgent(wc *workchain.WorkChain) (bool, error) {
	v, _ := wc.Context("urgent")
	urgent, _ := v.(bool)
	return urgent, nil
}

func stepEscalate(wc *workchain.WorkChain) (any, error) {
	wc.SetContext("priority", "high")
	return nil, nil
}

func stepNormal(wc *workchain.WorkChain) (any, error) {
	wc.SetContext("priority", "normal")
	return nil, nil
}

func predUnderLimit(wc *workchain.WorkChain) (bool, error) {
	limitVal, _ := wc.Context("limit")
	limit, _ := limitVal.(int)
	countVal, ok := wc.Context("count")
	count, _ := countVal.(int)
	if !ok {
		count = 0
	}
	return count < limit, nil
}

func stepWork(wc *workchain.WorkChain) (any, error) {
	countVal, ok := wc.Context("count")
	count, _ := countVal.(int)
	if !ok {
		count = 0
	}
	wc.SetContext("count", count+1)
	return nil, nil
}
