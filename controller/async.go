package controller

import (
	"context"

	"github.com/tailored-agentic-units/procrt/coordinator"
	"github.com/tailored-agentic-units/procrt/process"
	"github.com/tailored-agentic-units/procrt/workchain"
)

// Async is the Async controller of spec.md §4.9: each verb encodes a
// typed message and awaits the reply inline, returning it directly
// rather than a delivery future (that's Sync's job).
type Async struct {
	coord *coordinator.Coordinator
}

// NewAsync builds an Async controller over coord.
func NewAsync(coord *coordinator.Coordinator) *Async {
	return &Async{coord: coord}
}

func (a *Async) control(ctx context.Context, pid, intent, text string) (any, error) {
	msg := process.ControlMessage{Intent: intent}
	if text != "" {
		msg.Message = map[string]any{"text": text}
	}
	return a.coord.RPCSend(ctx, pid, msg)
}

// PauseProcess sends the "pause" control intent to pid.
func (a *Async) PauseProcess(ctx context.Context, pid, reason string) (any, error) {
	return a.control(ctx, pid, "pause", reason)
}

// PlayProcess sends the "play" control intent to pid.
func (a *Async) PlayProcess(ctx context.Context, pid string) (any, error) {
	return a.control(ctx, pid, "play", "")
}

// KillProcess sends the "kill" control intent to pid.
func (a *Async) KillProcess(ctx context.Context, pid, reason string) (any, error) {
	return a.control(ctx, pid, "kill", reason)
}

// GetStatus sends the "status" control intent to pid.
func (a *Async) GetStatus(ctx context.Context, pid string) (any, error) {
	return a.control(ctx, pid, "status", "")
}

// ContinueProcess reloads pid's checkpoint (optionally tagged) via the
// ProcessLauncher's task channel and drives it forward, per spec.md
// §4.9's continue_process(pid, tag?, nowait, no_reply).
func (a *Async) ContinueProcess(ctx context.Context, pid, tag string, outline workchain.Instruction, nowait bool) (LaunchResult, error) {
	result, err := a.coord.TaskSend(ctx, LaunchQueue, LaunchTask{
		Task: "continue", PID: pid, Tag: tag, Outline: outline, NoWait: nowait,
	}, false)
	if err != nil {
		return LaunchResult{}, err
	}
	lr, _ := result.(LaunchResult)
	return lr, nil
}

// LaunchProcess sends a "launch" task to the ProcessLauncher: create a
// new process from outline/inputs, start it, and optionally persist an
// initial checkpoint, per spec.md §4.9's
// launch_process(class_id, args, kwargs, persist, loader, nowait, no_reply).
func (a *Async) LaunchProcess(ctx context.Context, outline workchain.Instruction, inputs map[string]any, cfg process.Config, persistCheckpoint, nowait bool) (LaunchResult, error) {
	result, err := a.coord.TaskSend(ctx, LaunchQueue, LaunchTask{
		Task: "launch", Outline: outline, Inputs: inputs, Cfg: cfg, Persist: persistCheckpoint, NoWait: nowait,
	}, false)
	if err != nil {
		return LaunchResult{}, err
	}
	lr, _ := result.(LaunchResult)
	return lr, nil
}

// ExecuteProcess is launch_process immediately followed by waiting for
// the terminal outcome, per spec.md §4.9's "execute_process(...)
// (create+continue)": nowait is forced false so the launcher blocks for
// the result before replying.
func (a *Async) ExecuteProcess(ctx context.Context, outline workchain.Instruction, inputs map[string]any, cfg process.Config) (LaunchResult, error) {
	return a.LaunchProcess(ctx, outline, inputs, cfg, false, false)
}
