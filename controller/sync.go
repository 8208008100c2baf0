package controller

import (
	"context"
	"sync"

	"github.com/tailored-agentic-units/procrt/coordinator"
	"github.com/tailored-agentic-units/procrt/process"
	"github.com/tailored-agentic-units/procrt/workchain"
)

// Sync is the Sync controller of spec.md §4.9: the same verbs as Async,
// but returning the delivery future directly instead of blocking for
// the reply, plus pause_all/play_all/kill_all mass commands.
type Sync struct {
	coord *coordinator.Coordinator
	async *Async
}

// NewSync builds a Sync controller over coord.
func NewSync(coord *coordinator.Coordinator) *Sync {
	return &Sync{coord: coord, async: NewAsync(coord)}
}

// deliver runs fn in the background and resolves the returned future
// with its result or error, giving the caller a handle to the delivery
// in flight rather than blocking for it.
func deliver[T any](fn func() (T, error)) *process.Future[T] {
	fut := process.NewFuture[T]()
	go func() {
		result, err := fn()
		if err != nil {
			fut.SetException(err)
			return
		}
		fut.SetResult(result)
	}()
	return fut
}

// PauseProcess returns a future for pid's pause delivery.
func (s *Sync) PauseProcess(ctx context.Context, pid, reason string) *process.Future[any] {
	return deliver(func() (any, error) { return s.async.PauseProcess(ctx, pid, reason) })
}

// PlayProcess returns a future for pid's play delivery.
func (s *Sync) PlayProcess(ctx context.Context, pid string) *process.Future[any] {
	return deliver(func() (any, error) { return s.async.PlayProcess(ctx, pid) })
}

// KillProcess returns a future for pid's kill delivery.
func (s *Sync) KillProcess(ctx context.Context, pid, reason string) *process.Future[any] {
	return deliver(func() (any, error) { return s.async.KillProcess(ctx, pid, reason) })
}

// GetStatus returns a future for pid's status query.
func (s *Sync) GetStatus(ctx context.Context, pid string) *process.Future[any] {
	return deliver(func() (any, error) { return s.async.GetStatus(ctx, pid) })
}

// ContinueProcess returns a future for pid's continue delivery.
func (s *Sync) ContinueProcess(ctx context.Context, pid, tag string, outline workchain.Instruction, nowait bool) *process.Future[LaunchResult] {
	return deliver(func() (LaunchResult, error) { return s.async.ContinueProcess(ctx, pid, tag, outline, nowait) })
}

// LaunchProcess returns a future for a new process's launch delivery.
func (s *Sync) LaunchProcess(ctx context.Context, outline workchain.Instruction, inputs map[string]any, cfg process.Config, persistCheckpoint, nowait bool) *process.Future[LaunchResult] {
	return deliver(func() (LaunchResult, error) {
		return s.async.LaunchProcess(ctx, outline, inputs, cfg, persistCheckpoint, nowait)
	})
}

// massControl is pause_all/play_all/kill_all's shared shape: spec.md
// §4.9 describes these "implemented as broadcasts with a subject
// filter." The subject is broadcast first for any subscriber actually
// listening on it; since this module's Process only ever subscribes an
// RPC handler for control (not a broadcast one — spec.md §3's "Broadcast
// of state_changed.FROM.TO is emitted on every successful transition"
// is an outbound notification, not an inbound control channel), the
// mass command is additionally fanned out as individual RPCSend calls to
// every live RPC recipient so pause_all/play_all/kill_all actually
// reach running processes rather than only subscribers of a channel
// nothing currently listens on.
func (s *Sync) massControl(ctx context.Context, subject, intent, reason string) *process.Future[map[string]any] {
	return deliver(func() (map[string]any, error) {
		_ = s.coord.BroadcastSend(ctx, subject, process.ControlMessage{Intent: intent, Message: map[string]any{"text": reason}})

		ids := s.coord.RecipientIDs()
		results := make(map[string]any, len(ids))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				res, err := s.async.control(ctx, id, intent, reason)
				mu.Lock()
				if err != nil {
					results[id] = err.Error()
				} else {
					results[id] = res
				}
				mu.Unlock()
			}(id)
		}
		wg.Wait()
		return results, nil
	})
}

// PauseAll pauses every process the Coordinator currently knows about.
func (s *Sync) PauseAll(ctx context.Context, reason string) *process.Future[map[string]any] {
	return s.massControl(ctx, "control.pause_all", "pause", reason)
}

// PlayAll resumes every paused process the Coordinator currently knows
// about.
func (s *Sync) PlayAll(ctx context.Context) *process.Future[map[string]any] {
	return s.massControl(ctx, "control.play_all", "play", "")
}

// KillAll kills every process the Coordinator currently knows about.
func (s *Sync) KillAll(ctx context.Context, reason string) *process.Future[map[string]any] {
	return s.massControl(ctx, "control.kill_all", "kill", reason)
}
