package process

import "errors"

var (
	// ErrClosed is returned by step/execute when the process has already
	// reached a terminal state, spec.md §8 property 3.
	ErrClosed = errors.New("process is closed")

	// ErrInvalidState is returned when an operation is attempted from a
	// state that does not support it (e.g. resume() outside Waiting).
	ErrInvalidState = errors.New("invalid state for this operation")

	// ErrCancelled is returned by Future.Result for a cancelled future.
	ErrCancelled = errors.New("future was cancelled")
)

// KillInterruption is the internal signal a Running state's execute
// unwinds with when a kill is requested mid-step. It is never surfaced to
// user code as an ordinary error — the step loop recovers it and
// performs the Killed transition regardless of what execute was doing,
// per spec.md §4.6: "sets a running flag... so a concurrent kill()
// converts into a KillInterruption that unwinds the call."
type KillInterruption struct {
	Msg string
}

func (k *KillInterruption) Error() string { return "killed: " + k.Msg }

// PauseInterruption is an error type for a pause requested mid-step.
// Nothing in this package raises it: Process.step applies a mid-step
// pause from its pending-interrupt flag. Unlike Kill, such a pause does
// not discard the step's next state — the transition still happens, and
// the process is additionally marked paused.
type PauseInterruption struct {
	Msg string
}

func (p *PauseInterruption) Error() string { return "paused: " + p.Msg }
