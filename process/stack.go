package process

import "sync"

// stackMu and stack implement the "thread-local" currently-running
// Process stack of spec.md §4.7. Go has no thread-local storage, and
// spec.md §5 establishes the core is single-threaded cooperative within
// one event loop per Process — no two Process methods execute in
// parallel for the same process. Under that assumption a package-level
// stack, guarded by a mutex only to make races visible rather than to
// serialize legitimate concurrent use, stands in for the thread-local:
// SPEC_FULL.md DESIGN NOTES §9 calls this out explicitly as "thread-local
// stacks remain but are made explicit: pushed/popped by a scoped guard."
var (
	stackMu sync.Mutex
	stack   []*Process
)

// pushCurrent pushes p onto the running-process stack. runningState.execute
// calls it before the RunFunc and popCurrent after it returns.
func pushCurrent(p *Process) {
	stackMu.Lock()
	defer stackMu.Unlock()
	stack = append(stack, p)
}

// popCurrent pops the running-process stack, asserting it pops exactly
// the process it expects — spec.md §4.7: "asserted on pop."
func popCurrent(p *Process) {
	stackMu.Lock()
	defer stackMu.Unlock()
	n := len(stack)
	if n == 0 || stack[n-1] != p {
		panic("process: stack discipline violated on pop")
	}
	stack = stack[:n-1]
}

// Current returns the innermost actively-stepping Process, or nil if none.
func Current() *Process {
	stackMu.Lock()
	defer stackMu.Unlock()
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}
