// Package eventhelper implements the Event Helper of spec.md §4.5: a
// Savable set of listeners, fired by snapshot so a listener that
// unsubscribes mid-delivery still receives the in-flight call, and a
// listener panic never aborts Process stepping.
//
// Go has no dynamic "fire_event(method_name, args...)" dispatch by
// string name (the teacher's codebase never does stringly-typed
// dispatch either — orchestrate/hub/hub.go dispatches on a typed Handler
// function value, not a method name), so Fire takes a typed callback
// instead: Fire(func(L) { l.OnSomething(...) }). This is the direct Go
// analogue and keeps listener calls type-checked at compile time.
package eventhelper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/loader"
	"github.com/tailored-agentic-units/procrt/observability"
)

// Set holds listeners of capability type L. L is typically an interface
// with one method per `on_process_*` hook.
type Set[L any] struct {
	mu        sync.Mutex
	listeners []L
	observer  observability.Observer
}

// New creates an empty listener Set. If observer is nil, a no-op observer
// is used so Fire's panic recovery always has somewhere to log to.
func New[L any](observer observability.Observer) *Set[L] {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Set[L]{observer: observer}
}

// Add registers a listener.
func (s *Set[L]) Add(l L) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Remove unregisters the first listener equal to l under reflect-free
// comparison (L must be a comparable type — typically a pointer or
// interface holding one).
func (s *Set[L]) Remove(l L) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if any(existing) == any(l) {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// RemoveAll clears the listener set.
func (s *Set[L]) RemoveAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = nil
}

// Len reports the current listener count.
func (s *Set[L]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Fire delivers fn to a snapshot of the listener set taken under lock, so
// a listener removed by another goroutine mid-delivery still receives
// this call, and concurrent Add/Remove never races with delivery. A
// listener panic is recovered, logged through the observer, and does not
// stop delivery to the remaining listeners — spec.md §4.5: "swallows/logs
// any listener exception rather than letting it abort Process stepping."
func (s *Set[L]) Fire(fn func(L)) {
	s.mu.Lock()
	snapshot := make([]L, len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	for _, l := range snapshot {
		s.callOne(l, fn)
	}
}

func (s *Set[L]) callOne(l L, fn func(L)) {
	defer func() {
		if r := recover(); r != nil {
			s.observer.OnEvent(context.Background(), observability.Event{
				Type:      observability.EventListenerPanic,
				Level:     observability.LevelError,
				Timestamp: time.Now(),
				Source:    "eventhelper",
				Data:      map[string]any{"recovered": fmt.Sprint(r)},
			})
		}
	}()
	fn(l)
}

// LoaderFunc recreates one listener from a bundle entry. Listener types
// register a loader.Identifier-keyed entry the same way savable.Recreator
// does, but Set itself stays free of a savable.Context dependency so it
// can be embedded by packages (like process) that also need Context for
// unrelated fields.
type LoaderFunc func(id loader.Identifier) (any, error)

// Save writes the listener set as a list of loader identifiers, per
// spec.md §4.5's requirement that the listener set itself be Savable.
// Listeners that cannot be identified (closures, unregistered types) are
// skipped with an observer warning rather than failing the whole save —
// a process with an ephemeral debug listener should still be
// checkpointable.
func (s *Set[L]) Save(key string, b *bundle.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]any, 0, len(s.listeners))
	for _, l := range s.listeners {
		id, err := loader.Identify(l)
		if err != nil {
			s.observer.OnEvent(context.Background(), observability.Event{
				Type:      observability.EventListenerDropped,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "eventhelper",
				Data:      map[string]any{"error": err.Error()},
			})
			continue
		}
		ids = append(ids, string(id))
	}
	b.Set(key, ids)
}

// Load restores a listener set previously written by Save, resolving each
// identifier through resolve.
func Load[L any](b *bundle.Bundle, key string, resolve LoaderFunc, observer observability.Observer) (*Set[L], error) {
	set := New[L](observer)

	raw, ok := b.Get(key)
	if !ok {
		return set, nil
	}
	ids, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: field %q is not a list", bundle.ErrBundleFormat, key)
	}

	for _, idAny := range ids {
		idStr, ok := idAny.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q contains a non-string identifier", bundle.ErrBundleFormat, key)
		}
		obj, err := resolve(loader.Identifier(idStr))
		if err != nil {
			return nil, err
		}
		l, ok := obj.(L)
		if !ok {
			return nil, fmt.Errorf("%w: identifier %q did not resolve to the expected listener type", bundle.ErrBundleFormat, idStr)
		}
		set.listeners = append(set.listeners, l)
	}
	return set, nil
}
