package statemachine

// EventSpec declares the from/to guard for one event-decorated method, per
// spec.md §4.4's event decorator. An empty FromStates or ToStates means
// "any state" (no guard on that side).
type EventSpec struct {
	Name       string
	FromStates []Label
	ToStates   []Label
}

// Guard runs fn under spec's from/to guard. fn returns skip=true when the
// dispatched method itself decided no to-state check applies (the Python
// original's "method returned a future or false" case — e.g. the
// transition is still pending, or the event was a no-op).
func (m *Machine) Guard(spec EventSpec, fn func() (skip bool, err error)) error {
	from := m.Current().Label()
	if len(spec.FromStates) > 0 && !labelAllowed(spec.FromStates, from) {
		return &EventInvalidError{Event: spec.Name, From: from}
	}

	skip, err := fn()
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	to := m.Current().Label()
	if len(spec.ToStates) > 0 && !labelAllowed(spec.ToStates, to) {
		return &EventInvalidError{Event: spec.Name, From: from, To: to}
	}
	return nil
}
