package eventhelper_test

import (
	"testing"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/eventhelper"
	"github.com/tailored-agentic-units/procrt/loader"
)

type listener interface {
	OnPing(n int)
}

type recorder struct {
	pings []int
}

func (r *recorder) OnPing(n int) { r.pings = append(r.pings, n) }

type panicky struct{}

func (panicky) OnPing(int) { panic("boom") }

func TestFireDeliversToAllListeners(t *testing.T) {
	set := eventhelper.New[listener](nil)
	a := &recorder{}
	b := &recorder{}
	set.Add(a)
	set.Add(b)

	set.Fire(func(l listener) { l.OnPing(7) })

	if len(a.pings) != 1 || a.pings[0] != 7 {
		t.Fatalf("a.pings = %v", a.pings)
	}
	if len(b.pings) != 1 || b.pings[0] != 7 {
		t.Fatalf("b.pings = %v", b.pings)
	}
}

func TestFireSwallowsPanicAndContinues(t *testing.T) {
	set := eventhelper.New[listener](nil)
	set.Add(panicky{})
	after := &recorder{}
	set.Add(after)

	set.Fire(func(l listener) { l.OnPing(1) })

	if len(after.pings) != 1 {
		t.Fatalf("expected listener after the panicking one to still be called, got %v", after.pings)
	}
}

func TestFireSnapshotsDuringDelivery(t *testing.T) {
	set := eventhelper.New[listener](nil)
	removed := &recorder{}
	set.Add(removed)

	set.Fire(func(l listener) {
		l.OnPing(1)
		set.Remove(removed)
	})

	if len(removed.pings) != 1 {
		t.Fatalf("expected the removed listener to still receive the in-flight delivery, got %v", removed.pings)
	}
	if set.Len() != 0 {
		t.Fatalf("expected listener removed after delivery, Len() = %d", set.Len())
	}
}

type identifiableListener struct{ recorder }

func recreateListener(id loader.Identifier) (any, error) {
	return &identifiableListener{}, nil
}

func TestSaveLoadRoundTrip(t *testing.T) {
	set := eventhelper.New[listener](nil)
	l := &identifiableListener{}
	set.Add(l)

	b := bundle.New("eventhelper_test.owner")
	set.Save("listeners", b)

	loaded, err := eventhelper.Load[listener](b, "listeners", recreateListener, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Fatalf("loaded.Len() = %d, want 1", loaded.Len())
	}
}

func TestLoadMissingFieldReturnsEmptySet(t *testing.T) {
	b := bundle.New("eventhelper_test.owner")
	loaded, err := eventhelper.Load[listener](b, "listeners", recreateListener, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 0 {
		t.Fatalf("expected empty set, got %d", loaded.Len())
	}
}
