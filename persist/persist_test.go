package persist_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/persist"
)

func newTestBundle(label string) *bundle.Bundle {
	b := bundle.New("persist_test.thing")
	b.Set("label", label)
	return b
}

func testPersister(t *testing.T, p persist.Persister) {
	t.Helper()
	ctx := context.Background()

	if err := p.SaveCheckpoint(ctx, "proc-1", "", newTestBundle("canonical")); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if err := p.SaveCheckpoint(ctx, "proc-1", "before-retry", newTestBundle("tagged")); err != nil {
		t.Fatalf("SaveCheckpoint tagged: %v", err)
	}
	if err := p.SaveCheckpoint(ctx, "proc-2", "", newTestBundle("other")); err != nil {
		t.Fatalf("SaveCheckpoint proc-2: %v", err)
	}

	got, err := p.LoadCheckpoint(ctx, "proc-1", "")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	label, err := got.GetString("label")
	if err != nil || label != "canonical" {
		t.Fatalf("label = %q, %v; want canonical", label, err)
	}

	all, err := p.GetCheckpoints(ctx)
	if err != nil {
		t.Fatalf("GetCheckpoints: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("GetCheckpoints returned %d keys, want 3", len(all))
	}

	proc1, err := p.GetProcessCheckpoints(ctx, "proc-1")
	if err != nil {
		t.Fatalf("GetProcessCheckpoints: %v", err)
	}
	if len(proc1) != 2 {
		t.Fatalf("GetProcessCheckpoints(proc-1) returned %d keys, want 2", len(proc1))
	}

	if err := p.DeleteCheckpoint(ctx, "proc-1", "before-retry"); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	if err := p.DeleteCheckpoint(ctx, "proc-1", "before-retry"); err != nil {
		t.Fatalf("DeleteCheckpoint idempotent: %v", err)
	}

	if _, err := p.LoadCheckpoint(ctx, "proc-1", "before-retry"); !errors.Is(err, persist.ErrCheckpointMissing) {
		t.Fatalf("LoadCheckpoint after delete: got %v, want ErrCheckpointMissing", err)
	}

	if err := p.DeleteProcessCheckpoints(ctx, "proc-2"); err != nil {
		t.Fatalf("DeleteProcessCheckpoints: %v", err)
	}
	remaining, err := p.GetProcessCheckpoints(ctx, "proc-2")
	if err != nil {
		t.Fatalf("GetProcessCheckpoints after delete: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no proc-2 checkpoints remaining, got %d", len(remaining))
	}
}

func TestMemoryPersister(t *testing.T) {
	testPersister(t, persist.NewMemoryPersister())
}

func TestFilePersister(t *testing.T) {
	testPersister(t, persist.NewFilePersister(t.TempDir()))
}

func TestFilePersisterMissingDirIsEmpty(t *testing.T) {
	p := persist.NewFilePersister(filepath.Join(t.TempDir(), "does-not-exist-yet"))
	keys, err := p.GetCheckpoints(context.Background())
	if err != nil {
		t.Fatalf("GetCheckpoints on unwritten dir: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %d", len(keys))
	}
}

func TestMemoryPersisterIsRegisteredByDefault(t *testing.T) {
	p, err := persist.Get("memory")
	if err != nil {
		t.Fatalf("Get(memory): %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil default memory persister")
	}
}

func TestGetUnknownBackend(t *testing.T) {
	if _, err := persist.Get("nonexistent"); err == nil {
		t.Fatal("expected error for unregistered backend")
	}
}
