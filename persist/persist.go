// Package persist implements the Persister of spec.md §4.3: a store of
// named Bundle snapshots keyed by (process id, optional tag).
//
// The Persister capability interface and its registry-of-named-backends
// shape follow orchestrate/state/checkpoint.go's CheckpointStore /
// checkpointStores pattern, generalized from a single RunID key to the
// (pid, tag) pair spec.md §3 calls a PersistedKey.
package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tailored-agentic-units/procrt/bundle"
)

// ErrCheckpointMissing is returned by LoadCheckpoint when no bundle is
// stored under the requested key.
var ErrCheckpointMissing = errors.New("checkpoint not found")

// Key identifies one stored checkpoint. Tag is empty for the canonical,
// untagged checkpoint of a process.
type Key struct {
	PID string
	Tag string
}

func (k Key) String() string {
	if k.Tag == "" {
		return k.PID
	}
	return fmt.Sprintf("%s.%s", k.PID, k.Tag)
}

// Persister is the capability interface spec.md §4.3 describes. Every
// method is safe for concurrent use, matching CheckpointStore's
// thread-safety requirement in the teacher.
type Persister interface {
	// SaveCheckpoint stores b under (pid, tag), overwriting any existing
	// entry for the same key.
	SaveCheckpoint(ctx context.Context, pid, tag string, b *bundle.Bundle) error

	// LoadCheckpoint returns the bundle stored under (pid, tag), or
	// ErrCheckpointMissing if absent.
	LoadCheckpoint(ctx context.Context, pid, tag string) (*bundle.Bundle, error)

	// GetCheckpoints enumerates every stored key.
	GetCheckpoints(ctx context.Context) ([]Key, error)

	// GetProcessCheckpoints enumerates every key stored for pid.
	GetProcessCheckpoints(ctx context.Context, pid string) ([]Key, error)

	// DeleteCheckpoint removes (pid, tag). Idempotent: a missing key is
	// not an error.
	DeleteCheckpoint(ctx context.Context, pid, tag string) error

	// DeleteProcessCheckpoints removes every key stored for pid.
	// Idempotent.
	DeleteProcessCheckpoints(ctx context.Context, pid string) error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Persister{
		"memory": NewMemoryPersister(),
	}
)

// Register adds a named Persister backend to the global registry, mirroring
// state.RegisterCheckpointStore. Call before constructing anything that
// resolves a backend by name through Get.
func Register(name string, p Persister) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = p
}

// Get resolves a named Persister backend from the registry.
func Get(name string) (Persister, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown persister backend: %s", name)
	}
	return p, nil
}
