package persist

import (
	"context"
	"sync"
	"time"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/observability"
)

// memoryPersister implements Persister with an in-memory map, for testing
// and single-process use, per spec.md §4.3's "two implementations" note.
type memoryPersister struct {
	mu       sync.RWMutex
	bundles  map[Key]*bundle.Bundle
	observer observability.Observer
}

// NewMemoryPersister creates a Persister backed by a plain map. Checkpoints
// are lost when the process exits. obs is optional; it defaults to
// observability.NoOpObserver{} and reports persist.save/load/miss/delete
// events when supplied.
func NewMemoryPersister(obs ...observability.Observer) Persister {
	return &memoryPersister{bundles: make(map[Key]*bundle.Bundle), observer: firstObserver(obs)}
}

func firstObserver(obs []observability.Observer) observability.Observer {
	for _, o := range obs {
		if o != nil {
			return o
		}
	}
	return observability.NoOpObserver{}
}

func emitPersist(obs observability.Observer, typ observability.EventType, source string, k Key) {
	obs.OnEvent(context.Background(), observability.Event{
		Type: typ, Timestamp: time.Now(), Source: source,
		Data: map[string]any{"pid": k.PID, "tag": k.Tag},
	})
}

func (m *memoryPersister) SaveCheckpoint(_ context.Context, pid, tag string, b *bundle.Bundle) error {
	m.mu.Lock()
	m.bundles[Key{PID: pid, Tag: tag}] = b.Clone()
	m.mu.Unlock()
	emitPersist(m.observer, observability.EventPersistSave, "persist.memoryPersister", Key{PID: pid, Tag: tag})
	return nil
}

func (m *memoryPersister) LoadCheckpoint(_ context.Context, pid, tag string) (*bundle.Bundle, error) {
	m.mu.RLock()
	b, ok := m.bundles[Key{PID: pid, Tag: tag}]
	m.mu.RUnlock()

	if !ok {
		emitPersist(m.observer, observability.EventPersistMiss, "persist.memoryPersister", Key{PID: pid, Tag: tag})
		return nil, ErrCheckpointMissing
	}
	emitPersist(m.observer, observability.EventPersistLoad, "persist.memoryPersister", Key{PID: pid, Tag: tag})
	return b.Clone(), nil
}

func (m *memoryPersister) GetCheckpoints(_ context.Context) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]Key, 0, len(m.bundles))
	for k := range m.bundles {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *memoryPersister) GetProcessCheckpoints(_ context.Context, pid string) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []Key
	for k := range m.bundles {
		if k.PID == pid {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memoryPersister) DeleteCheckpoint(_ context.Context, pid, tag string) error {
	m.mu.Lock()
	delete(m.bundles, Key{PID: pid, Tag: tag})
	m.mu.Unlock()
	emitPersist(m.observer, observability.EventPersistDelete, "persist.memoryPersister", Key{PID: pid, Tag: tag})
	return nil
}

func (m *memoryPersister) DeleteProcessCheckpoints(_ context.Context, pid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.bundles {
		if k.PID == pid {
			delete(m.bundles, k)
		}
	}
	return nil
}
