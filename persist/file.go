package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/procrt/bundle"
	"github.com/tailored-agentic-units/procrt/observability"
)

// checkpointSuffix is the file extension used for stored checkpoints, per
// spec.md §4.3's "named by pid[.tag].suffix".
const checkpointSuffix = ".bundle"

// filePersister is the filesystem-backed Persister variant from
// spec.md §4.3, using a binary serialisation of the bundle (the
// structpb.Struct wire form from bundle.ToProto, marshalled with
// google.golang.org/protobuf/proto) in a directory of the host's
// choosing. The atomic temp-file-then-rename write is grounded on
// memory/filestore.go's fileStore.Save.
type filePersister struct {
	root     string
	mu       sync.Mutex
	observer observability.Observer
}

// NewFilePersister creates a Persister that stores one file per checkpoint
// under root. The directory is created on first write if it does not
// already exist. obs is optional, matching NewMemoryPersister.
func NewFilePersister(root string, obs ...observability.Observer) Persister {
	return &filePersister{root: root, observer: firstObserver(obs)}
}

func (f *filePersister) path(pid, tag string) string {
	name := pid
	if tag != "" {
		name = pid + "." + tag
	}
	return filepath.Join(f.root, name+checkpointSuffix)
}

func (f *filePersister) SaveCheckpoint(_ context.Context, pid, tag string, b *bundle.Bundle) error {
	msg, err := bundle.ToProtoObserved(b, f.observer)
	if err != nil {
		return fmt.Errorf("%w: %v", bundle.ErrBundleFormat, err)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", bundle.ErrBundleFormat, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", pid, err)
	}

	path := f.path(pid, tag)
	tmp, err := os.CreateTemp(f.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", pid, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save checkpoint %s: %w", pid, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save checkpoint %s: %w", pid, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save checkpoint %s: %w", pid, err)
	}
	emitPersist(f.observer, observability.EventPersistSave, "persist.filePersister", Key{PID: pid, Tag: tag})
	return nil
}

func (f *filePersister) LoadCheckpoint(_ context.Context, pid, tag string) (*bundle.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(pid, tag))
	if err != nil {
		if os.IsNotExist(err) {
			emitPersist(f.observer, observability.EventPersistMiss, "persist.filePersister", Key{PID: pid, Tag: tag})
			return nil, ErrCheckpointMissing
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", pid, err)
	}

	msg := &structpb.Struct{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", bundle.ErrBundleFormat, err)
	}
	b, err := bundle.FromProtoObserved(msg, f.observer)
	if err != nil {
		return nil, err
	}
	emitPersist(f.observer, observability.EventPersistLoad, "persist.filePersister", Key{PID: pid, Tag: tag})
	return b, nil
}

func (f *filePersister) GetCheckpoints(_ context.Context) ([]Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listLocked("")
}

func (f *filePersister) GetProcessCheckpoints(_ context.Context, pid string) ([]Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listLocked(pid)
}

// listLocked enumerates stored keys, optionally restricted to pid. Caller
// must hold f.mu.
func (f *filePersister) listLocked(pidFilter string) ([]Key, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var keys []Key
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), checkpointSuffix) {
			continue
		}
		base := strings.TrimSuffix(e.Name(), checkpointSuffix)
		pid, tag, _ := strings.Cut(base, ".")
		if pidFilter != "" && pid != pidFilter {
			continue
		}
		keys = append(keys, Key{PID: pid, Tag: tag})
	}
	return keys, nil
}

func (f *filePersister) DeleteCheckpoint(_ context.Context, pid, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(pid, tag)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint %s: %w", pid, err)
	}
	emitPersist(f.observer, observability.EventPersistDelete, "persist.filePersister", Key{PID: pid, Tag: tag})
	return nil
}

func (f *filePersister) DeleteProcessCheckpoints(_ context.Context, pid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys, err := f.listLocked(pid)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := os.Remove(f.path(k.PID, k.Tag)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete checkpoint %s: %w", pid, err)
		}
	}
	return nil
}
