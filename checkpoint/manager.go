package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/hupe1980/harmonic/blobstore"
	"github.com/hupe1980/harmonic/evidence"
)

// Manager saves and loads evidence checkpoints through a blob store.
type Manager struct {
	store blobstore.BlobStore
	codec Codec
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCodec sets the body compression codec. The default is zstd.
func WithCodec(c Codec) ManagerOption {
	return func(m *Manager) {
		m.codec = c
	}
}

// NewManager creates a checkpoint manager over the given store.
func NewManager(store blobstore.BlobStore, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, codec: CodecZstd}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Save snapshots the accumulator and writes it under name. The write is
// all-or-nothing: the blob never becomes visible partially written.
func (m *Manager) Save(ctx context.Context, name string, ev *evidence.Evidence) error {
	snap, err := ev.Snapshot()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, snap, m.codec); err != nil {
		return fmt.Errorf("encode checkpoint %q: %w", name, err)
	}
	return m.store.Put(ctx, name, buf.Bytes())
}

// Load reads the named checkpoint and rebuilds the accumulator, ready
// for further AddChains calls.
func (m *Manager) Load(ctx context.Context, name string) (*evidence.Evidence, error) {
	blob, err := m.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	snap, err := Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %q: %w", name, err)
	}
	return evidence.Restore(snap)
}

// Save writes a checkpoint of ev to a file at path, atomically.
func Save(path string, ev *evidence.Evidence) error {
	store, err := blobstore.NewLocalStore(filepath.Dir(path))
	if err != nil {
		return err
	}
	return NewManager(store).Save(context.Background(), filepath.Base(path), ev)
}

// Load restores an accumulator from a checkpoint file at path.
func Load(path string) (*evidence.Evidence, error) {
	store, err := blobstore.NewLocalStore(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return NewManager(store).Load(context.Background(), filepath.Base(path))
}
