package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ObjectStore is the subset of S3Client the snapshot store needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Snapshotter is a cache that can serialize and reload its entries.
type Snapshotter interface {
	Snapshot(w io.Writer) (int, error)
	Restore(r io.Reader) (int, error)
}

// SnapshotStore keeps a semantic cache snapshot under a fixed key.
type SnapshotStore struct {
	objects ObjectStore
	key     string
}

func NewSnapshotStore(objects ObjectStore, key string) *SnapshotStore {
	return &SnapshotStore{objects: objects, key: key}
}

// Save writes the current cache entries and returns how many were written.
func (s *SnapshotStore) Save(ctx context.Context, cache Snapshotter) (int, error) {
	var buf bytes.Buffer
	n, err := cache.Snapshot(&buf)
	if err != nil {
		return 0, err
	}
	if err := s.objects.PutObject(ctx, s.key, "application/json", buf.Bytes()); err != nil {
		return 0, fmt.Errorf("save cache snapshot: %w", err)
	}
	return n, nil
}

// Load restores the stored snapshot into cache. A missing snapshot restores
// nothing and is not an error.
func (s *SnapshotStore) Load(ctx context.Context, cache Snapshotter) (int, error) {
	body, err := s.objects.GetObject(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load cache snapshot: %w", err)
	}
	return cache.Restore(bytes.NewReader(body))
}
