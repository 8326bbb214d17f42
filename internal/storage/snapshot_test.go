package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryObjects struct {
	objects map[string][]byte
	putErr  error
	getErr  error
}

func (m *memoryObjects) PutObject(_ context.Context, key, _ string, body []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memoryObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	body, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return body, nil
}

type fakeCache struct {
	payload  string
	restored string
}

func (f *fakeCache) Snapshot(w io.Writer) (int, error) {
	_, err := io.WriteString(w, f.payload)
	return 2, err
}

func (f *fakeCache) Restore(r io.Reader) (int, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return 0, err
	}
	f.restored = buf.String()
	return 2, nil
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	objects := &memoryObjects{objects: map[string][]byte{}}
	store := NewSnapshotStore(objects, "semantic-cache/snapshot.json")

	n, err := store.Save(context.Background(), &fakeCache{payload: `{"version":1}`})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, `{"version":1}`, string(objects.objects["semantic-cache/snapshot.json"]))

	target := &fakeCache{}
	n, err = store.Load(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, `{"version":1}`, target.restored)
}

func TestSnapshotStore_LoadMissingIsEmpty(t *testing.T) {
	store := NewSnapshotStore(&memoryObjects{objects: map[string][]byte{}}, "missing")

	target := &fakeCache{}
	n, err := store.Load(context.Background(), target)

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, target.restored)
}

func TestSnapshotStore_Errors(t *testing.T) {
	objects := &memoryObjects{objects: map[string][]byte{}, putErr: errors.New("denied"), getErr: errors.New("timeout")}
	store := NewSnapshotStore(objects, "k")

	_, err := store.Save(context.Background(), &fakeCache{})
	assert.ErrorContains(t, err, "denied")

	_, err = store.Load(context.Background(), &fakeCache{})
	assert.ErrorContains(t, err, "timeout")
}
