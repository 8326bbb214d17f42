//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/cloo-solutions/lexrag/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestS3Client(ctx context.Context, t *testing.T) *S3Client {
	t.Helper()
	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        testutil.StartS3(ctx, t),
		Region:          "us-east-1",
		AccessKeyID:     testutil.S3AccessKey,
		SecretAccessKey: testutil.S3SecretKey,
		Bucket:          "lexrag-test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))
	// A second call finds the bucket already there.
	require.NoError(t, client.EnsureBucket(ctx))
	return client
}

func TestS3Client_ObjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newTestS3Client(ctx, t)

	_, err := client.GetObject(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, client.PutObject(ctx, "semantic-cache/snapshot.json", "application/json", []byte(`{"entries":[]}`)))
	body, err := client.GetObject(ctx, "semantic-cache/snapshot.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":[]}`, string(body))

	require.NoError(t, client.DeleteObject(ctx, "semantic-cache/snapshot.json"))
	_, err = client.GetObject(ctx, "semantic-cache/snapshot.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestSnapshotStore_AgainstS3(t *testing.T) {
	ctx := context.Background()
	client := newTestS3Client(ctx, t)
	store := NewSnapshotStore(client, "semantic-cache/snapshot.json")

	empty := &fakeCache{}
	n, err := store.Load(ctx, empty)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, empty.restored)

	source := &fakeCache{payload: `{"entries":[{"query":"q"}]}`}
	n, err = store.Save(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	restored := &fakeCache{}
	_, err = store.Load(ctx, restored)
	require.NoError(t, err)
	assert.Equal(t, source.payload, restored.restored)
}
