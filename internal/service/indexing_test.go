package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu      sync.Mutex
	chunks  map[string]*domain.DocumentChunk
	docs    []string
	err     error
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{chunks: map[string]*domain.DocumentChunk{}}
}

func (w *recordingWriter) Upsert(_ context.Context, c *domain.DocumentChunk) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	w.chunks[c.ID] = c
	w.mu.Unlock()
	return nil
}

func (w *recordingWriter) DeleteDocument(_ context.Context, id string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.docs = append(w.docs, id)
	var n int64
	for key := range w.chunks {
		if key == id || strings.HasPrefix(key, id+"#") {
			delete(w.chunks, key)
			n++
		}
	}
	return n, nil
}

// txWriter stages writes and applies them only when fn succeeds.
type txWriter struct {
	target  *recordingWriter
	commits int
}

func (t *txWriter) WithChunkTx(ctx context.Context, fn func(w ChunkWriter) error) error {
	staged := newRecordingWriter()
	for k, v := range t.target.chunks {
		staged.chunks[k] = v
	}
	staged.err = t.target.err
	if err := fn(staged); err != nil {
		return err
	}
	t.target.chunks = staged.chunks
	t.target.docs = append(t.target.docs, staged.docs...)
	t.commits++
	return nil
}

type fixedIDs string

func (f fixedIDs) NewString() string { return string(f) }

func TestIndexService_PutSingleSpan(t *testing.T) {
	embedder := new(MockEmbeddingService)
	embedder.On("GenerateEmbedding", mock.Anything, "Rent Control Act\n\nAct 12 of 1999\n\nA landlord shall not evict a tenant without notice.").
		Return([]float32{0.1, 0.2}, nil).Once()
	writer := newRecordingWriter()
	svc := NewIndexService(embedder, writer)

	ids, err := svc.Put(context.Background(), IndexDocument{
		ID:       "rca-s4",
		Content:  "A landlord shall not evict a tenant without notice.",
		Metadata: domain.ChunkMetadata{Title: "Rent Control Act", Citation: "Act 12 of 1999", Category: "tenancy"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"rca-s4"}, ids)
	stored := writer.chunks["rca-s4"]
	require.NotNil(t, stored)
	assert.Equal(t, []float32{0.1, 0.2}, stored.Embedding)
	assert.Equal(t, "tenancy", stored.Metadata.Category)
	assert.False(t, stored.CreatedAt.IsZero())
	embedder.AssertExpectations(t)
}

func TestIndexService_PutSplitsLongText(t *testing.T) {
	embedder := new(MockEmbeddingService)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	writer := newRecordingWriter()
	svc := NewIndexService(embedder, writer,
		WithSplitConfig(SplitConfig{MaxChars: 10, MinChars: 3}),
		WithIDGenerator(fixedIDs("generated")),
		WithIndexConcurrency(2),
	)

	ids, err := svc.Put(context.Background(), IndexDocument{Content: "aaaa bbbb cccc"})

	require.NoError(t, err)
	assert.Equal(t, []string{"generated#1", "generated#2"}, ids)
	var stored []string
	for id := range writer.chunks {
		stored = append(stored, id)
	}
	sort.Strings(stored)
	assert.Equal(t, ids, stored)
	assert.Equal(t, "cccc", writer.chunks["generated#2"].Content)
	embedder.AssertNumberOfCalls(t, "GenerateEmbedding", 2)
}

func TestIndexService_PutRejectsEmptyContent(t *testing.T) {
	svc := NewIndexService(new(MockEmbeddingService), newRecordingWriter())

	_, err := svc.Put(context.Background(), IndexDocument{ID: "x", Content: "  "})

	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
}

func TestIndexService_PutEmbeddingFailure(t *testing.T) {
	embedder := new(MockEmbeddingService)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(nil, errors.New("quota"))
	writer := newRecordingWriter()
	svc := NewIndexService(embedder, writer)

	_, err := svc.Put(context.Background(), IndexDocument{ID: "x", Content: "text"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
	assert.Empty(t, writer.chunks)
}

func TestIndexService_Delete(t *testing.T) {
	writer := newRecordingWriter()
	writer.chunks["rca#1"] = &domain.DocumentChunk{ID: "rca#1"}
	writer.chunks["rca#2"] = &domain.DocumentChunk{ID: "rca#2"}
	svc := NewIndexService(new(MockEmbeddingService), writer)

	n, err := svc.Delete(context.Background(), "rca")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, writer.chunks)

	_, err = svc.Delete(context.Background(), "rca")
	assert.ErrorIs(t, err, domain.ErrChunkNotFound)
}

func TestIndexService_PutReplacesPreviousSpans(t *testing.T) {
	embedder := new(MockEmbeddingService)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	writer := newRecordingWriter()
	writer.chunks["doc#1"] = &domain.DocumentChunk{ID: "doc#1"}
	writer.chunks["doc#2"] = &domain.DocumentChunk{ID: "doc#2"}
	writer.chunks["doc#3"] = &domain.DocumentChunk{ID: "doc#3"}
	writer.chunks["other"] = &domain.DocumentChunk{ID: "other"}
	tx := &txWriter{target: writer}
	svc := NewIndexService(embedder, writer, WithChunkTx(tx))

	ids, err := svc.Put(context.Background(), IndexDocument{ID: "doc", Content: "short text"})

	require.NoError(t, err)
	assert.Equal(t, []string{"doc"}, ids)
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, []string{"doc"}, writer.docs)
	var stored []string
	for id := range writer.chunks {
		stored = append(stored, id)
	}
	sort.Strings(stored)
	assert.Equal(t, []string{"doc", "other"}, stored)
}

func TestIndexService_PutKeepsIndexOnWriteFailure(t *testing.T) {
	embedder := new(MockEmbeddingService)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	writer := newRecordingWriter()
	writer.chunks["doc"] = &domain.DocumentChunk{ID: "doc", Content: "old"}
	writer.err = errors.New("disk full")
	tx := &txWriter{target: writer}
	svc := NewIndexService(embedder, writer, WithChunkTx(tx))

	_, err := svc.Put(context.Background(), IndexDocument{ID: "doc", Content: "new"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, "old", writer.chunks["doc"].Content)
}
