package rag

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *MetadataStore {
	t.Helper()
	store, err := NewMetadataStore(filepath.Join(t.TempDir(), "rag.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMetadataStore_AppendAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.AppendChunk(ctx, Chunk{
		TenantID:   "tenant-a",
		DocID:      "doc-1",
		Source:     "handbook.pdf",
		ChunkIndex: 0,
		Content:    "welcome aboard",
	}, []float32{1, 0})
	require.NoError(t, err)
	require.Positive(t, id)

	chunks, err := store.GetByIDs(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	got := chunks[id]
	assert.Equal(t, "tenant-a", got.TenantID)
	assert.Equal(t, "doc-1", got.DocID)
	assert.Equal(t, "handbook.pdf", got.Source)
	assert.Equal(t, 0, got.ChunkIndex)
	assert.Equal(t, "welcome aboard", got.Content)
	assert.Equal(t, "handbook.pdf#0", got.Key())
}

func TestMetadataStore_GetByIDs_MissingIDsSkipped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.AppendChunk(ctx, Chunk{Source: "a", Content: "x"}, []float32{1})
	require.NoError(t, err)

	chunks, err := store.GetByIDs(ctx, []int64{id, 9999})
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestMetadataStore_ScanVectors_OrderedByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.AppendChunk(ctx, Chunk{
			Source: "doc", ChunkIndex: i, Content: "c",
		}, []float32{float32(i), 0})
		require.NoError(t, err)
	}

	var ids []int64
	err := store.ScanVectors(ctx, func(id int64, vector []float32) error {
		ids = append(ids, id)
		assert.Len(t, vector, 2)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.IsIncreasing(t, ids)
}

func TestMetadataStore_Count(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = store.AppendChunk(ctx, Chunk{Source: "a", Content: "x"}, []float32{1})
	require.NoError(t, err)

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
