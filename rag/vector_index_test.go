package rag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatIndex_AddAndSearch(t *testing.T) {
	idx := newFlatIndex(2)

	require.NoError(t, idx.Add(1, []float32{1, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1}))
	require.NoError(t, idx.Add(3, []float32{0.7071, 0.7071}))

	hits := idx.Search([]float32{1, 0}, 3)
	require.Len(t, hits, 3)
	assert.Equal(t, int64(1), hits[0].ID)
	assert.Equal(t, int64(3), hits[1].ID)
	assert.Equal(t, int64(2), hits[2].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestFlatIndex_DimMismatch(t *testing.T) {
	idx := newFlatIndex(2)
	err := idx.Add(1, []float32{1, 0, 0})
	require.Error(t, err)
}

func TestFlatIndex_SearchQueryDimMismatchReturnsEmpty(t *testing.T) {
	idx := newFlatIndex(3)
	require.NoError(t, idx.Add(1, []float32{1, 0, 0}))

	assert.Empty(t, idx.Search([]float32{1, 0}, 5))
	assert.Empty(t, idx.Search([]float32{1, 0, 0, 0}, 5))
}

func TestFlatIndex_SearchCapsAtSize(t *testing.T) {
	idx := newFlatIndex(2)
	require.NoError(t, idx.Add(1, []float32{1, 0}))

	hits := idx.Search([]float32{1, 0}, 10)
	assert.Len(t, hits, 1)
}

func TestFlatIndex_StableTieBreak(t *testing.T) {
	idx := newFlatIndex(2)
	// 两个相同向量得分相同，保持插入顺序
	require.NoError(t, idx.Add(7, []float32{1, 0}))
	require.NoError(t, idx.Add(3, []float32{1, 0}))

	hits := idx.Search([]float32{1, 0}, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(7), hits[0].ID)
	assert.Equal(t, int64(3), hits[1].ID)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	idx := newFlatIndex(3)
	require.NoError(t, idx.Add(1, []float32{1, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0}))
	require.NoError(t, idx.SaveSnapshot(path))

	loaded, err := loadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Dim())
	assert.Equal(t, 2, loaded.Size())

	hits := loaded.Search([]float32{1, 0, 0}, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].ID)
}

func TestSnapshot_SaveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	idx := newFlatIndex(2)
	require.NoError(t, idx.Add(1, []float32{1, 0}))
	require.NoError(t, idx.SaveSnapshot(path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, idx.SaveSnapshot(path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSnapshot_Missing(t *testing.T) {
	_, err := loadSnapshot(filepath.Join(t.TempDir(), "nope.bin"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshot_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))

	_, err := loadSnapshot(path)
	require.Error(t, err)
}
