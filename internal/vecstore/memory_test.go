package vecstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/service"
)

func TestMemoryCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	exists, err := store.CollectionExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateCollection(ctx, service.CollectionSchema{Dimension: 3}))

	exists, err = store.CollectionExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryCreateCollectionRejectsBadDimension(t *testing.T) {
	store := NewMemory()
	err := store.CreateCollection(context.Background(), service.CollectionSchema{Dimension: 0})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestMemoryUpsertRequiresCollection(t *testing.T) {
	store := NewMemory()
	err := store.Upsert(context.Background(), []service.IndexEntry{
		{ID: "p1", Vector: []float32{1, 0, 0}},
	})
	assert.Error(t, err)
}

func TestMemoryUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreateCollection(ctx, service.CollectionSchema{Dimension: 3}))

	entry := service.IndexEntry{ID: "p1", Text: "first", Vector: []float32{1, 0, 0}}
	require.NoError(t, store.Upsert(ctx, []service.IndexEntry{entry}))

	entry.Text = "second"
	require.NoError(t, store.Upsert(ctx, []service.IndexEntry{entry}))

	assert.Equal(t, 1, store.Len())
	matches, err := store.Search(ctx, []float32{1, 0, 0}, 5, 0.9)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "second", matches[0].Text)
}

func TestMemoryUpsertRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreateCollection(ctx, service.CollectionSchema{Dimension: 3}))

	err := store.Upsert(ctx, []service.IndexEntry{{ID: "p1", Vector: []float32{1, 0}}})
	assert.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestMemorySearchRanksAndFloors(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreateCollection(ctx, service.CollectionSchema{Dimension: 2}))

	require.NoError(t, store.Upsert(ctx, []service.IndexEntry{
		{ID: "exact", Vector: []float32{1, 0}},
		{ID: "close", Vector: []float32{1, 0.2}},
		{ID: "orthogonal", Vector: []float32{0, 1}},
	}))

	matches, err := store.Search(ctx, []float32{1, 0}, 5, 0.8)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].ID)
	assert.Equal(t, "close", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestMemorySearchHonorsTopK(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreateCollection(ctx, service.CollectionSchema{Dimension: 2}))

	require.NoError(t, store.Upsert(ctx, []service.IndexEntry{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{1, 0}},
		{ID: "c", Vector: []float32{1, 0}},
	}))

	matches, err := store.Search(ctx, []float32{1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	// Ties keep insertion order.
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "b", matches[1].ID)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{0, 0}, []float32{1, 1}), 1e-9)
}
