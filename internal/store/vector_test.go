package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorIndex_AddAndSearch(t *testing.T) {
	v := NewVectorIndex(3)
	ctx := context.Background()

	err := v.Add(ctx, "Docs",
		[]string{"x", "y", "z"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}})
	require.NoError(t, err)

	results, err := v.Search(ctx, "Docs", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].ID)
	assert.Equal(t, "z", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestVectorIndex_DimensionMismatch(t *testing.T) {
	v := NewVectorIndex(3)
	ctx := context.Background()

	err := v.Add(ctx, "Docs", []string{"x"}, [][]float32{{1, 0}})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = v.Search(ctx, "Docs", []float32{1, 0}, 1)
	assert.Error(t, err)
}

func TestVectorIndex_DeleteHidesVector(t *testing.T) {
	v := NewVectorIndex(2)
	ctx := context.Background()

	require.NoError(t, v.Add(ctx, "Docs", []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, v.Delete(ctx, "Docs", []string{"a"}))

	assert.Equal(t, 1, v.Count("Docs"))

	results, err := v.Search(ctx, "Docs", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestVectorIndex_ReplaceUpdatesVector(t *testing.T) {
	v := NewVectorIndex(2)
	ctx := context.Background()

	require.NoError(t, v.Add(ctx, "Docs", []string{"a"}, [][]float32{{1, 0}}))
	require.NoError(t, v.Add(ctx, "Docs", []string{"a"}, [][]float32{{0, 1}}))

	assert.Equal(t, 1, v.Count("Docs"))

	results, err := v.Search(ctx, "Docs", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestVectorIndex_EmptyClass(t *testing.T) {
	v := NewVectorIndex(2)

	results, err := v.Search(context.Background(), "Missing", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndex_DeleteClass(t *testing.T) {
	v := NewVectorIndex(2)
	ctx := context.Background()

	require.NoError(t, v.Add(ctx, "Docs", []string{"a"}, [][]float32{{1, 0}}))
	require.NoError(t, v.DeleteClass(ctx, "Docs"))
	assert.Equal(t, 0, v.Count("Docs"))
}
