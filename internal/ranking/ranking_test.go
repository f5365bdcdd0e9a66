package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestCombine(t *testing.T) {
	scores, err := Combine(DefaultWeight, []float64{0.9, 0.5}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.54, scores[0], 1e-12)
	assert.InDelta(t, 0.70, scores[1], 1e-12)
	assert.Greater(t, scores[1], scores[0])
}

func TestCombine_WeightBoundaries(t *testing.T) {
	sims := []float64{0.2, 0.8}
	ratings := []float64{1, 0}

	scores, err := Combine(1, sims, ratings)
	require.NoError(t, err)
	assert.Equal(t, sims, scores)

	scores, err = Combine(0, sims, ratings)
	require.NoError(t, err)
	assert.Equal(t, ratings, scores)
}

func TestCombine_Errors(t *testing.T) {
	_, err := Combine(0.5, []float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	for _, w := range []float64{-0.1, 1.1} {
		_, err = Combine(w, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidWeight)
	}

	scores, err := Combine(0.5, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestCombine_Monotonic(t *testing.T) {
	for _, w := range []float64{0, 0.3, DefaultWeight, 1} {
		base, err := Combine(w, []float64{0.4}, []float64{0.5})
		require.NoError(t, err)

		moreSim, err := Combine(w, []float64{0.6}, []float64{0.5})
		require.NoError(t, err)
		moreRating, err := Combine(w, []float64{0.4}, []float64{0.75})
		require.NoError(t, err)

		assert.GreaterOrEqual(t, moreSim[0], base[0], "weight %v", w)
		assert.GreaterOrEqual(t, moreRating[0], base[0], "weight %v", w)
	}
}

func TestNormalizeRating(t *testing.T) {
	tests := []struct {
		name string
		avg  *float64
		want float64
	}{
		{"unrated", nil, 0},
		{"lowest", ptr(1), 0},
		{"middle", ptr(3), 0.5},
		{"highest", ptr(5), 1},
		{"fractional", ptr(4.5), 0.875},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NormalizeRating(tt.avg), 1e-12)
		})
	}
}

func TestRerank_Stable(t *testing.T) {
	got, err := Rerank([]string{"a", "b", "c", "d"}, []float64{0.5, 0.9, 0.5, 0.9})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)

	_, err = Rerank([]string{"a"}, nil)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestRanker_Rank(t *testing.T) {
	r, err := NewRanker(DefaultWeight)
	require.NoError(t, err)

	ranked, err := r.Rank([]Candidate{
		{ID: "relevant", Similarity: 0.9},
		{ID: "loved", Similarity: 0.5, Rating: ptr(5)},
	})
	require.NoError(t, err)
	require.Len(t, ranked, 2)

	assert.Equal(t, "loved", ranked[0].ID)
	assert.InDelta(t, 0.70, ranked[0].Score, 1e-12)
	assert.Equal(t, "relevant", ranked[1].ID)
	assert.InDelta(t, 0.54, ranked[1].Score, 1e-12)

	_, err = NewRanker(2)
	assert.ErrorIs(t, err, ErrInvalidWeight)
}
