package material

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, st := range AllStatuses {
		got, err := ParseStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err := ParseStatus("vectorized")
	assert.Error(t, err)
}

func TestStatus_Searchable(t *testing.T) {
	assert.True(t, StatusIndexed.Searchable())
	assert.False(t, StatusPendingIndexing.Searchable())
	assert.False(t, StatusMarkedForRemoval.Searchable())
}

func TestValidateScore(t *testing.T) {
	tests := []struct {
		score   int
		wantErr bool
	}{
		{0, true},
		{1, false},
		{3, false},
		{5, false},
		{6, true},
	}

	for _, tt := range tests {
		err := ValidateScore(tt.score)
		if tt.wantErr {
			assert.Error(t, err, "score %d", tt.score)
		} else {
			assert.NoError(t, err, "score %d", tt.score)
		}
	}
}

func TestRecommendationState(t *testing.T) {
	tests := map[Status]string{
		StatusPendingReview:    "pending",
		StatusPendingIndexing:  "approved",
		StatusIndexed:          "approved",
		StatusRejected:         "rejected",
		StatusMarkedForRemoval: "removed",
	}

	for st, want := range tests {
		t.Run(string(st), func(t *testing.T) {
			assert.Equal(t, want, Material{Status: st}.RecommendationState())
		})
	}
}
