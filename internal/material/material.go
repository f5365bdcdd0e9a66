// Package material defines the core domain types for course materials.
package material

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a material.
type Status string

// Material lifecycle states.
const (
	StatusPendingReview    Status = "pending_review"
	StatusPendingIndexing  Status = "pending_indexing"
	StatusIndexed          Status = "indexed"
	StatusRejected         Status = "rejected"
	StatusMarkedForRemoval Status = "marked_for_removal"
)

// AllStatuses lists every valid status, in lifecycle order.
var AllStatuses = []Status{
	StatusPendingReview,
	StatusPendingIndexing,
	StatusIndexed,
	StatusRejected,
	StatusMarkedForRemoval,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid status: %q (valid: %v)", s, AllStatuses)
}

// Searchable reports whether materials in this state may be searched or rated.
func (s Status) Searchable() bool {
	return s == StatusIndexed
}

// Material represents an uploaded or recommended course document.
type Material struct {
	// Identity
	ID string `json:"id"`

	// Metadata
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Authors     string `json:"authors,omitempty"`
	ExternalURL string `json:"external_url,omitempty"`

	// Lifecycle
	Status      Status `json:"status"`
	SubmittedBy string `json:"submitted_by,omitempty"` // Recommender; empty for admin uploads

	// Index bookkeeping. Slot is nil until the material is part of a trained index.
	Slot *int `json:"slot,omitempty"`

	// Community feedback. AverageRating is nil when nobody has rated the material.
	AverageRating *float64 `json:"average_rating,omitempty"`
	RatingCount   int      `json:"rating_count"`

	// Content is the raw document (PDF) and is only loaded on demand.
	Content     []byte `json:"-"`
	ContentSize int64  `json:"content_size"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rating is one rater's score for a material.
type Rating struct {
	MaterialID string `json:"material_id"`
	Rater      string `json:"rater"`
	Score      int    `json:"score"`
}

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// ValidateScore checks that a rating score is within bounds.
func ValidateScore(score int) error {
	if score < MinRating || score > MaxRating {
		return fmt.Errorf("rating must be between %d and %d, got %d", MinRating, MaxRating, score)
	}
	return nil
}

// RecommendationState is the recommender-facing view of a material's status.
func (m Material) RecommendationState() string {
	switch m.Status {
	case StatusPendingReview:
		return "pending"
	case StatusPendingIndexing, StatusIndexed:
		return "approved"
	case StatusRejected:
		return "rejected"
	default:
		return "removed"
	}
}
