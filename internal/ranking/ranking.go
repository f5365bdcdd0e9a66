// Package ranking blends textual similarity with community ratings.
package ranking

import (
	"errors"
	"fmt"
	"sort"

	"github.com/coursedex/coursedex/internal/material"
)

// DefaultWeight is the share of the final score taken by similarity.
const DefaultWeight = 0.6

var (
	ErrLengthMismatch = errors.New("similarity and rating counts differ")
	ErrInvalidWeight  = errors.New("weight must be within [0, 1]")
)

// Combine returns weight*s + (1-weight)*r for each similarity/rating pair.
func Combine(weight float64, similarities, ratings []float64) ([]float64, error) {
	if weight < 0 || weight > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidWeight, weight)
	}
	if len(similarities) != len(ratings) {
		return nil, fmt.Errorf("%w: %d similarities, %d ratings", ErrLengthMismatch, len(similarities), len(ratings))
	}
	scores := make([]float64, len(similarities))
	for i := range similarities {
		scores[i] = weight*similarities[i] + (1-weight)*ratings[i]
	}
	return scores, nil
}

// NormalizeRating maps an average rating on the 1..5 scale onto [0, 1].
// A material nobody has rated counts as the lowest rating.
func NormalizeRating(avg *float64) float64 {
	raw := float64(material.MinRating)
	if avg != nil {
		raw = *avg
	}
	span := float64(material.MaxRating - material.MinRating)
	return (raw - float64(material.MinRating)) / span
}

// Rerank orders candidates by descending score. Equal scores keep their
// incoming order. The input slices are not modified.
func Rerank[T any](candidates []T, scores []float64) ([]T, error) {
	if len(candidates) != len(scores) {
		return nil, fmt.Errorf("%w: %d candidates, %d scores", ErrLengthMismatch, len(candidates), len(scores))
	}
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	out := make([]T, len(candidates))
	for i, idx := range order {
		out[i] = candidates[idx]
	}
	return out, nil
}

// Candidate is one item to rank.
type Candidate struct {
	ID         string   `json:"id"`
	Similarity float64  `json:"similarity"`
	Rating     *float64 `json:"rating,omitempty"`
	Score      float64  `json:"score"`
}

// Ranker applies Combine and Rerank with a fixed weight.
type Ranker struct {
	Weight float64
}

// NewRanker returns a Ranker, validating the weight.
func NewRanker(weight float64) (*Ranker, error) {
	if weight < 0 || weight > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidWeight, weight)
	}
	return &Ranker{Weight: weight}, nil
}

// Rank scores candidates and returns them best first. Candidates arrive in
// similarity order, so ties keep that order.
func (r *Ranker) Rank(candidates []Candidate) ([]Candidate, error) {
	sims := make([]float64, len(candidates))
	ratings := make([]float64, len(candidates))
	for i, c := range candidates {
		sims[i] = c.Similarity
		ratings[i] = NormalizeRating(c.Rating)
	}
	scores, err := Combine(r.Weight, sims, ratings)
	if err != nil {
		return nil, err
	}
	scored := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.Score = scores[i]
		scored[i] = c
	}
	return Rerank(scored, scores)
}
