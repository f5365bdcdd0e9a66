// Package search answers user queries: the index finds textually similar
// materials and the ranking blends in community ratings.
package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coursedex/coursedex/internal/index"
	"github.com/coursedex/coursedex/internal/material"
	"github.com/coursedex/coursedex/internal/ranking"
)

// Index finds the rows most similar to a query.
type Index interface {
	Query(ctx context.Context, text string, limit int) ([]index.Hit, error)
}

// Materials resolves index slots to indexed materials.
type Materials interface {
	ListIndexedBySlot(ctx context.Context, slots []int) (map[int]material.Material, error)
}

// Result is one ranked search result.
type Result struct {
	Material   material.Material `json:"material"`
	Similarity float64           `json:"similarity"`
	Score      float64           `json:"score"`
}

// Service runs searches.
type Service struct {
	index     Index
	materials Materials
	ranker    *ranking.Ranker
	logger    *slog.Logger
}

// NewService creates a Service. The ranker's weight balances similarity
// against rating.
func NewService(idx Index, materials Materials, ranker *ranking.Ranker, l *slog.Logger) *Service {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return &Service{index: idx, materials: materials, ranker: ranker, logger: l}
}

// Search returns up to limit materials for query, best first.
// index.ErrNotTrained and index.ErrInvalidLimit pass through unchanged.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	hits, err := s.index.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []Result{}, nil
	}

	slots := make([]int, len(hits))
	for i, h := range hits {
		slots[i] = h.Slot
	}
	bySlot, err := s.materials.ListIndexedBySlot(ctx, slots)
	if err != nil {
		return nil, fmt.Errorf("resolving hits: %w", err)
	}

	candidates := make([]ranking.Candidate, 0, len(hits))
	found := make(map[string]material.Material, len(hits))
	for _, h := range hits {
		m, ok := bySlot[h.Slot]
		// The slot may have been cleared or reassigned since the index
		// was trained.
		if !ok || m.ID != h.DocumentID {
			s.logger.DebugContext(ctx, "skipping stale hit", "slot", h.Slot, "document", h.DocumentID)
			continue
		}
		found[m.ID] = m
		candidates = append(candidates, ranking.Candidate{
			ID:         m.ID,
			Similarity: h.Similarity,
			Rating:     m.AverageRating,
		})
	}

	ranked, err := s.ranker.Rank(candidates)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(ranked))
	for i, c := range ranked {
		results[i] = Result{Material: found[c.ID], Similarity: c.Similarity, Score: c.Score}
	}
	return results, nil
}
