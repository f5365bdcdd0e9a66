package index

import (
	"context"
	"sort"

	"github.com/coursedex/coursedex/internal/embedding"
)

// Query returns the limit rows most similar to text, ordered by similarity
// descending with ties broken by ascending slot. Every row is scored; the
// ranking is exact.
func (idx *Index) Query(ctx context.Context, text string, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := idx.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(m.rows) == 0 {
		return []Hit{}, nil
	}

	q := m.vectorizer.Transform(text)
	hits := make([]Hit, len(m.rows))
	for slot, row := range m.rows {
		hits[slot] = Hit{
			Slot:       slot,
			DocumentID: m.documentIDs[slot],
			Similarity: embedding.CosineSimilarity(q, row),
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Slot < hits[j].Slot
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Generation returns the generation currently cached, loading it if needed.
func (idx *Index) Generation(ctx context.Context) (string, error) {
	m, err := idx.load(ctx)
	if err != nil {
		return "", err
	}
	return m.manifest.Generation, nil
}
