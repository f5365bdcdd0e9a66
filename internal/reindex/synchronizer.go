// Package reindex rebuilds the search index from the material store and
// guards the rebuild so only one runs at a time.
package reindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coursedex/coursedex/internal/index"
	"github.com/coursedex/coursedex/internal/material"
	"github.com/coursedex/coursedex/internal/pdf"
	"github.com/coursedex/coursedex/internal/storage"
)

// Corpus is the part of the material store a run reads and writes.
type Corpus interface {
	ListIndexable(ctx context.Context) ([]material.Material, error)
	CommitReindex(ctx context.Context, c storage.ReindexCommit) (int, error)
	DeleteMarkedForRemoval(ctx context.Context) (int, error)
}

// Trainer builds and rolls back index generations.
type Trainer interface {
	Train(ctx context.Context, docs []index.Document) (*index.TrainResult, error)
	Restore(ctx context.Context, generation string) error
}

// ProgressReporter receives progress updates during text extraction.
type ProgressReporter interface {
	// OnProgress is called with the current progress.
	OnProgress(current, total int)
}

// ProgressFunc is a function adapter for ProgressReporter.
type ProgressFunc func(current, total int)

// OnProgress implements ProgressReporter.
func (f ProgressFunc) OnProgress(current, total int) {
	f(current, total)
}

// SkippedMaterial is a material left out of a run because its text could
// not be extracted.
type SkippedMaterial struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// RunResult summarizes one synchronization.
type RunResult struct {
	// Trained is true when a new generation was built and committed.
	Trained    bool              `json:"trained"`
	Generation string            `json:"generation,omitempty"`
	Documents  int               `json:"documents"`
	Indexed    int               `json:"indexed"`
	Skipped    []SkippedMaterial `json:"skipped,omitempty"`
	Removed    int               `json:"removed"`
	Duration   time.Duration     `json:"duration"`
}

// Synchronizer brings the index in line with the material store.
type Synchronizer struct {
	corpus    Corpus
	trainer   Trainer
	extractor pdf.Extractor
	logger    *slog.Logger
	workers   int
	timeout   time.Duration
	progress  ProgressReporter
	now       func() time.Time
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithWorkers bounds concurrent text extraction. Values below 1 mean 1.
func WithWorkers(n int) SyncOption {
	return func(s *Synchronizer) { s.workers = max(n, 1) }
}

// WithTimeout bounds a whole run. Zero means no bound.
func WithTimeout(d time.Duration) SyncOption {
	return func(s *Synchronizer) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SyncOption {
	return func(s *Synchronizer) { s.logger = l }
}

// WithProgress sets a progress reporter for text extraction.
func WithProgress(p ProgressReporter) SyncOption {
	return func(s *Synchronizer) { s.progress = p }
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(corpus Corpus, trainer Trainer, extractor pdf.Extractor, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		corpus:    corpus,
		trainer:   trainer,
		extractor: extractor,
		logger:    slog.New(slog.DiscardHandler),
		workers:   1,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// extraction is the outcome for one material, kept at its listing position.
type extraction struct {
	text string
	err  error
}

// Run rebuilds the index from every pending_indexing and indexed material,
// commits the new slots and statuses, then deletes materials marked for
// removal.
//
// Materials whose text cannot be extracted are skipped and logged; they lose
// their slot and stay pending_indexing for the next run. If the database
// commit fails after training, the previous generation is restored so the
// index keeps matching the stored slots.
func (s *Synchronizer) Run(ctx context.Context) (*RunResult, error) {
	start := s.now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	materials, err := s.corpus.ListIndexable(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading materials: %w", err)
	}
	s.logger.InfoContext(ctx, "reindex started", "materials", len(materials), "workers", s.workers)

	extracted, err := s.extractAll(ctx, materials)
	if err != nil {
		return nil, err
	}

	result := &RunResult{}
	var docs []index.Document
	commit := storage.ReindexCommit{}
	for i, m := range materials {
		if err := extracted[i].err; err != nil {
			s.logger.WarnContext(ctx, "skipping material", "id", m.ID, "title", m.Title, "error", err)
			result.Skipped = append(result.Skipped, SkippedMaterial{ID: m.ID, Title: m.Title, Reason: err.Error()})
			commit.Failed = append(commit.Failed, m.ID)
			continue
		}
		docs = append(docs, index.Document{ID: m.ID, Text: extracted[i].text})
		commit.Trained = append(commit.Trained, m.ID)
	}

	if len(docs) > 0 {
		trained, err := s.trainer.Train(ctx, docs)
		if err != nil {
			return nil, fmt.Errorf("training index: %w", err)
		}

		indexed, err := s.corpus.CommitReindex(ctx, commit)
		if err != nil {
			// The run context may be what failed; the rollback must still happen.
			if rerr := s.trainer.Restore(context.WithoutCancel(ctx), trained.Previous); rerr != nil {
				s.logger.ErrorContext(ctx, "restoring previous index failed",
					"generation", trained.Previous, "error", rerr)
			}
			return nil, fmt.Errorf("committing reindex: %w", err)
		}

		result.Trained = true
		result.Generation = trained.Generation
		result.Documents = trained.Documents
		result.Indexed = indexed
	} else {
		s.logger.InfoContext(ctx, "nothing to train, keeping current index")
	}

	removed, err := s.corpus.DeleteMarkedForRemoval(ctx)
	if err != nil {
		return nil, fmt.Errorf("removing materials: %w", err)
	}
	result.Removed = removed
	result.Duration = s.now().Sub(start)

	s.logger.InfoContext(ctx, "reindex finished",
		"generation", result.Generation,
		"indexed", result.Indexed,
		"skipped", len(result.Skipped),
		"removed", result.Removed,
		"duration", result.Duration)
	return result, nil
}

// extractAll extracts every material's text with at most s.workers running
// at once. Per-material failures are recorded, not returned; only
// cancellation aborts.
func (s *Synchronizer) extractAll(ctx context.Context, materials []material.Material) ([]extraction, error) {
	out := make([]extraction, len(materials))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range materials {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := s.extractor.ExtractText(materials[i].Content)
			out[i] = extraction{text: text, err: err}
			if s.progress != nil {
				s.progress.OnProgress(int(done.Add(1)), len(materials))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extracting text: %w", err)
	}
	return out, nil
}
