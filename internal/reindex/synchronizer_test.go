package reindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedex/coursedex/internal/embedding"
	"github.com/coursedex/coursedex/internal/index"
	"github.com/coursedex/coursedex/internal/material"
	"github.com/coursedex/coursedex/internal/pdf"
	"github.com/coursedex/coursedex/internal/storage"
)

// plainExtractor treats content as text, failing on content starting with "broken".
type plainExtractor struct{}

func (plainExtractor) ExtractText(data []byte) (string, error) {
	if bytes.HasPrefix(data, []byte("broken")) {
		return "", fmt.Errorf("%w: no xref table", pdf.ErrMalformed)
	}
	return string(data), nil
}

func setupDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func setupIndex(t *testing.T) *index.Index {
	t.Helper()
	n := 0
	return index.New(index.NewFileStore(t.TempDir()),
		index.WithTokenizer(embedding.NewTokenizer("test", nil)),
		index.WithGenerations(func() (string, error) {
			n++
			return fmt.Sprintf("g%03d", n), nil
		}))
}

func upload(t *testing.T, db *storage.DB, title, content string) *material.Material {
	t.Helper()
	m, err := db.CreateMaterial(context.Background(), storage.NewMaterial{
		Title:   title,
		Content: []byte(content),
		ByAdmin: true,
	})
	require.NoError(t, err)
	return m
}

// countingTrainer records Train calls made through it.
type countingTrainer struct {
	Trainer
	mu     sync.Mutex
	trains int
}

func (c *countingTrainer) Train(ctx context.Context, docs []index.Document) (*index.TrainResult, error) {
	c.mu.Lock()
	c.trains++
	c.mu.Unlock()
	return c.Trainer.Train(ctx, docs)
}

func TestRun_OnlyRemovalsSkipsTraining(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	idx := setupIndex(t)

	m := upload(t, db, "Old notes", "old notes")
	_, err := db.CommitReindex(ctx, storage.ReindexCommit{Trained: []string{m.ID}})
	require.NoError(t, err)
	deleted, err := db.MarkForRemoval(ctx, m.ID)
	require.NoError(t, err)
	require.False(t, deleted)

	trainer := &countingTrainer{Trainer: idx}
	result, err := NewSynchronizer(db, trainer, plainExtractor{}).Run(ctx)
	require.NoError(t, err)

	assert.False(t, result.Trained)
	assert.Zero(t, trainer.trains)
	assert.Equal(t, 1, result.Removed)

	_, err = db.GetByID(ctx, m.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_TrainsAndAssignsSlots(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	idx := setupIndex(t)

	a := upload(t, db, "A", "apple banana")
	b := upload(t, db, "B", "banana cherry")
	c := upload(t, db, "C", "cherry date")

	var calls []int
	var mu sync.Mutex
	s := NewSynchronizer(db, idx, plainExtractor{},
		WithWorkers(3),
		WithProgress(ProgressFunc(func(current, total int) {
			mu.Lock()
			calls = append(calls, current)
			mu.Unlock()
			assert.Equal(t, 3, total)
		})))

	result, err := s.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Trained)
	assert.Equal(t, "g001", result.Generation)
	assert.Equal(t, 3, result.Documents)
	assert.Equal(t, 3, result.Indexed)
	assert.Empty(t, result.Skipped)
	assert.ElementsMatch(t, []int{1, 2, 3}, calls)

	bySlot, err := db.ListIndexedBySlot(ctx, nil)
	require.NoError(t, err)
	require.Len(t, bySlot, 3)
	assert.Equal(t, a.ID, bySlot[0].ID)
	assert.Equal(t, b.ID, bySlot[1].ID)
	assert.Equal(t, c.ID, bySlot[2].ID)

	hits, err := idx.Query(ctx, "date", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].Slot)
	assert.Equal(t, c.ID, hits[0].DocumentID)
}

func TestRun_KeepsSlotOrderAcrossRuns(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	idx := setupIndex(t)
	s := NewSynchronizer(db, idx, plainExtractor{}, WithWorkers(2))

	a := upload(t, db, "A", "apple")
	b := upload(t, db, "B", "banana")
	_, err := s.Run(ctx)
	require.NoError(t, err)

	// Removing a leaves a gap that the next run closes.
	_, err = db.MarkForRemoval(ctx, a.ID)
	require.NoError(t, err)
	c := upload(t, db, "C", "cherry")

	result, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g002", result.Generation)
	assert.Equal(t, 1, result.Removed)

	bySlot, err := db.ListIndexedBySlot(ctx, nil)
	require.NoError(t, err)
	require.Len(t, bySlot, 2)
	assert.Equal(t, b.ID, bySlot[0].ID)
	assert.Equal(t, c.ID, bySlot[1].ID)
}

func TestRun_SkipsUnreadableMaterial(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	idx := setupIndex(t)

	good := upload(t, db, "Good", "linear algebra")
	bad := upload(t, db, "Bad", "broken bytes")

	result, err := NewSynchronizer(db, idx, plainExtractor{}).Run(ctx)
	require.NoError(t, err)

	assert.True(t, result.Trained)
	assert.Equal(t, 1, result.Indexed)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, bad.ID, result.Skipped[0].ID)
	assert.Contains(t, result.Skipped[0].Reason, "malformed")

	got, err := db.GetByID(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, material.StatusIndexed, got.Status)
	require.NotNil(t, got.Slot)
	assert.Equal(t, 0, *got.Slot)

	got, err = db.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, material.StatusPendingIndexing, got.Status)
	assert.Nil(t, got.Slot)
}

func TestRun_PreviouslyIndexedMaterialBecomesUnreadable(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	idx := setupIndex(t)

	a := upload(t, db, "A", "apple")
	b := upload(t, db, "B", "banana")
	_, err := NewSynchronizer(db, idx, plainExtractor{}).Run(ctx)
	require.NoError(t, err)

	// Now every read of a fails.
	failA := extractorFunc(func(data []byte) (string, error) {
		if string(data) == "apple" {
			return "", pdf.ErrMalformed
		}
		return string(data), nil
	})
	result, err := NewSynchronizer(db, idx, failA).Run(ctx)
	require.NoError(t, err)
	require.Len(t, result.Skipped, 1)

	got, err := db.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, material.StatusPendingIndexing, got.Status)
	assert.Nil(t, got.Slot)

	bySlot, err := db.ListIndexedBySlot(ctx, nil)
	require.NoError(t, err)
	require.Len(t, bySlot, 1)
	assert.Equal(t, b.ID, bySlot[0].ID)
}

type extractorFunc func([]byte) (string, error)

func (f extractorFunc) ExtractText(data []byte) (string, error) { return f(data) }

func TestRun_AllUnreadableKeepsIndex(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	idx := setupIndex(t)
	upload(t, db, "Bad", "broken")

	result, err := NewSynchronizer(db, idx, plainExtractor{}).Run(ctx)
	require.NoError(t, err)
	assert.False(t, result.Trained)
	assert.Len(t, result.Skipped, 1)

	_, err = idx.Query(ctx, "anything", 1)
	assert.ErrorIs(t, err, index.ErrNotTrained)
}

// failingCommit is a corpus whose slot commit always fails.
type failingCommit struct {
	*storage.DB
}

func (failingCommit) CommitReindex(context.Context, storage.ReindexCommit) (int, error) {
	return 0, errors.New("database is locked")
}

func TestRun_CommitFailureRestoresPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	idx := setupIndex(t)

	upload(t, db, "A", "apple banana")
	first, err := NewSynchronizer(db, idx, plainExtractor{}).Run(ctx)
	require.NoError(t, err)

	pending := upload(t, db, "B", "banana cherry")
	_, err = NewSynchronizer(failingCommit{db}, idx, plainExtractor{}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "committing reindex")

	gen, err := idx.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Generation, gen)

	hits, err := idx.Query(ctx, "banana", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	got, err := db.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, material.StatusPendingIndexing, got.Status)
}

func TestRun_CommitFailureOnFirstBuildLeavesIndexUntrained(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	idx := setupIndex(t)
	upload(t, db, "A", "apple")

	_, err := NewSynchronizer(failingCommit{db}, idx, plainExtractor{}).Run(ctx)
	require.Error(t, err)

	_, err = idx.Query(ctx, "apple", 1)
	assert.ErrorIs(t, err, index.ErrNotTrained)
}

func TestRun_Cancelled(t *testing.T) {
	db := setupDB(t)
	idx := setupIndex(t)
	upload(t, db, "A", "apple")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSynchronizer(db, idx, plainExtractor{}).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_EmptyLibrary(t *testing.T) {
	result, err := NewSynchronizer(setupDB(t), setupIndex(t), plainExtractor{}).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Trained)
	assert.Zero(t, result.Removed)
	assert.Empty(t, result.Skipped)
}
