package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedex/coursedex/internal/material"
)

// setupTestDB opens a fresh database with a deterministic clock.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	db.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return db
}

func addMaterial(t *testing.T, db *DB, title string, byAdmin bool, submitter string) *material.Material {
	t.Helper()
	m, err := db.CreateMaterial(context.Background(), NewMaterial{
		Title:       title,
		Content:     []byte("%PDF-1.4 " + title),
		SubmittedBy: submitter,
		ByAdmin:     byAdmin,
	})
	require.NoError(t, err)
	return m
}

// indexAll simulates a successful reindex over the given materials.
func indexAll(t *testing.T, db *DB, ms ...*material.Material) {
	t.Helper()
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	_, err := db.CommitReindex(context.Background(), ReindexCommit{Trained: ids})
	require.NoError(t, err)
}

func TestOpenDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenDB(path)
	require.NoError(t, err)
	_, err = db.CreateMaterial(context.Background(), NewMaterial{Title: "A", Content: []byte("x"), ByAdmin: true})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Migrations are idempotent across restarts.
	db, err = OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	ms, err := db.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, ms, 1)
}

func TestCreateMaterial(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	admin := addMaterial(t, db, "Admin upload", true, "")
	assert.Equal(t, material.StatusPendingIndexing, admin.Status)
	assert.Empty(t, admin.SubmittedBy)
	assert.Nil(t, admin.Slot)
	assert.Nil(t, admin.AverageRating)
	assert.Positive(t, admin.ContentSize)

	rec := addMaterial(t, db, "Recommended", false, "alice")
	assert.Equal(t, material.StatusPendingReview, rec.Status)
	assert.Equal(t, "alice", rec.SubmittedBy)
	assert.Equal(t, "pending", rec.RecommendationState())

	content, err := db.GetContent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 Recommended"), content)

	_, err = db.CreateMaterial(ctx, NewMaterial{Title: "No content", ByAdmin: true})
	assert.Error(t, err)
	_, err = db.CreateMaterial(ctx, NewMaterial{Title: "Anonymous", Content: []byte("x")})
	assert.Error(t, err)
}

func TestApproveReject(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	a := addMaterial(t, db, "A", false, "alice")
	b := addMaterial(t, db, "B", false, "bob")

	require.NoError(t, db.Approve(ctx, a.ID))
	require.NoError(t, db.Reject(ctx, b.ID))

	got, err := db.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, material.StatusPendingIndexing, got.Status)

	got, err = db.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, material.StatusRejected, got.Status)

	assert.ErrorIs(t, db.Approve(ctx, a.ID), ErrInvalidTransition)
	assert.ErrorIs(t, db.Approve(ctx, b.ID), ErrInvalidTransition)
	assert.ErrorIs(t, db.Reject(ctx, "missing"), ErrNotFound)
}

func TestMarkForRemoval(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	pending := addMaterial(t, db, "Pending", true, "")
	indexed := addMaterial(t, db, "Indexed", true, "")
	review := addMaterial(t, db, "Review", false, "alice")
	indexAll(t, db, indexed)

	deleted, err := db.MarkForRemoval(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = db.GetByID(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err = db.MarkForRemoval(ctx, indexed.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	got, err := db.GetByID(ctx, indexed.ID)
	require.NoError(t, err)
	assert.Equal(t, material.StatusMarkedForRemoval, got.Status)

	_, err = db.MarkForRemoval(ctx, review.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.MarkForRemoval(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	m := addMaterial(t, db, "Rated", false, "alice")
	require.NoError(t, db.Approve(ctx, m.ID))

	_, err := db.Rate(ctx, m.ID, "bob", 4)
	assert.ErrorIs(t, err, ErrNotRatable)

	indexAll(t, db, m)

	_, err = db.Rate(ctx, m.ID, "alice", 5)
	assert.ErrorIs(t, err, ErrSelfRating)

	_, err = db.Rate(ctx, m.ID, "bob", 6)
	assert.Error(t, err)

	got, err := db.Rate(ctx, m.ID, "bob", 4)
	require.NoError(t, err)
	require.NotNil(t, got.AverageRating)
	assert.InDelta(t, 4.0, *got.AverageRating, 1e-9)

	got, err = db.Rate(ctx, m.ID, "carol", 1)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, *got.AverageRating, 1e-9)
	assert.Equal(t, 2, got.RatingCount)

	// Re-rating replaces the earlier score.
	got, err = db.Rate(ctx, m.ID, "bob", 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, *got.AverageRating, 1e-9)
	assert.Equal(t, 2, got.RatingCount)

	ratings, err := db.ListRatings(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []material.Rating{
		{MaterialID: m.ID, Rater: "bob", Score: 2},
		{MaterialID: m.ID, Rater: "carol", Score: 1},
	}, ratings)

	_, err = db.Rate(ctx, "missing", "bob", 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListIndexable_Order(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	a := addMaterial(t, db, "A", true, "")
	b := addMaterial(t, db, "B", true, "")
	c := addMaterial(t, db, "C", true, "")
	addMaterial(t, db, "Review", false, "alice")

	// Give B slot 0 and A slot 1; C stays unslotted.
	indexAll(t, db, b, a)

	ms, err := db.ListIndexable(ctx)
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, []string{b.ID, a.ID, c.ID}, []string{ms[0].ID, ms[1].ID, ms[2].ID})
	assert.Equal(t, []byte("%PDF-1.4 B"), ms[0].Content)
	assert.Equal(t, material.StatusPendingIndexing, ms[2].Status)
}

func TestCommitReindex(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	a := addMaterial(t, db, "A", true, "")
	b := addMaterial(t, db, "B", true, "")
	c := addMaterial(t, db, "C", true, "")
	indexAll(t, db, a, b, c)

	// B fails extraction on the next run; C is trained first.
	n, err := db.CommitReindex(ctx, ReindexCommit{Trained: []string{c.ID, a.ID}, Failed: []string{b.ID}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bySlot, err := db.ListIndexedBySlot(ctx, nil)
	require.NoError(t, err)
	require.Len(t, bySlot, 2)
	assert.Equal(t, c.ID, bySlot[0].ID)
	assert.Equal(t, a.ID, bySlot[1].ID)

	got, err := db.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, material.StatusPendingIndexing, got.Status)
	assert.Nil(t, got.Slot)

	subset, err := db.ListIndexedBySlot(ctx, []int{1, 7})
	require.NoError(t, err)
	assert.Len(t, subset, 1)
	assert.Equal(t, a.ID, subset[1].ID)

	empty, err := db.ListIndexedBySlot(ctx, []int{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCommitReindex_SkipsChangedMaterials(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	a := addMaterial(t, db, "A", true, "")
	b := addMaterial(t, db, "B", true, "")
	indexAll(t, db, a, b)

	// B is marked for removal while a run is in flight.
	_, err := db.MarkForRemoval(ctx, b.ID)
	require.NoError(t, err)

	n, err := db.CommitReindex(ctx, ReindexCommit{Trained: []string{a.ID, b.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, material.StatusMarkedForRemoval, got.Status)
	assert.Nil(t, got.Slot)
}

func TestDeleteMarkedForRemoval(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	keep := addMaterial(t, db, "Keep", true, "")
	drop := addMaterial(t, db, "Drop", false, "alice")
	require.NoError(t, db.Approve(ctx, drop.ID))
	indexAll(t, db, keep, drop)

	_, err := db.Rate(ctx, drop.ID, "bob", 5)
	require.NoError(t, err)
	_, err = db.MarkForRemoval(ctx, drop.ID)
	require.NoError(t, err)

	n, err := db.DeleteMarkedForRemoval(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = db.GetByID(ctx, drop.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	ratings, err := db.ListRatings(ctx, drop.ID)
	require.NoError(t, err)
	assert.Empty(t, ratings)

	n, err = db.DeleteMarkedForRemoval(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListAndRecommendations(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	first := addMaterial(t, db, "First", false, "alice")
	addMaterial(t, db, "Admin", true, "")
	second := addMaterial(t, db, "Second", false, "alice")
	addMaterial(t, db, "Bob's", false, "bob")
	require.NoError(t, db.Reject(ctx, first.ID))

	recs, err := db.ListRecommendations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, second.ID, recs[0].ID)
	assert.Equal(t, "rejected", recs[1].RecommendationState())

	pending, err := db.List(ctx, ListFilter{Status: material.StatusPendingReview})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := db.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = db.ListRecommendations(ctx, "")
	assert.Error(t, err)
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	a := addMaterial(t, db, "A", true, "")
	b := addMaterial(t, db, "B", true, "")
	addMaterial(t, db, "C", true, "")
	addMaterial(t, db, "D", false, "alice")
	indexAll(t, db, a, b)
	_, err := db.MarkForRemoval(ctx, b.ID)
	require.NoError(t, err)
	_, err = db.Rate(ctx, a.ID, "bob", 3)
	require.NoError(t, err)
	_, err = db.Rate(ctx, a.ID, "carol", 5)
	require.NoError(t, err)

	dash, err := db.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, Dashboard{
		Indexed:          1,
		PendingReview:    1,
		PendingIndexing:  1,
		MarkedForRemoval: 1,
		Raters:           2,
		Ratings:          2,
	}, *dash)
}

func TestRunHistory(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.StartRun(ctx, "run-1"))
	r, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, r.Status)
	assert.Nil(t, r.FinishedAt)

	require.NoError(t, db.FinishRun(ctx, ReindexRun{ID: "run-1", Trained: 3, Indexed: 3, Removed: 1, Generation: "g1"}, nil))
	require.NoError(t, db.StartRun(ctx, "run-2"))
	require.NoError(t, db.FinishRun(ctx, ReindexRun{ID: "run-2"}, assert.AnError))

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Equal(t, assert.AnError.Error(), runs[0].Error)
	assert.Equal(t, RunSucceeded, runs[1].Status)
	assert.Equal(t, "g1", runs[1].Generation)
	assert.Equal(t, 3, runs[1].Trained)
	require.NotNil(t, runs[1].FinishedAt)

	_, err = db.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestFinishRun_KeepsFinishedOutcome(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.StartRun(ctx, "run-1"))
	require.NoError(t, db.FinishRun(ctx, ReindexRun{ID: "run-1", Indexed: 4, Removed: 2, Generation: "g1"}, nil))
	require.NoError(t, db.FinishRun(ctx, ReindexRun{ID: "run-1"}, assert.AnError))

	r, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, r.Status)
	assert.Equal(t, 4, r.Indexed)
	assert.Equal(t, 2, r.Removed)
	assert.Equal(t, "g1", r.Generation)
	assert.Empty(t, r.Error)
}
