package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db := newDB(conn)
	db.SetClock(func() time.Time { return time.Unix(1700000000, 0) })
	return db, mock
}

func TestCommitReindex_RollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE materials SET vector_slot = NULL").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE materials SET vector_slot = \\?").
		WithArgs(0, "indexed", sqlmock.AnyArg(), "m1", "pending_indexing", "indexed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE materials SET vector_slot = \\?").
		WithArgs(1, "indexed", sqlmock.AnyArg(), "m2", "pending_indexing", "indexed").
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	n, err := db.CommitReindex(context.Background(), ReindexCommit{Trained: []string{"m1", "m2"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assigning slot 1 to m2")
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitReindex_CommitFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE materials SET vector_slot = NULL").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE materials SET vector_slot = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	_, err := db.CommitReindex(context.Background(), ReindexCommit{Trained: []string{"m1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "committing transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMarkedForRemoval_RollsBack(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM ratings").
		WithArgs("marked_for_removal").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM materials").
		WithArgs("marked_for_removal").
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	n, err := db.DeleteMarkedForRemoval(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
