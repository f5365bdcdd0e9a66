package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coursedex/coursedex/internal/material"
)

// ListIndexable returns every material that belongs in the next trained
// index, with content, ordered by current slot (unslotted last), then
// creation time, then id.
func (d *DB) ListIndexable(ctx context.Context) ([]material.Material, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+selectMaterialFields+`, content
		FROM materials
		WHERE status IN (?, ?)
		ORDER BY vector_slot IS NULL, vector_slot, created_at, id
	`, string(material.StatusPendingIndexing), string(material.StatusIndexed))
	if err != nil {
		return nil, fmt.Errorf("listing indexable materials: %w", err)
	}
	defer rows.Close()

	var out []material.Material
	for rows.Next() {
		var content []byte
		m, err := scanMaterial(withContent{rows, &content})
		if err != nil {
			return nil, err
		}
		m.Content = content
		out = append(out, *m)
	}
	return out, rows.Err()
}

// withContent appends a content destination to a material scan.
type withContent struct {
	s       scanner
	content *[]byte
}

func (w withContent) Scan(dest ...any) error {
	return w.s.Scan(append(dest, w.content)...)
}

// ReindexCommit is the database half of a reindex run.
type ReindexCommit struct {
	// Trained lists material ids in training order; position i is slot i.
	Trained []string
	// Failed lists materials whose text could not be extracted. They lose
	// their slot and wait in pending_indexing for the next run.
	Failed []string
}

// CommitReindex assigns slots to trained materials, promotes pending ones
// to indexed and demotes failed ones, all in one transaction. Materials
// whose status changed since they were listed are left alone.
func (d *DB) CommitReindex(ctx context.Context, c ReindexCommit) (indexed int, err error) {
	now := d.now().UnixNano()
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		// Slots are unique; clear them all before reassigning.
		if _, err := tx.ExecContext(ctx, `
			UPDATE materials SET vector_slot = NULL WHERE vector_slot IS NOT NULL
		`); err != nil {
			return fmt.Errorf("clearing slots: %w", err)
		}

		for slot, id := range c.Trained {
			res, err := tx.ExecContext(ctx, `
				UPDATE materials SET vector_slot = ?, status = ?, updated_at = ?
				WHERE id = ? AND status IN (?, ?)
			`, slot, string(material.StatusIndexed), now, id,
				string(material.StatusPendingIndexing), string(material.StatusIndexed))
			if err != nil {
				return fmt.Errorf("assigning slot %d to %s: %w", slot, id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			indexed += int(n)
		}

		for _, id := range c.Failed {
			_, err := tx.ExecContext(ctx, `
				UPDATE materials SET status = ?, updated_at = ?
				WHERE id = ? AND status IN (?, ?)
			`, string(material.StatusPendingIndexing), now, id,
				string(material.StatusPendingIndexing), string(material.StatusIndexed))
			if err != nil {
				return fmt.Errorf("holding back %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return indexed, nil
}

// DeleteMarkedForRemoval deletes every material marked for removal along
// with its ratings and returns how many were deleted.
func (d *DB) DeleteMarkedForRemoval(ctx context.Context) (int, error) {
	var removed int
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		status := string(material.StatusMarkedForRemoval)
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM ratings WHERE material_id IN (SELECT id FROM materials WHERE status = ?)
		`, status); err != nil {
			return fmt.Errorf("deleting ratings: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM materials WHERE status = ?`, status)
		if err != nil {
			return fmt.Errorf("deleting materials: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ListIndexedBySlot returns indexed materials keyed by slot.
// A nil slots slice returns every slotted indexed material.
func (d *DB) ListIndexedBySlot(ctx context.Context, slots []int) (map[int]material.Material, error) {
	query := `SELECT ` + selectMaterialFields + ` FROM materials
		WHERE status = ? AND vector_slot IS NOT NULL`
	args := []any{string(material.StatusIndexed)}
	if slots != nil {
		if len(slots) == 0 {
			return map[int]material.Material{}, nil
		}
		query += ` AND vector_slot IN (` + placeholders(len(slots)) + `)`
		for _, s := range slots {
			args = append(args, s)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading indexed materials: %w", err)
	}
	defer rows.Close()

	ms, err := scanMaterials(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int]material.Material, len(ms))
	for _, m := range ms {
		out[*m.Slot] = m
	}
	return out, nil
}

// Run states recorded in reindex_runs.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// ReindexRun is one row of run history.
type ReindexRun struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Generation string     `json:"generation,omitempty"`
	Trained    int        `json:"trained"`
	Indexed    int        `json:"indexed"`
	Skipped    int        `json:"skipped"`
	Removed    int        `json:"removed"`
}

// StartRun records that a run began.
func (d *DB) StartRun(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO reindex_runs (id, status, started_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, started_at = excluded.started_at
	`, id, RunRunning, timestamp(d.now()))
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// FinishRun records a run's outcome. A non-nil runErr marks it failed.
// Only a running row is updated, so a finished run keeps its outcome.
func (d *DB) FinishRun(ctx context.Context, run ReindexRun, runErr error) error {
	status := RunSucceeded
	if runErr != nil {
		status = RunFailed
		run.Error = runErr.Error()
	}
	_, err := d.db.ExecContext(ctx, `
		UPDATE reindex_runs SET
			status = ?, finished_at = ?, error = ?, generation = ?,
			trained = ?, indexed = ?, skipped = ?, removed = ?
		WHERE id = ? AND status = ?
	`, status, timestamp(d.now()), nullableStringValue(run.Error), nullableStringValue(run.Generation),
		run.Trained, run.Indexed, run.Skipped, run.Removed, run.ID, RunRunning)
	if err != nil {
		return fmt.Errorf("recording run outcome: %w", err)
	}
	return nil
}

// GetRun returns one run.
func (d *DB) GetRun(ctx context.Context, id string) (*ReindexRun, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+selectRunFields+` FROM reindex_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]ReindexRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+selectRunFields+` FROM reindex_runs
		ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []ReindexRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

const selectRunFields = `id, status, started_at, finished_at, error, generation,
	trained, indexed, skipped, removed`

func scanRun(s scanner) (*ReindexRun, error) {
	var r ReindexRun
	var startedAt int64
	var finishedAt sql.NullInt64
	var errText, generation sql.NullString
	err := s.Scan(&r.ID, &r.Status, &startedAt, &finishedAt, &errText, &generation,
		&r.Trained, &r.Indexed, &r.Skipped, &r.Removed)
	if err != nil {
		return nil, err
	}
	r.StartedAt = fromUnix(startedAt)
	if finishedAt.Valid {
		t := fromUnix(finishedAt.Int64)
		r.FinishedAt = &t
	}
	r.Error = errText.String
	r.Generation = generation.String
	return &r, nil
}
