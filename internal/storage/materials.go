package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coursedex/coursedex/internal/material"
)

// selectMaterialFields is the column list matching scanMaterial. Content is
// loaded separately.
const selectMaterialFields = `id, title, description, authors, external_url,
	status, submitted_by, vector_slot, average_rating, rating_count,
	content_size, created_at, updated_at`

// NewMaterial is the input for CreateMaterial.
type NewMaterial struct {
	Title       string
	Description string
	Authors     string
	ExternalURL string
	Content     []byte
	// SubmittedBy names the recommender. Admin uploads leave it empty.
	SubmittedBy string
	ByAdmin     bool
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status      material.Status
	SubmittedBy string
	Limit       int
}

// Dashboard summarises the corpus.
type Dashboard struct {
	Indexed          int `json:"indexed"`
	PendingReview    int `json:"pending_review"`
	PendingIndexing  int `json:"pending_indexing"`
	MarkedForRemoval int `json:"marked_for_removal"`
	Rejected         int `json:"rejected"`
	Raters           int `json:"raters"`
	Ratings          int `json:"ratings"`
}

// CreateMaterial stores a new material. Admin uploads go straight to the
// indexing queue; recommendations wait for review.
func (d *DB) CreateMaterial(ctx context.Context, in NewMaterial) (*material.Material, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("material title is required")
	}
	if len(in.Content) == 0 {
		return nil, fmt.Errorf("material content is empty")
	}
	if !in.ByAdmin && in.SubmittedBy == "" {
		return nil, fmt.Errorf("recommendations need a submitter")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating id: %w", err)
	}
	status := material.StatusPendingReview
	if in.ByAdmin {
		status = material.StatusPendingIndexing
	}
	now := d.now().UTC()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO materials (
			id, title, description, authors, external_url,
			content, content_size, status, submitted_by,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), in.Title, in.Description, in.Authors, nullableStringValue(in.ExternalURL),
		in.Content, len(in.Content), string(status), nullableStringValue(in.SubmittedBy),
		now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("inserting material: %w", err)
	}

	return d.GetByID(ctx, id.String())
}

// GetByID returns a material without its content.
func (d *DB) GetByID(ctx context.Context, id string) (*material.Material, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+selectMaterialFields+` FROM materials WHERE id = ?`, id)
	m, err := scanMaterial(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return m, nil
}

// GetIndexed returns a material only if it is currently searchable.
func (d *DB) GetIndexed(ctx context.Context, id string) (*material.Material, error) {
	m, err := d.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Status.Searchable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFound, id, m.Status)
	}
	return m, nil
}

// GetContent returns the stored document bytes.
func (d *DB) GetContent(ctx context.Context, id string) ([]byte, error) {
	var content []byte
	err := d.db.QueryRowContext(ctx, `SELECT content FROM materials WHERE id = ?`, id).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return content, nil
}

// List returns materials matching filter, newest first.
func (d *DB) List(ctx context.Context, filter ListFilter) ([]material.Material, error) {
	query := `SELECT ` + selectMaterialFields + ` FROM materials WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SubmittedBy != "" {
		query += ` AND submitted_by = ?`
		args = append(args, filter.SubmittedBy)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing materials: %w", err)
	}
	defer rows.Close()
	return scanMaterials(rows)
}

// ListRecommendations returns everything a user has recommended.
func (d *DB) ListRecommendations(ctx context.Context, user string) ([]material.Material, error) {
	if user == "" {
		return nil, fmt.Errorf("user is required")
	}
	return d.List(ctx, ListFilter{SubmittedBy: user})
}

// Approve moves a reviewed recommendation into the indexing queue.
func (d *DB) Approve(ctx context.Context, id string) error {
	return d.transition(ctx, id, material.StatusPendingReview, material.StatusPendingIndexing)
}

// Reject declines a recommendation.
func (d *DB) Reject(ctx context.Context, id string) error {
	return d.transition(ctx, id, material.StatusPendingReview, material.StatusRejected)
}

func (d *DB) transition(ctx context.Context, id string, from, to material.Status) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE materials SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), d.now().UnixNano(), id, string(from))
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	m, err := d.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, id, m.Status, from)
}

// MarkForRemoval takes a material out of the corpus. Materials that were
// never indexed are deleted at once and deleted is true; indexed materials
// wait for the next reindex run.
func (d *DB) MarkForRemoval(ctx context.Context, id string) (deleted bool, err error) {
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM materials WHERE id = ?`, id).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}

		switch material.Status(status) {
		case material.StatusPendingIndexing:
			if _, err := tx.ExecContext(ctx, `DELETE FROM ratings WHERE material_id = ?`, id); err != nil {
				return fmt.Errorf("deleting ratings: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM materials WHERE id = ?`, id); err != nil {
				return fmt.Errorf("deleting material: %w", err)
			}
			deleted = true
			return nil
		case material.StatusIndexed:
			_, err := tx.ExecContext(ctx, `
				UPDATE materials SET status = ?, updated_at = ? WHERE id = ?
			`, string(material.StatusMarkedForRemoval), d.now().UnixNano(), id)
			if err != nil {
				return fmt.Errorf("marking for removal: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("%w: %s is %s", ErrNotFound, id, status)
		}
	})
	return deleted, err
}

// Rate records or replaces rater's score for an indexed material and
// refreshes its average.
func (d *DB) Rate(ctx context.Context, materialID, rater string, score int) (*material.Material, error) {
	if err := material.ValidateScore(score); err != nil {
		return nil, err
	}
	if rater == "" {
		return nil, fmt.Errorf("rater is required")
	}

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		var submittedBy sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT status, submitted_by FROM materials WHERE id = ?`, materialID).
			Scan(&status, &submittedBy)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, materialID)
			}
			return err
		}
		if !material.Status(status).Searchable() {
			return fmt.Errorf("%w: %s is %s", ErrNotRatable, materialID, status)
		}
		if submittedBy.Valid && submittedBy.String == rater {
			return ErrSelfRating
		}

		now := d.now().UnixNano()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ratings (material_id, rater, score, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(material_id, rater) DO UPDATE SET
				score = excluded.score,
				updated_at = excluded.updated_at
		`, materialID, rater, score, now, now)
		if err != nil {
			return fmt.Errorf("saving rating: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE materials SET
				average_rating = (SELECT AVG(score) FROM ratings WHERE material_id = ?),
				rating_count = (SELECT COUNT(*) FROM ratings WHERE material_id = ?),
				updated_at = ?
			WHERE id = ?
		`, materialID, materialID, now, materialID)
		if err != nil {
			return fmt.Errorf("updating average rating: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.GetByID(ctx, materialID)
}

// ListRatings returns all scores for a material.
func (d *DB) ListRatings(ctx context.Context, materialID string) ([]material.Rating, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT material_id, rater, score FROM ratings
		WHERE material_id = ? ORDER BY rater
	`, materialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratings []material.Rating
	for rows.Next() {
		var r material.Rating
		if err := rows.Scan(&r.MaterialID, &r.Rater, &r.Score); err != nil {
			return nil, err
		}
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}

// Dashboard counts materials by status and distinct raters.
func (d *DB) Dashboard(ctx context.Context) (*Dashboard, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM materials GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting materials: %w", err)
	}
	defer rows.Close()

	var dash Dashboard
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch material.Status(status) {
		case material.StatusIndexed:
			dash.Indexed = n
		case material.StatusPendingReview:
			dash.PendingReview = n
		case material.StatusPendingIndexing:
			dash.PendingIndexing = n
		case material.StatusMarkedForRemoval:
			dash.MarkedForRemoval = n
		case material.StatusRejected:
			dash.Rejected = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = d.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT rater), COUNT(*) FROM ratings`).
		Scan(&dash.Raters, &dash.Ratings)
	if err != nil {
		return nil, fmt.Errorf("counting ratings: %w", err)
	}
	return &dash, nil
}

func scanMaterial(s scanner) (*material.Material, error) {
	var m material.Material
	var status string
	var externalURL, submittedBy sql.NullString
	var slot sql.NullInt64
	var avg sql.NullFloat64
	var createdAt, updatedAt int64

	err := s.Scan(
		&m.ID, &m.Title, &m.Description, &m.Authors, &externalURL,
		&status, &submittedBy, &slot, &avg, &m.RatingCount,
		&m.ContentSize, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Status = material.Status(status)
	m.ExternalURL = externalURL.String
	m.SubmittedBy = submittedBy.String
	if slot.Valid {
		v := int(slot.Int64)
		m.Slot = &v
	}
	if avg.Valid {
		v := avg.Float64
		m.AverageRating = &v
	}
	m.CreatedAt = fromUnix(createdAt)
	m.UpdatedAt = fromUnix(updatedAt)
	return &m, nil
}

func scanMaterials(rows *sql.Rows) ([]material.Material, error) {
	var out []material.Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func timestamp(t time.Time) int64 { return t.UTC().UnixNano() }
