// Package lease provides expiring, renewable exclusive leases on named tasks,
// stored in SQLite so every process sharing the database sees the same holder.
package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrHeld is returned by Acquire while another holder's lease is live.
	ErrHeld = errors.New("lease is held")
	// ErrLost is returned when renewing or releasing a lease that has
	// expired and been taken over, or was never held.
	ErrLost = errors.New("lease no longer held")
)

// Lease is an exclusive claim on a task until ExpiresAt.
type Lease struct {
	Task       string    `json:"task"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store manages leases in the task_leases table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore returns a Store on db. The task_leases table must exist.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides time.Now.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Acquire claims task for ttl under a fresh holder token. An expired lease
// is taken over; a live one yields ErrHeld.
func (s *Store) Acquire(ctx context.Context, task string, ttl time.Duration) (*Lease, error) {
	holder, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating holder: %w", err)
	}
	return s.AcquireAs(ctx, task, holder.String(), ttl)
}

// AcquireAs is Acquire with a caller-chosen holder token.
func (s *Store) AcquireAs(ctx context.Context, task, holder string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}
	now := s.now().UTC()
	expires := now.Add(ttl)

	// The upsert only replaces an expired row, so the check and the claim
	// happen in one statement.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_leases (task, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE task_leases.expires_at <= ?
	`, task, holder, now.UnixNano(), expires.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("acquiring lease on %s: %w", task, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrHeld, task)
	}
	return &Lease{Task: task, Holder: holder, AcquiredAt: now, ExpiresAt: expires}, nil
}

// Renew extends l by ttl from now.
func (s *Store) Renew(ctx context.Context, l *Lease, ttl time.Duration) error {
	now := s.now().UTC()
	expires := now.Add(ttl)
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_leases SET expires_at = ?
		WHERE task = ? AND holder = ? AND expires_at > ?
	`, expires.UnixNano(), l.Task, l.Holder, now.UnixNano())
	if err != nil {
		return fmt.Errorf("renewing lease on %s: %w", l.Task, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLost, l.Task)
	}
	l.ExpiresAt = expires
	return nil
}

// Release gives up l. Releasing a lease someone else now holds is ErrLost
// and leaves their lease untouched.
func (s *Store) Release(ctx context.Context, l *Lease) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM task_leases WHERE task = ? AND holder = ?
	`, l.Task, l.Holder)
	if err != nil {
		return fmt.Errorf("releasing lease on %s: %w", l.Task, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLost, l.Task)
	}
	return nil
}

// Get returns the current lease on task, or nil when none is live.
func (s *Store) Get(ctx context.Context, task string) (*Lease, error) {
	var l Lease
	var acquired, expires int64
	err := s.db.QueryRowContext(ctx, `
		SELECT task, holder, acquired_at, expires_at FROM task_leases WHERE task = ?
	`, task).Scan(&l.Task, &l.Holder, &acquired, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lease on %s: %w", task, err)
	}
	l.AcquiredAt = time.Unix(0, acquired).UTC()
	l.ExpiresAt = time.Unix(0, expires).UTC()
	if !l.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return &l, nil
}

// IsRunning reports whether task has a live lease.
func (s *Store) IsRunning(ctx context.Context, task string) (bool, error) {
	l, err := s.Get(ctx, task)
	if err != nil {
		return false, err
	}
	return l != nil, nil
}
