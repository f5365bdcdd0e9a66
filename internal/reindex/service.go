package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursedex/coursedex/internal/lease"
	"github.com/coursedex/coursedex/internal/logger"
	"github.com/coursedex/coursedex/internal/storage"
)

// TaskName is the lease name guarding synchronization.
const TaskName = "synchronize_documents"

// ErrConflictingRun is returned by Trigger while another run holds the lease.
var ErrConflictingRun = errors.New("please wait, a synchronization is already in progress")

// Job is a dispatched synchronization. Holder is the lease token acquired by
// Trigger; the executor must present it to keep the lease alive.
type Job struct {
	RunID       string    `json:"run_id"`
	Task        string    `json:"task"`
	Holder      string    `json:"holder"`
	RequestedAt time.Time `json:"requested_at"`
}

// Ticket is what Trigger hands back to the caller.
type Ticket struct {
	RunID          string    `json:"run_id"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

// Dispatcher delivers a job to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Runner performs one synchronization.
type Runner interface {
	Run(ctx context.Context) (*RunResult, error)
}

// Leases is the lease store as used by the service.
type Leases interface {
	Acquire(ctx context.Context, task string, ttl time.Duration) (*lease.Lease, error)
	Renew(ctx context.Context, l *lease.Lease, ttl time.Duration) error
	Release(ctx context.Context, l *lease.Lease) error
	IsRunning(ctx context.Context, task string) (bool, error)
}

// History records run outcomes.
type History interface {
	StartRun(ctx context.Context, id string) error
	FinishRun(ctx context.Context, run storage.ReindexRun, runErr error) error
}

// Service triggers and executes guarded synchronization runs.
type Service struct {
	leases     Leases
	history    History
	runner     Runner
	dispatcher Dispatcher
	logger     *slog.Logger
	ttl        time.Duration
	renewEvery time.Duration
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLease sets the lease ttl and renewal interval.
func WithLease(ttl, renewEvery time.Duration) ServiceOption {
	return func(s *Service) {
		s.ttl = ttl
		s.renewEvery = renewEvery
	}
}

// WithDispatcher replaces the default inline dispatcher.
func WithDispatcher(d Dispatcher) ServiceOption {
	return func(s *Service) { s.dispatcher = d }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service. Without WithDispatcher, jobs run in a
// goroutine of the current process.
func NewService(leases Leases, history History, runner Runner, opts ...ServiceOption) *Service {
	s := &Service{
		leases:     leases,
		history:    history,
		runner:     runner,
		logger:     slog.New(slog.DiscardHandler),
		ttl:        10 * time.Minute,
		renewEvery: time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = NewInlineDispatcher(s)
	}
	return s
}

// Dispatcher returns the dispatcher jobs are sent through.
func (s *Service) Dispatcher() Dispatcher {
	return s.dispatcher
}

// Trigger claims the synchronization lease and dispatches a run. It returns
// as soon as the job is handed off; ErrConflictingRun means a run is live.
func (s *Service) Trigger(ctx context.Context) (*Ticket, error) {
	l, err := s.leases.Acquire(ctx, TaskName, s.ttl)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return nil, ErrConflictingRun
		}
		return nil, fmt.Errorf("acquiring lease: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		s.release(ctx, l)
		return nil, fmt.Errorf("generating run id: %w", err)
	}
	job := Job{RunID: id.String(), Task: TaskName, Holder: l.Holder, RequestedAt: s.now().UTC()}
	ctx = logger.WithRunID(ctx, job.RunID)

	if err := s.history.StartRun(ctx, job.RunID); err != nil {
		s.release(ctx, l)
		return nil, err
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.release(ctx, l)
		err = fmt.Errorf("dispatching run: %w", err)
		s.finish(ctx, storage.ReindexRun{ID: job.RunID}, err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "reindex dispatched", "expires_at", l.ExpiresAt)
	return &Ticket{RunID: job.RunID, LeaseExpiresAt: l.ExpiresAt}, nil
}

// Execute runs a dispatched job while keeping its lease alive. The lease is
// released when the run ends, whatever the outcome. A job whose lease has
// expired and been taken over is refused with lease.ErrLost.
func (s *Service) Execute(ctx context.Context, job Job) (*RunResult, error) {
	ctx = logger.WithRunID(ctx, job.RunID)
	l := &lease.Lease{Task: job.Task, Holder: job.Holder}

	if err := s.leases.Renew(ctx, l, s.ttl); err != nil {
		err = fmt.Errorf("claiming run %s: %w", job.RunID, err)
		s.finish(ctx, storage.ReindexRun{ID: job.RunID}, err)
		return nil, err
	}
	defer s.release(ctx, l)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive(runCtx, cancel, l)
	}()

	result, err := s.runner.Run(runCtx)
	cancel()
	wg.Wait()

	run := storage.ReindexRun{ID: job.RunID}
	if result != nil {
		run.Generation = result.Generation
		run.Trained = result.Documents
		run.Indexed = result.Indexed
		run.Skipped = len(result.Skipped)
		run.Removed = result.Removed
	}
	s.finish(ctx, run, err)
	if err != nil {
		s.logger.ErrorContext(ctx, "reindex failed", "error", err)
		return nil, err
	}
	return result, nil
}

// keepAlive renews l every renewEvery until ctx ends. Losing the lease
// cancels the run.
func (s *Service) keepAlive(ctx context.Context, cancel context.CancelFunc, l *lease.Lease) {
	ticker := time.NewTicker(s.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.leases.Renew(ctx, l, s.ttl); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.ErrorContext(ctx, "lease renewal failed", "error", err)
				if errors.Is(err, lease.ErrLost) {
					cancel()
					return
				}
			}
		}
	}
}

// IsRunning reports whether a synchronization currently holds the lease.
func (s *Service) IsRunning(ctx context.Context) (bool, error) {
	return s.leases.IsRunning(ctx, TaskName)
}

func (s *Service) release(ctx context.Context, l *lease.Lease) {
	if err := s.leases.Release(context.WithoutCancel(ctx), l); err != nil {
		s.logger.WarnContext(ctx, "releasing lease", "error", err)
	}
}

func (s *Service) finish(ctx context.Context, run storage.ReindexRun, runErr error) {
	if err := s.history.FinishRun(context.WithoutCancel(ctx), run, runErr); err != nil {
		s.logger.ErrorContext(ctx, "recording run outcome", "error", err)
	}
}
