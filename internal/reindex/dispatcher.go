package reindex

import (
	"context"
	"sync"
)

// Executor runs a dispatched job.
type Executor interface {
	Execute(ctx context.Context, job Job) (*RunResult, error)
}

// InlineDispatcher runs jobs in a goroutine of the current process.
type InlineDispatcher struct {
	exec Executor
	wg   sync.WaitGroup

	mu      sync.Mutex
	results map[string]Outcome
}

// Outcome is the result of a job run by an InlineDispatcher.
type Outcome struct {
	Result *RunResult
	Err    error
}

// NewInlineDispatcher creates a dispatcher that hands jobs to exec.
func NewInlineDispatcher(exec Executor) *InlineDispatcher {
	return &InlineDispatcher{exec: exec, results: make(map[string]Outcome)}
}

// Dispatch starts job and returns immediately. The job outlives ctx's
// cancellation but keeps its values.
func (d *InlineDispatcher) Dispatch(ctx context.Context, job Job) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		result, err := d.exec.Execute(ctx, job)
		d.mu.Lock()
		d.results[job.RunID] = Outcome{Result: result, Err: err}
		d.mu.Unlock()
	}()
	return nil
}

// Wait blocks until every dispatched job has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// Outcome returns the outcome of a finished job.
func (d *InlineDispatcher) Outcome(runID string) (Outcome, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.results[runID]
	return o, ok
}
