package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/coursedex/coursedex/internal/config"
	"github.com/coursedex/coursedex/internal/lease"
	"github.com/coursedex/coursedex/internal/pdf"
	"github.com/coursedex/coursedex/internal/reindex"
	"github.com/coursedex/coursedex/internal/storage"
	"github.com/coursedex/coursedex/internal/worker"
)

var (
	reindexWait       bool
	reindexNoProgress bool
	reindexRunsLimit  int
)

// runPollInterval is how often --wait checks a run executed by a worker.
const runPollInterval = time.Second

func init() {
	reindexCmd.Flags().BoolVar(&reindexWait, "wait", false, "Wait for the run to finish (always on for the inline dispatcher)")
	reindexCmd.Flags().BoolVar(&reindexNoProgress, "no-progress", false, "Suppress progress output")
	reindexStatusCmd.Flags().IntVar(&reindexRunsLimit, "limit", 10, "Number of recent runs to show")

	reindexCmd.AddCommand(reindexStatusCmd)
	rootCmd.AddCommand(reindexCmd)
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the library",
	Long: `Rebuild the search index from every indexed and pending material, then
delete materials marked for removal.

Only one reindex runs at a time. With the nsq dispatcher the run is queued
for 'cdx worker'; otherwise it runs in this process.

Materials whose text cannot be extracted are skipped and retried next time.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

var reindexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a reindex is running and recent run history",
	Args:  cobra.NoArgs,
	RunE:  runReindexStatus,
}

// newReindexService wires the synchronizer and the guard. With dispatch set
// and the nsq dispatcher configured, jobs are published to nsqd; the
// returned func releases the producer.
func (a *app) newReindexService(dispatch bool, progress reindex.ProgressReporter) (*reindex.Service, func()) {
	syncOpts := []reindex.SyncOption{
		reindex.WithWorkers(a.cfg.ExtractWorkers),
		reindex.WithTimeout(a.cfg.RunTimeout),
		reindex.WithLogger(a.logger),
	}
	if progress != nil {
		syncOpts = append(syncOpts, reindex.WithProgress(progress))
	}
	synchronizer := reindex.NewSynchronizer(a.db, a.index(), pdf.TextExtractor{MaxPages: a.cfg.MaxPages}, syncOpts...)

	opts := []reindex.ServiceOption{
		reindex.WithLease(a.cfg.LeaseTTL, a.cfg.LeaseRenewInterval),
		reindex.WithServiceLogger(a.logger),
	}
	cleanup := func() {}
	if dispatch && a.cfg.Dispatcher == config.DispatcherNSQ {
		producer, err := worker.NewProducer(a.cfg.NSQDAddr, a.logger)
		if err != nil {
			exitWithError(ExitConfigError, "%v", err)
		}
		opts = append(opts, reindex.WithDispatcher(worker.NewDispatcher(producer, a.cfg.NSQTopic)))
		cleanup = producer.Stop
	}
	return reindex.NewService(lease.NewStore(a.db.Conn()), a.db, synchronizer, opts...), cleanup
}

// ReindexTicket is the response when a run is handed to a worker.
type ReindexTicket struct {
	Status string `json:"status"`
	*reindex.Ticket
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := mustOpenApp()
	defer a.close()

	var progress reindex.ProgressReporter
	if humanOutput && !reindexNoProgress {
		// Extraction reports from every worker; redraw at most ten times a second.
		redraw := &rate.Sometimes{First: 1, Interval: 100 * time.Millisecond}
		progress = reindex.ProgressFunc(func(current, total int) {
			if current == total {
				fmt.Fprintf(os.Stderr, "\rExtracting text: %d/%d\n", current, total)
				return
			}
			redraw.Do(func() {
				fmt.Fprintf(os.Stderr, "\rExtracting text: %d/%d", current, total)
			})
		})
	}

	svc, cleanup := a.newReindexService(true, progress)
	defer cleanup()

	ticket, err := svc.Trigger(ctx)
	exitOnError(err, "")

	if inline, ok := svc.Dispatcher().(*reindex.InlineDispatcher); ok {
		inline.Wait()
		outcome, _ := inline.Outcome(ticket.RunID)
		exitOnError(outcome.Err, "reindex")
		printRunResult(ticket.RunID, outcome.Result)
		return nil
	}

	if !reindexWait {
		if humanOutput {
			outputHuman("Reindex %s queued for a worker\n", ticket.RunID)
		} else {
			outputJSON(ReindexTicket{Status: "dispatched", Ticket: ticket})
		}
		return nil
	}

	run, err := waitForRun(ctx, a.db, ticket.RunID)
	exitOnError(err, "waiting for reindex")
	if run.Status == storage.RunFailed {
		exitWithError(ExitError, "reindex %s failed: %s", run.ID, run.Error)
	}
	if humanOutput {
		printRun(*run)
	} else {
		outputJSON(run)
	}
	return nil
}

// waitForRun polls run history until runID finishes or ctx ends.
func waitForRun(ctx context.Context, db *storage.DB, runID string) (*storage.ReindexRun, error) {
	ticker := time.NewTicker(runPollInterval)
	defer ticker.Stop()
	for {
		run, err := db.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status != storage.RunRunning {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunReport is the response for a reindex executed in this process.
type RunReport struct {
	RunID string `json:"run_id"`
	*reindex.RunResult
}

func printRunResult(runID string, r *reindex.RunResult) {
	if !humanOutput {
		outputJSON(RunReport{RunID: runID, RunResult: r})
		return
	}
	if r.Trained {
		outputHuman("Indexed %d materials (generation %s) in %s\n", r.Indexed, r.Generation, formatDuration(r.Duration))
	} else {
		outputHuman("Nothing to index; search index unchanged\n")
	}
	if r.Removed > 0 {
		outputHuman("Removed %d materials\n", r.Removed)
	}
	if len(r.Skipped) > 0 {
		outputHuman("Skipped %d materials (will retry next run):\n", len(r.Skipped))
		for _, s := range r.Skipped {
			outputHuman("  %s  %s: %s\n", s.ID, truncateString(s.Title, ListTitleMaxLen), s.Reason)
		}
	}
}

func printRun(r storage.ReindexRun) {
	outputHuman("%s  %-9s %s", r.ID, r.Status, r.StartedAt.Local().Format(time.DateTime))
	if r.FinishedAt != nil {
		outputHuman("  (%s)", formatDuration(r.FinishedAt.Sub(r.StartedAt)))
	}
	outputHuman("\n")
	if r.Status == storage.RunFailed {
		outputHuman("    error: %s\n", r.Error)
		return
	}
	if r.Status == storage.RunSucceeded {
		outputHuman("    indexed %d, skipped %d, removed %d\n", r.Indexed, r.Skipped, r.Removed)
	}
}

// ReindexStatus is the response for the reindex status command.
type ReindexStatus struct {
	Running bool                 `json:"running"`
	Lease   *lease.Lease         `json:"lease,omitempty"`
	Runs    []storage.ReindexRun `json:"runs"`
}

func runReindexStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := mustOpenApp()
	defer a.close()

	l, err := lease.NewStore(a.db.Conn()).Get(ctx, reindex.TaskName)
	exitOnError(err, "reading lease")
	runs, err := a.db.ListRuns(ctx, reindexRunsLimit)
	exitOnError(err, "listing runs")
	if runs == nil {
		runs = []storage.ReindexRun{}
	}

	status := ReindexStatus{Running: l != nil, Lease: l, Runs: runs}
	if !humanOutput {
		outputJSON(status)
		return nil
	}
	if status.Running {
		outputHuman("Reindex running (lease expires %s)\n\n", l.ExpiresAt.Local().Format(time.DateTime))
	} else {
		outputHuman("No reindex running\n\n")
	}
	for _, r := range runs {
		printRun(r)
	}
	return nil
}
