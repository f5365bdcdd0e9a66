package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/index"
	"github.com/coursedex/coursedex/internal/lease"
	"github.com/coursedex/coursedex/internal/reindex"
	"github.com/coursedex/coursedex/internal/storage"
)

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Summarize the library for admins",
	Args:  cobra.NoArgs,
	RunE:  runDashboard,
}

// DashboardResult is the response for the dashboard command.
type DashboardResult struct {
	*storage.Dashboard
	Generation string `json:"generation,omitempty"`
	Reindexing bool   `json:"reindexing"`
}

func runDashboard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := mustOpenApp()
	defer a.close()

	d, err := a.db.Dashboard(ctx)
	exitOnError(err, "reading dashboard")
	result := DashboardResult{Dashboard: d}

	st, err := a.index().Status(ctx)
	switch {
	case err == nil:
		result.Generation = st.Generation
	case !errors.Is(err, index.ErrNotTrained):
		a.logger.Warn("reading index status", "error", err)
	}

	result.Reindexing, err = lease.NewStore(a.db.Conn()).IsRunning(ctx, reindex.TaskName)
	exitOnError(err, "reading lease")

	if !humanOutput {
		outputJSON(result)
		return nil
	}
	outputHuman("Indexed:            %d\n", d.Indexed)
	outputHuman("Pending review:     %d\n", d.PendingReview)
	outputHuman("Pending indexing:   %d\n", d.PendingIndexing)
	outputHuman("Marked for removal: %d\n", d.MarkedForRemoval)
	outputHuman("Rejected:           %d\n", d.Rejected)
	outputHuman("Ratings:            %d from %d raters\n", d.Ratings, d.Raters)
	if result.Generation != "" {
		outputHuman("Index generation:   %s\n", result.Generation)
	} else {
		outputHuman("Index generation:   (not built)\n")
	}
	if result.Reindexing {
		outputHuman("A reindex is running\n")
	}
	return nil
}
