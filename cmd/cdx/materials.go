package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/material"
	"github.com/coursedex/coursedex/internal/storage"
)

var (
	listStatus      string
	listSubmittedBy string
	listLimit       int
)

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only materials in this status")
	listCmd.Flags().StringVar(&listSubmittedBy, "submitted-by", "", "Only materials recommended by this user")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum materials to return (0 = all)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(recommendationsCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List materials, newest first",
	Long: `List materials, newest first.

Statuses: pending_review, pending_indexing, indexed, rejected, marked_for_removal`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a material and its ratings",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Accept a recommended material into the indexing queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a recommended material",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a material",
	Long: `Remove a material.

A material that was never indexed is deleted at once. An indexed material
stays searchable until the next 'cdx reindex' deletes it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

var rateCmd = &cobra.Command{
	Use:   "rate <id> <score>",
	Short: "Rate an indexed material from 1 to 5 as --user",
	Args:  cobra.ExactArgs(2),
	RunE:  runRate,
}

var recommendationsCmd = &cobra.Command{
	Use:   "recommendations",
	Short: "Show the review state of materials recommended by --user",
	Args:  cobra.NoArgs,
	RunE:  runRecommendations,
}

func runList(cmd *cobra.Command, args []string) error {
	a := mustOpenApp()
	defer a.close()

	filter := storage.ListFilter{SubmittedBy: listSubmittedBy, Limit: listLimit}
	if listStatus != "" {
		st, err := material.ParseStatus(listStatus)
		if err != nil {
			exitWithError(ExitError, "%v", err)
		}
		filter.Status = st
	}

	ms, err := a.db.List(cmd.Context(), filter)
	exitOnError(err, "listing materials")
	if ms == nil {
		ms = []material.Material{}
	}

	if humanOutput {
		if len(ms) == 0 {
			outputHuman("No materials found\n")
			return nil
		}
		for i, m := range ms {
			printMaterialSummary(i+1, m)
		}
		return nil
	}
	outputJSON(ms)
	return nil
}

// MaterialDetail is the response for the get command.
type MaterialDetail struct {
	material.Material
	Ratings []material.Rating `json:"ratings"`
}

func runGet(cmd *cobra.Command, args []string) error {
	a := mustOpenApp()
	defer a.close()

	m, err := a.db.GetByID(cmd.Context(), args[0])
	exitOnError(err, "getting material")
	ratings, err := a.db.ListRatings(cmd.Context(), m.ID)
	exitOnError(err, "listing ratings")
	if ratings == nil {
		ratings = []material.Rating{}
	}

	if humanOutput {
		printMaterialDetail(*m)
		return nil
	}
	outputJSON(MaterialDetail{Material: *m, Ratings: ratings})
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	return runTransition(cmd, args[0], "approved", func(a *app) error {
		return a.db.Approve(cmd.Context(), args[0])
	})
}

func runReject(cmd *cobra.Command, args []string) error {
	return runTransition(cmd, args[0], "rejected", func(a *app) error {
		return a.db.Reject(cmd.Context(), args[0])
	})
}

func runTransition(cmd *cobra.Command, id, status string, apply func(*app) error) error {
	a := mustOpenApp()
	defer a.close()

	exitOnError(apply(a), "updating "+id)

	if humanOutput {
		outputHuman("%s %s\n", id, status)
	} else {
		outputJSON(StatusResponse{Status: status, ID: id})
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	a := mustOpenApp()
	defer a.close()

	deleted, err := a.db.MarkForRemoval(cmd.Context(), args[0])
	exitOnError(err, "removing material")

	status := "marked_for_removal"
	if deleted {
		status = "deleted"
	}
	if humanOutput {
		if deleted {
			outputHuman("Deleted %s\n", args[0])
		} else {
			outputHuman("Marked %s for removal; it is deleted by the next 'cdx reindex'\n", args[0])
		}
	} else {
		outputJSON(StatusResponse{Status: status, ID: args[0]})
	}
	return nil
}

func runRate(cmd *cobra.Command, args []string) error {
	score, err := strconv.Atoi(args[1])
	if err != nil {
		exitWithError(ExitError, "score must be a whole number, got %q", args[1])
	}
	if err := material.ValidateScore(score); err != nil {
		exitWithError(ExitDataError, "%v", err)
	}
	user := mustUser()

	a := mustOpenApp()
	defer a.close()

	m, err := a.db.Rate(cmd.Context(), args[0], user, score)
	exitOnError(err, "rating material")

	if humanOutput {
		outputHuman("Rated %s %d/5; average now %s\n", m.ID, score, formatRating(m.AverageRating, m.RatingCount))
	} else {
		outputJSON(m)
	}
	return nil
}

// Recommendation is one row of the recommendations command.
type Recommendation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Submitted string `json:"submitted"`
}

func runRecommendations(cmd *cobra.Command, args []string) error {
	user := mustUser()
	a := mustOpenApp()
	defer a.close()

	ms, err := a.db.ListRecommendations(cmd.Context(), user)
	exitOnError(err, "listing recommendations")

	recs := make([]Recommendation, len(ms))
	for i, m := range ms {
		recs[i] = Recommendation{
			ID:        m.ID,
			Title:     m.Title,
			State:     m.RecommendationState(),
			Submitted: m.CreatedAt.Format("2006-01-02"),
		}
	}

	if humanOutput {
		if len(recs) == 0 {
			outputHuman("No recommendations from %s\n", user)
			return nil
		}
		for _, r := range recs {
			outputHuman("%-9s %s  %s\n", r.State, r.Submitted, truncateString(r.Title, ListTitleMaxLen))
		}
		return nil
	}
	outputJSON(recs)
	return nil
}
