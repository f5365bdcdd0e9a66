package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/index"
)

func init() {
	indexCmd.AddCommand(indexStatusCmd)
	rootCmd.AddCommand(indexCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect the search index",
	Long:  `Commands for inspecting the trained search index. Use 'cdx reindex' to rebuild it.`,
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live index generation and its size",
	Args:  cobra.NoArgs,
	RunE:  runIndexStatus,
}

// IndexStatus is the response for the index status command.
type IndexStatus struct {
	Trained bool `json:"trained"`
	*index.Status
}

func runIndexStatus(cmd *cobra.Command, args []string) error {
	a := mustOpenApp()
	defer a.close()

	st, err := a.index().Status(cmd.Context())
	if errors.Is(err, index.ErrNotTrained) {
		if humanOutput {
			outputHuman("Search index has not been built; run 'cdx reindex'\n")
		} else {
			outputJSON(IndexStatus{Trained: false})
		}
		return nil
	}
	exitOnError(err, "reading index")

	if humanOutput {
		outputHuman("Generation: %s\n", st.Generation)
		if st.Previous != "" {
			outputHuman("Previous:   %s\n", st.Previous)
		}
		outputHuman("Built:      %s\n", st.CreatedAt.Local().Format(time.DateTime))
		outputHuman("Documents:  %d\n", st.Documents)
		outputHuman("Vocabulary: %d terms\n", st.Vocabulary)
		outputHuman("Tokenizer:  %s\n", st.Tokenizer)
		outputHuman("Size:       %s\n", formatBytes(st.VectorizerSizeBytes+st.FeaturesSizeBytes))
		return nil
	}
	outputJSON(IndexStatus{Trained: true, Status: st})
	return nil
}
