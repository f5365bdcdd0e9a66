package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/storage"
)

var importDryRun bool

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Check the manifest without adding anything")
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <manifest.jsonl>",
	Short: "Bulk-upload materials listed in a JSONL manifest",
	Long: `Bulk-upload materials listed in a JSONL manifest, one object per line:

  {"title": "Week 1", "authors": "Staff", "path": "pdfs/week1.pdf"}

Relative paths are resolved against the manifest's directory. Entries are
added as admin uploads; a failing entry is reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

// ImportResult is the response for the import command.
type ImportResult struct {
	Added  []string      `json:"added"`
	Failed []ImportError `json:"failed"`
}

// ImportError reports one manifest entry that could not be added.
type ImportError struct {
	Line  int    `json:"line"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

func runImport(cmd *cobra.Command, args []string) error {
	a := mustOpenApp()
	defer a.close()

	entries, err := storage.ReadImportManifest(args[0])
	if err != nil {
		exitWithError(ExitDataError, "reading manifest: %v", err)
	}

	result := ImportResult{Added: []string{}, Failed: []ImportError{}}
	for i, e := range entries {
		in := storage.NewMaterial{
			Title:       e.Title,
			Description: e.Description,
			Authors:     e.Authors,
			ExternalURL: e.ExternalURL,
			ByAdmin:     true,
		}
		if importDryRun {
			content, err := readPDF(e.Path, a.cfg.UploadMaxBytes)
			if err != nil {
				result.Failed = append(result.Failed, ImportError{Line: i + 1, Path: e.Path, Error: err.Error()})
				continue
			}
			result.Added = append(result.Added, titleOr(e.Title, e.Path, content))
			continue
		}

		m, err := addFile(cmd.Context(), a, e.Path, in)
		if err != nil {
			a.logger.Warn("import entry failed", "line", i+1, "path", e.Path, "error", err)
			result.Failed = append(result.Failed, ImportError{Line: i + 1, Path: e.Path, Error: err.Error()})
			continue
		}
		result.Added = append(result.Added, m.ID)
	}

	if humanOutput {
		verb := "Added"
		if importDryRun {
			verb = "Would add"
		}
		outputHuman("%s %d materials\n", verb, len(result.Added))
		for _, f := range result.Failed {
			outputHuman("  line %d: %s: %s\n", f.Line, f.Path, f.Error)
		}
	} else {
		outputJSON(result)
	}
	// The report is already printed; only the exit code signals failure.
	if len(result.Failed) > 0 && len(result.Added) == 0 {
		os.Exit(ExitDataError)
	}
	return nil
}

func titleOr(title, path string, content []byte) string {
	if title != "" {
		return title
	}
	return titleFor(path, content)
}
