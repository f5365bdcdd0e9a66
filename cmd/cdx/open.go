package main

import (
	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/pdf"
)

func init() {
	rootCmd.AddCommand(openCmd)
}

var openCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Open a material's PDF in the configured viewer",
	Long: `Open a material's PDF in the configured viewer.

The PDF is written to the library cache first. Set the viewer with
'cdx config set pdf_reader <system|skim|zathura|evince|okular>'.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

// OpenResult is the response for the open command.
type OpenResult struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

func runOpen(cmd *cobra.Command, args []string) error {
	a := mustOpenApp()
	defer a.close()

	content, err := a.db.GetContent(cmd.Context(), args[0])
	exitOnError(err, "loading material")

	opener := pdf.NewOpener(a.cfg.CacheDir, a.cfg.PDFReader)
	path, err := opener.Materialize(args[0], content)
	exitOnError(err, "")
	if err := opener.Open(path); err != nil {
		exitWithError(ExitError, "opening PDF: %v", err)
	}

	if humanOutput {
		outputHuman("Opened %s\n", path)
	} else {
		outputJSON(OpenResult{Status: "opened", Path: path})
	}
	return nil
}
