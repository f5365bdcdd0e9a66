package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/config"
	"github.com/coursedex/coursedex/internal/storage"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a new coursedex library",
	Long: `Initialize a new coursedex library in dir (default: current directory).

Creates:
  .coursedex/
  ├── config.yml      # Default config
  ├── coursedex.db    # Material store
  ├── model/          # Trained search index
  └── cache/          # PDFs opened with 'cdx open'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	root, err := filepath.Abs(config.ExpandPath(root))
	if err != nil {
		exitWithError(ExitError, "resolving directory: %v", err)
	}

	// Check if already initialized
	if config.IsLibrary(root) {
		exitWithError(ExitError, "directory already contains a coursedex library")
	}

	libDir := config.LibraryPath(root)
	cfg := config.Default()
	cfg.Root = libDir
	for _, dir := range []string{libDir, filepath.Join(libDir, config.ModelDir), filepath.Join(libDir, config.CacheDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			exitWithError(ExitError, "creating %s: %v", dir, err)
		}
	}
	if err := cfg.Save(libDir); err != nil {
		exitWithError(ExitError, "creating config.yml: %v", err)
	}

	db, err := storage.OpenDB(filepath.Join(libDir, config.DBFile))
	if err != nil {
		exitWithError(ExitError, "creating database: %v", err)
	}
	db.Close()

	if humanOutput {
		outputHuman("Initialized coursedex library in %s\n", root)
	} else {
		outputJSON(StatusResponse{Status: "initialized", Path: libDir})
	}
	return nil
}
