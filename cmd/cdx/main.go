// Package main provides the cdx CLI entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/config"
	"github.com/coursedex/coursedex/internal/index"
	"github.com/coursedex/coursedex/internal/logger"
	"github.com/coursedex/coursedex/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	logLevel    string
	logFormat   string
	// currentUser identifies the person acting; defaults to $USER.
	currentUser string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Print the error since we have SilenceErrors: true
		// This ensures Cobra errors (like missing required flags) are visible
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cdx",
	Short: "Course material library with ranked full-text search",
	Long: `cdx manages a library of course materials (PDFs).

Admins upload materials directly; everyone else recommends them for review.
Approved materials are indexed by 'cdx reindex', after which they can be
searched and rated. Search results blend textual relevance with ratings.

All commands output JSON by default; use --human for readable text.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json); overrides config")
	rootCmd.PersistentFlags().StringVar(&currentUser, "user", os.Getenv("USER"), "Acting user for recommendations and ratings")
	rootCmd.Version = Version
}

// mustFindLibrary locates the library directory, exits on error.
func mustFindLibrary() string {
	cwd, err := os.Getwd()
	if err != nil {
		exitWithError(ExitError, "getting current directory: %v", err)
	}
	libDir, err := config.ResolveLibrary(cwd)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return libDir
}

// mustLoadConfig loads configuration, exits on error.
func mustLoadConfig(libDir string) *config.Config {
	cfg, err := config.Load(libDir)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	return cfg
}

// mustOpenDatabase opens the SQLite database, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenDatabase(cfg *config.Config) *storage.DB {
	db, err := storage.OpenDB(cfg.DBPath)
	if err != nil {
		exitWithError(ExitError, "opening database: %v", err)
	}
	return db
}

// mustNewLogger builds the stderr logger, letting flags override config.
func mustNewLogger(cfg *config.Config) *slog.Logger {
	level, format := cfg.LogLevel, cfg.LogFormat
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	l, err := logger.New(level, format, os.Stderr)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return l
}

// app bundles what most commands need.
type app struct {
	cfg    *config.Config
	db     *storage.DB
	logger *slog.Logger
}

// mustOpenApp finds the library, loads its config and opens the database.
// The caller is responsible for calling close().
func mustOpenApp() *app {
	cfg := mustLoadConfig(mustFindLibrary())
	l := mustNewLogger(cfg)
	slog.SetDefault(l)
	return &app{cfg: cfg, db: mustOpenDatabase(cfg), logger: l}
}

func (a *app) close() {
	a.db.Close()
}

// index returns the search index stored under the model directory.
func (a *app) index() *index.Index {
	return index.New(index.NewFileStore(a.cfg.ModelDir), index.WithLogger(a.logger))
}

// mustUser returns the acting user, exits if unknown.
func mustUser() string {
	if currentUser == "" {
		exitWithError(ExitError, "no user: pass --user or set USER")
	}
	return currentUser
}
