package main

import (
	"errors"

	"github.com/coursedex/coursedex/internal/config"
	"github.com/coursedex/coursedex/internal/index"
	"github.com/coursedex/coursedex/internal/pdf"
	"github.com/coursedex/coursedex/internal/ranking"
	"github.com/coursedex/coursedex/internal/reindex"
	"github.com/coursedex/coursedex/internal/storage"
)

// Exit codes
const (
	ExitSuccess        = 0 // Success
	ExitError          = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError    = 2 // Configuration error (no library, invalid settings)
	ExitDataError      = 3 // Data error (malformed input, invalid transition, corrupt model)
	ExitNotFound       = 4 // Material or run not found
	ExitNotTrained     = 5 // Search index has not been built
	ExitConflictingRun = 6 // A reindex is already running
)

// notTrainedMessage is shown instead of index.ErrNotTrained's text.
const notTrainedMessage = "search index has not been built yet; ask an admin to run 'cdx reindex'"

// exitCodeFor maps an error to the exit code callers can script against.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, index.ErrNotTrained):
		return ExitNotTrained
	case errors.Is(err, reindex.ErrConflictingRun):
		return ExitConflictingRun
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrRunNotFound):
		return ExitNotFound
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, config.ErrNoLibrary):
		return ExitConfigError
	case errors.Is(err, storage.ErrInvalidTransition),
		errors.Is(err, storage.ErrSelfRating),
		errors.Is(err, storage.ErrNotRatable),
		errors.Is(err, index.ErrInvalidLimit),
		errors.Is(err, index.ErrCorruptModel),
		errors.Is(err, index.ErrIncompatibleModel),
		errors.Is(err, index.ErrUnsupportedVersion),
		errors.Is(err, pdf.ErrMalformed),
		errors.Is(err, ranking.ErrInvalidWeight):
		return ExitDataError
	default:
		return ExitError
	}
}

// messageFor returns the user-facing text for err.
func messageFor(err error) string {
	if errors.Is(err, index.ErrNotTrained) {
		return notTrainedMessage
	}
	return err.Error()
}
