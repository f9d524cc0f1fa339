package cli

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/storygate/internal/access"
	"github.com/roach88/storygate/internal/store"
)

// newFormatter builds the formatter for a command's output streams.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger returns a text logger on w. Debug level with --verbose;
// otherwise only warnings, so log lines do not drown command output.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore opens an existing database for the offline commands.
func openStore(opts *RootOptions) (*store.Store, error) {
	if opts.Database != ":memory:" {
		if _, err := os.Stat(opts.Database); errors.Is(err, os.ErrNotExist) {
			return nil, NewExitError(ExitCommandError, "database not found: "+opts.Database+" (run generate first)")
		}
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// errorCode names an access error for CLI output.
func errorCode(err error) string {
	if k, ok := access.KindOf(err); ok {
		return string(k)
	}
	switch {
	case errors.Is(err, access.ErrAdInProgress):
		return "E_AD_IN_PROGRESS"
	case errors.Is(err, access.ErrNotAdGated):
		return "E_NOT_AD_GATED"
	case errors.Is(err, access.ErrUnknownStory):
		return "E_UNKNOWN_STORY"
	case errors.Is(err, access.ErrSessionClosed):
		return "E_SESSION_CLOSED"
	default:
		return "E_ERROR"
	}
}
