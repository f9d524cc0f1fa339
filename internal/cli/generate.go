package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storygate/internal/catalog"
	"github.com/roach88/storygate/internal/store"
	"github.com/roach88/storygate/internal/story"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	Date      string
	Templates string

	// Now overrides the clock used for the default date (for testing).
	Now func() time.Time
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts, Now: time.Now}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Publish the daily story cohort",
		Long: `Publish the five-story cohort for a date (today, UTC, by default).

The database is created if it does not exist. Running generate twice for
the same date publishes nothing new.

Examples:
  storygate generate --db ./storygate.db
  storygate generate --date 2024-01-01 --templates ./lineup.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "publish date YYYY-MM-DD (default today, UTC)")
	cmd.Flags().StringVar(&opts.Templates, "templates", "", "template file (.yaml or .cue); built-in lineup if empty")

	return cmd
}

func runGenerate(opts *GenerateOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	date := opts.Date
	if date == "" {
		date = story.Today(opts.Now())
	}
	if _, err := story.ParseDate(date); err != nil {
		return WrapExitError(ExitCommandError, "invalid --date", err)
	}

	genOpts := []catalog.GeneratorOption{
		catalog.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())),
		catalog.WithClock(opts.Now),
	}
	if opts.Templates != "" {
		templates, err := catalog.LoadTemplates(opts.Templates)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load templates", err)
		}
		genOpts = append(genOpts, catalog.WithTemplates(templates))
	}

	out.VerboseLog("opening database %s", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	res, err := catalog.NewGenerator(st, genOpts...).Generate(cmd.Context(), date)
	if err != nil {
		return WrapExitError(ExitFailure, "generation failed", err)
	}

	return out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Published %s: %d new of %d stories\n", res.Date, res.Inserted, res.Total)
	})
}

// StoriesOptions holds flags for the stories command.
type StoriesOptions struct {
	*RootOptions
	Date string

	Now func() time.Time
}

// NewStoriesCommand creates the stories command.
func NewStoriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoriesOptions{RootOptions: rootOpts, Now: time.Now}

	cmd := &cobra.Command{
		Use:   "stories",
		Short: "List the cohort for a date",
		Long: `List the published cohort for a date with each story's access tier.

Examples:
  storygate stories
  storygate stories --date 2024-01-01 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStories(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "publish date YYYY-MM-DD (default today, UTC)")

	return cmd
}

// storyRow is one line of the stories listing.
type storyRow struct {
	ID       string     `json:"id"`
	Position int        `json:"position"`
	Tier     story.Tier `json:"tier"`
	Title    string     `json:"title"`
}

func runStories(opts *StoriesOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	date := opts.Date
	if date == "" {
		date = story.Today(opts.Now())
	}
	if _, err := story.ParseDate(date); err != nil {
		return WrapExitError(ExitCommandError, "invalid --date", err)
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	stories, err := st.ListForDate(cmd.Context(), date)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list stories", err)
	}

	rows := make([]storyRow, len(stories))
	for i, s := range stories {
		rows[i] = storyRow{ID: s.ID, Position: s.Position, Tier: s.Tier(), Title: s.Title}
	}
	return out.Success(rows, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintf(w, "No stories published for %s.\n", date)
			return
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%d  %-12s  %s  %s\n", r.Position, r.Tier, r.ID, r.Title)
		}
	})
}
