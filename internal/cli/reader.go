package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/storygate/internal/access"
	"github.com/roach88/storygate/internal/entitlement"
	"github.com/roach88/storygate/internal/reward"
	"github.com/roach88/storygate/internal/store"
	"github.com/roach88/storygate/internal/story"
)

// ReaderOptions holds flags shared by open and unlock.
type ReaderOptions struct {
	*RootOptions
	User       string
	Subscribed bool
	AdResult   string
}

// resolution is the CLI view of an access.Resolution.
type resolution struct {
	StoryID    string       `json:"story_id"`
	Position   int          `json:"position"`
	Title      string       `json:"title"`
	Outcome    string       `json:"outcome"`
	Method     story.Method `json:"method,omitempty"`
	Sticky     bool         `json:"sticky,omitempty"`
	Recorded   bool         `json:"recorded,omitempty"`
	Unrecorded bool         `json:"unrecorded,omitempty"`
	Content    string       `json:"content,omitempty"`
	Error      string       `json:"error,omitempty"`
	Message    string       `json:"message,omitempty"`

	err error
}

func newResolution(res access.Resolution, err error) resolution {
	r := resolution{
		StoryID:    res.Story.ID,
		Position:   res.Story.Position,
		Title:      res.Story.Title,
		Outcome:    res.Outcome.String(),
		Method:     res.Method,
		Sticky:     res.Sticky,
		Recorded:   res.Recorded,
		Unrecorded: res.Unrecorded,
		err:        err,
	}
	if res.Revealed() {
		r.Content = res.Story.Content
	}
	if err != nil {
		r.Error = errorCode(err)
		r.Message = access.UserMessage(err)
	}
	return r
}

func (r resolution) render(w io.Writer) {
	fmt.Fprintf(w, "%d %s: %s", r.Position, r.Title, r.Outcome)
	if r.Method != "" {
		fmt.Fprintf(w, " (%s)", r.Method)
	}
	if r.Unrecorded {
		fmt.Fprint(w, " [not saved]")
	}
	fmt.Fprintln(w)
	if r.Error != "" {
		fmt.Fprintf(w, "  %s: %s\n", r.Error, r.Message)
	}
	if r.Content != "" {
		fmt.Fprintf(w, "\n%s\n", r.Content)
	}
}

// NewOpenCommand creates the open command.
func NewOpenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReaderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "open <story-id>",
		Short: "Resolve access to a story for a reader",
		Long: `Resolve whether a reader may see a story, record the unlock if it
reveals, and print the content.

Entitlement comes from --subscribed; no external service is contacted.

Exit codes:
  0 - Story revealed
  1 - Story locked (ad or subscription required) or a read failed
  2 - Command error

Examples:
  storygate open 3f2a... --user anon-1
  storygate open 3f2a... --user anon-1 --subscribed`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "reader user id (required)")
	cmd.Flags().BoolVar(&opts.Subscribed, "subscribed", false, "treat the reader as subscribed")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReaderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "unlock <story-id>",
		Short: "Unlock an ad-gated story with a simulated ad",
		Long: `Run one reward flow for an ad-gated story. --ad-result chooses how the
simulated ad ends.

Examples:
  storygate unlock 3f2a... --user anon-1
  storygate unlock 3f2a... --user anon-1 --ad-result declined`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnlock(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "reader user id (required)")
	cmd.Flags().BoolVar(&opts.Subscribed, "subscribed", false, "treat the reader as subscribed")
	cmd.Flags().StringVar(&opts.AdResult, "ad-result", string(reward.ResultEarned), "simulated ad result (earned|declined|error)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// readerEnv opens the store and builds a resolver against it.
func readerEnv(opts *ReaderOptions, cmd *cobra.Command) (*store.Store, *access.Resolver, error) {
	st, err := openStore(opts.RootOptions)
	if err != nil {
		return nil, nil, err
	}
	ents := entitlement.NewStatic()
	ents.Set(opts.User, opts.Subscribed)
	resolver := access.New(ents, st, access.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())))
	return st, resolver, nil
}

func readStory(cmd *cobra.Command, st *store.Store, id string) (story.Story, error) {
	s, err := st.ReadStory(cmd.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return story.Story{}, NewExitError(ExitCommandError, "story not found: "+id)
	}
	if err != nil {
		return story.Story{}, WrapExitError(ExitFailure, "failed to read story", err)
	}
	return s, nil
}

func runOpen(opts *ReaderOptions, id string, cmd *cobra.Command) error {
	st, resolver, err := readerEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := readStory(cmd, st, id)
	if err != nil {
		return err
	}

	res, rerr := resolver.Resolve(cmd.Context(), access.Request{UserID: opts.User, Story: s})
	resolver.Wait()
	if res.Outcome == 0 {
		return WrapExitError(ExitCommandError, "resolve failed", rerr)
	}
	return finish(opts.RootOptions, cmd, newResolution(res, rerr))
}

func runUnlock(opts *ReaderOptions, id string, cmd *cobra.Command) error {
	result, err := reward.ParseResult(opts.AdResult)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --ad-result", err)
	}

	st, resolver, err := readerEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := readStory(cmd, st, id)
	if err != nil {
		return err
	}

	res, rerr := resolver.UnlockWithAd(cmd.Context(), access.Request{UserID: opts.User, Story: s}, reward.Static{Result: result})
	resolver.Wait()
	if res.Outcome == 0 {
		return WrapExitError(ExitCommandError, "unlock failed", rerr)
	}
	return finish(opts.RootOptions, cmd, newResolution(res, rerr))
}

// finish prints r and maps a locked or failed result to ExitFailure.
func finish(opts *RootOptions, cmd *cobra.Command, r resolution) error {
	out := newFormatter(opts, cmd)
	if err := out.Success(r, r.render); err != nil {
		return err
	}
	if r.err != nil {
		return WrapExitError(ExitFailure, "story "+r.Outcome, r.err)
	}
	if r.Outcome != access.Reveal.String() {
		return NewExitError(ExitFailure, "story "+r.Outcome)
	}
	return nil
}

// LedgerOptions holds flags for the ledger command.
type LedgerOptions struct {
	*RootOptions
	User string
}

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List a reader's unlocks",
		Long: `List every story a reader has unlocked, oldest first.

Example:
  storygate ledger --user anon-1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "reader user id (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runLedger(opts *LedgerOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	unlocks, err := st.ListUnlocks(cmd.Context(), opts.User)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read ledger", err)
	}

	return out.Success(unlocks, func(w io.Writer) {
		if len(unlocks) == 0 {
			fmt.Fprintf(w, "No unlocks for %s.\n", opts.User)
			return
		}
		for _, u := range unlocks {
			fmt.Fprintf(w, "%s  %-12s  %s\n", u.UnlockedAt.Format("2006-01-02T15:04:05Z"), u.Method, u.StoryID)
		}
	})
}
