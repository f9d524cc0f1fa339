package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storygate/internal/access"
	"github.com/roach88/storygate/internal/entitlement"
	"github.com/roach88/storygate/internal/reward"
	"github.com/roach88/storygate/internal/story"
)

// BrowseOptions holds flags for the browse command.
type BrowseOptions struct {
	*RootOptions
	User       string
	Date       string
	Subscribed bool

	Now func() time.Time
}

// NewBrowseCommand creates the browse command.
func NewBrowseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BrowseOptions{RootOptions: rootOpts, Now: time.Now}

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Interactive reader session",
		Long: `Open a reader session on the day's lineup and drive it from stdin.

Commands:
  list                 show the lineup
  open N               open the story at position N
  ad N [result]        watch an ad for position N (earned|declined|error)
  subscribe | lapse    change the reader's subscription
  refresh              reload the lineup
  quit                 end the session

Example:
  storygate browse --user anon-1 --date 2024-01-01`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBrowse(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "reader user id (required)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "lineup date YYYY-MM-DD (default today, UTC)")
	cmd.Flags().BoolVar(&opts.Subscribed, "subscribed", false, "start subscribed")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// adPrompt is the reward source of a browse session; each ad command picks
// how the simulated ad ends.
type adPrompt struct {
	next reward.Result
}

func (p *adPrompt) RequestGrant(ctx context.Context, userID, storyID string) (access.Grant, error) {
	return reward.Static{Result: p.next}.RequestGrant(ctx, userID, storyID)
}

type browser struct {
	out      *OutputFormatter
	user     string
	ents     *entitlement.Static
	ads      *adPrompt
	session  *access.Session
	resolver *access.Resolver
}

func runBrowse(opts *BrowseOptions, cmd *cobra.Command) error {
	date := opts.Date
	if date == "" {
		date = story.Today(opts.Now())
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	b := &browser{
		out:  newFormatter(opts.RootOptions, cmd),
		user: opts.User,
		ents: entitlement.NewStatic(),
		ads:  &adPrompt{next: reward.ResultEarned},
	}
	b.ents.Set(opts.User, opts.Subscribed)
	b.resolver = access.New(b.ents, st, access.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())))
	defer b.resolver.Wait()

	b.session = access.NewSession(opts.User, b.resolver, st, b.ads)
	defer b.session.Close()

	ctx := cmd.Context()
	if _, err := b.session.Load(ctx, date); err != nil {
		return WrapExitError(ExitCommandError, "failed to load lineup", err)
	}
	b.list()

	w := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return scanner.Err()
		}
		if done := b.exec(ctx, strings.Fields(scanner.Text())); done {
			return nil
		}
	}
}

// exec runs one command line and reports whether the session ended.
func (b *browser) exec(ctx context.Context, fields []string) bool {
	w := b.out.Writer
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit", "q":
		return true
	case "list", "ls":
		b.list()
	case "refresh":
		if _, err := b.session.Refresh(ctx); err != nil {
			fmt.Fprintf(w, "refresh failed: %v\n", err)
			return false
		}
		b.list()
	case "subscribe":
		b.ents.Set(b.user, true)
		fmt.Fprintln(w, "subscribed")
	case "lapse":
		b.ents.Set(b.user, false)
		fmt.Fprintln(w, "subscription lapsed")
	case "open", "ad":
		if len(fields) < 2 {
			fmt.Fprintf(w, "usage: %s N\n", fields[0])
			return false
		}
		pos, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Fprintf(w, "invalid position %q\n", fields[1])
			return false
		}

		var res access.Resolution
		if fields[0] == "open" {
			res, err = b.session.Open(ctx, pos)
		} else {
			b.ads.next = reward.ResultEarned
			if len(fields) > 2 {
				r, perr := reward.ParseResult(fields[2])
				if perr != nil {
					fmt.Fprintln(w, perr)
					return false
				}
				b.ads.next = r
			}
			res, err = b.session.WatchAd(ctx, pos)
		}
		b.resolver.Wait()

		if res.Outcome == 0 {
			fmt.Fprintf(w, "%s: %v\n", errorCode(err), err)
			return false
		}
		r := newResolution(res, err)
		_ = b.out.Success(r, r.render)
	default:
		fmt.Fprintf(w, "unknown command %q (list, open N, ad N, subscribe, lapse, refresh, quit)\n", fields[0])
	}
	return false
}

func (b *browser) list() {
	cohort := b.session.Cohort()
	rows := make([]storyRow, len(cohort.Stories))
	for i, s := range cohort.Stories {
		rows[i] = storyRow{ID: s.ID, Position: s.Position, Tier: s.Tier(), Title: s.Title}
	}
	_ = b.out.Success(rows, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintf(w, "No stories published for %s.\n", cohort.Date)
			return
		}
		fmt.Fprintf(w, "Lineup for %s:\n", cohort.Date)
		for _, r := range rows {
			mark := " "
			if _, ok := b.session.Granted(r.ID); ok {
				mark = "*"
			}
			fmt.Fprintf(w, " %s %d  %-12s  %s\n", mark, r.Position, r.Tier, r.Title)
		}
	})
}
