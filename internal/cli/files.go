package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bolasblack/tfvc/internal/actions"
	"github.com/bolasblack/tfvc/internal/util"
	"github.com/bolasblack/tfvc/internal/vcs"
)

func (r *runner) newCheckoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "checkout <paths...>",
		Aliases: []string{"edit"},
		Short:   "Check files out for edit and make them writable",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				paths, err := localPaths(a.env.Fs, args)
				if err != nil {
					return err
				}
				c := &actions.Checkout{Workstation: a.workstation, Fs: a.env.Fs, Log: a.log}
				result, err := c.Run(ctx, paths)
				if result != nil {
					out := cmd.OutOrStdout()
					for _, p := range result.Edited {
						util.ProgressDone(out, "%s\n", p)
					}
					printFailures(cmd.ErrOrStderr(), result.Failures)
				}
				return err
			})
		},
	}
}

// lockLevels maps --level values.
var lockLevels = map[string]vcs.LockLevel{
	"checkin":  vcs.LockCheckin,
	"checkout": vcs.LockCheckOut,
}

func (r *runner) newLockCmd(lock bool) *cobra.Command {
	use, short, title := "unlock <paths...>", "Remove your locks from server items", "Select items to unlock"
	if lock {
		use, short, title = "lock <paths...>", "Lock server items", "Select items to lock"
	}
	var level string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lockLevel := vcs.LockNone
			if lock {
				l, ok := lockLevels[strings.ToLower(level)]
				if !ok {
					return fmt.Errorf("invalid lock level %q: want checkin or checkout", level)
				}
				lockLevel = l
			}
			return r.run(cmd, func(ctx context.Context, a *app) error {
				paths, err := localPaths(a.env.Fs, args)
				if err != nil {
					return err
				}
				items, err := actions.LoadLockItems(ctx, a.workstation, paths)
				if err != nil {
					return err
				}

				// Only items the operation applies to are offered.
				var candidates []*actions.LockItem
				for _, it := range items {
					if lock && it.CanBeLocked() || !lock && it.CanBeUnlocked() {
						candidates = append(candidates, it)
					}
				}
				if len(candidates) == 0 {
					if lock {
						return errors.New("every item is already locked")
					}
					return errors.New("none of the items is locked by you")
				}
				// The initial selection may have gone to unlocking.
				if len(actions.Selected(candidates)) == 0 {
					for _, it := range candidates {
						it.Selected = true
					}
				}
				if err := a.prompter.SelectLockItems(ctx, title, candidates); err != nil {
					return err
				}
				selected := actions.Selected(candidates)
				if len(selected) == 0 {
					return errors.New("no item selected")
				}

				failures, err := actions.LockOrUnlock(ctx, selected, lockLevel)
				printFailures(cmd.ErrOrStderr(), failures)
				if err != nil {
					return err
				}
				util.ProgressDone(cmd.OutOrStdout(), "%s\n", actions.LockSummary(len(selected)-len(failures), lockLevel))
				return nil
			})
		},
	}
	if lock {
		cmd.Flags().StringVar(&level, "level", "checkout", "Lock level: checkin or checkout")
	}
	return cmd
}

func (r *runner) newHistoryCmd() *cobra.Command {
	var max int
	cmd := &cobra.Command{
		Use:   "history <path>",
		Short: "List the changesets of a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				paths, err := localPaths(a.env.Fs, args)
				if err != nil {
					return err
				}
				changesets, err := actions.History(ctx, a.workstation, paths[0], max)
				if err != nil {
					return err
				}
				if len(changesets) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No history.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "CHANGESET\tUSER\tDATE\tCOMMENT")
				for _, cs := range changesets {
					date := ""
					if !cs.Date.IsZero() {
						date = cs.Date.Local().Format("2006-01-02 15:04")
					}
					comment, _, _ := strings.Cut(cs.Comment, "\n")
					_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", cs.ID, cs.Owner, date, comment)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&max, "max", "n", 25, "Maximum number of changesets (0 for all)")
	return cmd
}

func printFailures(w io.Writer, failures []vcs.Failure) {
	for _, f := range failures {
		_, _ = fmt.Fprintf(w, "%s: %s\n", f.Severity, f.Message)
	}
}
