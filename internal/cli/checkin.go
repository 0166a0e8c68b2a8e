package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bolasblack/tfvc/internal/checkin"
	"github.com/bolasblack/tfvc/internal/util"
)

func (r *runner) newCheckinValidateCmd() *cobra.Command {
	var (
		comment   string
		associate []int
		resolve   []int
		policies  []string
		executor  string
	)
	cmd := &cobra.Command{
		Use:   "checkin-validate <files...>",
		Short: "Evaluate the checkin policies for a prospective checkin",
		Long: `Evaluate the checkin policies for the given files, comment and work items
the way the commit window does before a checkin. When policies fail the
override dialog asks for a reason.

The command exits non-zero when the checkin would be cancelled.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				paths, err := localPaths(a.env.Fs, args)
				if err != nil {
					return err
				}
				files := make([]string, 0, len(paths))
				for _, p := range paths {
					files = append(files, p.Path)
				}

				items := checkin.NewWorkItemsParameters()
				for _, id := range associate {
					items.SetAction(id, checkin.ActionAssociate)
				}
				for _, id := range resolve {
					items.SetAction(id, checkin.ActionResolve)
				}
				definitions := make([]checkin.Definition, 0, len(policies))
				for _, id := range policies {
					definitions = append(definitions, checkin.Definition{ID: id, Kind: checkin.DefinitionTfs})
				}

				data := &checkin.Data{}
				data.SetParameters(checkin.NewParameters(comment, files, definitions, items))
				h := &checkin.Handler{
					Registry:      checkin.Builtin(),
					Data:          data,
					Compatibility: a.store.CheckinPoliciesCompatibility,
					IsUnderVCS:    a.isMapped,
					Messages:      terminalMessages{w: cmd.ErrOrStderr()},
					Override:      a.prompter,
					Progress:      a.progress,
					Loop:          a.loop,
					Log:           a.log,
				}

				result := h.BeforeCheckin(ctx, executor, files)
				out := cmd.OutOrStdout()
				switch result {
				case checkin.Commit:
					util.ProgressDone(out, "Checkin may proceed\n")
					if params := data.Parameters(); params != nil && params.OverrideReason() != "" {
						_, _ = fmt.Fprintf(out, "Override reason: %s\n", params.OverrideReason())
					}
					return nil
				case checkin.Cancel:
					if msg := data.Message(); msg != "" {
						_, _ = fmt.Fprintln(cmd.ErrOrStderr(), msg)
					}
					return errors.New("checkin cancelled")
				}
				return fmt.Errorf("checkin aborted: %s", result)
			})
		},
	}
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Checkin comment")
	cmd.Flags().IntSliceVar(&associate, "work-item", nil, "Associate a work item (repeatable)")
	cmd.Flags().IntSliceVar(&resolve, "resolve", nil, "Resolve a work item (repeatable)")
	cmd.Flags().StringSliceVar(&policies, "policy", []string{
		checkin.CommentRequired{}.ID(),
		checkin.WorkItemRequired{}.ID(),
	}, "Checkin policies defined for the team project")
	cmd.Flags().StringVar(&executor, "executor", "", "Alternative commit action, skips validation")
	return cmd
}
