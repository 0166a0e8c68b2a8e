package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bolasblack/tfvc/internal/actions"
	"github.com/bolasblack/tfvc/internal/conflict"
	"github.com/bolasblack/tfvc/internal/vcs"
	"github.com/bolasblack/tfvc/internal/workspace"
)

func (r *runner) newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [paths...]",
		Short: "Resolve the conflicts below local paths",
		Long: `List the unresolved conflicts below the given paths and resolve them one by
one. Each conflict is resolved by accepting yours, accepting theirs, merging
or skipping it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				paths, err := localPaths(a.env.Fs, args)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				var found int
				result, err := workspace.ProcessByWorkspaces(ctx, a.workstation, paths, true,
					func(ctx context.Context, ws *workspace.Workspace, items []workspace.ItemPath) error {
						specs := make([]vcs.ItemSpec, 0, len(items))
						for _, it := range items {
							specs = append(specs, vcs.ItemSpec{Item: it.Local.Path, Recursion: vcs.RecursionFull})
						}
						srv := ws.Server().VCS()
						conflicts, err := conflict.Query(ctx, srv, ws.Ref(), specs)
						if err != nil {
							return fmt.Errorf("failed to query conflicts of %s: %w", ws.Name(), err)
						}
						if len(conflicts) == 0 {
							return nil
						}
						found += len(conflicts)
						res, err := conflict.ResolveAllInteractive(conflict.ResolveParams{
							Ctx:       ctx,
							Server:    srv,
							Workspace: ws.Ref(),
							Fs:        a.env.Fs,
							Conflicts: conflicts,
							PromptFn:  a.prompter.ResolveChoice,
							W:         out,
							Log:       a.log,
						})
						if err != nil {
							return err
						}
						if res.Failed > 0 {
							return fmt.Errorf("%d conflicts of %s could not be resolved", res.Failed, ws.Name())
						}
						return nil
					})
				if err != nil {
					return err
				}
				if found == 0 {
					_, _ = fmt.Fprintln(out, "No conflicts.")
				}

				var errs []error
				if len(result.Orphans) > 0 {
					missing := &actions.MappingsNotFoundError{}
					for _, o := range result.Orphans {
						missing.Paths = append(missing.Paths, o.Path)
					}
					errs = append(errs, missing)
				}
				errs = append(errs, result.Err)
				return errors.Join(errs...)
			})
		},
	}
}
