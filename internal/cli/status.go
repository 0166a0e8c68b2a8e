package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bolasblack/tfvc/internal/actions"
	"github.com/bolasblack/tfvc/internal/status"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/ui"
	"github.com/bolasblack/tfvc/internal/workspace"
)

var statusLabels = map[status.Kind]string{
	status.Undefined:            "unknown",
	status.Unversioned:          "unversioned",
	status.UpToDate:             "up to date",
	status.OutOfDate:            "out of date",
	status.ScheduledForAddition: "add",
	status.ScheduledForDeletion: "delete",
	status.CheckedOutForEdit:    "edit",
	status.Renamed:              "rename",
	status.RenamedCheckedOut:    "rename, edit",
	status.Undeleted:            "undelete",
}

func (r *runner) newStatusCmd() *cobra.Command {
	var recursive, all bool
	cmd := &cobra.Command{
		Use:   "status [paths...]",
		Short: "Show the status of local files against the server",
		Long: `Show how local files relate to the server's view of their workspace:
pending additions, edits, renames and deletions, and files that are out of
date or not under version control.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				paths, err := localPaths(a.env.Fs, args)
				if err != nil {
					return err
				}
				reconciler := &status.Reconciler{Fs: a.env.Fs, Log: a.log}

				var (
					entries []status.Entry
					result  *workspace.ProcessResult
					runErr  error
					done    = make(chan struct{})
				)
				go func() {
					defer close(done)
					result, runErr = workspace.ProcessByWorkspaces(ui.Detach(ctx), a.workstation, paths, recursive,
						func(ctx context.Context, ws *workspace.Workspace, items []workspace.ItemPath) error {
							found, err := reconciler.Collect(ctx, ws, items, recursive)
							entries = append(entries, found...)
							return err
						})
				}()
				if err := a.loop.WaitFor(ctx, done, ui.PollInterval); err != nil {
					return &tfserr.UserCancelledError{}
				}
				if runErr != nil {
					return runErr
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				for _, e := range entries {
					kind := e.Status.Kind()
					if kind == status.UpToDate && !all {
						continue
					}
					label := statusLabels[kind]
					if !e.Exists && kind != status.ScheduledForDeletion {
						label += " (missing)"
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\n", label, e.Path.Path)
				}
				_ = w.Flush()

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
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Include everything below directories")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Show up-to-date items as well")
	return cmd
}

// localPaths makes args absolute and marks directories. No argument means
// the working directory.
func localPaths(fs afero.Fs, args []string) ([]tfspath.FilePath, error) {
	if len(args) == 0 {
		args = []string{"."}
	}
	paths := make([]tfspath.FilePath, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid path %s: %w", arg, err)
		}
		p := tfspath.FilePath{Path: abs}
		info, err := fs.Stat(abs)
		switch {
		case err == nil:
			p.IsDir = info.IsDir()
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to stat %s: %w", abs, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
