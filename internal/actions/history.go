package actions

import (
	"context"

	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
	"github.com/bolasblack/tfvc/internal/workspace"
)

// History lists up to max changesets touching path, newest first. A
// directory includes the history of everything below it.
func History(ctx context.Context, w *workspace.Workstation, path tfspath.FilePath, max int) ([]vcs.Changeset, error) {
	var changesets []vcs.Changeset
	result, err := workspace.ProcessByWorkspaces(ctx, w, []tfspath.FilePath{path}, false,
		func(ctx context.Context, ws *workspace.Workspace, items []workspace.ItemPath) error {
			item := items[0]
			recursion := vcs.RecursionNone
			if item.Local.IsDir {
				recursion = vcs.RecursionFull
			}
			found, err := ws.Server().VCS().QueryHistory(ctx, ws.Ref(),
				vcs.ItemSpec{Item: item.Server, Recursion: recursion}, 0, 0, max)
			if err != nil {
				return err
			}
			changesets = found
			return nil
		})
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}
	if err := orphanError(result.Orphans); err != nil {
		return nil, err
	}
	return changesets, nil
}
