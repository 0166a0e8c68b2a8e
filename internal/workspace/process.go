package workspace

import (
	"context"
	"errors"

	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
)

// ProcessFunc handles the items of one workspace.
type ProcessFunc func(ctx context.Context, ws *Workspace, items []ItemPath) error

// ProcessResult are the paths no workspace maps and the errors fn returned.
type ProcessResult struct {
	Orphans []tfspath.FilePath
	Err     error
}

// ProcessByWorkspaces groups paths by the workspaces that map them and
// calls fn once per workspace, in the order workspaces were first seen.
// A failure to resolve workspaces aborts; fn errors are joined.
func ProcessByWorkspaces(ctx context.Context, w *Workstation, paths []tfspath.FilePath, considerChildren bool, fn ProcessFunc) (*ProcessResult, error) {
	var (
		order  []*Workspace
		groups = make(map[*Workspace][]ItemPath)
		result = &ProcessResult{}
	)
	for _, p := range paths {
		workspaces, err := w.FindWorkspaces(ctx, p.Path, considerChildren)
		if err != nil {
			return nil, err
		}
		if len(workspaces) == 0 {
			result.Orphans = append(result.Orphans, p)
			continue
		}
		for _, ws := range workspaces {
			serverPaths, err := ws.FindServerPathsByLocalPath(ctx, p.Path, considerChildren)
			if err != nil {
				return nil, err
			}
			if _, seen := groups[ws]; !seen {
				order = append(order, ws)
				groups[ws] = nil
			}
			for _, sp := range serverPaths {
				groups[ws] = append(groups[ws], ItemPath{Local: p, Server: sp})
			}
		}
	}

	var errs []error
	for _, ws := range order {
		if ctx.Err() != nil {
			return nil, &tfserr.UserCancelledError{}
		}
		if len(groups[ws]) == 0 {
			continue
		}
		if err := fn(ctx, ws, groups[ws]); err != nil {
			errs = append(errs, err)
		}
	}
	result.Err = errors.Join(errs...)
	return result, nil
}
