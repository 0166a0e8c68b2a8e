// Package actions implements the user-facing operations on local files:
// checkout, lock and unlock, and history.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/logging"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
	"github.com/bolasblack/tfvc/internal/workspace"
)

// MappingsNotFoundError lists paths no workspace maps.
type MappingsNotFoundError struct {
	Paths []string
}

func (e *MappingsNotFoundError) Error() string {
	return "Mappings not found for files:\n" + strings.Join(e.Paths, "\n")
}

func orphanError(orphans []tfspath.FilePath) error {
	if len(orphans) == 0 {
		return nil
	}
	paths := make([]string, len(orphans))
	for i, o := range orphans {
		paths[i] = o.Path
	}
	return &MappingsNotFoundError{Paths: paths}
}

// CheckoutResult lists the files made writable and the items the server
// refused.
type CheckoutResult struct {
	Edited   []string
	Failures []vcs.Failure
}

// Checkout pends edits and makes the files writable.
type Checkout struct {
	Workstation *workspace.Workstation
	Fs          afero.Fs
	Log         *zap.Logger
}

// Run checks out paths. Unmapped paths and per-workspace failures are
// reported in the error; what did succeed is still returned.
func (c *Checkout) Run(ctx context.Context, paths []tfspath.FilePath) (*CheckoutResult, error) {
	log := logging.FromContext(ctx, logging.OrNop(c.Log))
	result := &CheckoutResult{}
	processed, err := workspace.ProcessByWorkspaces(ctx, c.Workstation, paths, false,
		func(ctx context.Context, ws *workspace.Workspace, items []workspace.ItemPath) error {
			specs := make([]vcs.ItemSpec, len(items))
			for i, it := range items {
				specs[i] = vcs.ItemSpec{Item: it.Local.Path, Recursion: vcs.RecursionNone}
			}
			res, err := ws.Server().VCS().CheckoutForEdit(ctx, ws.Ref(), specs)
			if err != nil {
				return err
			}
			result.Failures = append(result.Failures, res.Failures...)
			for _, op := range res.Operations {
				if op.TargetLocal == "" || op.Type == vcs.ItemFolder {
					continue
				}
				if err := makeWritable(c.Fs, op.TargetLocal); err != nil {
					log.Warn("cannot make file writable", zap.String("path", op.TargetLocal), zap.Error(err))
					continue
				}
				result.Edited = append(result.Edited, op.TargetLocal)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return result, errors.Join(orphanError(processed.Orphans), processed.Err)
}

func makeWritable(fs afero.Fs, path string) error {
	info, err := fs.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode&0o200 != 0 {
		return nil
	}
	if err := fs.Chmod(path, mode|0o200); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}
