package conflict

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/logging"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
)

// Choice is the user's resolution of one conflict.
type Choice string

const (
	ChoiceYours  Choice = "yours"
	ChoiceTheirs Choice = "theirs"
	ChoiceMerge  Choice = "merge"
	ChoiceSkip   Choice = "skip"
)

// PromptFunc asks the user how to resolve a conflict. An error aborts the
// session; the conflicts resolved so far stay resolved.
type PromptFunc func(info Info, index, total int) (Choice, error)

// MergeFunc produces the merged content of a conflict from the local
// content. A non-empty name renames the merged file.
type MergeFunc func(ctx context.Context, info Info, local []byte) (name string, merged []byte, err error)

// KeepLocal merges by keeping the local content under the current name.
func KeepLocal(_ context.Context, _ Info, local []byte) (string, []byte, error) {
	return "", local, nil
}

// ResolveResult summarizes a resolution session.
type ResolveResult struct {
	Resolved int
	Skipped  int
	Failed   int
}

// ResolveParams holds the parameters of an interactive resolution session.
type ResolveParams struct {
	Ctx       context.Context
	Server    Server
	Workspace vcs.WorkspaceRef
	Fs        afero.Fs
	Conflicts []Info
	PromptFn  PromptFunc
	MergeFn   MergeFunc // KeepLocal when nil
	W         io.Writer
	Log       *zap.Logger
}

// ResolveAllInteractive walks the conflicts one by one, prompting for each
// and applying the chosen resolution on the server and on disk.
func ResolveAllInteractive(p ResolveParams) (*ResolveResult, error) {
	w := p.W
	if w == nil {
		w = io.Discard
	}
	log := logging.FromContext(p.Ctx, logging.OrNop(p.Log))
	total := len(p.Conflicts)
	result := &ResolveResult{}

	for i, info := range p.Conflicts {
		_, _ = fmt.Fprintf(w, "[%d/%d] %s\n", i+1, total, info.LocalPath())
		_, _ = fmt.Fprintf(w, "  Yours:   %s %s\n", info.YoursChange(), info.SourceItem())
		_, _ = fmt.Fprintf(w, "  Theirs:  %s %s\n", info.BaseChange(), info.TargetItem())

		choice, err := p.PromptFn(info, i, total)
		if err != nil {
			_, _ = fmt.Fprintf(w, "\nAborted. %d resolved, %d skipped.\n", result.Resolved, result.Skipped)
			return result, nil
		}
		if choice == ChoiceSkip {
			result.Skipped++
			_, _ = fmt.Fprintln(w)
			continue
		}

		if err := resolveOne(p, info, choice); err != nil {
			if tfserr.IsUserCancelled(err) {
				return result, err
			}
			log.Debug("conflict resolution failed", zap.Int("conflict", info.Conflict.ConflictID), zap.Error(err))
			_, _ = fmt.Fprintf(w, "  Error: %v\n\n", err)
			result.Failed++
			continue
		}
		_, _ = fmt.Fprintf(w, "  Resolved: %s\n\n", choice)
		result.Resolved++
	}

	_, _ = fmt.Fprintf(w, "Done: %d resolved, %d skipped.\n", result.Resolved, result.Skipped)
	return result, nil
}

func resolveOne(p ResolveParams, info Info, choice Choice) error {
	var (
		resolution vcs.Resolution
		newPath    string
	)
	switch choice {
	case ChoiceYours:
		resolution = vcs.AcceptYours
	case ChoiceTheirs:
		resolution = vcs.AcceptTheirs
	case ChoiceMerge:
		resolution = vcs.AcceptMerge
		var err error
		if newPath, err = writeMerged(p, info); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown resolution %q", choice)
	}

	res, err := p.Server.Resolve(p.Ctx, p.Workspace, info.Conflict.ConflictID, resolution, newPath)
	if err != nil {
		return err
	}
	return Apply(p.Ctx, p.Fs, p.Server, res.Operations)
}

// writeMerged stores the merged content over the local file and returns
// the server path of the renamed result, if any.
func writeMerged(p ResolveParams, info Info) (string, error) {
	merge := p.MergeFn
	if merge == nil {
		merge = KeepLocal
	}
	local := info.LocalPath()
	content, err := afero.ReadFile(p.Fs, local)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read %s: %w", local, err)
	}
	name, merged, err := merge(p.Ctx, info, content)
	if err != nil {
		return "", err
	}
	if err := afero.WriteFile(p.Fs, local, merged, 0o644); err != nil {
		return "", fmt.Errorf("failed to write merged content: %w", err)
	}
	if name == "" {
		return "", nil
	}
	return tfspath.JoinServer(tfspath.ServerParent(info.TargetItem()), name), nil
}

// Apply performs the local side of get operations: downloads content,
// moves renamed files and removes deleted ones.
func Apply(ctx context.Context, fs afero.Fs, srv Server, ops []vcs.GetOperation) error {
	for _, op := range ops {
		if ctx.Err() != nil {
			return &tfserr.UserCancelledError{}
		}
		if err := applyOne(ctx, fs, srv, op); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(ctx context.Context, fs afero.Fs, srv Server, op vcs.GetOperation) error {
	moved := op.SourceLocal != "" && op.TargetLocal != "" && !tfspath.Local.Equal(op.SourceLocal, op.TargetLocal)
	switch {
	case op.TargetLocal == "":
		if op.SourceLocal == "" {
			return nil
		}
		if err := fs.RemoveAll(op.SourceLocal); err != nil {
			return fmt.Errorf("failed to delete %s: %w", op.SourceLocal, err)
		}
	case op.Type == vcs.ItemFolder:
		if moved {
			return rename(fs, op.SourceLocal, op.TargetLocal)
		}
		return fs.MkdirAll(op.TargetLocal, 0o755)
	case op.DownloadURL != "":
		content, err := srv.Download(ctx, op.DownloadURL)
		if err != nil {
			return err
		}
		if err := fs.MkdirAll(filepath.Dir(op.TargetLocal), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(fs, op.TargetLocal, content, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", op.TargetLocal, err)
		}
		if moved {
			if err := fs.Remove(op.SourceLocal); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to delete %s: %w", op.SourceLocal, err)
			}
		}
	case moved:
		return rename(fs, op.SourceLocal, op.TargetLocal)
	}
	return nil
}

func rename(fs afero.Fs, from, to string) error {
	if err := fs.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	if err := fs.Rename(from, to); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", from, to, err)
	}
	return nil
}
