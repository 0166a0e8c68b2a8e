// Package conflict presents server-detected conflicts and applies the
// resolution the user picks to the server and the local files.
package conflict

import (
	"context"
	"fmt"
	"strings"

	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
)

// Server is the part of the version-control facade conflicts need.
// *versioncontrol.Server satisfies it.
type Server interface {
	QueryConflicts(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec) ([]vcs.Conflict, error)
	Resolve(ctx context.Context, ws vcs.WorkspaceRef, conflictID int, resolution vcs.Resolution, newPath string) (*vcs.ResolveResult, error)
	Download(ctx context.Context, downloadURL string) ([]byte, error)
}

// Info is the view of one conflict shown to the user.
type Info struct {
	Conflict vcs.Conflict
}

// YoursChange is what the local workspace did to the item.
func (i Info) YoursChange() vcs.ChangeTypeMask { return i.Conflict.YoursChange }

// BaseChange is what the server did between the base and target versions.
func (i Info) BaseChange() vcs.ChangeTypeMask { return i.Conflict.BaseChange }

// SourceItem is the server path the local version lives at.
func (i Info) SourceItem() string { return i.Conflict.YoursServerItem }

// TargetItem is the server path of the incoming version.
func (i Info) TargetItem() string {
	if i.Conflict.TheirsServerItem != "" {
		return i.Conflict.TheirsServerItem
	}
	return i.Conflict.YoursServerItem
}

// LocalPath is where the conflicting file is on disk.
func (i Info) LocalPath() string {
	if i.Conflict.SourceLocalItem != "" {
		return i.Conflict.SourceLocalItem
	}
	return i.Conflict.TargetLocalItem
}

// IsRename reports whether the server moved the item.
func (i Info) IsRename() bool {
	return !tfspath.Server.Equal(i.SourceItem(), i.TargetItem())
}

func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "yours %s", i.YoursChange())
	fmt.Fprintf(&b, ", theirs %s", i.BaseChange())
	if i.IsRename() {
		fmt.Fprintf(&b, " (%s -> %s)", i.SourceItem(), i.TargetItem())
	}
	return b.String()
}

// Query lists the unresolved conflicts under specs.
func Query(ctx context.Context, srv Server, ws vcs.WorkspaceRef, specs []vcs.ItemSpec) ([]Info, error) {
	conflicts, err := srv.QueryConflicts(ctx, ws, specs)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(conflicts))
	for _, c := range conflicts {
		infos = append(infos, Info{Conflict: c})
	}
	return infos, nil
}
