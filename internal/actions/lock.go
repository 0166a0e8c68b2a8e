package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
	"github.com/bolasblack/tfvc/internal/workspace"
)

var (
	ErrNoMappings   = errors.New("team foundation server mappings not found")
	ErrItemNotFound = errors.New("server item not found")
)

// LockItem is one server item offered for locking.
type LockItem struct {
	Workspace *workspace.Workspace
	Item      vcs.ExtendedItem
	Selected  bool
}

// CanBeLocked reports whether nobody holds a lock on the item.
func (l *LockItem) CanBeLocked() bool {
	return l.Item.Lock == "" || l.Item.Lock == vcs.LockNone
}

// CanBeUnlocked reports whether the current user holds the lock.
func (l *LockItem) CanBeUnlocked() bool {
	return !l.CanBeLocked() && strings.EqualFold(l.Item.LockOwner, l.Workspace.Server().QualifiedUsername())
}

// LoadLockItems reads the current locks of paths.
func LoadLockItems(ctx context.Context, w *workspace.Workstation, paths []tfspath.FilePath) ([]*LockItem, error) {
	var (
		items []*LockItem
		found bool
	)
	result, err := workspace.ProcessByWorkspaces(ctx, w, paths, false,
		func(ctx context.Context, ws *workspace.Workspace, paths []workspace.ItemPath) error {
			found = true
			byPath, err := ws.GetExtendedItems(ctx, paths)
			if err != nil {
				return err
			}
			for _, p := range paths {
				if item := byPath[p]; item != nil {
					items = append(items, &LockItem{Workspace: ws, Item: *item})
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}
	switch {
	case !found:
		return nil, ErrNoMappings
	case len(items) == 0:
		return nil, ErrItemNotFound
	}
	InitialSelection(items)
	return items, nil
}

// InitialSelection selects every item the user may unlock, or every
// unlocked item when there is none.
func InitialSelection(items []*LockItem) {
	unlockable := false
	for _, it := range items {
		if it.CanBeUnlocked() {
			unlockable = true
			it.Selected = true
		}
	}
	if unlockable {
		return
	}
	for _, it := range items {
		if it.CanBeLocked() {
			it.Selected = true
		}
	}
}

// Selected filters the selected items.
func Selected(items []*LockItem) []*LockItem {
	var out []*LockItem
	for _, it := range items {
		if it.Selected {
			out = append(out, it)
		}
	}
	return out
}

// LockOrUnlock applies level to items, one call per workspace. vcs.LockNone
// unlocks. Failures of one workspace do not stop the others.
func LockOrUnlock(ctx context.Context, items []*LockItem, level vcs.LockLevel) ([]vcs.Failure, error) {
	var (
		order  []*workspace.Workspace
		groups = make(map[*workspace.Workspace][]vcs.ItemSpec)
	)
	for _, it := range items {
		if _, ok := groups[it.Workspace]; !ok {
			order = append(order, it.Workspace)
		}
		groups[it.Workspace] = append(groups[it.Workspace], vcs.ItemSpec{Item: it.Item.TargetItem, Recursion: vcs.RecursionNone})
	}

	var (
		failures []vcs.Failure
		errs     []error
	)
	for _, ws := range order {
		res, err := ws.Server().VCS().LockOrUnlockItems(ctx, ws.Ref(), level, groups[ws])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		failures = append(failures, res.Failures...)
	}
	return failures, errors.Join(errs...)
}

// LockSummary is the confirmation shown after a successful lock or unlock.
func LockSummary(n int, level vcs.LockLevel) string {
	noun := "items"
	if n == 1 {
		noun = "item"
	}
	verb := "locked"
	if level == vcs.LockNone {
		verb = "unlocked"
	}
	return fmt.Sprintf("%d %s %s", n, noun, verb)
}
