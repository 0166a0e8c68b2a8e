package status

import (
	"context"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/logging"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
	"github.com/bolasblack/tfvc/internal/workspace"
)

// Source answers the combined item and pending change query of a
// workspace. *workspace.Workspace satisfies it.
type Source interface {
	GetExtendedItemsAndPendingChanges(ctx context.Context, specs []vcs.ItemSpec) (*vcs.ExtendedItemsAndPendingChanges, error)
}

var _ Source = (*workspace.Workspace)(nil)

// Reconciler matches local files against the server's view.
type Reconciler struct {
	Fs  afero.Fs
	Log *zap.Logger
}

// Entry is one visited item, as returned by Collect.
type Entry struct {
	Path   tfspath.FilePath
	Exists bool
	Status ServerStatus
}

// itemIndex keeps extended items in query order and supports removal.
type itemIndex struct {
	order []int
	items map[int]*vcs.ExtendedItem
}

func newItemIndex(items []vcs.ExtendedItem) *itemIndex {
	idx := &itemIndex{items: make(map[int]*vcs.ExtendedItem, len(items))}
	for i := range items {
		it := &items[i]
		if _, dup := idx.items[it.ItemID]; !dup {
			idx.order = append(idx.order, it.ItemID)
		}
		idx.items[it.ItemID] = it
	}
	return idx
}

func (x *itemIndex) take(id int) *vcs.ExtendedItem {
	it, ok := x.items[id]
	if ok {
		delete(x.items, id)
	}
	return it
}

func (x *itemIndex) takeByLocal(local string) *vcs.ExtendedItem {
	for _, id := range x.order {
		if it, ok := x.items[id]; ok && it.HasLocal() && tfspath.Local.Equal(it.Local, local) {
			delete(x.items, id)
			return it
		}
	}
	return nil
}

func (x *itemIndex) remaining() []*vcs.ExtendedItem {
	var out []*vcs.ExtendedItem
	for _, id := range x.order {
		if it, ok := x.items[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

// changeIndex deduplicates pending changes by item id, keeping the last.
type changeIndex struct {
	order   []int
	changes map[int]*vcs.PendingChange
}

func newChangeIndex(changes []vcs.PendingChange) *changeIndex {
	idx := &changeIndex{changes: make(map[int]*vcs.PendingChange, len(changes))}
	for i := range changes {
		pc := &changes[i]
		if _, dup := idx.changes[pc.ItemID]; !dup {
			idx.order = append(idx.order, pc.ItemID)
		}
		idx.changes[pc.ItemID] = pc
	}
	return idx
}

func (x *changeIndex) byLocal(local string) *vcs.PendingChange {
	for _, id := range x.order {
		if pc := x.changes[id]; pc.Local != "" && tfspath.Local.Equal(pc.Local, local) {
			return pc
		}
	}
	return nil
}

// VisitByStatus classifies every root and, when recursive, every existing
// local child. Items the server knows but which are missing locally are
// visited last with exists set to false.
func (r *Reconciler) VisitByStatus(ctx context.Context, src Source, roots []workspace.ItemPath, recursive bool, v Visitor) error {
	if len(roots) == 0 {
		return nil
	}
	log := logging.FromContext(ctx, logging.OrNop(r.Log))

	roots = append([]workspace.ItemPath(nil), roots...)
	specs := make([]vcs.ItemSpec, 0, len(roots))
	exists := make([]bool, len(roots))
	for i := range roots {
		root := &roots[i]
		if info, err := r.Fs.Stat(root.Local.Path); err == nil {
			exists[i] = true
			root.Local.IsDir = info.IsDir()
		}
		recursion := vcs.RecursionNone
		if recursive && (!exists[i] || root.Local.IsDir) {
			recursion = vcs.RecursionFull
		}
		specs = append(specs, vcs.ItemSpec{Item: root.Local.Path, Recursion: recursion})
	}

	data, err := src.GetExtendedItemsAndPendingChanges(ctx, specs)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return &tfserr.UserCancelledError{}
	}

	changes := newChangeIndex(data.PendingChanges)
	items := newItemIndex(data.ExtendedItems)

	visit := func(path tfspath.FilePath, present bool) error {
		var item *vcs.ExtendedItem
		pc := changes.byLocal(path.Path)
		if pc != nil {
			item = items.take(pc.ItemID)
		} else {
			item = items.takeByLocal(path.Path)
		}
		if !present && item != nil {
			path.IsDir = item.IsFolder()
		}
		st := Determine(pc, item)
		if st.Kind() == Undefined {
			log.Error("unexpected change combination",
				zap.String("path", path.Path),
				zap.Stringer("change", item.ChangeType))
		}
		return st.VisitBy(path, present, v)
	}

	for i, root := range roots {
		paths := []tfspath.FilePath{root.Local}
		if recursive && exists[i] && root.Local.IsDir {
			children, err := r.children(root.Local.Path)
			if err != nil {
				return err
			}
			paths = append(paths, children...)
		}
		for _, p := range paths {
			present := p.Path != root.Local.Path || exists[i]
			if err := visit(p, present); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return &tfserr.UserCancelledError{}
		}
	}

	if !recursive {
		return nil
	}
	for _, item := range items.remaining() {
		local := item.Local
		var pc *vcs.PendingChange
		if c, ok := changes.changes[item.ItemID]; ok {
			pc = c
			if c.Local != "" {
				local = c.Local
			}
		}
		if local == "" {
			continue
		}
		path := tfspath.FilePath{Path: local, IsDir: item.IsFolder()}
		if err := Determine(pc, item).VisitBy(path, false, v); err != nil {
			return err
		}
	}
	return nil
}

// children lists everything under root in lexical order.
func (r *Reconciler) children(root string) ([]tfspath.FilePath, error) {
	var out []tfspath.FilePath
	err := afero.Walk(r.Fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		out = append(out, tfspath.FilePath{Path: path, IsDir: info.IsDir()})
		return nil
	})
	return out, err
}

// Collect is VisitByStatus gathering every visited item.
func (r *Reconciler) Collect(ctx context.Context, src Source, roots []workspace.ItemPath, recursive bool) ([]Entry, error) {
	var entries []Entry
	err := r.VisitByStatus(ctx, src, roots, recursive, VisitAll(func(path tfspath.FilePath, exists bool, st ServerStatus) error {
		entries = append(entries, Entry{Path: path, Exists: exists, Status: st})
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return entries, nil
}
