package workspace

import (
	"context"
	"slices"
	"time"

	"github.com/bolasblack/tfvc/internal/tfserr"
)

// Editor mutates a workspace owned by the current user on this computer.
type Editor struct {
	w *Workspace
}

// Edit returns an editor, or tfserr.ErrNotOwner.
func (w *Workspace) Edit() (*Editor, error) {
	if !w.HasCurrentOwnerAndComputer() {
		return nil, tfserr.ErrNotOwner
	}
	return &Editor{w: w}, nil
}

// Workspace is the workspace being edited.
func (e *Editor) Workspace() *Workspace { return e.w }

func (e *Editor) SetName(name string) {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	e.w.modifiedName = name
}

func (e *Editor) SetComment(comment string) {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	e.w.comment = comment
}

func (e *Editor) SetTimestamp(ts time.Time) {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	e.w.timestamp = ts
}

func (e *Editor) SetLocation(loc Location) {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	e.w.location = loc
}

func (e *Editor) SetWorkingFolders(folders []WorkingFolder) {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	e.w.folders = append([]WorkingFolder(nil), folders...)
}

func (e *Editor) AddWorkingFolder(f WorkingFolder) {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	e.w.folders = append(e.w.folders, f)
}

// RemoveWorkingFolder drops the first folder equal to f.
func (e *Editor) RemoveWorkingFolder(f WorkingFolder) {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	if i := slices.Index(e.w.folders, f); i >= 0 {
		e.w.folders = slices.Delete(e.w.folders, i, i+1)
	}
}

// Save creates the workspace on the server, or updates it when it already
// exists there, and replaces original in the server's list. original may
// be nil for a new workspace.
func (e *Editor) Save(ctx context.Context, original *Workspace) error {
	w := e.w
	if !w.HasCurrentOwnerAndComputer() {
		return tfserr.ErrNotOwner
	}
	oldName := w.OriginalName()
	vc := w.server.VCS()
	rec := w.record()
	if oldName != "" {
		saved, err := vc.UpdateWorkspace(ctx, oldName, rec, true)
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.applyRecord(*saved)
		w.mu.Unlock()
		w.server.replaceWorkspace(original, w)
	} else {
		saved, err := vc.CreateWorkspace(ctx, rec)
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.applyRecord(*saved)
		w.loaded = true
		w.mu.Unlock()
		w.server.AddWorkspace(w)
	}
	w.server.workstation.Update()
	return nil
}
