package workspace

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
)

// Location tells where a workspace keeps its pending changes.
type Location int

const (
	LocationServer Location = iota
	LocationLocal
)

func locationOf(isLocal bool) Location {
	if isLocal {
		return LocationLocal
	}
	return LocationServer
}

// Workspace is one server workspace as known on this computer.
//
// Reads are always allowed. Changes go through Edit, which requires the
// workspace to belong to the server's current user on this computer.
type Workspace struct {
	server   *Server
	owner    string
	computer string

	mu               sync.RWMutex
	originalName     string
	modifiedName     string
	comment          string
	timestamp        time.Time
	loaded           bool
	location         Location
	ownerDisplayName string
	ownerAliases     []string
	securityToken    string
	options          int
	folders          []WorkingFolder
}

// NewWorkspace starts a workspace that does not exist on the server yet.
func NewWorkspace(server *Server, owner, computer string) *Workspace {
	return &Workspace{server: server, owner: owner, computer: computer, timestamp: time.Now()}
}

func newFromRecord(server *Server, rec vcs.Workspace) *Workspace {
	w := &Workspace{server: server, owner: rec.Owner, computer: rec.Computer}
	w.applyRecord(rec)
	w.loaded = true
	return w
}

// Server is the server the workspace lives on.
func (w *Workspace) Server() *Server { return w.server }

// OwnerName is the qualified owner.
func (w *Workspace) OwnerName() string { return w.owner }

// Computer is the computer the workspace is bound to.
func (w *Workspace) Computer() string { return w.computer }

// Name returns the edited name if any, otherwise the server name.
func (w *Workspace) Name() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.nameLocked()
}

func (w *Workspace) nameLocked() string {
	if w.modifiedName != "" {
		return w.modifiedName
	}
	return w.originalName
}

// OriginalName is the name on the server, empty before the first save.
func (w *Workspace) OriginalName() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.originalName
}

func (w *Workspace) Comment() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.comment
}

func (w *Workspace) Timestamp() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.timestamp
}

func (w *Workspace) Location() Location {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.location
}

func (w *Workspace) IsLocal() bool {
	return w.Location() == LocationLocal
}

func (w *Workspace) OwnerDisplayName() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ownerDisplayName
}

func (w *Workspace) OwnerAliases() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.ownerAliases...)
}

func (w *Workspace) SecurityToken() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.securityToken
}

func (w *Workspace) Options() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.options
}

// Loaded reports whether server-side detail has been fetched.
func (w *Workspace) Loaded() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loaded
}

// Ref identifies the workspace in item-level calls.
func (w *Workspace) Ref() vcs.WorkspaceRef {
	return vcs.WorkspaceRef{Name: w.Name(), Owner: w.owner}
}

// WorkingFoldersCached returns the folders known without a server call.
func (w *Workspace) WorkingFoldersCached() []WorkingFolder {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]WorkingFolder(nil), w.folders...)
}

// WorkingFolders loads the workspace if needed and returns its folders.
func (w *Workspace) WorkingFolders(ctx context.Context) ([]WorkingFolder, error) {
	if err := w.LoadFromServer(ctx, false); err != nil {
		return nil, err
	}
	return w.WorkingFoldersCached(), nil
}

// LoadFromServer fetches the workspace record. It does nothing for a
// workspace never saved, for one owned by someone else and, unless force
// is set, for one already loaded.
func (w *Workspace) LoadFromServer(ctx context.Context, force bool) error {
	w.mu.RLock()
	name, skip := w.nameLocked(), w.originalName == "" || (w.loaded && !force)
	w.mu.RUnlock()
	if skip || !w.HasCurrentOwnerAndComputer() {
		return nil
	}

	rec, err := w.server.VCS().LoadWorkspace(ctx, name, w.owner, false)
	if err != nil {
		return err
	}
	// Credentials may have changed while the call ran.
	if !w.HasCurrentOwnerAndComputer() {
		return &tfserr.WorkspaceNotFoundError{
			Message: fmt.Sprintf("workspace '%s' is no longer owned by %s", name, w.owner),
		}
	}
	w.mu.Lock()
	w.applyRecord(*rec)
	w.loaded = true
	w.mu.Unlock()
	return nil
}

// applyRecord copies server fields in. Callers hold mu or own w exclusively.
func (w *Workspace) applyRecord(rec vcs.Workspace) {
	w.originalName = rec.Name
	w.modifiedName = ""
	w.location = locationOf(rec.IsLocal)
	w.comment = rec.Comment
	w.timestamp = rec.LastAccessDate
	w.ownerDisplayName = rec.OwnerDisplayName
	w.ownerAliases = append([]string(nil), rec.OwnerAliases...)
	w.securityToken = rec.SecurityToken
	w.options = rec.Options

	folders := make([]WorkingFolder, 0, len(rec.Folders))
	for _, f := range rec.Folders {
		if f.LocalItem == "" {
			w.server.log().Info("skipping working folder without local path", zap.String("item", f.ServerItem))
			continue
		}
		status := Active
		if f.Type == vcs.FolderCloak {
			status = Cloaked
		}
		folders = append(folders, WorkingFolder{LocalPath: f.LocalItem, ServerPath: f.ServerItem, Status: status})
	}
	w.folders = folders
}

func (w *Workspace) record() vcs.Workspace {
	w.mu.RLock()
	defer w.mu.RUnlock()
	folders := make([]vcs.WorkingFolder, 0, len(w.folders))
	for _, f := range w.folders {
		folders = append(folders, f.record())
	}
	return vcs.Workspace{
		Name:             w.nameLocked(),
		Owner:            w.owner,
		Computer:         w.computer,
		Comment:          w.comment,
		LastAccessDate:   w.timestamp,
		IsLocal:          w.location == LocationLocal,
		OwnerDisplayName: w.ownerDisplayName,
		OwnerAliases:     append([]string(nil), w.ownerAliases...),
		SecurityToken:    w.securityToken,
		Options:          w.options,
		Folders:          folders,
	}
}

// HasCurrentOwnerAndComputer reports whether the server's authenticated
// user owns the workspace on this computer.
func (w *Workspace) HasCurrentOwnerAndComputer() bool {
	owner := w.server.QualifiedUsername()
	if owner == "" || !strings.EqualFold(owner, w.owner) {
		return false
	}
	return strings.EqualFold(w.server.workstation.ComputerName(), w.computer)
}

func (w *Workspace) hasMappingCached(local string, considerChildren bool) bool {
	return hasMapping(w.WorkingFoldersCached(), local, considerChildren)
}

func (w *Workspace) hasMapping(ctx context.Context, local string, considerChildren, reload bool) (bool, error) {
	if err := w.LoadFromServer(ctx, reload); err != nil {
		return false, err
	}
	// The owner may have changed during the load.
	return w.hasMappingCached(local, considerChildren) && w.HasCurrentOwnerAndComputer(), nil
}

// FindServerPathsByLocalPath translates local through the nearest parent
// mapping. Without one, and when considerChildren is set, it returns the
// server roots of every mapping below local.
func (w *Workspace) FindServerPathsByLocalPath(ctx context.Context, local string, considerChildren bool) ([]string, error) {
	folders, err := w.WorkingFolders(ctx)
	if err != nil {
		return nil, err
	}
	if f, ok := nearestByLocal(folders, local); ok {
		if f.Status == Cloaked {
			return nil, nil
		}
		sp, _ := f.ServerPathByLocalPath(local)
		return []string{sp}, nil
	}
	if !considerChildren {
		return nil, nil
	}
	var children []string
	for _, f := range folders {
		if f.Status == Active && f.ServerPath != "" && tfspath.Local.IsUnder(f.LocalPath, local, false) {
			children = append(children, f.ServerPath)
		}
	}
	return children, nil
}

// FindLocalPathByServerPath translates server through the nearest parent mapping.
func (w *Workspace) FindLocalPathByServerPath(ctx context.Context, server string, isDirectory bool) (tfspath.FilePath, bool, error) {
	folders, err := w.WorkingFolders(ctx)
	if err != nil {
		return tfspath.FilePath{}, false, err
	}
	var (
		best  WorkingFolder
		found bool
	)
	for _, f := range folders {
		if _, ok := f.LocalPathByServerPath(server, isDirectory); !ok {
			continue
		}
		if !found || tfspath.Server.IsUnder(f.ServerPath, best.ServerPath, false) {
			best, found = f, true
		}
	}
	if !found || best.Status == Cloaked {
		return tfspath.FilePath{}, false, nil
	}
	fp, _ := best.LocalPathByServerPath(server, isDirectory)
	return fp, true, nil
}

// HasLocalPathForServerPath reports whether server is mapped.
func (w *Workspace) HasLocalPathForServerPath(ctx context.Context, server string) (bool, error) {
	_, ok, err := w.FindLocalPathByServerPath(ctx, server, false)
	return ok, err
}

func nearestByLocal(folders []WorkingFolder, local string) (WorkingFolder, bool) {
	var (
		best  WorkingFolder
		found bool
	)
	for _, f := range folders {
		if _, ok := f.ServerPathByLocalPath(local); !ok {
			continue
		}
		if !found || tfspath.Local.IsUnder(f.LocalPath, best.LocalPath, false) {
			best, found = f, true
		}
	}
	return best, found
}

// GetExtendedItems returns the server item for each path, nil when the
// server does not know it.
func (w *Workspace) GetExtendedItems(ctx context.Context, paths []ItemPath) (map[ItemPath]*vcs.ExtendedItem, error) {
	specs := make([]vcs.ItemSpec, len(paths))
	for i, p := range paths {
		specs[i] = vcs.ItemSpec{Item: p.Server, Recursion: vcs.RecursionNone}
	}
	lists, err := w.server.VCS().GetExtendedItems(ctx, w.Ref(), specs, vcs.DeletedNonDeleted, vcs.ItemAny)
	if err != nil {
		return nil, err
	}
	result := make(map[ItemPath]*vcs.ExtendedItem, len(paths))
	for i, p := range paths {
		result[p] = nil
		if i < len(lists) && len(lists[i]) > 0 {
			item := lists[i][0]
			result[p] = &item
		}
	}
	return result, nil
}

// GetExtendedItemsAndPendingChanges queries items and pending changes in one round.
func (w *Workspace) GetExtendedItemsAndPendingChanges(ctx context.Context, specs []vcs.ItemSpec) (*vcs.ExtendedItemsAndPendingChanges, error) {
	return w.server.VCS().GetExtendedItemsAndPendingChanges(ctx, w.Ref(), specs, vcs.ItemAny)
}

// Copy returns a deep snapshot for edit-then-save flows.
func (w *Workspace) Copy() *Workspace {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return &Workspace{
		server:           w.server,
		owner:            w.owner,
		computer:         w.computer,
		originalName:     w.originalName,
		modifiedName:     w.modifiedName,
		comment:          w.comment,
		timestamp:        w.timestamp,
		loaded:           w.loaded,
		location:         w.location,
		ownerDisplayName: w.ownerDisplayName,
		ownerAliases:     append([]string(nil), w.ownerAliases...),
		securityToken:    w.securityToken,
		options:          w.options,
		folders:          append([]WorkingFolder(nil), w.folders...),
	}
}

const (
	invalidNameChars  = `"/:<>|*?`
	invalidNameEnding = " ."
)

// IsValidName reports whether name may be used for a workspace.
func IsValidName(name string) bool {
	if name == "" || strings.ContainsAny(name, invalidNameChars) {
		return false
	}
	return !strings.ContainsAny(name[len(name)-1:], invalidNameEnding)
}
