package workspace

import (
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
)

// FolderStatus is the state of a working folder.
type FolderStatus int

const (
	Active FolderStatus = iota
	Cloaked
)

func (s FolderStatus) String() string {
	if s == Cloaked {
		return "Cloaked"
	}
	return "Active"
}

// WorkingFolder maps a local root onto a server root.
type WorkingFolder struct {
	LocalPath  string
	ServerPath string
	Status     FolderStatus
}

// ServerPathByLocalPath translates a local path under the folder's root.
func (f WorkingFolder) ServerPathByLocalPath(local string) (string, bool) {
	if f.ServerPath == "" {
		return "", false
	}
	return tfspath.ToServerPath(f.LocalPath, f.ServerPath, local)
}

// LocalPathByServerPath translates a server path under the folder's root.
func (f WorkingFolder) LocalPathByServerPath(server string, isDirectory bool) (tfspath.FilePath, bool) {
	if f.ServerPath == "" {
		return tfspath.FilePath{}, false
	}
	return tfspath.ToLocalPath(f.LocalPath, f.ServerPath, server, isDirectory)
}

func (f WorkingFolder) record() vcs.WorkingFolder {
	t := vcs.FolderMap
	if f.Status == Cloaked {
		t = vcs.FolderCloak
	}
	return vcs.WorkingFolder{Type: t, ServerItem: f.ServerPath, LocalItem: f.LocalPath}
}

func hasMapping(folders []WorkingFolder, local string, considerChildren bool) bool {
	for _, f := range folders {
		if tfspath.Local.IsUnder(local, f.LocalPath, false) {
			return true
		}
		if considerChildren && tfspath.Local.IsUnder(f.LocalPath, local, false) {
			return true
		}
	}
	return false
}

// ItemPath is one requested item in both namespaces.
type ItemPath struct {
	Local  tfspath.FilePath
	Server string
}
