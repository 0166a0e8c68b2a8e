package workspace

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/versioncontrol"
)

// Server is a registered server and the workspaces known on it.
type Server struct {
	workstation *Workstation
	uri         string
	guid        string

	vcOnce sync.Once
	vc     *versioncontrol.Server

	mu         sync.Mutex
	workspaces []*Workspace
}

// URI is the canonical server URI.
func (s *Server) URI() string { return s.uri }

// GUID is the server instance id.
func (s *Server) GUID() string { return s.guid }

// VCS is the request-managed facade for the server.
func (s *Server) VCS() *versioncontrol.Server {
	s.vcOnce.Do(func() {
		s.vc = s.workstation.vcs(s.uri)
	})
	return s.vc
}

func (s *Server) log() *zap.Logger {
	return s.workstation.log.With(zap.String("server", s.uri))
}

// QualifiedUsername is the user the stored credentials name, or "" when
// the server has no credentials yet.
func (s *Server) QualifiedUsername() string {
	creds := s.workstation.config.Credentials(s.uri)
	if creds == nil || creds.UserName == "" {
		return ""
	}
	return creds.QualifiedUsername()
}

// Workspaces lists every known workspace in registration order.
func (s *Server) Workspaces() []*Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Workspace(nil), s.workspaces...)
}

// WorkspacesForCurrentOwnerAndComputer filters Workspaces to the ones the
// current user owns on this computer.
func (s *Server) WorkspacesForCurrentOwnerAndComputer() []*Workspace {
	var result []*Workspace
	for _, w := range s.Workspaces() {
		if w.HasCurrentOwnerAndComputer() {
			result = append(result, w)
		}
	}
	return result
}

// AddWorkspace registers w.
func (s *Server) AddWorkspace(w *Workspace) {
	s.mu.Lock()
	s.workspaces = append(s.workspaces, w)
	s.mu.Unlock()
}

// replaceWorkspace swaps the entry named like original for w. Workspaces
// with the same name on a server are the same workspace.
func (s *Server) replaceWorkspace(original, w *Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if original != nil {
		name := original.Name()
		for i, existing := range s.workspaces {
			if existing == original || strings.EqualFold(existing.Name(), name) {
				s.workspaces[i] = w
				return
			}
		}
	}
	s.workspaces = append(s.workspaces, w)
}

func (s *Server) removeWorkspace(w *Workspace) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.workspaces {
		if existing == w {
			s.workspaces = append(s.workspaces[:i], s.workspaces[i+1:]...)
			return true
		}
	}
	return false
}

// DeleteWorkspace deletes w on the server and forgets it.
func (s *Server) DeleteWorkspace(ctx context.Context, w *Workspace) error {
	if err := s.VCS().DeleteWorkspace(ctx, w.Name(), w.OwnerName()); err != nil {
		return err
	}
	s.removeWorkspace(w)
	s.workstation.Update()
	return nil
}

// RefreshWorkspacesForCurrentOwner replaces the current user's workspaces
// on this computer with the server's list.
func (s *Server) RefreshWorkspacesForCurrentOwner(ctx context.Context) error {
	if s.QualifiedUsername() == "" {
		if _, err := s.VCS().EnsureAuthenticated(ctx, false); err != nil {
			return err
		}
	}
	owner, computer := s.QualifiedUsername(), s.workstation.ComputerName()
	records, err := s.VCS().QueryWorkspaces(ctx, owner, computer)
	if err != nil {
		return err
	}

	s.mu.Lock()
	kept := s.workspaces[:0:0]
	for _, w := range s.workspaces {
		if !strings.EqualFold(w.OwnerName(), owner) || !strings.EqualFold(w.Computer(), computer) {
			kept = append(kept, w)
		}
	}
	for _, rec := range records {
		kept = append(kept, newFromRecord(s, rec))
	}
	s.workspaces = kept
	s.mu.Unlock()

	s.workstation.Update()
	return nil
}
