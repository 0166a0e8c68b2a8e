// Package versioncontrol exposes one server's RPCs, each routed through the
// request manager so that login, retry and serialization apply uniformly.
package versioncontrol

import (
	"context"
	"errors"

	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/request"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
)

// Downloader is implemented by clients able to fetch file content.
type Downloader interface {
	Download(ctx context.Context, downloadURL string) ([]byte, error)
}

// ErrDownloadUnsupported is returned when the transport cannot fetch content.
var ErrDownloadUnsupported = errors.New("transport does not support downloads")

// Server is the request-managed facade for one server.
type Server struct {
	uri       string
	manager   *request.Manager
	transport vcs.Transport
}

// New returns the facade for serverURI.
func New(reg *request.Registry, transport vcs.Transport, serverURI string) *Server {
	uri := tfspath.CanonicalizeURI(serverURI)
	return &Server{uri: uri, manager: reg.Manager(uri), transport: transport}
}

// URI is the canonical server URI.
func (s *Server) URI() string {
	return s.uri
}

func call[T any](ctx context.Context, s *Server, title string, force bool, fn func(ctx context.Context, c vcs.Client) (T, error)) (T, error) {
	return request.Execute(ctx, s.manager, request.ExecOptions{Force: force}, request.Request[T]{
		Title: title,
		Execute: func(ctx context.Context, creds *credentials.Credentials, serverURI string) (T, error) {
			return fn(ctx, s.transport.Open(serverURI, creds))
		},
	})
}

// EnsureAuthenticated makes sure valid credentials for the server are
// stored, prompting when needed. force ignores an earlier cancelled login.
func (s *Server) EnsureAuthenticated(ctx context.Context, force bool) (*vcs.ServerDescriptor, error) {
	return call(ctx, s, "Connect", force, func(ctx context.Context, c vcs.Client) (*vcs.ServerDescriptor, error) {
		return c.Connect(ctx)
	})
}

// Session describes a server reached through the add-server dialog.
type Session struct {
	ServerURI  string
	Descriptor *vcs.ServerDescriptor
}

// AddServer shows the login dialog with an editable address and connects
// to whatever server the user enters. It must run on the dispatch goroutine.
func AddServer(ctx context.Context, reg *request.Registry, transport vcs.Transport) (*Session, error) {
	return request.Execute(ctx, reg.Manager(""), request.ExecOptions{}, request.Request[*Session]{
		Title: "Connect",
		Execute: func(ctx context.Context, creds *credentials.Credentials, serverURI string) (*Session, error) {
			desc, err := transport.Open(serverURI, creds).Connect(ctx)
			if err != nil {
				return nil, err
			}
			return &Session{ServerURI: tfspath.CanonicalizeURI(serverURI), Descriptor: desc}, nil
		},
	})
}

// LoadWorkspace reads a workspace record.
func (s *Server) LoadWorkspace(ctx context.Context, name, owner string, force bool) (*vcs.Workspace, error) {
	return call(ctx, s, "Load workspace", force, func(ctx context.Context, c vcs.Client) (*vcs.Workspace, error) {
		return c.LoadWorkspace(ctx, name, owner)
	})
}

// CreateWorkspace creates a workspace record.
func (s *Server) CreateWorkspace(ctx context.Context, ws vcs.Workspace) (*vcs.Workspace, error) {
	return call(ctx, s, "Create workspace", false, func(ctx context.Context, c vcs.Client) (*vcs.Workspace, error) {
		return c.CreateWorkspace(ctx, ws)
	})
}

// UpdateWorkspace replaces the workspace stored as oldName.
func (s *Server) UpdateWorkspace(ctx context.Context, oldName string, ws vcs.Workspace, force bool) (*vcs.Workspace, error) {
	return call(ctx, s, "Update workspace", force, func(ctx context.Context, c vcs.Client) (*vcs.Workspace, error) {
		return c.UpdateWorkspace(ctx, oldName, ws.Owner, ws)
	})
}

// QueryWorkspaces lists workspaces of owner on computer.
func (s *Server) QueryWorkspaces(ctx context.Context, owner, computer string) ([]vcs.Workspace, error) {
	return call(ctx, s, "Query workspaces", false, func(ctx context.Context, c vcs.Client) ([]vcs.Workspace, error) {
		return c.QueryWorkspaces(ctx, owner, computer)
	})
}

// DeleteWorkspace removes a workspace record.
func (s *Server) DeleteWorkspace(ctx context.Context, name, owner string) error {
	_, err := call(ctx, s, "Delete workspace", false, func(ctx context.Context, c vcs.Client) (struct{}, error) {
		return struct{}{}, c.DeleteWorkspace(ctx, name, owner)
	})
	return err
}

// QueryHistory lists changesets touching item, newest first.
func (s *Server) QueryHistory(ctx context.Context, ws vcs.WorkspaceRef, item vcs.ItemSpec, versionFrom, versionTo, maxCount int) ([]vcs.Changeset, error) {
	return call(ctx, s, "Query history", false, func(ctx context.Context, c vcs.Client) ([]vcs.Changeset, error) {
		return c.QueryHistory(ctx, ws, item, versionFrom, versionTo, maxCount)
	})
}

// GetExtendedItems returns one list of items per spec.
func (s *Server) GetExtendedItems(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec, deleted vcs.DeletedState, itemType vcs.ItemType) ([][]vcs.ExtendedItem, error) {
	return call(ctx, s, "Query items", false, func(ctx context.Context, c vcs.Client) ([][]vcs.ExtendedItem, error) {
		return c.GetExtendedItems(ctx, ws, specs, deleted, itemType)
	})
}

// GetExtendedItemsAndPendingChanges returns items and pending changes
// matching specs in one round.
func (s *Server) GetExtendedItemsAndPendingChanges(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec, itemType vcs.ItemType) (*vcs.ExtendedItemsAndPendingChanges, error) {
	return call(ctx, s, "Query status", false, func(ctx context.Context, c vcs.Client) (*vcs.ExtendedItemsAndPendingChanges, error) {
		return c.GetExtendedItemsAndPendingChanges(ctx, ws, specs, itemType)
	})
}

// CheckoutForEdit pends edits.
func (s *Server) CheckoutForEdit(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec) (*vcs.ResultWithFailures, error) {
	return call(ctx, s, "Check out", false, func(ctx context.Context, c vcs.Client) (*vcs.ResultWithFailures, error) {
		return c.CheckoutForEdit(ctx, ws, specs)
	})
}

// LockOrUnlockItems applies level to specs. vcs.LockNone unlocks.
func (s *Server) LockOrUnlockItems(ctx context.Context, ws vcs.WorkspaceRef, level vcs.LockLevel, specs []vcs.ItemSpec) (*vcs.ResultWithFailures, error) {
	title := "Lock"
	if level == vcs.LockNone {
		title = "Unlock"
	}
	return call(ctx, s, title, false, func(ctx context.Context, c vcs.Client) (*vcs.ResultWithFailures, error) {
		return c.LockOrUnlockItems(ctx, ws, level, specs)
	})
}

// QueryConflicts lists unresolved conflicts under specs.
func (s *Server) QueryConflicts(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec) ([]vcs.Conflict, error) {
	return call(ctx, s, "Query conflicts", false, func(ctx context.Context, c vcs.Client) ([]vcs.Conflict, error) {
		return c.QueryConflicts(ctx, ws, specs)
	})
}

// Resolve resolves one conflict.
func (s *Server) Resolve(ctx context.Context, ws vcs.WorkspaceRef, conflictID int, resolution vcs.Resolution, newPath string) (*vcs.ResolveResult, error) {
	return call(ctx, s, "Resolve conflict", false, func(ctx context.Context, c vcs.Client) (*vcs.ResolveResult, error) {
		return c.Resolve(ctx, ws, conflictID, resolution, newPath)
	})
}

// Download fetches the content behind a GetOperation download URL.
func (s *Server) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	return call(ctx, s, "Download", false, func(ctx context.Context, c vcs.Client) ([]byte, error) {
		d, ok := c.(Downloader)
		if !ok {
			return nil, &tfserr.Error{Err: ErrDownloadUnsupported}
		}
		return d.Download(ctx, downloadURL)
	})
}
