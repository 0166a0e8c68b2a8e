package vcs

import (
	"context"

	"github.com/bolasblack/tfvc/internal/credentials"
)

// Client performs raw RPCs against one server with one set of credentials.
// Implementations return tfserr kinds for authentication and transport failures.
type Client interface {
	// Connect authenticates and describes the server.
	Connect(ctx context.Context) (*ServerDescriptor, error)

	QueryHistory(ctx context.Context, ws WorkspaceRef, item ItemSpec, versionFrom, versionTo, maxCount int) ([]Changeset, error)
	GetExtendedItems(ctx context.Context, ws WorkspaceRef, specs []ItemSpec, deleted DeletedState, itemType ItemType) ([][]ExtendedItem, error)
	GetExtendedItemsAndPendingChanges(ctx context.Context, ws WorkspaceRef, specs []ItemSpec, itemType ItemType) (*ExtendedItemsAndPendingChanges, error)
	CheckoutForEdit(ctx context.Context, ws WorkspaceRef, specs []ItemSpec) (*ResultWithFailures, error)
	LockOrUnlockItems(ctx context.Context, ws WorkspaceRef, level LockLevel, specs []ItemSpec) (*ResultWithFailures, error)

	CreateWorkspace(ctx context.Context, ws Workspace) (*Workspace, error)
	UpdateWorkspace(ctx context.Context, oldName, owner string, ws Workspace) (*Workspace, error)
	LoadWorkspace(ctx context.Context, name, owner string) (*Workspace, error)
	QueryWorkspaces(ctx context.Context, owner, computer string) ([]Workspace, error)
	DeleteWorkspace(ctx context.Context, name, owner string) error

	QueryConflicts(ctx context.Context, ws WorkspaceRef, specs []ItemSpec) ([]Conflict, error)
	Resolve(ctx context.Context, ws WorkspaceRef, conflictID int, resolution Resolution, newPath string) (*ResolveResult, error)
}

// Transport opens clients for a server URI.
type Transport interface {
	Open(serverURI string, creds *credentials.Credentials) Client
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(serverURI string, creds *credentials.Credentials) Client

// Open implements Transport.
func (f TransportFunc) Open(serverURI string, creds *credentials.Credentials) Client {
	return f(serverURI, creds)
}
