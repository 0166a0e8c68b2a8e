// Package vcs holds the typed records exchanged with a version-control
// server and the Client interface that carries them.
//
// Local paths in these records are host paths; transports convert to and
// from the wire form.
package vcs

import (
	"time"

	"github.com/bolasblack/tfvc/internal/credentials"
)

// NoVersion marks an absent local or latest version.
const NoVersion = -1 << 31

// ItemType distinguishes files from folders.
type ItemType string

const (
	ItemAny    ItemType = "Any"
	ItemFile   ItemType = "File"
	ItemFolder ItemType = "Folder"
)

// RecursionType controls how far an ItemSpec descends.
type RecursionType string

const (
	RecursionNone     RecursionType = "None"
	RecursionOneLevel RecursionType = "OneLevel"
	RecursionFull     RecursionType = "Full"
)

// DeletedState filters deleted items in queries.
type DeletedState string

const (
	DeletedNonDeleted DeletedState = "NonDeleted"
	DeletedDeleted    DeletedState = "Deleted"
	DeletedAny        DeletedState = "Any"
)

// LockLevel is the strength of an item lock. LockNone unlocks.
type LockLevel string

const (
	LockNone     LockLevel = "None"
	LockCheckin  LockLevel = "Checkin"
	LockCheckOut LockLevel = "CheckOut"
)

// ItemSpec names one item by local or server path.
type ItemSpec struct {
	Item       string
	Recursion  RecursionType
	DeletionID int
}

// ExtendedItem is the server's view of one item in a workspace.
type ExtendedItem struct {
	ItemID       int
	Local        string // empty when not downloaded
	TargetItem   string
	SourceItem   string
	Type         ItemType
	LocalVersion int
	Latest       int
	ChangeType   ChangeTypeMask
	DeletionID   int
	Encoding     int
	Lock         LockLevel
	LockOwner    string

	HasOtherPendingChange bool
}

// HasLocal reports whether the item is downloaded to the workspace.
func (e *ExtendedItem) HasLocal() bool { return e.Local != "" }

// IsFolder reports whether the server records the item as a folder.
func (e *ExtendedItem) IsFolder() bool { return e.Type == ItemFolder }

// PendingChange is an uncommitted change in a workspace.
type PendingChange struct {
	ItemID           int
	Local            string
	ServerItem       string
	SourceServerItem string
	SourceLocal      string
	Type             ItemType
	ChangeType       ChangeTypeMask
	Version          int
	Encoding         int
	Date             time.Time
}

// ExtendedItemsAndPendingChanges is the combined response used by status.
type ExtendedItemsAndPendingChanges struct {
	ExtendedItems  []ExtendedItem
	PendingChanges []PendingChange
}

// FolderType is the status of a working folder.
type FolderType string

const (
	FolderMap   FolderType = "Map"
	FolderCloak FolderType = "Cloak"
)

// WorkingFolder is one mapping inside a workspace record.
type WorkingFolder struct {
	Type       FolderType
	ServerItem string
	LocalItem  string // empty for cloaks
}

// Workspace is the server's workspace record.
type Workspace struct {
	Name             string
	Owner            string
	Computer         string
	Comment          string
	LastAccessDate   time.Time
	IsLocal          bool
	OwnerDisplayName string
	OwnerAliases     []string
	SecurityToken    string
	Options          int
	Folders          []WorkingFolder
}

// WorkspaceRef identifies a workspace in item-level calls.
type WorkspaceRef struct {
	Name  string
	Owner string
}

// GetOperation tells the client what to do with a local file.
type GetOperation struct {
	ItemID      int
	SourceLocal string
	TargetLocal string
	ServerItem  string
	Type        ItemType
	ChangeType  ChangeTypeMask
	Version     int
	DownloadURL string
}

// SeverityType ranks a failure.
type SeverityType string

const (
	SeverityError   SeverityType = "Error"
	SeverityWarning SeverityType = "Warning"
)

// Failure is a per-item error that does not abort the call.
type Failure struct {
	Code       string
	Severity   SeverityType
	Message    string
	Item       string
	LocalItem  string
	ServerItem string
}

func (f Failure) Error() string {
	return f.Message
}

// ResultWithFailures is a list of operations plus per-item failures.
type ResultWithFailures struct {
	Operations []GetOperation
	Failures   []Failure
}

// Change is one item in a changeset.
type Change struct {
	ServerItem string
	Type       ItemType
	ChangeType ChangeTypeMask
}

// Changeset is a committed set of changes.
type Changeset struct {
	ID      int
	Owner   string
	Date    time.Time
	Comment string
	Changes []Change
}

// Resolution is the choice applied to a conflict.
type Resolution string

const (
	AcceptYours  Resolution = "AcceptYours"
	AcceptTheirs Resolution = "AcceptTheirs"
	AcceptMerge  Resolution = "AcceptMerge"
)

// Conflict is a server-detected conflict between local and target changes.
type Conflict struct {
	ConflictID      int
	ItemID          int
	Type            ItemType
	YoursChange     ChangeTypeMask
	BaseChange      ChangeTypeMask
	TheirsChange    ChangeTypeMask
	YoursServerItem string
	BaseServerItem  string
	SourceLocalItem string
	TargetLocalItem string
	YoursVersion    int
	TheirsVersion   int
	BaseVersion     int
	IsResolved      bool

	TheirsServerItem string

	// YoursServerItemSource is the server path the local item came from.
	YoursServerItemSource string
}

// ResolveResult is the outcome of resolving a conflict.
type ResolveResult struct {
	Operations []GetOperation
	Resolved   []Conflict
}

// ServerDescriptor is the outcome of a successful connect handshake.
type ServerDescriptor struct {
	InstanceID  string
	DisplayName string

	// AuthorizedCredentials carries the user and domain the server authenticated.
	AuthorizedCredentials *credentials.Credentials
}
