package soap

import (
	"context"
	"encoding/xml"

	"github.com/bolasblack/tfvc/internal/vcs"
)

func (c *Client) repository(ctx context.Context, action string, in, out any) error {
	return c.call(ctx, repositoryEndpoint, repositoryNS, action, in, out)
}

type queryHistory struct {
	XMLName        xml.Name         `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 QueryHistory"`
	WorkspaceName  string           `xml:"workspaceName,omitempty"`
	WorkspaceOwner string           `xml:"workspaceOwner,omitempty"`
	ItemSpec       wireItemSpec     `xml:"itemSpec"`
	VersionFrom    *wireVersionSpec `xml:"versionFrom,omitempty"`
	VersionTo      *wireVersionSpec `xml:"versionTo,omitempty"`
	MaxCount       int              `xml:"maxCount"`
	IncludeFiles   bool             `xml:"includeFiles"`
}

type queryHistoryResponse struct {
	Changesets []wireChangeset `xml:"QueryHistoryResult>Changeset"`
}

func (c *Client) QueryHistory(ctx context.Context, ws vcs.WorkspaceRef, item vcs.ItemSpec, versionFrom, versionTo, maxCount int) ([]vcs.Changeset, error) {
	var resp queryHistoryResponse
	err := c.repository(ctx, "QueryHistory", queryHistory{
		WorkspaceName:  ws.Name,
		WorkspaceOwner: ws.Owner,
		ItemSpec:       toWireSpec(item),
		VersionFrom:    versionSpec(versionFrom),
		VersionTo:      versionSpec(versionTo),
		MaxCount:       maxCount,
		IncludeFiles:   true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]vcs.Changeset, 0, len(resp.Changesets))
	for _, cs := range resp.Changesets {
		out = append(out, cs.record())
	}
	return out, nil
}

type getExtendedItems struct {
	XMLName        xml.Name       `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 QueryItemsExtended"`
	WorkspaceName  string         `xml:"workspaceName,omitempty"`
	WorkspaceOwner string         `xml:"workspaceOwner,omitempty"`
	Items          []wireItemSpec `xml:"items>ItemSpec"`
	DeletedState   string         `xml:"deletedState"`
	ItemType       string         `xml:"itemType"`
}

type getExtendedItemsResponse struct {
	Sets []struct {
		Items []wireExtendedItem `xml:"ExtendedItem"`
	} `xml:"QueryItemsExtendedResult>ArrayOfExtendedItem"`
}

func (c *Client) GetExtendedItems(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec, deleted vcs.DeletedState, itemType vcs.ItemType) ([][]vcs.ExtendedItem, error) {
	var resp getExtendedItemsResponse
	err := c.repository(ctx, "QueryItemsExtended", getExtendedItems{
		WorkspaceName:  ws.Name,
		WorkspaceOwner: ws.Owner,
		Items:          toWireSpecs(specs),
		DeletedState:   string(deleted),
		ItemType:       string(itemType),
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([][]vcs.ExtendedItem, 0, len(resp.Sets))
	for _, set := range resp.Sets {
		items := make([]vcs.ExtendedItem, 0, len(set.Items))
		for _, it := range set.Items {
			items = append(items, it.record())
		}
		out = append(out, items)
	}
	return out, nil
}

type queryPendingSets struct {
	XMLName        xml.Name       `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 QueryPendingSets"`
	LocalWorkspace string         `xml:"localWorkspaceName"`
	LocalOwner     string         `xml:"localWorkspaceOwner"`
	QueryWorkspace string         `xml:"queryWorkspaceName"`
	OwnerName      string         `xml:"ownerName"`
	Items          []wireItemSpec `xml:"itemSpecs>ItemSpec"`
	GenerateURLs   bool           `xml:"generateDownloadUrls"`
}

type queryPendingSetsResponse struct {
	Sets []struct {
		Changes []wirePendingChange `xml:"PendingChanges>PendingChange"`
	} `xml:"QueryPendingSetsResult>PendingSet"`
	Failures []wireFailure `xml:"failures>Failure"`
}

// GetExtendedItemsAndPendingChanges queries items and the workspace's
// pending changes for the same specs.
func (c *Client) GetExtendedItemsAndPendingChanges(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec, itemType vcs.ItemType) (*vcs.ExtendedItemsAndPendingChanges, error) {
	sets, err := c.GetExtendedItems(ctx, ws, specs, vcs.DeletedNonDeleted, itemType)
	if err != nil {
		return nil, err
	}
	var resp queryPendingSetsResponse
	err = c.repository(ctx, "QueryPendingSets", queryPendingSets{
		LocalWorkspace: ws.Name,
		LocalOwner:     ws.Owner,
		QueryWorkspace: ws.Name,
		OwnerName:      ws.Owner,
		Items:          toWireSpecs(specs),
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := &vcs.ExtendedItemsAndPendingChanges{}
	for _, set := range sets {
		out.ExtendedItems = append(out.ExtendedItems, set...)
	}
	for _, set := range resp.Sets {
		for _, pc := range set.Changes {
			out.PendingChanges = append(out.PendingChanges, pc.record())
		}
	}
	return out, nil
}

type changeRequest struct {
	Request  string       `xml:"req,attr"`
	Lock     string       `xml:"lock,attr,omitempty"`
	ItemType string       `xml:"type,attr,omitempty"`
	Item     wireItemSpec `xml:"item"`
}

type pendChanges struct {
	XMLName        xml.Name        `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 PendChanges"`
	WorkspaceName  string          `xml:"workspaceName"`
	WorkspaceOwner string          `xml:"ownerName"`
	Changes        []changeRequest `xml:"changes>ChangeRequest"`
}

type pendChangesResponse struct {
	Operations []wireGetOperation `xml:"PendChangesResult>GetOperation"`
	Failures   []wireFailure      `xml:"failures>Failure"`
}

func (r pendChangesResponse) record() *vcs.ResultWithFailures {
	return wireResultWithFailures{Operations: r.Operations, Failures: r.Failures}.record()
}

func (c *Client) pend(ctx context.Context, ws vcs.WorkspaceRef, changes []changeRequest) (*vcs.ResultWithFailures, error) {
	var resp pendChangesResponse
	err := c.repository(ctx, "PendChanges", pendChanges{
		WorkspaceName:  ws.Name,
		WorkspaceOwner: ws.Owner,
		Changes:        changes,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.record(), nil
}

func (c *Client) CheckoutForEdit(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec) (*vcs.ResultWithFailures, error) {
	changes := make([]changeRequest, 0, len(specs))
	for _, s := range specs {
		changes = append(changes, changeRequest{Request: "Edit", Item: toWireSpec(s)})
	}
	return c.pend(ctx, ws, changes)
}

func (c *Client) LockOrUnlockItems(ctx context.Context, ws vcs.WorkspaceRef, level vcs.LockLevel, specs []vcs.ItemSpec) (*vcs.ResultWithFailures, error) {
	changes := make([]changeRequest, 0, len(specs))
	for _, s := range specs {
		changes = append(changes, changeRequest{Request: "Lock", Lock: string(level), Item: toWireSpec(s)})
	}
	return c.pend(ctx, ws, changes)
}

type createWorkspace struct {
	XMLName   xml.Name      `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 CreateWorkspace"`
	Workspace wireWorkspace `xml:"workspace"`
}

type workspaceResponse struct {
	Workspace wireWorkspace `xml:",any"`
}

func (c *Client) CreateWorkspace(ctx context.Context, ws vcs.Workspace) (*vcs.Workspace, error) {
	var resp workspaceResponse
	if err := c.repository(ctx, "CreateWorkspace", createWorkspace{Workspace: toWireWorkspace(ws)}, &resp); err != nil {
		return nil, err
	}
	return resp.Workspace.record(), nil
}

type updateWorkspace struct {
	XMLName      xml.Name      `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 UpdateWorkspace"`
	OldName      string        `xml:"oldWorkspaceName"`
	OwnerName    string        `xml:"ownerName"`
	NewWorkspace wireWorkspace `xml:"newWorkspace"`
}

func (c *Client) UpdateWorkspace(ctx context.Context, oldName, owner string, ws vcs.Workspace) (*vcs.Workspace, error) {
	var resp workspaceResponse
	err := c.repository(ctx, "UpdateWorkspace", updateWorkspace{
		OldName:      oldName,
		OwnerName:    owner,
		NewWorkspace: toWireWorkspace(ws),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Workspace.record(), nil
}

type queryWorkspace struct {
	XMLName       xml.Name `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 QueryWorkspace"`
	WorkspaceName string   `xml:"workspaceName"`
	OwnerName     string   `xml:"ownerName"`
}

func (c *Client) LoadWorkspace(ctx context.Context, name, owner string) (*vcs.Workspace, error) {
	var resp workspaceResponse
	if err := c.repository(ctx, "QueryWorkspace", queryWorkspace{WorkspaceName: name, OwnerName: owner}, &resp); err != nil {
		return nil, err
	}
	return resp.Workspace.record(), nil
}

type queryWorkspaces struct {
	XMLName   xml.Name `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 QueryWorkspaces"`
	OwnerName string   `xml:"ownerName"`
	Computer  string   `xml:"computer"`
}

type queryWorkspacesResponse struct {
	Workspaces []wireWorkspace `xml:"QueryWorkspacesResult>Workspace"`
}

func (c *Client) QueryWorkspaces(ctx context.Context, owner, computer string) ([]vcs.Workspace, error) {
	var resp queryWorkspacesResponse
	if err := c.repository(ctx, "QueryWorkspaces", queryWorkspaces{OwnerName: owner, Computer: computer}, &resp); err != nil {
		return nil, err
	}
	out := make([]vcs.Workspace, 0, len(resp.Workspaces))
	for _, w := range resp.Workspaces {
		out = append(out, *w.record())
	}
	return out, nil
}

type deleteWorkspace struct {
	XMLName       xml.Name `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 DeleteWorkspace"`
	WorkspaceName string   `xml:"workspaceName"`
	OwnerName     string   `xml:"ownerName"`
}

func (c *Client) DeleteWorkspace(ctx context.Context, name, owner string) error {
	return c.repository(ctx, "DeleteWorkspace", deleteWorkspace{WorkspaceName: name, OwnerName: owner}, nil)
}

type queryConflicts struct {
	XMLName        xml.Name       `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 QueryConflicts"`
	WorkspaceName  string         `xml:"workspaceName"`
	WorkspaceOwner string         `xml:"ownerName"`
	Items          []wireItemSpec `xml:"items>ItemSpec"`
}

type queryConflictsResponse struct {
	Conflicts []wireConflict `xml:"QueryConflictsResult>Conflict"`
}

func (c *Client) QueryConflicts(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec) ([]vcs.Conflict, error) {
	var resp queryConflictsResponse
	err := c.repository(ctx, "QueryConflicts", queryConflicts{
		WorkspaceName:  ws.Name,
		WorkspaceOwner: ws.Owner,
		Items:          toWireSpecs(specs),
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]vcs.Conflict, 0, len(resp.Conflicts))
	for _, cf := range resp.Conflicts {
		out = append(out, cf.record())
	}
	return out, nil
}

type resolve struct {
	XMLName        xml.Name `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03 Resolve"`
	WorkspaceName  string   `xml:"workspaceName"`
	WorkspaceOwner string   `xml:"ownerName"`
	ConflictID     int      `xml:"conflictId"`
	Resolution     string   `xml:"resolution"`
	NewPath        string   `xml:"newPath,omitempty"`
}

type resolveResponse struct {
	Operations []wireGetOperation `xml:"ResolveResult>GetOperation"`
	Resolved   []wireConflict     `xml:"resolvedConflicts>Conflict"`
}

func (c *Client) Resolve(ctx context.Context, ws vcs.WorkspaceRef, conflictID int, resolution vcs.Resolution, newPath string) (*vcs.ResolveResult, error) {
	var resp resolveResponse
	err := c.repository(ctx, "Resolve", resolve{
		WorkspaceName:  ws.Name,
		WorkspaceOwner: ws.Owner,
		ConflictID:     conflictID,
		Resolution:     string(resolution),
		NewPath:        newPath,
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := &vcs.ResolveResult{}
	for _, op := range resp.Operations {
		out.Operations = append(out.Operations, op.record())
	}
	for _, cf := range resp.Resolved {
		out.Resolved = append(out.Resolved, cf.record())
	}
	return out, nil
}
