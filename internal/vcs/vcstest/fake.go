// Package vcstest provides an in-memory version-control server for tests.
package vcstest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
)

// Call records one RPC made against the fake.
type Call struct {
	Method string
	URI    string
	User   string
}

// Server is a scriptable fake. The zero value is not usable; use NewServer.
type Server struct {
	InstanceID string

	mu             sync.Mutex
	passwords      map[string]string // qualified user -> password; nil accepts anyone
	workspaces     map[string]vcs.Workspace
	extendedItems  []vcs.ExtendedItem
	pendingChanges []vcs.PendingChange
	conflicts      []vcs.Conflict
	changesets     []vcs.Changeset
	failures       map[string][]error
	calls          []Call
	inFlight       int
	maxInFlight    int

	// Delay is slept inside every call while it counts as in flight.
	Delay time.Duration
	// OnResolve, when set, computes the outcome of Resolve.
	OnResolve func(c vcs.Conflict, resolution vcs.Resolution, newPath string) *vcs.ResolveResult
}

// NewServer returns an empty fake server.
func NewServer(instanceID string) *Server {
	return &Server{
		InstanceID: instanceID,
		workspaces: make(map[string]vcs.Workspace),
		failures:   make(map[string][]error),
	}
}

// RequirePassword restricts access to the given account.
func (s *Server) RequirePassword(qualifiedUser, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passwords == nil {
		s.passwords = make(map[string]string)
	}
	s.passwords[strings.ToLower(qualifiedUser)] = password
}

// FailNext queues errors returned by the next calls to method.
func (s *Server) FailNext(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], errs...)
}

// PutWorkspace stores a workspace record.
func (s *Server) PutWorkspace(ws vcs.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[workspaceKey(ws.Name, ws.Owner)] = ws
}

// Workspace returns a stored workspace record.
func (s *Server) Workspace(name, owner string) (vcs.Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[workspaceKey(name, owner)]
	return ws, ok
}

// SetItems replaces the extended items and pending changes.
func (s *Server) SetItems(items []vcs.ExtendedItem, changes []vcs.PendingChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extendedItems = items
	s.pendingChanges = changes
}

// PendingChanges returns a copy of the current pending changes.
func (s *Server) PendingChanges() []vcs.PendingChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]vcs.PendingChange(nil), s.pendingChanges...)
}

// AddPendingChange appends a pending change.
func (s *Server) AddPendingChange(pc vcs.PendingChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingChanges = append(s.pendingChanges, pc)
}

// SetConflicts replaces the conflict list.
func (s *Server) SetConflicts(conflicts []vcs.Conflict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = conflicts
}

// SetHistory replaces the changeset list.
func (s *Server) SetHistory(changesets []vcs.Changeset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changesets = changesets
}

// Calls returns the RPCs made so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount counts calls to method.
func (s *Server) CallCount(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// MaxInFlight is the highest number of concurrent calls observed.
func (s *Server) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

// Open implements vcs.Transport.
func (s *Server) Open(serverURI string, creds *credentials.Credentials) vcs.Client {
	return &client{server: s, uri: serverURI, creds: creds.Clone()}
}

func workspaceKey(name, owner string) string {
	return strings.ToLower(name) + ";" + strings.ToLower(owner)
}

type client struct {
	server *Server
	uri    string
	creds  *credentials.Credentials
}

// enter records the call, checks access and returns the release func.
func (c *client) enter(ctx context.Context, method string) (func(), error) {
	s := c.server
	s.mu.Lock()
	user := ""
	if c.creds != nil {
		user = c.creds.QualifiedUsername()
	}
	s.calls = append(s.calls, Call{Method: method, URI: c.uri, User: user})
	if queued := s.failures[method]; len(queued) > 0 {
		err := queued[0]
		s.failures[method] = queued[1:]
		s.mu.Unlock()
		return nil, err
	}
	if s.passwords != nil {
		if c.creds == nil {
			s.mu.Unlock()
			return nil, &tfserr.UnauthorizedError{}
		}
		want, ok := s.passwords[strings.ToLower(c.creds.QualifiedUsername())]
		if !ok || want != c.creds.Password {
			s.mu.Unlock()
			return nil, &tfserr.UnauthorizedError{Message: fmt.Sprintf("TF30063: You are not authorized to access %s", c.uri)}
		}
	}
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	delay := s.Delay
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (c *client) Connect(ctx context.Context) (*vcs.ServerDescriptor, error) {
	release, err := c.enter(ctx, "Connect")
	if err != nil {
		return nil, err
	}
	defer release()
	authorized := c.creds.Clone()
	if authorized == nil {
		authorized = credentials.New("fake", "FAKE", "", false)
	}
	if authorized.EffectiveKind().RequiresDomain() && authorized.Domain == "" {
		authorized.Domain = "FAKE"
	}
	return &vcs.ServerDescriptor{
		InstanceID:            c.server.InstanceID,
		DisplayName:           authorized.UserName,
		AuthorizedCredentials: authorized,
	}, nil
}

func (c *client) QueryHistory(ctx context.Context, ws vcs.WorkspaceRef, item vcs.ItemSpec, versionFrom, versionTo, maxCount int) ([]vcs.Changeset, error) {
	release, err := c.enter(ctx, "QueryHistory")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []vcs.Changeset
	for i := len(s.changesets) - 1; i >= 0; i-- {
		cs := s.changesets[i]
		if versionFrom > 0 && cs.ID < versionFrom || versionTo > 0 && cs.ID > versionTo {
			continue
		}
		if !touches(cs, item.Item) {
			continue
		}
		result = append(result, cs)
		if maxCount > 0 && len(result) == maxCount {
			break
		}
	}
	return result, nil
}

func touches(cs vcs.Changeset, path string) bool {
	if !tfspath.IsServerPath(path) {
		return true
	}
	for _, ch := range cs.Changes {
		if tfspath.Server.IsUnder(ch.ServerItem, path, false) {
			return true
		}
	}
	return false
}

func (c *client) GetExtendedItems(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec, deleted vcs.DeletedState, itemType vcs.ItemType) ([][]vcs.ExtendedItem, error) {
	release, err := c.enter(ctx, "GetExtendedItems")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([][]vcs.ExtendedItem, len(specs))
	for i, spec := range specs {
		for _, item := range s.extendedItems {
			if matchSpec(spec, item.Local, item.TargetItem) {
				result[i] = append(result[i], item)
			}
		}
	}
	return result, nil
}

func (c *client) GetExtendedItemsAndPendingChanges(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec, itemType vcs.ItemType) (*vcs.ExtendedItemsAndPendingChanges, error) {
	release, err := c.enter(ctx, "GetExtendedItemsAndPendingChanges")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	result := &vcs.ExtendedItemsAndPendingChanges{}
	seenItems := make(map[int]bool)
	seenChanges := make(map[int]bool)
	for _, spec := range specs {
		for _, item := range s.extendedItems {
			if !seenItems[item.ItemID] && matchSpec(spec, item.Local, item.TargetItem) {
				seenItems[item.ItemID] = true
				result.ExtendedItems = append(result.ExtendedItems, item)
			}
		}
		for _, pc := range s.pendingChanges {
			if !seenChanges[pc.ItemID] && matchSpec(spec, pc.Local, pc.ServerItem) {
				seenChanges[pc.ItemID] = true
				result.PendingChanges = append(result.PendingChanges, pc)
			}
		}
	}
	return result, nil
}

func matchSpec(spec vcs.ItemSpec, local, server string) bool {
	rules, path := tfspath.Local, local
	if tfspath.IsServerPath(spec.Item) {
		rules, path = tfspath.Server, server
	}
	if path == "" {
		return false
	}
	switch spec.Recursion {
	case vcs.RecursionFull:
		return rules.IsUnder(path, spec.Item, false)
	case vcs.RecursionOneLevel:
		if rules.Equal(path, spec.Item) {
			return true
		}
		rel, ok := rules.Relativize(spec.Item, path)
		return ok && !strings.ContainsRune(rel, rune(rules.Separator))
	default:
		return rules.Equal(path, spec.Item)
	}
}

func (c *client) CheckoutForEdit(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec) (*vcs.ResultWithFailures, error) {
	release, err := c.enter(ctx, "CheckoutForEdit")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	result := &vcs.ResultWithFailures{}
	for _, spec := range specs {
		found := false
		for i := range s.extendedItems {
			item := &s.extendedItems[i]
			if !matchSpec(spec, item.Local, item.TargetItem) {
				continue
			}
			found = true
			item.ChangeType |= vcs.MaskOf(vcs.ChangeEdit)
			s.pendingChanges = append(s.pendingChanges, vcs.PendingChange{
				ItemID: item.ItemID, Local: item.Local, ServerItem: item.TargetItem,
				Type: item.Type, ChangeType: vcs.MaskOf(vcs.ChangeEdit), Version: item.LocalVersion,
			})
			result.Operations = append(result.Operations, vcs.GetOperation{
				ItemID: item.ItemID, SourceLocal: item.Local, TargetLocal: item.Local,
				ServerItem: item.TargetItem, Type: item.Type, ChangeType: vcs.MaskOf(vcs.ChangeEdit),
			})
		}
		if !found {
			result.Failures = append(result.Failures, vcs.Failure{
				Code: "ItemNotFoundException", Severity: vcs.SeverityError, Item: spec.Item,
				Message: fmt.Sprintf("TF14087: No matching items found in %s in your workspace", spec.Item),
			})
		}
	}
	return result, nil
}

func (c *client) LockOrUnlockItems(ctx context.Context, ws vcs.WorkspaceRef, level vcs.LockLevel, specs []vcs.ItemSpec) (*vcs.ResultWithFailures, error) {
	release, err := c.enter(ctx, "LockOrUnlockItems")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	result := &vcs.ResultWithFailures{}
	for _, spec := range specs {
		for i := range s.extendedItems {
			item := &s.extendedItems[i]
			if !matchSpec(spec, item.Local, item.TargetItem) {
				continue
			}
			item.Lock = level
			item.LockOwner = ""
			if level != vcs.LockNone {
				item.LockOwner = ws.Owner
			}
		}
	}
	return result, nil
}

func (c *client) CreateWorkspace(ctx context.Context, ws vcs.Workspace) (*vcs.Workspace, error) {
	release, err := c.enter(ctx, "CreateWorkspace")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workspaceKey(ws.Name, ws.Owner)
	if _, ok := s.workspaces[key]; ok {
		return nil, &tfserr.Error{Message: fmt.Sprintf("TF14044: workspace %s already exists", ws.Name)}
	}
	ws.LastAccessDate = time.Now().UTC().Truncate(time.Second)
	s.workspaces[key] = ws
	return &ws, nil
}

func (c *client) UpdateWorkspace(ctx context.Context, oldName, owner string, ws vcs.Workspace) (*vcs.Workspace, error) {
	release, err := c.enter(ctx, "UpdateWorkspace")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workspaceKey(oldName, owner)
	if _, ok := s.workspaces[key]; !ok {
		return nil, &tfserr.WorkspaceNotFoundError{Message: fmt.Sprintf("TF14061: workspace %s does not exist", oldName)}
	}
	delete(s.workspaces, key)
	ws.LastAccessDate = time.Now().UTC().Truncate(time.Second)
	s.workspaces[workspaceKey(ws.Name, ws.Owner)] = ws
	return &ws, nil
}

func (c *client) LoadWorkspace(ctx context.Context, name, owner string) (*vcs.Workspace, error) {
	release, err := c.enter(ctx, "LoadWorkspace")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[workspaceKey(name, owner)]
	if !ok {
		return nil, &tfserr.WorkspaceNotFoundError{Message: fmt.Sprintf("TF14061: workspace %s;%s does not exist", name, owner)}
	}
	return &ws, nil
}

func (c *client) QueryWorkspaces(ctx context.Context, owner, computer string) ([]vcs.Workspace, error) {
	release, err := c.enter(ctx, "QueryWorkspaces")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []vcs.Workspace
	for _, ws := range s.workspaces {
		if owner != "" && !strings.EqualFold(ws.Owner, owner) {
			continue
		}
		if computer != "" && !strings.EqualFold(ws.Computer, computer) {
			continue
		}
		result = append(result, ws)
	}
	sortWorkspaces(result)
	return result, nil
}

func sortWorkspaces(ws []vcs.Workspace) {
	for i := 1; i < len(ws); i++ {
		for j := i; j > 0 && strings.ToLower(ws[j].Name) < strings.ToLower(ws[j-1].Name); j-- {
			ws[j], ws[j-1] = ws[j-1], ws[j]
		}
	}
}

func (c *client) DeleteWorkspace(ctx context.Context, name, owner string) error {
	release, err := c.enter(ctx, "DeleteWorkspace")
	if err != nil {
		return err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workspaceKey(name, owner)
	if _, ok := s.workspaces[key]; !ok {
		return &tfserr.WorkspaceNotFoundError{Message: fmt.Sprintf("TF14061: workspace %s does not exist", name)}
	}
	delete(s.workspaces, key)
	return nil
}

func (c *client) QueryConflicts(ctx context.Context, ws vcs.WorkspaceRef, specs []vcs.ItemSpec) ([]vcs.Conflict, error) {
	release, err := c.enter(ctx, "QueryConflicts")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []vcs.Conflict
	for _, conflict := range s.conflicts {
		if conflict.IsResolved {
			continue
		}
		for _, spec := range specs {
			if matchSpec(spec, conflict.SourceLocalItem, conflict.YoursServerItem) ||
				matchSpec(spec, conflict.TargetLocalItem, conflict.TheirsServerItem) {
				result = append(result, conflict)
				break
			}
		}
	}
	return result, nil
}

func (c *client) Resolve(ctx context.Context, ws vcs.WorkspaceRef, conflictID int, resolution vcs.Resolution, newPath string) (*vcs.ResolveResult, error) {
	release, err := c.enter(ctx, "Resolve")
	if err != nil {
		return nil, err
	}
	defer release()
	s := c.server
	s.mu.Lock()
	var resolved *vcs.Conflict
	for i := range s.conflicts {
		if s.conflicts[i].ConflictID == conflictID {
			resolved = &s.conflicts[i]
			break
		}
	}
	if resolved == nil {
		s.mu.Unlock()
		return nil, &tfserr.Error{Message: fmt.Sprintf("conflict %d not found", conflictID)}
	}
	if resolved.IsResolved {
		s.mu.Unlock()
		return nil, &tfserr.Error{Message: fmt.Sprintf("conflict %d is already resolved", conflictID)}
	}
	resolved.IsResolved = true
	snapshot := *resolved
	onResolve := s.OnResolve
	s.mu.Unlock()

	// OnResolve runs unlocked so it may mutate the fake.
	if onResolve != nil {
		if r := onResolve(snapshot, resolution, newPath); r != nil {
			return r, nil
		}
	}
	return &vcs.ResolveResult{Resolved: []vcs.Conflict{snapshot}}, nil
}
