// Package workspace models server workspaces and the per-computer registry
// of known servers, persisted as an XML cache.
package workspace

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/config"
	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/logging"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/versioncontrol"
)

// Config is the part of the configuration store the registry needs.
type Config interface {
	Credentials(serverURI string) *credentials.Credentials
	Remove(serverURI string)
}

// ServerFactory builds the request-managed facade for a server.
type ServerFactory func(serverURI string) *versioncontrol.Server

// Options configures a Workstation.
type Options struct {
	// Fs and CachePath locate the cache. A nil Fs keeps it in memory.
	Fs        afero.Fs
	CachePath string
	Config    Config
	Log       *zap.Logger
	Connect   ServerFactory
	HostName  *HostName
}

// Workstation is the registry of servers and workspaces on this computer.
type Workstation struct {
	fs     afero.Fs
	path   string
	config Config
	log    *zap.Logger
	vcs    ServerFactory
	host   *HostName

	mu      sync.Mutex
	servers []*Server
	// duplicate memoizes CheckDuplicateMappings; nil until computed.
	duplicate *string
}

var _ config.KnownServers = (*Workstation)(nil)

// NewWorkstation builds the registry and loads the cache. An unreadable
// cache yields an empty registry.
func NewWorkstation(opts Options) *Workstation {
	w := &Workstation{
		fs:     opts.Fs,
		path:   opts.CachePath,
		config: opts.Config,
		log:    logging.OrNop(opts.Log),
		vcs:    opts.Connect,
		host:   opts.HostName,
	}
	if w.host == nil {
		w.host = NewHostName(nil)
	}
	w.load()
	return w
}

func (w *Workstation) load() {
	if w.fs == nil {
		return
	}
	doc, err := readCache(w.fs, w.path)
	if err != nil {
		w.log.Info("cannot read workspace cache", zap.String("path", w.path), zap.Error(err))
		return
	}
	for _, cs := range doc.Servers {
		s := &Server{workstation: w, uri: tfspath.CanonicalizeURI(cs.URI), guid: cs.GUID}
		for _, cw := range cs.Workspaces {
			ws := &Workspace{
				server:       s,
				owner:        cw.Owner,
				computer:     cw.Computer,
				originalName: cw.Name,
				timestamp:    parseTimestamp(cw.Timestamp),
			}
			if cw.Comment != nil {
				ws.comment = *cw.Comment
			}
			for _, mp := range cw.MappedPaths.Paths {
				ws.folders = append(ws.folders, WorkingFolder{LocalPath: mp.Path, Status: Active})
			}
			s.workspaces = append(s.workspaces, ws)
		}
		w.servers = append(w.servers, s)
	}
}

// ComputerName is this computer's short host name.
func (w *Workstation) ComputerName() string {
	return w.host.Get()
}

// Servers lists registered servers in registration order.
func (w *Workstation) Servers() []*Server {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Server(nil), w.servers...)
}

// Server finds a server by URI.
func (w *Workstation) Server(uri string) *Server {
	uri = tfspath.CanonicalizeURI(uri)
	for _, s := range w.Servers() {
		if strings.EqualFold(s.uri, uri) {
			return s
		}
	}
	return nil
}

// ServerByInstanceID finds a server by instance id.
func (w *Workstation) ServerByInstanceID(guid string) *Server {
	for _, s := range w.Servers() {
		if strings.EqualFold(s.guid, guid) {
			return s
		}
	}
	return nil
}

// InstanceIDs implements config.KnownServers.
func (w *Workstation) InstanceIDs() []string {
	servers := w.Servers()
	ids := make([]string, 0, len(servers))
	for _, s := range servers {
		ids = append(ids, s.guid)
	}
	return ids
}

// AddServer registers a server, returning the existing entry for a known URI.
func (w *Workstation) AddServer(uri, guid string) *Server {
	uri = tfspath.CanonicalizeURI(uri)
	if s := w.Server(uri); s != nil {
		return s
	}
	s := &Server{workstation: w, uri: uri, guid: guid}
	w.mu.Lock()
	w.servers = append(w.servers, s)
	w.mu.Unlock()
	w.Update()
	return s
}

// RemoveServer forgets a server along with its configuration.
func (w *Workstation) RemoveServer(s *Server) {
	w.mu.Lock()
	for i, existing := range w.servers {
		if existing == s {
			w.servers = append(w.servers[:i], w.servers[i+1:]...)
			break
		}
	}
	w.mu.Unlock()
	w.config.Remove(s.uri)
	w.Update()
}

// Update invalidates the duplicate-mapping memo and rewrites the cache.
// Write failures are logged.
func (w *Workstation) Update() {
	w.mu.Lock()
	w.duplicate = nil
	doc := &cacheDocument{}
	for _, s := range w.servers {
		cs := cacheServer{URI: s.uri, GUID: s.guid}
		for _, ws := range s.Workspaces() {
			cw := cacheWorkspace{
				Computer:  ws.Computer(),
				Owner:     ws.OwnerName(),
				Timestamp: formatTimestamp(ws.Timestamp()),
				Name:      ws.Name(),
			}
			if c := ws.Comment(); c != "" {
				cw.Comment = &c
			}
			for _, f := range ws.WorkingFoldersCached() {
				cw.MappedPaths.Paths = append(cw.MappedPaths.Paths, cacheMappedPath{Path: f.LocalPath})
			}
			cs.Workspaces = append(cs.Workspaces, cw)
		}
		doc.Servers = append(doc.Servers, cs)
	}
	w.mu.Unlock()

	if w.fs == nil {
		return
	}
	if err := writeCache(w.fs, w.path, doc); err != nil {
		w.log.Info("cannot update workspace cache", zap.String("path", w.path), zap.Error(err))
	}
}

func (w *Workstation) workspacesForCurrentOwnerAndComputer(ctx context.Context, showLogin bool) []*Workspace {
	var result []*Workspace
	for _, s := range w.Servers() {
		if showLogin && s.QualifiedUsername() == "" {
			if _, err := s.VCS().EnsureAuthenticated(ctx, false); err != nil {
				w.log.Debug("skipping server without credentials", zap.String("server", s.uri), zap.Error(err))
				continue
			}
		}
		result = append(result, s.WorkspacesForCurrentOwnerAndComputer()...)
	}
	return result
}

// FindWorkspacesCached scans cached mappings only. Without considerChildren
// at most one workspace is returned, since a local path is mapped once.
func (w *Workstation) FindWorkspacesCached(local string, considerChildren bool) []*Workspace {
	var result []*Workspace
	for _, ws := range w.workspacesForCurrentOwnerAndComputer(context.Background(), false) {
		if ws.hasMappingCached(local, considerChildren) {
			result = append(result, ws)
			if !considerChildren {
				break
			}
		}
	}
	return result
}

// FindWorkspaces resolves the workspaces mapping local. Cached hits are
// reloaded from the server and must still map local; otherwise every
// workspace of every reachable server is consulted.
func (w *Workstation) FindWorkspaces(ctx context.Context, local string, considerChildren bool) ([]*Workspace, error) {
	if err := w.CheckDuplicateMappings(); err != nil {
		return nil, err
	}
	if cached := w.FindWorkspacesCached(local, considerChildren); len(cached) > 0 {
		for _, ws := range cached {
			ok, err := ws.hasMapping(ctx, local, considerChildren, true)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &tfserr.WorkspaceHasNoMappingError{Workspace: ws.Name()}
			}
		}
		return cached, nil
	}

	// TODO: remember servers that failed earlier in the process and skip them here.
	var result []*Workspace
	failed := make(map[*Server]bool)
	for _, ws := range w.workspacesForCurrentOwnerAndComputer(ctx, true) {
		if failed[ws.server] {
			continue
		}
		ok, err := ws.hasMapping(ctx, local, considerChildren, false)
		if err != nil {
			if tfserr.IsUserCancelled(err) {
				return nil, err
			}
			w.log.Debug("skipping unreachable server", zap.String("server", ws.server.uri), zap.Error(err))
			failed[ws.server] = true
			continue
		}
		if ok {
			result = append(result, ws)
			if !considerChildren {
				return result, nil
			}
		}
	}
	return result, nil
}

// CheckDuplicateMappings fails when a local root of one server's workspace
// lies under or contains a local root of another server's. Conflicts within
// one server are left to the server.
func (w *Workstation) CheckDuplicateMappings() error {
	w.mu.Lock()
	memo := w.duplicate
	w.mu.Unlock()
	if memo == nil {
		path := w.findDuplicateMappedPath()
		memo = &path
		w.mu.Lock()
		w.duplicate = memo
		w.mu.Unlock()
	}
	if *memo != "" {
		return &tfserr.DuplicateMappingError{Path: *memo}
	}
	return nil
}

func (w *Workstation) findDuplicateMappedPath() string {
	var others []string
	for _, s := range w.Servers() {
		var current []string
		for _, ws := range s.WorkspacesForCurrentOwnerAndComputer() {
			for _, f := range ws.WorkingFoldersCached() {
				for _, other := range others {
					if tfspath.Local.IsUnder(f.LocalPath, other, false) {
						return f.LocalPath
					}
					if tfspath.Local.IsUnder(other, f.LocalPath, false) {
						return other
					}
				}
				current = append(current, f.LocalPath)
			}
		}
		others = append(others, current...)
	}
	return ""
}
