// Package request wraps every server call with credential selection,
// login prompting, retry on unauthorized and per-server serialization.
//
// One Manager exists per server URI, plus the "no server yet" manager used
// while adding a server. Login dialogs are serialized across all managers
// by the registry; raw calls are serialized per manager.
package request

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/logging"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/ui"
	"github.com/bolasblack/tfvc/internal/vcs"
)

// Store is the part of the configuration store the manager needs.
type Store interface {
	Credentials(serverURI string) *credentials.Credentials
	StoreCredentials(serverURI string, creds *credentials.Credentials)
	IsAuthCanceled(serverURI string) bool
	SetAuthCanceled(serverURI string, uiContext any)
	ShouldPromptForProxyPassword(strict bool) bool
	SetProxyPassword(password string)
}

// Connector performs the authentication handshake.
type Connector interface {
	Connect(ctx context.Context, serverURI string, creds *credentials.Credentials) (*vcs.ServerDescriptor, error)
}

// TransportConnector connects through a vcs.Transport.
type TransportConnector struct {
	Transport vcs.Transport
}

// Connect implements Connector.
func (c TransportConnector) Connect(ctx context.Context, serverURI string, creds *credentials.Credentials) (*vcs.ServerDescriptor, error) {
	return c.Transport.Open(serverURI, creds).Connect(ctx)
}

// Options configures a Registry.
type Options struct {
	Store     Store
	Loop      *ui.Loop
	Dialog    ui.LoginDialog
	Progress  ui.Progress
	Connector Connector
	Log       *zap.Logger
	Metrics   *Metrics
}

// Registry interns managers and owns the dialog lock.
type Registry struct {
	store     Store
	loop      *ui.Loop
	dialog    ui.LoginDialog
	progress  ui.Progress
	connector Connector
	log       *zap.Logger
	metrics   *Metrics

	// dialogMu serializes login dialogs across every manager.
	dialogMu sync.Mutex

	mu       sync.Mutex
	managers map[string]*Manager
	noServer *Manager
}

// NewRegistry builds a registry. Loop, Store, Dialog and Connector are required.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		store:     opts.Store,
		loop:      opts.Loop,
		dialog:    opts.Dialog,
		progress:  opts.Progress,
		connector: opts.Connector,
		log:       logging.OrNop(opts.Log),
		metrics:   opts.Metrics,
		managers:  make(map[string]*Manager),
	}
	if r.progress == nil {
		r.progress = ui.NoProgress{}
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	r.noServer = &Manager{reg: r}
	return r
}

// Manager returns the manager for serverURI, creating it on first use.
// An empty URI returns the "no server yet" manager.
func (r *Registry) Manager(serverURI string) *Manager {
	if serverURI == "" {
		return r.noServer
	}
	key := tfspath.CanonicalizeURI(serverURI)
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[key]
	if !ok {
		m = &Manager{reg: r, serverURI: key}
		r.managers[key] = m
	}
	return m
}

// Manager serializes calls to one server.
type Manager struct {
	reg       *Registry
	serverURI string

	// requestMu is held across every raw call to the server.
	requestMu sync.Mutex
}

// ServerURI is empty for the "no server yet" manager.
func (m *Manager) ServerURI() string {
	return m.serverURI
}

// shouldShowDialog fails with AuthCancelled while the sticky is set
// unless force is given.
func (m *Manager) shouldShowDialog(force bool) (bool, error) {
	if m.serverURI == "" {
		return true, nil
	}
	if !force && m.reg.store.IsAuthCanceled(m.serverURI) {
		return false, authCancelled(m.serverURI)
	}
	return m.reg.needsLogin(m.serverURI), nil
}

func (r *Registry) needsLogin(serverURI string) bool {
	creds := r.store.Credentials(serverURI)
	return creds == nil || creds.ShouldShowLoginDialog() || r.store.ShouldPromptForProxyPassword(true)
}

func (r *Registry) storeCredentials(serverURI string, creds *credentials.Credentials) {
	if serverURI == "" || creds == nil {
		return
	}
	r.store.StoreCredentials(serverURI, creds)
}

func (r *Registry) cancelAuth(serverURI string, uiContext any) {
	r.store.SetAuthCanceled(serverURI, uiContext)
	r.metrics.AuthCancelled.Inc()
}
