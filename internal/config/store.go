package config

import (
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/sealed"
	"github.com/bolasblack/tfvc/internal/tfspath"
)

// Notification is a UI handle the store may dismiss.
type Notification interface {
	Expire()
}

// Notifier shows the "authentication cancelled" notification for a server.
// It is called with the store locked and must not call back into it.
type Notifier interface {
	AuthCanceled(serverURI string, uiContext any) Notification
}

// Invoker defers a function to the next UI tick.
type Invoker interface {
	InvokeLater(fn func())
}

// KnownServers lists the instance ids of registered servers.
type KnownServers interface {
	InstanceIDs() []string
}

// CheckinPoliciesCompatibility bundles the policy flags.
type CheckinPoliciesCompatibility struct {
	Stateful           bool
	Tfs                bool
	NonInstalledReport bool
}

type serverState struct {
	creds             *credentials.Credentials
	proxyURI          string
	proxyInaccessible bool
	authCanceled      Notification
}

type stickyFlag struct{}

func (stickyFlag) Expire() {}

// Options configures a Store.
type Options struct {
	// Fs and Path locate the document. A nil Fs keeps the store in memory.
	Fs       afero.Fs
	Path     string
	Sealer   *sealed.Sealer
	Notifier Notifier
	Invoker  Invoker
	Log      *zap.Logger
}

// Store is the configuration store. All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	servers            map[string]*serverState
	useHTTPProxy       bool
	supportTfs         bool
	supportStateful    bool
	reportNotInstalled bool
	httpProxy          HTTPProxy
	proxyPassword      string

	fs       afero.Fs
	path     string
	sealer   *sealed.Sealer
	notifier Notifier
	invoker  Invoker
	known    KnownServers
	log      *zap.Logger
}

// NewStore returns a store holding DefaultDocument.
func NewStore(opts Options) *Store {
	s := &Store{
		fs:       opts.Fs,
		path:     opts.Path,
		sealer:   opts.Sealer,
		notifier: opts.Notifier,
		invoker:  opts.Invoker,
		log:      opts.Log,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.loadStateLocked(DefaultDocument())
	return s
}

// Open loads the store from opts.Fs at opts.Path.
func Open(opts Options) (*Store, error) {
	s := NewStore(opts)
	if s.fs == nil {
		return s, nil
	}
	doc, err := LoadDocument(s.fs, s.path)
	if err != nil {
		return s, err
	}
	s.mu.Lock()
	s.loadStateLocked(doc)
	s.mu.Unlock()
	return s, nil
}

// SetKnownServers wires the registry consulted by ServerKnown.
func (s *Store) SetKnownServers(known KnownServers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = known
}

// SetNotifier replaces the notifier used by SetAuthCanceled.
func (s *Store) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// SetInvoker replaces the UI dispatcher used to expire notifications.
func (s *Store) SetInvoker(inv Invoker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoker = inv
}

func configKey(serverURI string) string {
	return tfspath.CanonicalizeURI(serverURI)
}

func (s *Store) lookup(serverURI string) *serverState {
	return s.servers[configKey(serverURI)]
}

func (s *Store) getOrCreate(serverURI string) *serverState {
	key := configKey(serverURI)
	st := s.servers[key]
	if st == nil {
		st = &serverState{}
		s.servers[key] = st
	}
	return st
}

// Credentials returns a copy of the server's credentials, or nil.
func (s *Store) Credentials(serverURI string) *credentials.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.lookup(serverURI); st != nil {
		return st.creds.Clone()
	}
	return nil
}

// StoreCredentials records credentials and clears the auth-cancelled flag,
// expiring its notification on the next UI tick.
func (s *Store) StoreCredentials(serverURI string, creds *credentials.Credentials) {
	s.mu.Lock()
	st := s.getOrCreate(serverURI)
	st.creds = creds.Clone()
	n := st.authCanceled
	st.authCanceled = nil
	s.saveLocked()
	inv := s.invoker
	s.mu.Unlock()

	expireLater(inv, n)
}

func expireLater(inv Invoker, n Notification) {
	if n == nil {
		return
	}
	if inv == nil {
		n.Expire()
		return
	}
	inv.InvokeLater(n.Expire)
}

// IsAuthCanceled reports whether the user dismissed the login for serverURI.
func (s *Store) IsAuthCanceled(serverURI string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.lookup(serverURI)
	return st != nil && st.authCanceled != nil
}

// SetAuthCanceled marks the server as auth-cancelled. An existing
// notification is kept.
func (s *Store) SetAuthCanceled(serverURI string, uiContext any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(serverURI)
	if st.authCanceled != nil {
		return
	}
	var n Notification
	if s.notifier != nil {
		n = s.notifier.AuthCanceled(configKey(serverURI), uiContext)
	}
	if n == nil {
		n = stickyFlag{}
	}
	st.authCanceled = n
	s.log.Info("authentication cancelled", zap.String("server", configKey(serverURI)))
}

// ProxyURI returns the configured TFS proxy for the server, or "".
func (s *Store) ProxyURI(serverURI string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.lookup(serverURI); st != nil {
		return st.proxyURI
	}
	return ""
}

// ShouldTryProxy reports whether a proxy is configured and not known to be
// unreachable this session.
func (s *Store) ShouldTryProxy(serverURI string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.lookup(serverURI)
	return st != nil && st.proxyURI != "" && !st.proxyInaccessible
}

// SetProxyInaccessible marks the server's proxy as unreachable until restart.
func (s *Store) SetProxyInaccessible(serverURI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.lookup(serverURI); st != nil {
		st.proxyInaccessible = true
	}
}

// SetProxyURI sets or, with "", clears the server's proxy.
func (s *Store) SetProxyURI(serverURI, proxyURI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(serverURI).proxyURI = proxyURI
	s.saveLocked()
}

// ResetStoredPasswords forgets every password.
func (s *Store) ResetStoredPasswords() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.servers {
		if st.creds != nil {
			st.creds.ResetPassword()
		}
	}
	s.saveLocked()
}

// Remove forgets the server and expires its notification.
func (s *Store) Remove(serverURI string) {
	s.mu.Lock()
	key := configKey(serverURI)
	var n Notification
	if st := s.servers[key]; st != nil {
		n = st.authCanceled
	}
	delete(s.servers, key)
	s.saveLocked()
	inv := s.invoker
	s.mu.Unlock()

	expireLater(inv, n)
}

// ServerKnown reports whether a registered server has instanceID.
func (s *Store) ServerKnown(instanceID string) bool {
	s.mu.Lock()
	known := s.known
	s.mu.Unlock()
	if known == nil {
		return false
	}
	for _, id := range known.InstanceIDs() {
		if strings.EqualFold(id, instanceID) {
			return true
		}
	}
	return false
}

// ServerURIs lists the configured server keys.
func (s *Store) ServerURIs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.servers))
	for k := range s.servers {
		keys = append(keys, k)
	}
	return keys
}

// UseHTTPProxy reports whether host proxy settings are honored.
func (s *Store) UseHTTPProxy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.useHTTPProxy
}

// SetUseHTTPProxy sets whether host proxy settings are honored.
func (s *Store) SetUseHTTPProxy(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.useHTTPProxy = v
	s.saveLocked()
}

// HTTPProxy returns the host proxy settings.
func (s *Store) HTTPProxy() HTTPProxy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpProxy
}

// SetHTTPProxy replaces the host proxy settings.
func (s *Store) SetHTTPProxy(p HTTPProxy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.httpProxy = p
	s.saveLocked()
}

// ProxyPassword returns the session proxy password.
func (s *Store) ProxyPassword() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxyPassword
}

// SetProxyPassword records the proxy password for this session only.
func (s *Store) SetProxyPassword(pw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxyPassword = pw
}

// ShouldPromptForProxyPassword reports whether the login dialog must ask for
// the proxy password. With strict set it is only asked while still unknown.
func (s *Store) ShouldPromptForProxyPassword(strict bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.httpProxy
	return s.useHTTPProxy && p.Enabled && p.Authentication && !p.KeepPassword &&
		(!strict || s.proxyPassword == "")
}

// CheckinPoliciesCompatibility returns the policy flags.
func (s *Store) CheckinPoliciesCompatibility() CheckinPoliciesCompatibility {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CheckinPoliciesCompatibility{
		Stateful:           s.supportStateful,
		Tfs:                s.supportTfs,
		NonInstalledReport: s.reportNotInstalled,
	}
}

// SetSupportTfsCheckinPolicies toggles TFS policy evaluation.
func (s *Store) SetSupportTfsCheckinPolicies(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supportTfs = v
	s.saveLocked()
}

// SetSupportStatefulCheckinPolicies toggles stateful policy evaluation.
func (s *Store) SetSupportStatefulCheckinPolicies(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supportStateful = v
	s.saveLocked()
}

// SetReportNotInstalledCheckinPolicies toggles reporting of missing policies.
func (s *Store) SetReportNotInstalledCheckinPolicies(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportNotInstalled = v
	s.saveLocked()
}

// LoadState replaces the in-memory state wholesale. Session-only values
// (auth-cancelled flags, proxy reachability) are dropped.
func (s *Store) LoadState(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadStateLocked(doc)
}

func (s *Store) loadStateLocked(doc Document) {
	s.servers = make(map[string]*serverState, len(doc.Servers))
	for uri, sc := range doc.Servers {
		st := &serverState{proxyURI: sc.ProxyURI}
		if sc.Credentials != nil {
			st.creds = s.openCredentials(uri, sc.Credentials)
		}
		s.servers[configKey(uri)] = st
	}
	s.useHTTPProxy = doc.UseHTTPProxy
	s.supportTfs = doc.SupportTfsCheckinPolicies
	s.supportStateful = doc.SupportStatefulCheckinPolicies
	s.reportNotInstalled = doc.ReportNotInstalledCheckinPolicies
	s.httpProxy = doc.HTTPProxy
}

// State snapshots the document. Passwords appear only sealed.
func (s *Store) State() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Store) stateLocked() Document {
	doc := Document{
		Servers:                           make(map[string]ServerConfig, len(s.servers)),
		UseHTTPProxy:                      s.useHTTPProxy,
		SupportTfsCheckinPolicies:         s.supportTfs,
		SupportStatefulCheckinPolicies:    s.supportStateful,
		ReportNotInstalledCheckinPolicies: s.reportNotInstalled,
		HTTPProxy:                         s.httpProxy,
	}
	for uri, st := range s.servers {
		sc := ServerConfig{ProxyURI: st.proxyURI}
		if st.creds != nil {
			sc.Credentials = s.sealCredentials(uri, st.creds)
		}
		doc.Servers[uri] = sc
	}
	return doc
}

func (s *Store) sealCredentials(uri string, c *credentials.Credentials) *StoredCredentials {
	stored := &StoredCredentials{
		User:          c.UserName,
		Domain:        c.Domain,
		Kind:          string(c.Kind),
		StorePassword: c.StorePassword,
	}
	if c.StorePassword && c.Password != "" && s.sealer != nil {
		sealedPw, err := s.sealer.Seal(c.Password)
		if err != nil {
			s.log.Warn("failed to seal password", zap.String("server", uri), zap.Error(err))
		} else {
			stored.Password = sealedPw
		}
	}
	return stored
}

func (s *Store) openCredentials(uri string, sc *StoredCredentials) *credentials.Credentials {
	c := &credentials.Credentials{
		UserName:      sc.User,
		Domain:        sc.Domain,
		Kind:          credentials.Kind(sc.Kind),
		StorePassword: sc.StorePassword,
	}
	if sc.Password != "" && s.sealer != nil {
		pw, err := s.sealer.Open(sc.Password)
		if err != nil {
			s.log.Warn("failed to open sealed password", zap.String("server", uri), zap.Error(err))
		} else {
			c.Password = pw
		}
	}
	return c
}

// saveLocked persists the document. Failures are logged, never returned.
func (s *Store) saveLocked() {
	if s.fs == nil {
		return
	}
	if err := SaveDocument(s.fs, s.path, s.stateLocked()); err != nil {
		s.log.Warn("failed to save configuration", zap.String("path", s.path), zap.Error(err))
	}
}
