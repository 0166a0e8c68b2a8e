package config

import (
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/sealed"
)

type fakeNotification struct {
	mu      sync.Mutex
	expired int
}

func (n *fakeNotification) Expire() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired++
}

func (n *fakeNotification) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.expired
}

type fakeNotifier struct {
	created []*fakeNotification
	uris    []string
}

func (f *fakeNotifier) AuthCanceled(serverURI string, uiContext any) Notification {
	n := &fakeNotification{}
	f.created = append(f.created, n)
	f.uris = append(f.uris, serverURI)
	return n
}

// queueInvoker collects deferred functions until run is called.
type queueInvoker struct {
	queue []func()
}

func (q *queueInvoker) InvokeLater(fn func()) { q.queue = append(q.queue, fn) }

func (q *queueInvoker) run() {
	for _, fn := range q.queue {
		fn()
	}
	q.queue = nil
}

type knownIDs []string

func (k knownIDs) InstanceIDs() []string { return k }

func TestCredentialsKeyedByCanonicalURI(t *testing.T) {
	s := NewStore(Options{})
	s.StoreCredentials("http://tfs:8080/tfs", credentials.New("alice", "CORP", "pw", false))

	got := s.Credentials("http://tfs:8080/tfs/")
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UserName)
	assert.Equal(t, []string{"http://tfs:8080/tfs/"}, s.ServerURIs())

	got.UserName = "mallory"
	assert.Equal(t, "alice", s.Credentials("http://tfs:8080/tfs").UserName, "returned credentials must be a copy")
	assert.Nil(t, s.Credentials("http://other/"))
}

func TestAuthCanceledSticky(t *testing.T) {
	notifier := &fakeNotifier{}
	invoker := &queueInvoker{}
	s := NewStore(Options{Notifier: notifier, Invoker: invoker})
	const uri = "http://tfs/"

	assert.False(t, s.IsAuthCanceled(uri))
	s.SetAuthCanceled(uri, nil)
	s.SetAuthCanceled(uri, nil)
	assert.True(t, s.IsAuthCanceled(uri))
	require.Len(t, notifier.created, 1, "setting twice keeps the first notification")
	assert.Equal(t, uri, notifier.uris[0])

	s.StoreCredentials(uri, credentials.New("alice", "CORP", "pw", false))
	assert.False(t, s.IsAuthCanceled(uri), "storing credentials clears the flag")
	assert.Equal(t, 0, notifier.created[0].count(), "expiry waits for the next UI tick")

	invoker.run()
	assert.Equal(t, 1, notifier.created[0].count())
}

func TestAuthCanceledWithoutNotifier(t *testing.T) {
	s := NewStore(Options{})
	s.SetAuthCanceled("http://tfs", "ctx")
	assert.True(t, s.IsAuthCanceled("http://tfs/"))
	s.StoreCredentials("http://tfs", credentials.New("a", "b", "c", false))
	assert.False(t, s.IsAuthCanceled("http://tfs/"))
}

func TestRemoveExpiresNotification(t *testing.T) {
	notifier := &fakeNotifier{}
	invoker := &queueInvoker{}
	s := NewStore(Options{Notifier: notifier, Invoker: invoker})
	s.SetAuthCanceled("http://tfs/", nil)

	s.Remove("http://tfs")
	assert.False(t, s.IsAuthCanceled("http://tfs/"))
	assert.Nil(t, s.Credentials("http://tfs/"))
	invoker.run()
	assert.Equal(t, 1, notifier.created[0].count())
}

func TestProxySettings(t *testing.T) {
	s := NewStore(Options{})
	const uri = "http://tfs/"

	assert.False(t, s.ShouldTryProxy(uri))
	s.SetProxyInaccessible(uri)

	s.SetProxyURI(uri, "http://proxy:8081/")
	assert.Equal(t, "http://proxy:8081/", s.ProxyURI("http://tfs"))
	assert.True(t, s.ShouldTryProxy(uri))

	s.SetProxyInaccessible(uri)
	assert.False(t, s.ShouldTryProxy(uri))
	assert.Equal(t, "http://proxy:8081/", s.ProxyURI(uri), "inaccessible proxy is still configured")

	s.SetProxyURI(uri, "")
	assert.Equal(t, "", s.ProxyURI(uri))
}

func TestResetStoredPasswords(t *testing.T) {
	s := NewStore(Options{})
	s.StoreCredentials("http://a/", credentials.New("alice", "CORP", "pw1", true))
	s.StoreCredentials("http://b/", credentials.NewAlternate("bob", "pw2", false))

	s.ResetStoredPasswords()
	assert.Equal(t, "", s.Credentials("http://a/").Password)
	assert.Equal(t, "", s.Credentials("http://b/").Password)
	assert.Equal(t, "bob", s.Credentials("http://b/").UserName)
}

func TestServerKnown(t *testing.T) {
	s := NewStore(Options{})
	assert.False(t, s.ServerKnown("ABC"))
	s.SetKnownServers(knownIDs{"3f2504e0-4f89-11d3-9a0c-0305e82c3301"})
	assert.True(t, s.ServerKnown("3F2504E0-4F89-11D3-9A0C-0305E82C3301"))
	assert.False(t, s.ServerKnown("00000000-0000-0000-0000-000000000000"))
}

func TestShouldPromptForProxyPassword(t *testing.T) {
	s := NewStore(Options{})
	assert.False(t, s.ShouldPromptForProxyPassword(false))

	s.SetHTTPProxy(HTTPProxy{Enabled: true, Host: "proxy", Port: 3128, Authentication: true})
	assert.True(t, s.ShouldPromptForProxyPassword(false))
	assert.True(t, s.ShouldPromptForProxyPassword(true))

	s.SetProxyPassword("pw")
	assert.True(t, s.ShouldPromptForProxyPassword(false))
	assert.False(t, s.ShouldPromptForProxyPassword(true), "strict asks only while unknown")

	s.SetUseHTTPProxy(false)
	assert.False(t, s.ShouldPromptForProxyPassword(false))
}

func TestCheckinPolicyFlags(t *testing.T) {
	s := NewStore(Options{})
	assert.Equal(t, CheckinPoliciesCompatibility{Stateful: true, Tfs: true, NonInstalledReport: true}, s.CheckinPoliciesCompatibility())

	s.SetSupportTfsCheckinPolicies(false)
	s.SetSupportStatefulCheckinPolicies(false)
	s.SetReportNotInstalledCheckinPolicies(false)
	assert.Equal(t, CheckinPoliciesCompatibility{}, s.CheckinPoliciesCompatibility())
}

func TestPersistence(t *testing.T) {
	fs := afero.NewMemMapFs()
	sealer, err := sealed.LoadOrCreate(fs, "/cfg/identity.txt")
	require.NoError(t, err)
	opts := Options{Fs: fs, Path: "/cfg/config.toml", Sealer: sealer}

	s, err := Open(opts)
	require.NoError(t, err)
	s.StoreCredentials("http://a/", credentials.New("alice", "CORP", "kept-secret", true))
	s.StoreCredentials("http://b/", credentials.NewAlternate("bob", "session-secret", false))
	s.SetProxyURI("http://a/", "http://proxy/")
	s.SetAuthCanceled("http://b/", nil)

	data, err := afero.ReadFile(fs, "/cfg/config.toml")
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "kept-secret"), "password must be sealed")
	assert.False(t, strings.Contains(string(data), "session-secret"), "unstored password must not be written")

	reopened, err := Open(opts)
	require.NoError(t, err)
	a := reopened.Credentials("http://a/")
	require.NotNil(t, a)
	assert.Equal(t, "kept-secret", a.Password)
	assert.Equal(t, "http://proxy/", reopened.ProxyURI("http://a/"))
	b := reopened.Credentials("http://b/")
	require.NotNil(t, b)
	assert.Equal(t, "", b.Password)
	assert.Equal(t, credentials.KindAlternate, b.Kind)
	assert.False(t, reopened.IsAuthCanceled("http://b/"), "auth-cancel is session state")
}

func TestLoadStateReplacesWholesale(t *testing.T) {
	s := NewStore(Options{})
	s.StoreCredentials("http://old/", credentials.New("alice", "CORP", "pw", false))

	doc := DefaultDocument()
	doc.UseHTTPProxy = false
	doc.Servers["http://new"] = ServerConfig{Credentials: &StoredCredentials{User: "bob", Domain: "D"}}
	s.LoadState(doc)

	assert.Nil(t, s.Credentials("http://old/"))
	require.NotNil(t, s.Credentials("http://new/"))
	assert.False(t, s.UseHTTPProxy())

	snap := s.State()
	_, ok := snap.Servers["http://new/"]
	assert.True(t, ok, "keys are canonicalized on load: %v", snap.Servers)
}

func TestSaveFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := NewStore(Options{
		Fs:   afero.NewReadOnlyFs(afero.NewMemMapFs()),
		Path: "/cfg/config.toml",
		Log:  zap.New(core),
	})

	store.SetUseHTTPProxy(false)

	assert.False(t, store.UseHTTPProxy())
	entries := logs.FilterMessage("failed to save configuration").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/cfg/config.toml", entries[0].ContextMap()["path"])
}
