package soap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
)

func envelope(body string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` + body + `</soap:Body></soap:Envelope>`
}

// fakeTFS answers SOAP actions with canned bodies and records requests.
type fakeTFS struct {
	mu       sync.Mutex
	bodies   map[string]string
	status   map[string]int
	requests map[string]string
	auth     []string
}

func newFakeTFS() *fakeTFS {
	return &fakeTFS{bodies: map[string]string{}, status: map[string]int{}, requests: map[string]string{}}
}

func (f *fakeTFS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(r.Header.Get("SOAPAction"), `"`)
	action = action[strings.LastIndex(action, "/")+1:]
	data, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests[action] = string(data)
	if user, _, ok := r.BasicAuth(); ok {
		f.auth = append(f.auth, user)
	}
	status, hasStatus := f.status[action]
	body, hasBody := f.bodies[action]
	f.mu.Unlock()

	if hasStatus {
		if status == http.StatusFound {
			w.Header().Set("Location", "/elsewhere")
		}
		w.WriteHeader(status)
		return
	}
	if !hasBody {
		http.Error(w, "unknown action "+action, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	if strings.Contains(body, "Fault>") {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_, _ = io.WriteString(w, envelope(body))
}

func (f *fakeTFS) request(action string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[action]
}

func setup(t *testing.T, creds *credentials.Credentials) (*fakeTFS, *Client) {
	t.Helper()
	fake := newFakeTFS()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	tr := NewTransport(Options{HTTPClient: srv.Client()})
	return fake, tr.OpenClient(srv.URL+"/tfs", creds)
}

func TestConnect(t *testing.T) {
	fake, c := setup(t, credentials.New("alice", "", "pw", false))
	fake.bodies["CheckAuthentication"] = `<CheckAuthenticationResponse><CheckAuthenticationResult>CORP\alice</CheckAuthenticationResult></CheckAuthenticationResponse>`
	fake.bodies["GetRegistrationEntries"] = `<GetRegistrationEntriesResponse><GetRegistrationEntriesResult>
<RegistrationEntry><Type>vstfs</Type><RegistrationExtendedAttributes>
<RegistrationExtendedAttribute><Name>InstanceId</Name><Value>3f2504e0-4f89-11d3-9a0c-0305e82c3301</Value></RegistrationExtendedAttribute>
</RegistrationExtendedAttributes></RegistrationEntry></GetRegistrationEntriesResult></GetRegistrationEntriesResponse>`

	desc, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3f2504e0-4f89-11d3-9a0c-0305e82c3301", desc.InstanceID)
	assert.Equal(t, "CORP", desc.AuthorizedCredentials.Domain)
	assert.Equal(t, "alice", desc.AuthorizedCredentials.UserName)
	assert.Equal(t, "pw", desc.AuthorizedCredentials.Password)
	assert.Contains(t, fake.auth, "alice")
}

func TestAlternateCredentialsSendPlainUser(t *testing.T) {
	fake, c := setup(t, credentials.NewAlternate("bob@example.com", "pw", false))
	fake.bodies["DeleteWorkspace"] = `<DeleteWorkspaceResponse/>`

	require.NoError(t, c.DeleteWorkspace(context.Background(), "ws", "bob"))
	assert.Equal(t, []string{"bob@example.com"}, fake.auth)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) {
			assert.True(t, tfserr.IsUnauthorized(err), "got %v", err)
		}},
		{"redirect", http.StatusFound, func(t *testing.T, err error) {
			var cf *tfserr.ConnectionFailedError
			require.True(t, errors.As(err, &cf), "got %v", err)
			assert.Equal(t, http.StatusFound, cf.StatusCode)
		}},
		{"unavailable", http.StatusServiceUnavailable, func(t *testing.T, err error) {
			var cf *tfserr.ConnectionFailedError
			require.True(t, errors.As(err, &cf))
			assert.Equal(t, http.StatusServiceUnavailable, cf.StatusCode)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, c := setup(t, credentials.New("alice", "CORP", "pw", false))
			fake.status["QueryWorkspaces"] = tt.status
			_, err := c.QueryWorkspaces(context.Background(), `CORP\alice`, "HOST")
			require.Error(t, err)
			assert.ErrorIs(t, err, tfserr.ErrTfs)
			tt.check(t, err)
		})
	}
}

func TestFault(t *testing.T) {
	fake, c := setup(t, nil)
	fake.bodies["QueryWorkspace"] = `<soap:Fault><faultcode>soap:Server</faultcode><faultstring>TF14061: The workspace ws;alice does not exist.</faultstring></soap:Fault>`

	_, err := c.LoadWorkspace(context.Background(), "ws", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TF14061")
	var fe *FaultError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "soap:Server", fe.Code)
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewTransport(Options{}).OpenClient(url, nil)
	_, err := c.QueryWorkspaces(context.Background(), "alice", "HOST")
	assert.True(t, tfserr.IsConnectionFailed(err), "got %v", err)
}

func TestExtendedItemsAndPendingChanges(t *testing.T) {
	fake, c := setup(t, credentials.New("alice", "CORP", "pw", false))
	local := tfspath.Local.ToWire("/repo/a.txt")
	fake.bodies["QueryItemsExtended"] = fmt.Sprintf(`<QueryItemsExtendedResponse><QueryItemsExtendedResult><ArrayOfExtendedItem>
<ExtendedItem itemid="7" local="%s" titem="$/proj/a.txt" type="File" lver="3" latest="5" chg="Edit Encoding" lock="Checkin" lowner="bob"/>
<ExtendedItem itemid="8" titem="$/proj/b" type="Folder" latest="5"/>
</ArrayOfExtendedItem></QueryItemsExtendedResult></QueryItemsExtendedResponse>`, local)
	fake.bodies["QueryPendingSets"] = fmt.Sprintf(`<QueryPendingSetsResponse><QueryPendingSetsResult><PendingSet><PendingChanges>
<PendingChange itemid="7" local="%s" item="$/proj/a.txt" type="File" chg="Edit" ver="3" date="2008-05-01T10:00:00Z"/>
</PendingChanges></PendingSet></QueryPendingSetsResult></QueryPendingSetsResponse>`, local)

	ws := vcs.WorkspaceRef{Name: "ws", Owner: `CORP\alice`}
	got, err := c.GetExtendedItemsAndPendingChanges(context.Background(), ws,
		[]vcs.ItemSpec{{Item: "/repo", Recursion: vcs.RecursionFull}}, vcs.ItemAny)
	require.NoError(t, err)

	require.Len(t, got.ExtendedItems, 2)
	a := got.ExtendedItems[0]
	assert.Equal(t, tfspath.Local.FromWire(local), a.Local)
	assert.Equal(t, 3, a.LocalVersion)
	assert.Equal(t, 5, a.Latest)
	assert.True(t, a.ChangeType.ContainsAll(vcs.ChangeEdit, vcs.ChangeEncoding))
	assert.Equal(t, vcs.LockCheckin, a.Lock)
	b := got.ExtendedItems[1]
	assert.True(t, b.IsFolder())
	assert.False(t, b.HasLocal())
	assert.Equal(t, vcs.NoVersion, b.LocalVersion)

	require.Len(t, got.PendingChanges, 1)
	assert.Equal(t, 7, got.PendingChanges[0].ItemID)
	assert.Equal(t, 2008, got.PendingChanges[0].Date.Year())

	sent := fake.request("QueryItemsExtended")
	assert.Contains(t, sent, `recurse="Full"`)
	assert.Contains(t, sent, tfspath.Local.ToWire("/repo"))
}

func TestCheckoutForEditFailures(t *testing.T) {
	fake, c := setup(t, credentials.New("alice", "CORP", "pw", false))
	fake.bodies["PendChanges"] = `<PendChangesResponse><PendChangesResult>
<GetOperation itemid="7" slocal="U:\repo\a.txt" tlocal="U:\repo\a.txt" titem="$/proj/a.txt" type="File" chg="Edit" sver="3"/>
</PendChangesResult><failures><Failure code="ItemNotFoundException" sev="Error" item="U:\repo\missing.txt"><Message>No matching items</Message></Failure></failures></PendChangesResponse>`

	res, err := c.CheckoutForEdit(context.Background(), vcs.WorkspaceRef{Name: "ws", Owner: "alice"},
		[]vcs.ItemSpec{{Item: "/repo/a.txt"}, {Item: "/repo/missing.txt"}})
	require.NoError(t, err)
	require.Len(t, res.Operations, 1)
	assert.Equal(t, "$/proj/a.txt", res.Operations[0].ServerItem)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "No matching items", res.Failures[0].Message)
	assert.Equal(t, vcs.SeverityError, res.Failures[0].Severity)

	sent := fake.request("PendChanges")
	assert.Equal(t, 2, strings.Count(sent, `req="Edit"`))
}

func TestWorkspaceRoundTrip(t *testing.T) {
	fake, c := setup(t, credentials.New("alice", "CORP", "pw", false))
	fake.bodies["CreateWorkspace"] = fmt.Sprintf(`<CreateWorkspaceResponse><CreateWorkspaceResult name="ws" owner="CORP\alice" computer="HOST" date="2008-05-01T10:00:00Z">
<Comment>hello</Comment><Folders><WorkingFolder local="%s" item="$/proj"/><WorkingFolder item="$/proj/bin" type="Cloak"/></Folders>
</CreateWorkspaceResult></CreateWorkspaceResponse>`, tfspath.Local.ToWire("/repo"))

	created, err := c.CreateWorkspace(context.Background(), vcs.Workspace{
		Name: "ws", Owner: `CORP\alice`, Computer: "HOST", Comment: "hello",
		Folders: []vcs.WorkingFolder{
			{Type: vcs.FolderMap, ServerItem: "$/proj", LocalItem: "/repo"},
			{Type: vcs.FolderCloak, ServerItem: "$/proj/bin"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", created.Comment)
	assert.Equal(t, 2008, created.LastAccessDate.Year())
	require.Len(t, created.Folders, 2)
	assert.Equal(t, tfspath.Local.FromWire(tfspath.Local.ToWire("/repo")), created.Folders[0].LocalItem)
	assert.Equal(t, vcs.FolderCloak, created.Folders[1].Type)

	sent := fake.request("CreateWorkspace")
	assert.Contains(t, sent, `type="Cloak"`)
	assert.Contains(t, sent, "<Comment>hello</Comment>")
}

type fakeProxy struct {
	uri          string
	inaccessible bool
}

func (p *fakeProxy) ProxyURI(string) string { return p.uri }

func (p *fakeProxy) ShouldTryProxy(string) bool { return p.uri != "" && !p.inaccessible }

func (p *fakeProxy) SetProxyInaccessible(string) { p.inaccessible = true }

func TestDownloadFallsBackFromDeadProxy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tfs/VersionControl/v1.0/item.asmx", r.URL.Path)
		_, _ = io.WriteString(w, "content")
	}))
	defer server.Close()
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	proxy := &fakeProxy{uri: deadURL}
	c := NewTransport(Options{Proxy: proxy}).OpenClient(server.URL+"/tfs", nil)

	data, err := c.Download(context.Background(), "type=rsa&sfid=1")
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
	assert.True(t, proxy.inaccessible)
}
