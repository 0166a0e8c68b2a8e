package workspace

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bolasblack/tfvc/internal/config"
	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/request"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/ui"
	"github.com/bolasblack/tfvc/internal/vcs"
	"github.com/bolasblack/tfvc/internal/vcs/vcstest"
	"github.com/bolasblack/tfvc/internal/versioncontrol"
)

const (
	serverA   = "http://a:8080/tfs/"
	serverB   = "http://b:8080/tfs/"
	owner     = `CORP\alice`
	computer  = "HOST"
	cachePath = "/home/alice/.tfvc/workstation.xml"
)

// answerDialog logs in with creds, or cancels when creds is nil.
type answerDialog struct {
	creds *credentials.Credentials
}

func (d *answerDialog) ShowLogin(_ context.Context, req ui.LoginRequest) (ui.LoginResult, error) {
	if d.creds == nil {
		return ui.LoginResult{}, nil
	}
	return ui.LoginResult{OK: true, ServerURI: req.ServerURI, Credentials: d.creds}, nil
}

type fixture struct {
	fs      afero.Fs
	dialog  *answerDialog
	store   *config.Store
	servers map[string]*vcstest.Server
	reg     *request.Registry
	ws      *Workstation
}

func newFixture(t *testing.T, cache string) *fixture {
	t.Helper()
	f := &fixture{
		fs:     afero.NewMemMapFs(),
		dialog: &answerDialog{},
		store:  config.NewStore(config.Options{}),
		servers: map[string]*vcstest.Server{
			serverA: vcstest.NewServer("guid-a"),
			serverB: vcstest.NewServer("guid-b"),
		},
	}
	if cache != "" {
		require.NoError(t, afero.WriteFile(f.fs, cachePath, []byte(cache), 0o644))
	}
	loop := ui.NewLoop()
	transport := vcs.TransportFunc(func(uri string, creds *credentials.Credentials) vcs.Client {
		return f.servers[tfspath.CanonicalizeURI(uri)].Open(uri, creds)
	})
	f.reg = request.NewRegistry(request.Options{
		Store:     f.store,
		Loop:      loop,
		Dialog:    f.dialog,
		Connector: request.TransportConnector{Transport: transport},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = loop.Serve(ctx) }()

	f.login(serverA)
	f.login(serverB)
	f.ws = NewWorkstation(Options{
		Fs:        f.fs,
		CachePath: cachePath,
		Config:    f.store,
		Connect: func(uri string) *versioncontrol.Server {
			return versioncontrol.New(f.reg, transport, uri)
		},
		HostName: NewHostName(func() (string, error) { return "host.corp.example.com", nil }),
	})
	return f
}

func (f *fixture) login(uri string) {
	f.store.StoreCredentials(uri, credentials.New("alice", "CORP", "pw", false))
}

func record(name string, folders ...vcs.WorkingFolder) vcs.Workspace {
	return vcs.Workspace{Name: name, Owner: owner, Computer: computer, Folders: folders}
}

func mapping(local, server string) vcs.WorkingFolder {
	return vcs.WorkingFolder{Type: vcs.FolderMap, LocalItem: local, ServerItem: server}
}

func TestIsValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"Hello_World.v1", true},
		{"A/B", false},
		{"A.", false},
		{"A ", false},
		{`A"B`, false},
		{"A:B", false},
		{"A<B", false},
		{"A>B", false},
		{"A|B", false},
		{"A*B", false},
		{"A?B", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidName(tt.name))
		})
	}
}

func TestHostName(t *testing.T) {
	calls := 0
	h := NewHostName(func() (string, error) {
		calls++
		return "build-07.example.com", nil
	})
	assert.Equal(t, "build-07", h.Get())
	assert.Equal(t, "build-07", h.Get())
	assert.Equal(t, 1, calls)

	failing := NewHostName(func() (string, error) { return "", errors.New("no network") })
	assert.Panics(t, func() { failing.Get() })
}

func TestFindServerPathsByLocalPath(t *testing.T) {
	f := newFixture(t, "")
	s := f.ws.AddServer(serverA, "guid-a")
	ws := newFromRecord(s, record("ws",
		mapping("/repo", "$/Project"),
		mapping("/repo/vendor", "$/Vendor"),
		mapping("/elsewhere/lib", "$/Lib"),
	))
	ctx := context.Background()

	tests := []struct {
		name             string
		local            string
		considerChildren bool
		want             []string
	}{
		{"nearest parent wins", "/repo/vendor/x.go", false, []string{"$/Vendor/x.go"}},
		{"root mapping", "/repo", false, []string{"$/Project"}},
		{"nested file", "/repo/src/main.go", true, []string{"$/Project/src/main.go"}},
		{"unmapped", "/other", false, nil},
		{"children ignored", "/elsewhere", false, nil},
		{"children collected", "/elsewhere", true, []string{"$/Lib"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ws.FindServerPathsByLocalPath(ctx, tt.local, tt.considerChildren)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if !tt.considerChildren {
				assert.LessOrEqual(t, len(got), 1)
			}
		})
	}
}

func TestFindLocalPathByServerPath(t *testing.T) {
	f := newFixture(t, "")
	s := f.ws.AddServer(serverA, "guid-a")
	ws := newFromRecord(s, record("ws",
		mapping("/repo", "$/Project"),
		mapping("/repo/vendor", "$/Project/Vendor"),
	))
	ctx := context.Background()

	fp, ok, err := ws.FindLocalPathByServerPath(ctx, "$/Project/Vendor/lib/a.go", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, tfspath.FilePath{Path: "/repo/vendor/lib/a.go"}, fp)

	ok, err = ws.HasLocalPathForServerPath(ctx, "$/Other/file")
	require.NoError(t, err)
	assert.False(t, ok)

	// Translations round-trip through the mapping.
	for _, local := range []string{"/repo/a/b.txt", "/repo/vendor", "/repo"} {
		sp, ok := WorkingFolder{LocalPath: "/repo", ServerPath: "$/Project"}.ServerPathByLocalPath(local)
		require.True(t, ok)
		back, ok := WorkingFolder{LocalPath: "/repo", ServerPath: "$/Project"}.LocalPathByServerPath(sp, false)
		require.True(t, ok)
		assert.Equal(t, local, back.Path)
	}
}

func TestEditRequiresOwnerAndComputer(t *testing.T) {
	f := newFixture(t, "")
	s := f.ws.AddServer(serverA, "guid-a")

	other := newFromRecord(s, vcs.Workspace{Name: "ws", Owner: `CORP\bob`, Computer: computer})
	_, err := other.Edit()
	assert.ErrorIs(t, err, tfserr.ErrNotOwner)

	elsewhere := newFromRecord(s, vcs.Workspace{Name: "ws", Owner: owner, Computer: "LAPTOP"})
	_, err = elsewhere.Edit()
	assert.ErrorIs(t, err, tfserr.ErrNotOwner)

	mine := newFromRecord(s, record("ws"))
	_, err = mine.Edit()
	assert.NoError(t, err)
}

func TestSaveCreatesThenUpdates(t *testing.T) {
	f := newFixture(t, "")
	s := f.ws.AddServer(serverA, "guid-a")
	ctx := context.Background()

	ws := NewWorkspace(s, owner, computer)
	ed, err := ws.Edit()
	require.NoError(t, err)
	ed.SetName("dev")
	ed.SetComment("first")
	ed.AddWorkingFolder(WorkingFolder{LocalPath: "/repo", ServerPath: "$/Project"})
	require.NoError(t, ed.Save(ctx, nil))

	assert.Equal(t, "dev", ws.OriginalName())
	require.Len(t, s.Workspaces(), 1)
	rec, ok := f.servers[serverA].Workspace("dev", owner)
	require.True(t, ok)
	assert.Equal(t, "first", rec.Comment)

	edited := ws.Copy()
	ed, err = edited.Edit()
	require.NoError(t, err)
	ed.SetName("dev2")
	ed.SetWorkingFolders([]WorkingFolder{{LocalPath: "/src", ServerPath: "$/Project"}})
	assert.Equal(t, "dev", ws.Name(), "the copy is independent")
	require.NoError(t, ed.Save(ctx, ws))

	list := s.Workspaces()
	require.Len(t, list, 1)
	assert.Same(t, edited, list[0])
	assert.Equal(t, "dev2", list[0].OriginalName())
	_, ok = f.servers[serverA].Workspace("dev", owner)
	assert.False(t, ok)

	data, err := afero.ReadFile(f.fs, cachePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `name="dev2"`)
	assert.Contains(t, string(data), `<MappedPath path="/src"></MappedPath>`)
}

func TestLoadFromServerDetectsOwnerChange(t *testing.T) {
	f := newFixture(t, "")
	s := f.ws.AddServer(serverA, "guid-a")
	f.servers[serverA].PutWorkspace(record("ws", mapping("/repo", "$/P")))
	f.servers[serverA].RequirePassword(`CORP\bob`, "pw")
	ws := &Workspace{server: s, owner: owner, computer: computer, originalName: "ws"}

	// alice is rejected and bob logs in while the load runs.
	f.dialog.creds = credentials.New("bob", "CORP", "pw", false)
	err := ws.LoadFromServer(context.Background(), false)
	var notFound *tfserr.WorkspaceNotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.False(t, ws.Loaded())
	assert.Equal(t, `CORP\bob`, s.QualifiedUsername())
}

func TestLoadFromServerSkipsForeignWorkspace(t *testing.T) {
	f := newFixture(t, "")
	s := f.ws.AddServer(serverA, "guid-a")
	ws := &Workspace{server: s, owner: `CORP\bob`, computer: computer, originalName: "ws"}

	require.NoError(t, ws.LoadFromServer(context.Background(), true))
	assert.Equal(t, 0, f.servers[serverA].CallCount("LoadWorkspace"))
}

func TestGetExtendedItems(t *testing.T) {
	f := newFixture(t, "")
	s := f.ws.AddServer(serverA, "guid-a")
	ws := newFromRecord(s, record("ws", mapping("/repo", "$/P")))
	f.servers[serverA].SetItems([]vcs.ExtendedItem{
		{ItemID: 1, Local: "/repo/a.txt", TargetItem: "$/P/a.txt", Type: vcs.ItemFile, Lock: vcs.LockCheckin},
	}, nil)

	known := ItemPath{Local: tfspath.FilePath{Path: "/repo/a.txt"}, Server: "$/P/a.txt"}
	unknown := ItemPath{Local: tfspath.FilePath{Path: "/repo/b.txt"}, Server: "$/P/b.txt"}
	items, err := ws.GetExtendedItems(context.Background(), []ItemPath{known, unknown})
	require.NoError(t, err)
	require.NotNil(t, items[known])
	assert.Equal(t, vcs.LockCheckin, items[known].Lock)
	assert.Nil(t, items[unknown])
}
