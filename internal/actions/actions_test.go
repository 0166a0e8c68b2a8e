package actions

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bolasblack/tfvc/internal/config"
	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/request"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/ui"
	"github.com/bolasblack/tfvc/internal/vcs"
	"github.com/bolasblack/tfvc/internal/vcs/vcstest"
	"github.com/bolasblack/tfvc/internal/versioncontrol"
	"github.com/bolasblack/tfvc/internal/workspace"
)

const (
	serverURI = "http://tfs:8080/tfs/"
	owner     = `CORP\alice`
)

type fixture struct {
	fs   afero.Fs
	fake *vcstest.Server
	w    *workspace.Workstation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := config.NewStore(config.Options{})
	store.StoreCredentials(serverURI, credentials.New("alice", "CORP", "pw", false))
	fake := vcstest.NewServer("guid-1")
	loop := ui.NewLoop()
	reg := request.NewRegistry(request.Options{
		Store:     store,
		Loop:      loop,
		Dialog:    ui.CancelDialog{},
		Connector: request.TransportConnector{Transport: fake},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = loop.Serve(ctx) }()

	fs := afero.NewMemMapFs()
	w := workspace.NewWorkstation(workspace.Options{
		Fs:        fs,
		CachePath: "/home/alice/.tfvc/workstation.xml",
		Config:    store,
		Connect: func(uri string) *versioncontrol.Server {
			return versioncontrol.New(reg, fake, uri)
		},
		HostName: workspace.NewHostName(func() (string, error) { return "host.corp.example.com", nil }),
	})

	fake.PutWorkspace(vcs.Workspace{
		Name: "dev", Owner: owner, Computer: w.ComputerName(),
		Folders: []vcs.WorkingFolder{{Type: vcs.FolderMap, LocalItem: "/ws", ServerItem: "$/P"}},
	})
	srv := w.AddServer(serverURI, "guid-1")
	require.NoError(t, srv.RefreshWorkspacesForCurrentOwner(context.Background()))
	return &fixture{fs: fs, fake: fake, w: w}
}

func file(id int, name string) vcs.ExtendedItem {
	return vcs.ExtendedItem{
		ItemID: id, Local: "/ws/" + name, TargetItem: "$/P/" + name,
		Type: vcs.ItemFile, LocalVersion: 1, Latest: 1,
	}
}

func TestCheckoutMakesFilesWritable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "/ws/a.txt", []byte("a"), 0o444))
	f.fake.SetItems([]vcs.ExtendedItem{file(1, "a.txt")}, nil)

	c := &Checkout{Workstation: f.w, Fs: f.fs}
	result, err := c.Run(context.Background(), []tfspath.FilePath{{Path: "/ws/a.txt"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/ws/a.txt"}, result.Edited)
	assert.Empty(t, result.Failures)

	info, err := f.fs.Stat("/ws/a.txt")
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o200)

	changes := f.fake.PendingChanges()
	require.Len(t, changes, 1)
	assert.True(t, changes[0].ChangeType.Contains(vcs.ChangeEdit))
}

func TestCheckoutReportsUnmappedAndFailedPaths(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "/ws/unknown.txt", []byte("u"), 0o444))

	c := &Checkout{Workstation: f.w, Fs: f.fs}
	result, err := c.Run(context.Background(), []tfspath.FilePath{{Path: "/ws/unknown.txt"}, {Path: "/elsewhere/b.txt"}})

	var missing *MappingsNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"/elsewhere/b.txt"}, missing.Paths)
	assert.Equal(t, "Mappings not found for files:\n/elsewhere/b.txt", missing.Error())

	require.NotNil(t, result)
	assert.Empty(t, result.Edited)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Message, "TF14087")
}

func TestLoadLockItemsSelection(t *testing.T) {
	mine := file(2, "mine.txt")
	mine.Lock, mine.LockOwner = vcs.LockCheckin, owner
	theirs := file(3, "theirs.txt")
	theirs.Lock, theirs.LockOwner = vcs.LockCheckOut, `CORP\bob`

	tests := []struct {
		name     string
		items    []vcs.ExtendedItem
		paths    []string
		selected []string
	}{
		{
			name:     "own locks are preselected for unlocking",
			items:    []vcs.ExtendedItem{file(1, "free.txt"), mine, theirs},
			paths:    []string{"/ws/free.txt", "/ws/mine.txt", "/ws/theirs.txt"},
			selected: []string{"$/P/mine.txt"},
		},
		{
			name:     "free items are preselected otherwise",
			items:    []vcs.ExtendedItem{file(1, "free.txt"), theirs},
			paths:    []string{"/ws/free.txt", "/ws/theirs.txt"},
			selected: []string{"$/P/free.txt"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fake.SetItems(tt.items, nil)
			var paths []tfspath.FilePath
			for _, p := range tt.paths {
				paths = append(paths, tfspath.FilePath{Path: p})
			}

			items, err := LoadLockItems(context.Background(), f.w, paths)
			require.NoError(t, err)
			require.Len(t, items, len(tt.items))
			var selected []string
			for _, it := range Selected(items) {
				selected = append(selected, it.Item.TargetItem)
			}
			assert.Equal(t, tt.selected, selected)
		})
	}
}

func TestLoadLockItemsErrors(t *testing.T) {
	f := newFixture(t)

	_, err := LoadLockItems(context.Background(), f.w, []tfspath.FilePath{{Path: "/elsewhere/x"}})
	assert.ErrorIs(t, err, ErrNoMappings)

	_, err = LoadLockItems(context.Background(), f.w, []tfspath.FilePath{{Path: "/ws/missing.txt"}})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestLockAndUnlock(t *testing.T) {
	f := newFixture(t)
	f.fake.SetItems([]vcs.ExtendedItem{file(1, "a.txt"), file(2, "b.txt")}, nil)
	ctx := context.Background()
	paths := []tfspath.FilePath{{Path: "/ws/a.txt"}, {Path: "/ws/b.txt"}}

	items, err := LoadLockItems(ctx, f.w, paths)
	require.NoError(t, err)
	failures, err := LockOrUnlock(ctx, Selected(items), vcs.LockCheckin)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, 1, f.fake.CallCount("LockOrUnlockItems"), "one call per workspace")

	items, err = LoadLockItems(ctx, f.w, paths)
	require.NoError(t, err)
	for _, it := range items {
		assert.True(t, it.CanBeUnlocked(), it.Item.TargetItem)
		assert.True(t, it.Selected, it.Item.TargetItem)
	}

	_, err = LockOrUnlock(ctx, Selected(items), vcs.LockNone)
	require.NoError(t, err)
	items, err = LoadLockItems(ctx, f.w, paths)
	require.NoError(t, err)
	for _, it := range items {
		assert.True(t, it.CanBeLocked(), it.Item.TargetItem)
	}
}

func TestLockSummary(t *testing.T) {
	assert.Equal(t, "1 item locked", LockSummary(1, vcs.LockCheckin))
	assert.Equal(t, "2 items unlocked", LockSummary(2, vcs.LockNone))
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.fake.SetHistory([]vcs.Changeset{
		{ID: 1, Owner: owner, Comment: "initial", Changes: []vcs.Change{{ServerItem: "$/P/src/a.go"}}},
		{ID: 2, Owner: owner, Comment: "docs", Changes: []vcs.Change{{ServerItem: "$/P/README"}}},
		{ID: 3, Owner: owner, Comment: "fix", Changes: []vcs.Change{{ServerItem: "$/P/src/b.go"}}},
	})
	ctx := context.Background()

	got, err := History(ctx, f.w, tfspath.FilePath{Path: "/ws/src", IsDir: true}, 0)
	require.NoError(t, err)
	ids := make([]int, len(got))
	for i, cs := range got {
		ids[i] = cs.ID
	}
	assert.Equal(t, []int{3, 1}, ids)

	got, err = History(ctx, f.w, tfspath.FilePath{Path: "/ws", IsDir: true}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].ID)

	_, err = History(ctx, f.w, tfspath.FilePath{Path: "/elsewhere/x"}, 0)
	var missing *MappingsNotFoundError
	assert.ErrorAs(t, err, &missing)
}
