package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bolasblack/tfvc/internal/config"
	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/ui"
	"github.com/bolasblack/tfvc/internal/vcs"
	"github.com/bolasblack/tfvc/internal/vcs/vcstest"
)

const serverURI = "http://tfs:8080/tfs/"

type step struct {
	uri    string
	creds  *credentials.Credentials
	cancel bool
}

// scriptedDialog answers login dialogs from a fixed list of steps.
type scriptedDialog struct {
	mu       sync.Mutex
	steps    []step
	requests []ui.LoginRequest
	messages []string
}

func (d *scriptedDialog) next() (step, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.steps) == 0 {
		return step{}, false
	}
	st := d.steps[0]
	d.steps = d.steps[1:]
	return st, true
}

func (d *scriptedDialog) ShowLogin(ctx context.Context, req ui.LoginRequest) (ui.LoginResult, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	msg := req.Message
	for {
		d.mu.Lock()
		d.messages = append(d.messages, msg)
		d.mu.Unlock()

		st, ok := d.next()
		if !ok || st.cancel {
			return ui.LoginResult{}, nil
		}
		uri := req.ServerURI
		if st.uri != "" {
			uri = st.uri
		}
		if req.OnOK == nil {
			return ui.LoginResult{OK: true, ServerURI: uri, Credentials: st.creds}, nil
		}
		closeDialog, m := req.OnOK(ctx, uri, st.creds)
		if closeDialog {
			return ui.LoginResult{OK: true, ServerURI: uri, Credentials: st.creds}, nil
		}
		msg = m
	}
}

func (d *scriptedDialog) shown() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

type fixture struct {
	store   *config.Store
	server  *vcstest.Server
	dialog  *scriptedDialog
	loop    *ui.Loop
	reg     *Registry
	metrics *Metrics
}

func newFixture(t *testing.T, steps ...step) *fixture {
	t.Helper()
	f := &fixture{
		store:   config.NewStore(config.Options{}),
		server:  vcstest.NewServer("3f2504e0-4f89-11d3-9a0c-0305e82c3301"),
		dialog:  &scriptedDialog{steps: steps},
		loop:    ui.NewLoop(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	f.reg = NewRegistry(Options{
		Store:     f.store,
		Loop:      f.loop,
		Dialog:    f.dialog,
		Connector: TransportConnector{Transport: f.server},
		Metrics:   f.metrics,
	})
	return f
}

// serve runs the UI loop for background tests.
func (f *fixture) serve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = f.loop.Serve(ctx) }()
}

func (f *fixture) queryWorkspaces() Request[[]vcs.Workspace] {
	return Request[[]vcs.Workspace]{
		Title: "Query workspaces",
		Execute: func(ctx context.Context, creds *credentials.Credentials, uri string) ([]vcs.Workspace, error) {
			return f.server.Open(uri, creds).QueryWorkspaces(ctx, creds.QualifiedUsername(), "HOST")
		},
	}
}

func TestManagerInterning(t *testing.T) {
	f := newFixture(t)
	assert.Same(t, f.reg.Manager("http://tfs:8080/tfs"), f.reg.Manager(serverURI))
	assert.NotSame(t, f.reg.Manager(serverURI), f.reg.Manager("http://other/"))
	assert.Equal(t, "", f.reg.Manager("").ServerURI())
}

func TestBackgroundUnauthorizedRetry(t *testing.T) {
	f := newFixture(t, step{creds: credentials.New("alice", "CORP", "new", true)})
	f.serve(t)
	f.store.StoreCredentials(serverURI, credentials.New("alice", "CORP", "old", true))
	f.server.RequirePassword(`CORP\alice`, "new")

	_, err := Execute(context.Background(), f.reg.Manager(serverURI), ExecOptions{}, f.queryWorkspaces())
	require.NoError(t, err)

	assert.Equal(t, 1, f.dialog.shown())
	assert.Contains(t, f.dialog.requests[0].Message, "TF30063")
	assert.Equal(t, 2, f.server.CallCount("QueryWorkspaces"))
	assert.Equal(t, "new", f.store.Credentials(serverURI).Password)
	assert.False(t, f.store.IsAuthCanceled(serverURI))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Requests.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LoginPrompts.WithLabelValues("background")))
}

func TestBackgroundDialogCancelSetsSticky(t *testing.T) {
	f := newFixture(t, step{cancel: true})
	f.serve(t)

	_, err := Execute(context.Background(), f.reg.Manager(serverURI), ExecOptions{}, f.queryWorkspaces())
	assert.True(t, tfserr.IsAuthCancelled(err), "got %v", err)
	assert.True(t, f.store.IsAuthCanceled(serverURI))
	assert.Equal(t, 0, f.server.CallCount("QueryWorkspaces"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthCancelled))

	// The sticky short-circuits without another dialog.
	_, err = Execute(context.Background(), f.reg.Manager(serverURI), ExecOptions{}, f.queryWorkspaces())
	assert.True(t, tfserr.IsAuthCancelled(err))
	assert.Equal(t, 1, f.dialog.shown())
}

func TestBackgroundForceBypassesSticky(t *testing.T) {
	f := newFixture(t, step{creds: credentials.New("alice", "CORP", "pw", false)})
	f.serve(t)
	f.store.SetAuthCanceled(serverURI, nil)

	_, err := Execute(context.Background(), f.reg.Manager(serverURI), ExecOptions{Force: true}, f.queryWorkspaces())
	require.NoError(t, err)
	assert.Equal(t, 1, f.dialog.shown())
	assert.False(t, f.store.IsAuthCanceled(serverURI), "storing credentials clears the sticky")
}

func TestBackgroundConnectionFailureKeepsCredentials(t *testing.T) {
	f := newFixture(t)
	f.store.StoreCredentials(serverURI, credentials.New("alice", "CORP", "pw", false))
	f.server.FailNext("QueryWorkspaces", tfserr.ConnectionFailed(503, errors.New("unavailable")))

	_, err := Execute(context.Background(), f.reg.Manager(serverURI), ExecOptions{}, f.queryWorkspaces())
	assert.True(t, tfserr.IsConnectionFailed(err))
	assert.Equal(t, "pw", f.store.Credentials(serverURI).Password)
	assert.Equal(t, 0, f.dialog.shown())
}

func TestBackgroundHandshakeCompletesIdentity(t *testing.T) {
	f := newFixture(t)
	f.store.StoreCredentials(serverURI, credentials.New("alice", "", "pw", false))

	_, err := Execute(context.Background(), f.reg.Manager(serverURI), ExecOptions{}, f.queryWorkspaces())
	require.NoError(t, err)
	assert.Equal(t, 1, f.server.CallCount("Connect"))
	assert.Equal(t, "FAKE", f.store.Credentials(serverURI).Domain)
}

func TestBackgroundSkipsHandshakeWhenAllowed(t *testing.T) {
	f := newFixture(t)
	f.store.StoreCredentials(serverURI, credentials.New("alice", "", "pw", false))
	req := f.queryWorkspaces()
	req.AllowUnauthorizedCredentials = true

	_, err := Execute(context.Background(), f.reg.Manager(serverURI), ExecOptions{}, req)
	require.NoError(t, err)
	assert.Equal(t, 0, f.server.CallCount("Connect"))
}

func TestBackgroundRequiresServer(t *testing.T) {
	f := newFixture(t)
	_, err := Execute(context.Background(), f.reg.Manager(""), ExecOptions{}, f.queryWorkspaces())
	assert.Error(t, err)
}

func TestOneRequestInFlightPerServer(t *testing.T) {
	f := newFixture(t)
	f.server.Delay = 5 * time.Millisecond
	f.store.StoreCredentials(serverURI, credentials.New("alice", "CORP", "pw", false))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Execute(context.Background(), f.reg.Manager(serverURI), ExecOptions{}, f.queryWorkspaces())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, f.server.CallCount("QueryWorkspaces"))
	assert.Equal(t, 1, f.server.MaxInFlight())
}

func TestBackgroundCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.store.StoreCredentials(serverURI, credentials.New("alice", "CORP", "pw", false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(ctx, f.reg.Manager(serverURI), ExecOptions{}, f.queryWorkspaces())
	assert.True(t, tfserr.IsUserCancelled(err))
	assert.False(t, f.store.IsAuthCanceled(serverURI))
}

func TestForegroundAddServer(t *testing.T) {
	f := newFixture(t,
		step{uri: serverURI, creds: credentials.New("alice", "CORP", "wrong", true)},
		step{uri: serverURI, creds: credentials.New("alice", "CORP", "right", true)},
	)
	f.server.RequirePassword(`CORP\alice`, "right")

	var got []vcs.Workspace
	err := f.loop.Run(context.Background(), func(ctx context.Context) error {
		var err error
		got, err = Execute(ctx, f.reg.Manager(""), ExecOptions{}, f.queryWorkspaces())
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.Equal(t, 1, f.dialog.shown())
	assert.True(t, f.dialog.requests[0].AllowAddressChange)
	require.Len(t, f.dialog.messages, 2)
	assert.Contains(t, f.dialog.messages[1], "TF30063")
	assert.Equal(t, "right", f.store.Credentials(serverURI).Password)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LoginPrompts.WithLabelValues("foreground")))
}

func TestForegroundFatalErrorClosesDialog(t *testing.T) {
	f := newFixture(t, step{creds: credentials.New("alice", "CORP", "pw", false)})
	f.server.FailNext("QueryWorkspaces", &tfserr.Error{Message: "boom"})

	err := f.loop.Run(context.Background(), func(ctx context.Context) error {
		_, err := Execute(ctx, f.reg.Manager(serverURI), ExecOptions{}, f.queryWorkspaces())
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, f.dialog.messages, 1)
	assert.NotNil(t, f.store.Credentials(serverURI), "non-connection failures still store credentials")
}

func TestForegroundReportErrorsInDialog(t *testing.T) {
	f := newFixture(t,
		step{creds: credentials.New("alice", "CORP", "pw", false)},
		step{cancel: true},
	)
	f.server.FailNext("QueryWorkspaces", &tfserr.Error{Message: "boom"})

	err := f.loop.Run(context.Background(), func(ctx context.Context) error {
		_, err := Execute(ctx, f.reg.Manager(serverURI), ExecOptions{ReportErrorsInDialog: true}, f.queryWorkspaces())
		return err
	})
	assert.True(t, tfserr.IsAuthCancelled(err))
	require.Len(t, f.dialog.messages, 2)
	assert.Equal(t, "boom.", f.dialog.messages[1])
	assert.True(t, f.store.IsAuthCanceled(serverURI))
}

func TestForegroundUnauthorizedRecursesWithMessage(t *testing.T) {
	f := newFixture(t, step{creds: credentials.New("alice", "CORP", "right", true)})
	f.store.StoreCredentials(serverURI, credentials.New("alice", "CORP", "stale", true))
	f.server.RequirePassword(`CORP\alice`, "right")

	err := f.loop.Run(context.Background(), func(ctx context.Context) error {
		_, err := Execute(ctx, f.reg.Manager(serverURI), ExecOptions{}, f.queryWorkspaces())
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.dialog.shown())
	assert.False(t, f.dialog.requests[0].AllowAddressChange)
	assert.Contains(t, f.dialog.requests[0].Message, "TF30063")
	assert.Equal(t, "right", f.store.Credentials(serverURI).Password)
}

type cancellingProgress struct{}

func (cancellingProgress) Start(_ string, cancel context.CancelFunc) func() {
	cancel()
	return func() {}
}

func TestForegroundProgressCancel(t *testing.T) {
	f := newFixture(t)
	f.reg.progress = cancellingProgress{}
	f.store.StoreCredentials(serverURI, credentials.New("alice", "CORP", "pw", false))

	err := f.loop.Run(context.Background(), func(ctx context.Context) error {
		_, err := Execute(ctx, f.reg.Manager(serverURI), ExecOptions{}, f.queryWorkspaces())
		return err
	})
	assert.True(t, tfserr.IsUserCancelled(err), "got %v", err)
	assert.False(t, f.store.IsAuthCanceled(serverURI))
}

func TestFormatMessage(t *testing.T) {
	redirect := tfserr.ConnectionFailed(302, errors.New("redirected"))
	assert.Equal(t, "Unauthorized", formatMessage(redirect, credentials.NewAlternate("bob", "pw", false)))
	assert.Contains(t, formatMessage(redirect, credentials.New("bob", "D", "pw", false)), "alternate credentials")
	assert.Contains(t, formatMessage(redirect, nil), "alternate credentials")

	other := tfserr.ConnectionFailed(500, errors.New("server error"))
	assert.Equal(t, other.Error(), formatMessage(other, nil))
}
