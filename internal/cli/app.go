package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/config"
	"github.com/bolasblack/tfvc/internal/logging"
	"github.com/bolasblack/tfvc/internal/notify"
	"github.com/bolasblack/tfvc/internal/request"
	"github.com/bolasblack/tfvc/internal/sealed"
	"github.com/bolasblack/tfvc/internal/soap"
	"github.com/bolasblack/tfvc/internal/ui"
	"github.com/bolasblack/tfvc/internal/util"
	"github.com/bolasblack/tfvc/internal/vcs"
	"github.com/bolasblack/tfvc/internal/versioncontrol"
	"github.com/bolasblack/tfvc/internal/workspace"
)

// app is the wired object graph shared by the commands of one invocation.
type app struct {
	env         *util.Env
	log         *zap.Logger
	dir         string
	store       *config.Store
	loop        *ui.Loop
	center      *notify.Center
	transport   vcs.Transport
	registry    *request.Registry
	workstation *workspace.Workstation
	metrics     *prometheus.Registry
	prompter    prompter
	progress    ui.Progress
}

func (r *runner) init() (*app, error) {
	if r.app != nil {
		return r.app, nil
	}
	env := r.env

	log, err := logging.New(logging.Config{Level: r.opts.logLevel, Format: "console"})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dir := r.opts.configDir
	if dir == "" {
		if dir, err = config.DefaultDir(); err != nil {
			return nil, err
		}
	}

	sealer, err := sealed.LoadOrCreate(env.Fs, filepath.Join(dir, sealed.IdentityFilename))
	if err != nil {
		return nil, err
	}

	loop := ui.NewLoop()
	center := notify.NewCenter(log)
	store, err := config.Open(config.Options{
		Fs:       env.Fs,
		Path:     filepath.Join(dir, config.Filename),
		Sealer:   sealer,
		Notifier: center,
		Invoker:  loop,
		Log:      log,
	})
	if err != nil {
		log.Warn("configuration ignored", zap.Error(err))
	}

	transport := r.transport
	if transport == nil {
		transport = soap.NewTransport(soap.Options{Proxy: store, Log: log})
	}

	var p prompter = batchPrompter{}
	if env.Interactive {
		p = &huhPrompter{}
	}
	progress := &util.StepProgress{W: env.Err}

	metrics := prometheus.NewRegistry()
	registry := request.NewRegistry(request.Options{
		Store:     store,
		Loop:      loop,
		Dialog:    p,
		Progress:  progress,
		Connector: request.TransportConnector{Transport: transport},
		Log:       log,
		Metrics:   request.NewMetrics(metrics),
	})

	ws := workspace.NewWorkstation(workspace.Options{
		Fs:        env.Fs,
		CachePath: filepath.Join(dir, config.CacheFilename),
		Config:    store,
		Log:       log,
		Connect: func(uri string) *versioncontrol.Server {
			return versioncontrol.New(registry, transport, uri)
		},
	})
	store.SetKnownServers(ws)

	a := &app{
		env:         env,
		log:         log,
		dir:         dir,
		store:       store,
		loop:        loop,
		center:      center,
		transport:   transport,
		registry:    registry,
		workstation: ws,
		metrics:     metrics,
		prompter:    p,
		progress:    progress,
	}
	center.SetRetry(a.relogin)
	r.app = a
	return a, nil
}

// run executes fn as the dispatch goroutine of the application's UI loop.
func (r *runner) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := r.init()
	if err != nil {
		return err
	}
	ctx := logging.WithLogger(cmd.Context(), a.log)
	return a.loop.Run(ctx, func(ctx context.Context) error {
		return fn(ctx, a)
	})
}

// close flushes the logger and exports metrics.
func (r *runner) close() error {
	if r.app == nil {
		return nil
	}
	_ = r.app.log.Sync()
	if r.opts.metricsTextfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.opts.metricsTextfile, r.app.metrics); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// relogin logs in to a known server again, even after a cancelled login.
func (a *app) relogin(ctx context.Context, serverURI string) error {
	s := a.workstation.Server(serverURI)
	if s == nil {
		return fmt.Errorf("unknown server %s", serverURI)
	}
	_, err := s.VCS().EnsureAuthenticated(ctx, true)
	return err
}

// server resolves a server by URI, or the only known server when uri is empty.
func (a *app) server(uri string) (*workspace.Server, error) {
	if uri != "" {
		if s := a.workstation.Server(uri); s != nil {
			return s, nil
		}
		return nil, fmt.Errorf("unknown server %s: run 'tfvc login %s' first", uri, uri)
	}
	servers := a.workstation.Servers()
	switch len(servers) {
	case 0:
		return nil, errors.New("no server configured: run 'tfvc login' first")
	case 1:
		return servers[0], nil
	}
	return nil, errors.New("several servers are known: pass --server")
}

// findWorkspace looks a workspace of the current user on this computer up
// by name, on serverURI or on every known server.
func (a *app) findWorkspace(name, serverURI string) (*workspace.Workspace, error) {
	var found []*workspace.Workspace
	for _, s := range a.workstation.Servers() {
		if serverURI != "" && !strings.EqualFold(s.URI(), a.canonicalServer(serverURI)) {
			continue
		}
		for _, ws := range s.WorkspacesForCurrentOwnerAndComputer() {
			if strings.EqualFold(ws.Name(), name) {
				found = append(found, ws)
			}
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("workspace %q not found", name)
	case 1:
		return found[0], nil
	}
	return nil, fmt.Errorf("workspace %q exists on several servers: pass --server", name)
}

func (a *app) canonicalServer(uri string) string {
	if s := a.workstation.Server(uri); s != nil {
		return s.URI()
	}
	return uri
}

// isMapped reports whether a cached workspace maps path.
func (a *app) isMapped(path string) bool {
	return len(a.workstation.FindWorkspacesCached(path, false)) > 0
}
