package request

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/pprof"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/logging"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/ui"
)

// Request is one raw server call.
type Request[T any] struct {
	Title string
	// AllowUnauthorizedCredentials skips the connect handshake when the
	// identity is still incomplete.
	AllowUnauthorizedCredentials bool
	Execute                      func(ctx context.Context, creds *credentials.Credentials, serverURI string) (T, error)
}

// ExecOptions tunes one execution.
type ExecOptions struct {
	// Force prompts even when the user dismissed the login dialog before.
	Force bool
	// ReportErrorsInDialog keeps the login dialog open on any failure.
	ReportErrorsInDialog bool
	// OverrideCredentials replaces the stored credentials for this call.
	OverrideCredentials *credentials.Credentials
	// UIContext is handed to the auth-cancel notification.
	UIContext any
}

// Execute runs req through m. On the dispatch goroutine the foreground path
// is used, otherwise the background path.
func Execute[T any](ctx context.Context, m *Manager, opts ExecOptions, req Request[T]) (T, error) {
	log := m.reg.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("server", m.serverURI),
		zap.String("request", req.Title),
	)
	ctx = logging.WithLogger(ctx, log)

	var (
		result T
		err    error
	)
	if ui.OnDispatchThread(ctx) {
		result, err = executeForeground(ctx, m, opts, req, "")
	} else {
		result, err = executeBackground(ctx, m, opts, req)
	}
	m.reg.metrics.request(outcomeOf(err))
	if err != nil {
		log.Debug("request failed", zap.Error(err))
	}
	return result, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case tfserr.IsAuthCancelled(err):
		return OutcomeAuthCancelled
	case tfserr.IsUserCancelled(err):
		return OutcomeUserCancelled
	case tfserr.IsUnauthorized(err):
		return OutcomeUnauthorized
	default:
		return OutcomeError
	}
}

func executeBackground[T any](ctx context.Context, m *Manager, opts ExecOptions, req Request[T]) (T, error) {
	var zero T
	if m.serverURI == "" {
		return zero, &tfserr.Error{Message: "a server is required outside the UI goroutine"}
	}
	reg := m.reg
	log := logging.FromContext(ctx, reg.log)

	showDialog, err := m.shouldShowDialog(opts.Force)
	if err != nil {
		return zero, err
	}
	creds := opts.OverrideCredentials
	if creds == nil {
		creds = reg.store.Credentials(m.serverURI)
	}
	message := ""
	for {
		if showDialog || message != "" {
			creds, err = m.promptInBackground(ctx, opts, creds, message)
			if err != nil {
				return zero, err
			}
		}

		result, used, err := runLocked(ctx, m, creds, req)
		if err == nil {
			reg.storeCredentials(m.serverURI, used)
			return result, nil
		}
		if tfserr.IsUserCancelled(err) {
			return zero, err
		}
		if tfserr.IsUnauthorized(err) {
			log.Info("server rejected credentials", zap.Error(err))
			message = formatMessage(err, used)
			creds = used
			continue
		}
		if !tfserr.IsConnectionFailed(err) {
			reg.storeCredentials(m.serverURI, used)
		}
		return zero, err
	}
}

// promptInBackground shows the login dialog on the UI goroutine under the
// dialog lock and returns the credentials to use next.
func (m *Manager) promptInBackground(ctx context.Context, opts ExecOptions, creds *credentials.Credentials, message string) (*credentials.Credentials, error) {
	reg := m.reg
	reg.dialogMu.Lock()
	defer reg.dialogMu.Unlock()
	if ctx.Err() != nil {
		return nil, &tfserr.UserCancelledError{}
	}

	showDialog, err := m.shouldShowDialog(opts.Force)
	if err != nil {
		return nil, err
	}
	if message == "" && !showDialog {
		// Another request logged in while this one waited.
		return reg.store.Credentials(m.serverURI), nil
	}

	var (
		ok        bool
		fromStore bool
		result    ui.LoginResult
		dialogErr error
	)
	err = reg.loop.InvokeAndWait(ctx, func(uiCtx context.Context) {
		if message == "" {
			show, err := m.shouldShowDialog(opts.Force)
			if err != nil {
				dialogErr = err
				return
			}
			if !show {
				ok, fromStore = true, true
				return
			}
		}
		reg.metrics.prompt("background")
		result, dialogErr = reg.dialog.ShowLogin(uiCtx, ui.LoginRequest{
			ServerURI:           m.serverURI,
			Credentials:         creds.Clone(),
			Message:             ui.FormatMessage(message),
			PromptProxyPassword: reg.store.ShouldPromptForProxyPassword(false),
		})
		ok = result.OK
	})
	if err != nil {
		return nil, &tfserr.UserCancelledError{}
	}
	if dialogErr != nil {
		return nil, dialogErr
	}
	if !ok {
		if !opts.Force {
			reg.cancelAuth(m.serverURI, opts.UIContext)
		}
		return nil, authCancelled(m.serverURI)
	}
	if fromStore {
		return reg.store.Credentials(m.serverURI), nil
	}
	if result.ProxyPassword != "" {
		reg.store.SetProxyPassword(result.ProxyPassword)
	}
	return result.Credentials, nil
}

func runLocked[T any](ctx context.Context, m *Manager, creds *credentials.Credentials, req Request[T]) (T, *credentials.Credentials, error) {
	m.requestMu.Lock()
	defer m.requestMu.Unlock()
	if ctx.Err() != nil {
		var zero T
		return zero, creds, &tfserr.UserCancelledError{}
	}
	return executeImpl(ctx, m.reg.connector, m.serverURI, creds, req)
}

// executeImpl performs the handshake when needed and the raw call, under
// profiler labels naming the server and the request.
func executeImpl[T any](ctx context.Context, connector Connector, serverURI string, creds *credentials.Credentials, req Request[T]) (result T, used *credentials.Credentials, err error) {
	used = creds
	labels := pprof.Labels("tfvc.server", serverURI, "tfvc.request", req.Title)
	pprof.Do(ctx, labels, func(ctx context.Context) {
		if used == nil || (!req.AllowUnauthorizedCredentials && used.NeedsAuthentication()) {
			desc, cerr := connector.Connect(ctx, serverURI, used)
			if cerr != nil {
				err = cerr
				return
			}
			if desc.AuthorizedCredentials != nil {
				used = desc.AuthorizedCredentials
			}
		}
		result, err = req.Execute(ctx, used, serverURI)
	})
	return result, used, tfserr.Process(err)
}

func executeForeground[T any](ctx context.Context, m *Manager, opts ExecOptions, req Request[T], errorMessage string) (T, error) {
	var zero T
	reg := m.reg

	withDialog := errorMessage != ""
	if !withDialog && opts.OverrideCredentials == nil {
		show, err := m.shouldShowDialog(opts.Force)
		if err != nil {
			return zero, err
		}
		withDialog = show
	}

	if withDialog {
		creds := opts.OverrideCredentials
		if creds == nil && m.serverURI != "" {
			creds = reg.store.Credentials(m.serverURI)
		}
		var (
			result T
			fatal  error
		)
		onOK := func(uiCtx context.Context, serverURI string, entered *credentials.Credentials) (bool, string) {
			res, used, cancelled, err := runSession(uiCtx, m, serverURI, entered, req)
			if cancelled {
				return false, ""
			}
			if err != nil {
				if tfserr.IsUnauthorized(err) || m.serverURI == "" || opts.ReportErrorsInDialog {
					return false, ui.FormatMessage(formatMessage(err, used))
				}
				fatal = err
				if !tfserr.IsConnectionFailed(err) {
					reg.storeCredentials(serverURI, used)
				}
				return true, ""
			}
			reg.storeCredentials(serverURI, used)
			result = res
			return true, ""
		}

		reg.metrics.prompt("foreground")
		lr, err := reg.dialog.ShowLogin(ctx, ui.LoginRequest{
			ServerURI:           m.serverURI,
			Credentials:         creds.Clone(),
			AllowAddressChange:  m.serverURI == "",
			Message:             ui.FormatMessage(errorMessage),
			PromptProxyPassword: reg.store.ShouldPromptForProxyPassword(false),
			OnOK:                onOK,
		})
		if err != nil {
			return zero, err
		}
		if lr.OK {
			if lr.ProxyPassword != "" {
				reg.store.SetProxyPassword(lr.ProxyPassword)
			}
			if fatal != nil {
				return zero, fatal
			}
			return result, nil
		}
		if !opts.Force && m.serverURI != "" {
			reg.cancelAuth(m.serverURI, opts.UIContext)
		}
		return zero, authCancelled(m.serverURI)
	}

	if m.serverURI == "" {
		return zero, &tfserr.Error{Message: "no server to connect to"}
	}
	creds := opts.OverrideCredentials
	if creds == nil {
		creds = reg.store.Credentials(m.serverURI)
	}
	res, used, cancelled, err := runSession(ctx, m, m.serverURI, creds, req)
	if cancelled {
		return zero, &tfserr.UserCancelledError{}
	}
	if tfserr.IsUnauthorized(err) {
		logging.FromContext(ctx, reg.log).Info("server rejected credentials", zap.Error(err))
		return executeForeground(ctx, m, opts, req, formatMessage(err, used))
	}
	reg.storeCredentials(m.serverURI, used)
	return res, err
}

// runSession runs req on a worker goroutine while the UI goroutine keeps
// pumping tasks behind a cancellable progress. cancelled reports that the
// user aborted the progress.
func runSession[T any](ctx context.Context, m *Manager, serverURI string, creds *credentials.Credentials, req Request[T]) (result T, used *credentials.Credentials, cancelled bool, err error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := m.reg.progress.Start(req.Title, cancel)
	defer stop()

	var (
		workerResult T
		workerUsed   *credentials.Credentials
		workerErr    error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.requestMu.Lock()
		defer m.requestMu.Unlock()
		workerCtx := ui.Detach(sessionCtx)
		if workerCtx.Err() != nil {
			workerErr = &tfserr.UserCancelledError{}
			return
		}
		workerResult, workerUsed, workerErr = executeImpl(workerCtx, m.reg.connector, serverURI, creds, req)
	}()

	if werr := m.reg.loop.WaitFor(sessionCtx, done, ui.PollInterval); werr != nil {
		return result, creds, true, nil
	}
	if tfserr.IsUserCancelled(workerErr) {
		return result, workerUsed, true, nil
	}
	return workerResult, workerUsed, false, workerErr
}

// formatMessage turns a failure into the text shown in the login dialog.
func formatMessage(err error, creds *credentials.Credentials) string {
	var cf *tfserr.ConnectionFailedError
	if errors.As(err, &cf) && cf.StatusCode == http.StatusFound {
		if creds != nil && creds.EffectiveKind() == credentials.KindAlternate {
			return "Unauthorized"
		}
		return fmt.Sprintf("%s. Consider using alternate credentials", err.Error())
	}
	return err.Error()
}

func authCancelled(serverURI string) error {
	return &tfserr.AuthCancelledError{ServerURI: serverURI}
}
