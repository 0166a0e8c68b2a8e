package ui

import (
	"context"
	"strings"

	"github.com/bolasblack/tfvc/internal/credentials"
)

// LoginRequest describes one login dialog.
type LoginRequest struct {
	// ServerURI is empty when the user is adding a new server.
	ServerURI          string
	Credentials        *credentials.Credentials
	AllowAddressChange bool
	Message            string
	// PromptProxyPassword asks for the HTTP proxy password as well.
	PromptProxyPassword bool
	// OnOK runs after the user confirms. Returning false keeps the dialog
	// open; a non-empty message is shown there.
	OnOK func(ctx context.Context, serverURI string, creds *credentials.Credentials) (closeDialog bool, message string)
}

// LoginResult is the outcome of a login dialog.
type LoginResult struct {
	OK            bool
	ServerURI     string
	Credentials   *credentials.Credentials
	ProxyPassword string
}

// LoginDialog shows login dialogs. Implementations run on the dispatch goroutine.
type LoginDialog interface {
	ShowLogin(ctx context.Context, req LoginRequest) (LoginResult, error)
}

// Progress shows a cancellable progress for a blocking operation.
type Progress interface {
	// Start shows title; cancel aborts the operation. stop hides it.
	Start(title string, cancel context.CancelFunc) (stop func())
}

// NoProgress shows nothing.
type NoProgress struct{}

// Start implements Progress.
func (NoProgress) Start(string, context.CancelFunc) func() { return func() {} }

// FormatMessage terminates a dialog message with a period.
func FormatMessage(msg string) string {
	if msg != "" && !strings.HasSuffix(msg, ".") {
		return msg + "."
	}
	return msg
}

// CancelDialog declines every login. Used when no terminal is attached.
type CancelDialog struct{}

// ShowLogin implements LoginDialog.
func (CancelDialog) ShowLogin(context.Context, LoginRequest) (LoginResult, error) {
	return LoginResult{}, nil
}
