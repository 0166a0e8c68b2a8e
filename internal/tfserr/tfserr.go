// Package tfserr defines the error kinds raised by server operations.
// Every error here matches errors.Is(err, ErrTfs).
package tfserr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrTfs is the root of all domain errors.
var ErrTfs = errors.New("tfs error")

// ErrNotOwner is returned when a workspace is mutated by someone other than
// its owner on its computer.
var ErrNotOwner = fmt.Errorf("%w: workspace is not owned by the current user on this computer", ErrTfs)

// Error is a generic server or protocol failure.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error { return chain(e.Err) }

// ConnectionFailedError is a transport failure before authentication succeeded.
// StatusCode is zero when no HTTP response was received.
type ConnectionFailedError struct {
	StatusCode int
	Err        error
}

// ConnectionFailed wraps a transport error.
func ConnectionFailed(statusCode int, err error) *ConnectionFailedError {
	return &ConnectionFailedError{StatusCode: statusCode, Err: err}
}

func (e *ConnectionFailedError) Error() string {
	msg := "connection failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("connection failed (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionFailedError) Unwrap() []error { return chain(e.Err) }

// UnauthorizedError means the server rejected the credentials.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

func (e *UnauthorizedError) Unwrap() error { return ErrTfs }

// AuthCancelledError means the user dismissed the login dialog for ServerURI.
type AuthCancelledError struct {
	ServerURI string
}

func (e *AuthCancelledError) Error() string {
	if e.ServerURI == "" {
		return "authentication cancelled"
	}
	return "authentication cancelled for " + e.ServerURI
}

func (e *AuthCancelledError) Unwrap() error { return ErrTfs }

// UserCancelledError is a progress-level cancellation.
type UserCancelledError struct{}

func (e *UserCancelledError) Error() string { return "operation cancelled by user" }

func (e *UserCancelledError) Unwrap() []error { return []error{ErrTfs, context.Canceled} }

// WorkspaceNotFoundError means the workspace no longer matches its identity.
type WorkspaceNotFoundError struct {
	Message string
}

func (e *WorkspaceNotFoundError) Error() string { return e.Message }

func (e *WorkspaceNotFoundError) Unwrap() error { return ErrTfs }

// WorkspaceHasNoMappingError means a cached mapping is gone on the server.
type WorkspaceHasNoMappingError struct {
	Workspace string
}

func (e *WorkspaceHasNoMappingError) Error() string {
	return fmt.Sprintf("workspace '%s' has no mapping for the requested path", e.Workspace)
}

func (e *WorkspaceHasNoMappingError) Unwrap() error { return ErrTfs }

// DuplicateMappingError means a local path is mapped on more than one server.
type DuplicateMappingError struct {
	Path string
}

func (e *DuplicateMappingError) Error() string {
	return fmt.Sprintf("local path '%s' is mapped in workspaces of more than one server", e.Path)
}

func (e *DuplicateMappingError) Unwrap() error { return ErrTfs }

// DuplicatePolicyIDError means two installed check-in policies share an id.
type DuplicatePolicyIDError struct {
	ID string
}

func (e *DuplicatePolicyIDError) Error() string {
	return fmt.Sprintf("duplicate check-in policy id '%s'", e.ID)
}

func (e *DuplicatePolicyIDError) Unwrap() error { return ErrTfs }

func chain(cause error) []error {
	if cause == nil {
		return []error{ErrTfs}
	}
	return []error{ErrTfs, cause}
}

// Process maps an arbitrary error into the hierarchy.
// Errors already in it are returned unchanged.
func Process(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTfs) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &UserCancelledError{}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ConnectionFailed(0, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ConnectionFailed(0, err)
	}
	return &Error{Err: err}
}

// IsUnauthorized reports whether err is an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

// IsConnectionFailed reports whether err is a ConnectionFailedError.
func IsConnectionFailed(err error) bool {
	var target *ConnectionFailedError
	return errors.As(err, &target)
}

// IsAuthCancelled reports whether err is an AuthCancelledError.
func IsAuthCancelled(err error) bool {
	var target *AuthCancelledError
	return errors.As(err, &target)
}

// IsUserCancelled reports whether err is a UserCancelledError.
func IsUserCancelled(err error) bool {
	var target *UserCancelledError
	return errors.As(err, &target)
}
