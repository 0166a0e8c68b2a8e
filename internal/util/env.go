// Package util provides the process environment shared by the CLI commands.
package util

import (
	"bytes"
	"io"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/term"
)

// Env contains environment dependencies that can be mocked for testing.
type Env struct {
	// Fs is the filesystem used for configuration, cache and working files.
	Fs  afero.Fs
	In  io.Reader
	Out io.Writer
	Err io.Writer
	// Interactive is true when a terminal is attached and dialogs may be shown.
	Interactive bool
}

// NewOsEnv returns the environment of the running process.
func NewOsEnv() *Env {
	return &Env{
		Fs:          afero.NewOsFs(),
		In:          os.Stdin,
		Out:         os.Stdout,
		Err:         os.Stderr,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd())),
	}
}

// NewTestEnv returns a non-interactive environment with an in-memory
// filesystem and buffered output (for testing).
func NewTestEnv() *Env {
	return &Env{
		Fs:  afero.NewMemMapFs(),
		In:  bytes.NewReader(nil),
		Out: &bytes.Buffer{},
		Err: &bytes.Buffer{},
	}
}

// OutString returns what a test environment wrote to Out.
func (e *Env) OutString() string {
	if b, ok := e.Out.(*bytes.Buffer); ok {
		return b.String()
	}
	return ""
}

// ErrString returns what a test environment wrote to Err.
func (e *Env) ErrString() string {
	if b, ok := e.Err.(*bytes.Buffer); ok {
		return b.String()
	}
	return ""
}
