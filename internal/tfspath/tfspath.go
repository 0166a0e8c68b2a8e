// Package tfspath compares and translates local and server paths.
//
// Local paths follow the host OS case rule (case-insensitive on Windows,
// case-sensitive elsewhere). Server paths are "$/"-prefixed, "/"-delimited
// and always case-insensitive. Trailing separators never affect comparison.
package tfspath

import (
	"path/filepath"
	"runtime"
	"strings"
)

// ServerRoot is the root of every server path.
const ServerRoot = "$/"

// FilePath is a local path together with its directory-ness.
type FilePath struct {
	Path  string
	IsDir bool
}

// Rules describes how paths of one namespace compare.
type Rules struct {
	Separator byte
	FoldCase  bool
}

var (
	// Local is the rule set for paths on this host.
	Local = Rules{Separator: filepath.Separator, FoldCase: runtime.GOOS == "windows"}
	// Server is the rule set for repository paths.
	Server = Rules{Separator: '/', FoldCase: true}
)

// Clean normalizes separators and strips trailing ones, keeping roots intact.
func (r Rules) Clean(p string) string {
	if r.Separator == '\\' {
		p = strings.ReplaceAll(p, "/", `\`)
	}
	keep := r.rootLen(p)
	for len(p) > keep && p[len(p)-1] == r.Separator {
		p = p[:len(p)-1]
	}
	return p
}

func (r Rules) rootLen(p string) int {
	switch {
	case strings.HasPrefix(p, ServerRoot):
		return len(ServerRoot)
	case len(p) > 0 && p[0] == r.Separator:
		return 1
	case len(p) >= 3 && p[1] == ':' && p[2] == r.Separator:
		return 3
	}
	return 0
}

// Equal reports whether a and b name the same path.
func (r Rules) Equal(a, b string) bool {
	return r.equalFold(r.Clean(a), r.Clean(b))
}

func (r Rules) equalFold(a, b string) bool {
	if r.FoldCase {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// IsUnder reports whether child is parent or lies beneath it.
// With strict set, child == parent is not under.
func (r Rules) IsUnder(child, parent string, strict bool) bool {
	_, ok := r.relative(parent, child)
	if !ok {
		return false
	}
	return !strict || !r.Equal(child, parent)
}

// Relativize returns the part of child below parent, using the rule's separator.
// The empty string means child equals parent.
func (r Rules) Relativize(parent, child string) (string, bool) {
	return r.relative(parent, child)
}

func (r Rules) relative(parent, child string) (string, bool) {
	p, c := r.Clean(parent), r.Clean(child)
	if r.equalFold(p, c) {
		return "", true
	}
	prefix := p
	if len(prefix) == 0 || prefix[len(prefix)-1] != r.Separator {
		prefix += string(r.Separator)
	}
	if len(c) <= len(prefix) || !r.equalFold(c[:len(prefix)], prefix) {
		return "", false
	}
	return c[len(prefix):], true
}

// ToServerPath translates local, which must lie under rootLocal, into the
// server namespace rooted at rootServer.
func ToServerPath(rootLocal, rootServer, local string) (string, bool) {
	rel, ok := Local.Relativize(rootLocal, local)
	if !ok {
		return "", false
	}
	if Local.Separator != '/' {
		rel = strings.ReplaceAll(rel, string(Local.Separator), "/")
	}
	return JoinServer(rootServer, rel), true
}

// ToLocalPath translates server, which must lie under rootServer, into a
// local path rooted at rootLocal.
func ToLocalPath(rootLocal, rootServer, server string, isDirectory bool) (FilePath, bool) {
	rel, ok := Server.Relativize(rootServer, server)
	if !ok {
		return FilePath{}, false
	}
	local := Local.Clean(rootLocal)
	if rel != "" {
		local = filepath.Join(local, filepath.FromSlash(rel))
	}
	return FilePath{Path: local, IsDir: isDirectory}, true
}

// JoinServer appends a "/"-delimited relative path to a server path.
func JoinServer(parent, rel string) string {
	p := Server.Clean(parent)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return p
	}
	if strings.HasSuffix(p, "/") {
		return p + rel
	}
	return p + "/" + rel
}

// ServerParent returns the parent of a server path, or "" for the root.
func ServerParent(p string) string {
	p = Server.Clean(p)
	if p == ServerRoot {
		return ""
	}
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return ""
	}
	if idx < len(ServerRoot) {
		return ServerRoot
	}
	return p[:idx]
}

// IsServerPath reports whether p lives in the server namespace.
func IsServerPath(p string) bool {
	return strings.HasPrefix(p, "$")
}

// CanonicalizeURI appends a trailing "/" to a server URI if missing.
func CanonicalizeURI(uri string) string {
	if strings.HasSuffix(uri, "/") {
		return uri
	}
	return uri + "/"
}

// wireDrive is the pseudo drive used for POSIX paths on the wire.
const wireDrive = "U:"

// ToWire converts a local path into the form the server expects.
// Hosts without drive letters send paths under a pseudo drive with backslashes.
func (r Rules) ToWire(local string) string {
	if r.Separator == '\\' || local == "" {
		return local
	}
	return wireDrive + strings.ReplaceAll(r.Clean(local), "/", `\`)
}

// FromWire reverses ToWire.
func (r Rules) FromWire(wire string) string {
	if r.Separator == '\\' || wire == "" {
		return wire
	}
	wire = strings.TrimPrefix(wire, wireDrive)
	return strings.ReplaceAll(wire, `\`, "/")
}
