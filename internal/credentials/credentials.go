// Package credentials defines the user credentials presented to a server.
package credentials

import (
	"fmt"
	"strings"
)

// Kind selects how credentials are presented to the server.
type Kind string

const (
	// KindNTLM is domain-integrated authentication. Requires user and domain.
	KindNTLM Kind = "ntlm"
	// KindAlternate is a plain user/password pair sent over basic auth.
	KindAlternate Kind = "alternate"
)

// RequiresDomain reports whether credentials of this kind need a domain.
func (k Kind) RequiresDomain() bool {
	return k != KindAlternate
}

// Credentials is a user identity for one server.
type Credentials struct {
	UserName string `toml:"user" json:"user" jsonschema:"description=User name"`
	Domain   string `toml:"domain,omitempty" json:"domain,omitempty" jsonschema:"description=Windows domain"`
	// Password is empty when unknown to this session.
	Password      string `toml:"-" json:"-"`
	Kind          Kind   `toml:"kind,omitempty" json:"kind,omitempty" jsonschema:"enum=ntlm,enum=alternate,description=Authentication kind"`
	StorePassword bool   `toml:"store_password,omitempty" json:"store_password,omitempty" jsonschema:"description=Persist the password sealed on disk"`
}

// New returns NTLM credentials.
func New(user, domain, password string, storePassword bool) *Credentials {
	return &Credentials{UserName: user, Domain: domain, Password: password, Kind: KindNTLM, StorePassword: storePassword}
}

// NewAlternate returns alternate credentials.
func NewAlternate(user, password string, storePassword bool) *Credentials {
	return &Credentials{UserName: user, Password: password, Kind: KindAlternate, StorePassword: storePassword}
}

// EffectiveKind returns Kind, defaulting to NTLM.
func (c *Credentials) EffectiveKind() Kind {
	if c.Kind == "" {
		return KindNTLM
	}
	return c.Kind
}

// QualifiedUsername returns DOMAIN\user, or just the user without a domain.
func (c *Credentials) QualifiedUsername() string {
	if c.Domain == "" {
		return c.UserName
	}
	return c.Domain + `\` + c.UserName
}

// ResetPassword forgets the secret.
func (c *Credentials) ResetPassword() {
	c.Password = ""
}

// ShouldShowLoginDialog reports whether the user must be asked for the password.
func (c *Credentials) ShouldShowLoginDialog() bool {
	return c.Password == ""
}

// NeedsAuthentication reports whether a connect handshake must run before
// the identity can be trusted.
func (c *Credentials) NeedsAuthentication() bool {
	if c.UserName == "" {
		return true
	}
	return c.EffectiveKind().RequiresDomain() && c.Domain == ""
}

// Clone returns an independent copy.
func (c *Credentials) Clone() *Credentials {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Equal compares all fields including the password.
func (c *Credentials) Equal(o *Credentials) bool {
	if c == nil || o == nil {
		return c == o
	}
	return *c == *o
}

// SameUser reports whether two credentials name the same account.
func (c *Credentials) SameUser(qualified string) bool {
	return strings.EqualFold(c.QualifiedUsername(), qualified)
}

func (c *Credentials) String() string {
	pw := "<none>"
	if c.Password != "" {
		pw = "***"
	}
	return fmt.Sprintf("%s (%s, password %s)", c.QualifiedUsername(), c.EffectiveKind(), pw)
}
