package credentials

import (
	"strings"
	"testing"
)

func TestNeedsAuthentication(t *testing.T) {
	tests := []struct {
		name  string
		creds *Credentials
		want  bool
	}{
		{"ntlm complete", New("alice", "CORP", "pw", false), false},
		{"ntlm no domain", New("alice", "", "pw", false), true},
		{"ntlm no user", New("", "CORP", "pw", false), true},
		{"alternate without domain", NewAlternate("alice@example.com", "pw", false), false},
		{"alternate no user", NewAlternate("", "pw", false), true},
		{"default kind requires domain", &Credentials{UserName: "bob"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.NeedsAuthentication(); got != tt.want {
				t.Errorf("NeedsAuthentication() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQualifiedUsername(t *testing.T) {
	if got := New("alice", "CORP", "", false).QualifiedUsername(); got != `CORP\alice` {
		t.Errorf("got %q", got)
	}
	if got := NewAlternate("alice", "", false).QualifiedUsername(); got != "alice" {
		t.Errorf("got %q", got)
	}
	if !New("Alice", "corp", "", false).SameUser(`CORP\alice`) {
		t.Error("SameUser should ignore case")
	}
}

func TestResetPassword(t *testing.T) {
	c := New("alice", "CORP", "secret", true)
	if c.ShouldShowLoginDialog() {
		t.Fatal("password known, dialog not needed")
	}
	c.ResetPassword()
	if !c.ShouldShowLoginDialog() {
		t.Fatal("password reset, dialog needed")
	}
}

func TestStringMasksPassword(t *testing.T) {
	s := New("alice", "CORP", "hunter2", false).String()
	if strings.Contains(s, "hunter2") {
		t.Fatalf("password leaked: %s", s)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c := New("alice", "CORP", "pw", false)
	cp := c.Clone()
	cp.Password = "other"
	if c.Password != "pw" {
		t.Fatal("clone shares storage")
	}
	if (*Credentials)(nil).Clone() != nil {
		t.Fatal("nil clone")
	}
	if !c.Equal(c.Clone()) || c.Equal(cp) {
		t.Fatal("Equal mismatch")
	}
}
