// Package checkin validates a pending check-in against the installed
// check-in policies before it is committed.
package checkin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bolasblack/tfvc/internal/tfserr"
)

// PolicyFailure is one unmet policy requirement. Failures are warnings the
// user may override with a reason.
type PolicyFailure struct {
	PolicyID string
	Message  string
}

func (f PolicyFailure) String() string {
	return fmt.Sprintf("%s: %s", f.PolicyID, f.Message)
}

// Policy evaluates a pending check-in.
type Policy interface {
	ID() string
	Description() string
	// Evaluate reports the unmet requirements. An error means the policy
	// could not be evaluated at all.
	Evaluate(ctx context.Context, p *Parameters) ([]PolicyFailure, error)
}

// Registry holds the installed policies.
type Registry struct {
	mu       sync.Mutex
	policies []Policy
}

// NewRegistry returns a registry holding policies.
func NewRegistry(policies ...Policy) *Registry {
	return &Registry{policies: policies}
}

// Builtin returns a registry with the policies shipped with tfvc.
func Builtin() *Registry {
	return NewRegistry(CommentRequired{}, WorkItemRequired{})
}

// Register installs p. Duplicates are only detected by Installed.
func (r *Registry) Register(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies = append(r.policies, p)
}

// Installed indexes the policies by id.
func (r *Registry) Installed() (map[string]Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	installed := make(map[string]Policy, len(r.policies))
	for _, p := range r.policies {
		if _, dup := installed[p.ID()]; dup {
			return nil, &tfserr.DuplicatePolicyIDError{ID: p.ID()}
		}
		installed[p.ID()] = p
	}
	return installed, nil
}

// CommentRequired fails check-ins without a comment.
type CommentRequired struct{}

func (CommentRequired) ID() string { return "comment-required" }

func (CommentRequired) Description() string {
	return "Require a non-empty check-in comment"
}

func (c CommentRequired) Evaluate(_ context.Context, p *Parameters) ([]PolicyFailure, error) {
	if strings.TrimSpace(p.Comment()) != "" {
		return nil, nil
	}
	return []PolicyFailure{{PolicyID: c.ID(), Message: "Please provide a comment for the check-in"}}, nil
}

// WorkItemRequired fails check-ins not associated with any work item.
type WorkItemRequired struct{}

func (WorkItemRequired) ID() string { return "work-item-required" }

func (WorkItemRequired) Description() string {
	return "Require at least one associated or resolved work item"
}

func (w WorkItemRequired) Evaluate(_ context.Context, p *Parameters) ([]PolicyFailure, error) {
	for _, action := range p.WorkItems().Actions() {
		if action != ActionNone {
			return nil, nil
		}
	}
	return []PolicyFailure{{PolicyID: w.ID(), Message: "Please associate the check-in with at least one work item"}}, nil
}
