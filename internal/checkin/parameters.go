package checkin

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bolasblack/tfvc/internal/config"
	"github.com/bolasblack/tfvc/internal/tfserr"
)

// Severity orders validation messages.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// DefinitionKind tells which evaluation engine a policy definition needs.
type DefinitionKind int

const (
	// DefinitionStateful policies are implemented by this client.
	DefinitionStateful DefinitionKind = iota
	// DefinitionTfs policies mirror server-side policy definitions.
	DefinitionTfs
)

// Definition is a policy a team project requires.
type Definition struct {
	ID   string
	Kind DefinitionKind
}

// Parameters are the validation state of one pending check-in.
type Parameters struct {
	mu             sync.Mutex
	comment        string
	files          []string
	definitions    []Definition
	workItems      *WorkItemsParameters
	errors         []string
	evalErrors     []string
	failures       []PolicyFailure
	overrideReason string
}

// NewParameters returns parameters for checking in files with comment.
func NewParameters(comment string, files []string, definitions []Definition, workItems *WorkItemsParameters) *Parameters {
	if workItems == nil {
		workItems = NewWorkItemsParameters()
	}
	return &Parameters{comment: comment, files: files, definitions: definitions, workItems: workItems}
}

func (p *Parameters) Comment() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.comment
}

func (p *Parameters) SetComment(c string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.comment = c
}

func (p *Parameters) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.files)
}

func (p *Parameters) WorkItems() *WorkItemsParameters { return p.workItems }

func (p *Parameters) Definitions() []Definition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.definitions)
}

// AddError records a problem that blocks the check-in outright.
func (p *Parameters) AddError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, msg)
}

// ValidationMessage returns the messages of at least severity, joined one
// per line.
func (p *Parameters) ValidationMessage(severity Severity) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lines := append(slices.Clone(p.errors), p.evalErrors...)
	if severity == SeverityWarning {
		for _, f := range p.failures {
			lines = append(lines, f.String())
		}
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

// AllFailures lists the policy failures of the last evaluation.
func (p *Parameters) AllFailures() []PolicyFailure {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.failures)
}

func (p *Parameters) OverrideReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overrideReason
}

func (p *Parameters) SetOverrideReason(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrideReason = reason
}

func enabled(kind DefinitionKind, compat config.CheckinPoliciesCompatibility) bool {
	if kind == DefinitionTfs {
		return compat.Tfs
	}
	return compat.Stateful
}

// EvaluatePolicies replaces the previous failures with a fresh evaluation
// of every required definition that compat enables. Definitions that are
// not installed are reported when compat asks for it.
func (p *Parameters) EvaluatePolicies(ctx context.Context, installed map[string]Policy, compat config.CheckinPoliciesCompatibility) error {
	var (
		failures []PolicyFailure
		errs     []string
	)
	for _, def := range p.Definitions() {
		if ctx.Err() != nil {
			return &tfserr.UserCancelledError{}
		}
		if !enabled(def.Kind, compat) {
			continue
		}
		policy, ok := installed[def.ID]
		if !ok {
			if compat.NonInstalledReport {
				failures = append(failures, PolicyFailure{
					PolicyID: def.ID,
					Message:  "Checkin policy is not installed",
				})
			}
			continue
		}
		found, err := policy.Evaluate(ctx, p)
		if err != nil {
			if tfserr.IsUserCancelled(err) {
				return err
			}
			errs = append(errs, fmt.Sprintf("Cannot evaluate checkin policy '%s': %v", def.ID, err))
			continue
		}
		failures = append(failures, found...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = failures
	p.evalErrors = errs
	return nil
}
