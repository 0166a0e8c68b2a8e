package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/config"
	"github.com/bolasblack/tfvc/internal/logging"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/ui"
)

// Result tells the commit window what to do next.
type Result int

const (
	Commit Result = iota
	Cancel
	CloseWindow
)

func (r Result) String() string {
	switch r {
	case Cancel:
		return "Cancel"
	case CloseWindow:
		return "CloseWindow"
	}
	return "Commit"
}

// Data is the validation state shared between the commit window and the
// handler. Parameters are nil until the user validated.
type Data struct {
	mu         sync.Mutex
	parameters *Parameters
	message    string
}

func (d *Data) Parameters() *Parameters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parameters
}

func (d *Data) SetParameters(p *Parameters) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parameters = p
}

// Message is the summary shown in the commit window.
func (d *Data) Message() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.message
}

// UpdateMessage refreshes Message from the current parameters.
func (d *Data) UpdateMessage() {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.parameters == nil:
		d.message = "Validation must be performed before checking in"
	default:
		if msg, ok := d.parameters.ValidationMessage(SeverityWarning); ok {
			d.message = msg
		} else {
			d.message = ""
		}
	}
}

// Messages shows error dialogs.
type Messages interface {
	ShowError(ctx context.Context, title, message string)
}

// OverridePrompt asks whether to commit despite policy failures. ok is
// false when the user declined.
type OverridePrompt interface {
	ConfirmOverride(ctx context.Context, failures []PolicyFailure) (reason string, ok bool, err error)
}

// Handler runs before a commit of files that may belong to a workspace.
type Handler struct {
	Registry *Registry
	Data     *Data
	// Compatibility reads the policy flags of the configuration store.
	Compatibility func() config.CheckinPoliciesCompatibility
	// IsUnderVCS reports whether a local path is mapped by a workspace.
	IsUnderVCS func(path string) bool
	Messages   Messages
	Override   OverridePrompt
	Progress   ui.Progress
	// Loop keeps dialogs responsive while policies run on the dispatch
	// goroutine. Optional.
	Loop *ui.Loop
	Log  *zap.Logger
}

// BeforeCheckin decides whether the commit of files may proceed. A
// non-empty executor names an alternative commit action, which is never
// validated.
func (h *Handler) BeforeCheckin(ctx context.Context, executor string, files []string) Result {
	log := logging.FromContext(ctx, logging.OrNop(h.Log))
	if executor != "" || !h.affected(files) {
		return Commit
	}

	params := h.Data.Parameters()
	if params == nil {
		h.Messages.ShowError(ctx, "Checkin", "Validation must be performed before checking in")
		return CloseWindow
	}

	if msg, ok := params.ValidationMessage(SeverityError); ok {
		h.Messages.ShowError(ctx, "Checkin: Validation Failed", msg)
		return Cancel
	}

	installed, err := h.Registry.Installed()
	if err != nil {
		var dup *tfserr.DuplicatePolicyIDError
		if errors.As(err, &dup) {
			msg := fmt.Sprintf("Found multiple checkin policies with the same id: '%s'.\nPlease review your extensions.", dup.ID)
			h.Messages.ShowError(ctx, "Checkin Policies Evaluation", msg)
		} else {
			h.Messages.ShowError(ctx, "Checkin Policies Evaluation", err.Error())
		}
		h.Data.SetParameters(nil)
		return CloseWindow
	}

	// The comment and work items may have changed since the last validation.
	if err := h.evaluate(ctx, params, installed); err != nil {
		log.Debug("policy evaluation aborted", zap.Error(err))
		h.Data.UpdateMessage()
		return Cancel
	}

	if _, ok := params.ValidationMessage(SeverityWarning); !ok {
		return Commit
	}
	reason, ok, err := h.Override.ConfirmOverride(ctx, params.AllFailures())
	if err != nil || !ok {
		return Cancel
	}
	params.SetOverrideReason(reason)
	return Commit
}

func (h *Handler) affected(files []string) bool {
	for _, f := range files {
		if h.IsUnderVCS(f) {
			return true
		}
	}
	return false
}

func (h *Handler) compatibility() config.CheckinPoliciesCompatibility {
	if h.Compatibility == nil {
		return config.CheckinPoliciesCompatibility{Stateful: true, Tfs: true}
	}
	return h.Compatibility()
}

func (h *Handler) evaluate(ctx context.Context, params *Parameters, installed map[string]Policy) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	progress := h.Progress
	if progress == nil {
		progress = ui.NoProgress{}
	}
	stop := progress.Start("Evaluating Checkin Policies", cancel)
	defer stop()

	compat := h.compatibility()
	if h.Loop == nil || !ui.OnDispatchThread(ctx) {
		return params.EvaluatePolicies(ctx, installed, compat)
	}

	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		err = params.EvaluatePolicies(ui.Detach(ctx), installed, compat)
	}()
	if werr := h.Loop.WaitFor(ctx, done, ui.PollInterval); werr != nil {
		return &tfserr.UserCancelledError{}
	}
	return err
}
