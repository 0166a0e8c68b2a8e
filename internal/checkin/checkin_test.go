package checkin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bolasblack/tfvc/internal/config"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/ui"
)

type shownError struct {
	title, message string
}

type recordingMessages struct {
	shown []shownError
}

func (m *recordingMessages) ShowError(_ context.Context, title, message string) {
	m.shown = append(m.shown, shownError{title, message})
}

type fixedOverride struct {
	reason string
	ok     bool
	asked  [][]PolicyFailure
}

func (o *fixedOverride) ConfirmOverride(_ context.Context, failures []PolicyFailure) (string, bool, error) {
	o.asked = append(o.asked, failures)
	return o.reason, o.ok, nil
}

type funcPolicy struct {
	id string
	fn func(ctx context.Context, p *Parameters) ([]PolicyFailure, error)
}

func (f funcPolicy) ID() string          { return f.id }
func (f funcPolicy) Description() string { return f.id }
func (f funcPolicy) Evaluate(ctx context.Context, p *Parameters) ([]PolicyFailure, error) {
	return f.fn(ctx, p)
}

var builtinDefs = []Definition{
	{ID: "comment-required", Kind: DefinitionTfs},
	{ID: "work-item-required", Kind: DefinitionTfs},
}

type handlerFixture struct {
	messages *recordingMessages
	override *fixedOverride
	handler  *Handler
}

func newHandler(params *Parameters) *handlerFixture {
	f := &handlerFixture{messages: &recordingMessages{}, override: &fixedOverride{}}
	data := &Data{}
	data.SetParameters(params)
	f.handler = &Handler{
		Registry:   Builtin(),
		Data:       data,
		IsUnderVCS: func(path string) bool { return path != "/tmp/untracked" },
		Messages:   f.messages,
		Override:   f.override,
	}
	return f
}

func TestRegistryRejectsDuplicateIDs(t *testing.T) {
	r := Builtin()
	installed, err := r.Installed()
	require.NoError(t, err)
	assert.Len(t, installed, 2)

	r.Register(CommentRequired{})
	_, err = r.Installed()
	var dup *tfserr.DuplicatePolicyIDError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "comment-required", dup.ID)
}

func TestEvaluatePolicies(t *testing.T) {
	installed, err := Builtin().Installed()
	require.NoError(t, err)
	all := config.CheckinPoliciesCompatibility{Tfs: true, Stateful: true, NonInstalledReport: true}

	tests := []struct {
		name    string
		comment string
		action  WorkItemAction
		defs    []Definition
		compat  config.CheckinPoliciesCompatibility
		want    []string
	}{
		{"all satisfied", "fix", ActionAssociate, builtinDefs, all, nil},
		{"missing comment", " ", ActionResolve, builtinDefs, all, []string{"comment-required"}},
		{"no work item", "fix", ActionNone, builtinDefs, all, []string{"work-item-required"}},
		{"tfs policies disabled", "", ActionNone, builtinDefs, config.CheckinPoliciesCompatibility{Stateful: true}, nil},
		{"not installed reported", "fix", ActionAssociate, []Definition{{ID: "build-green"}}, all, []string{"build-green"}},
		{"not installed ignored", "fix", ActionAssociate, []Definition{{ID: "build-green"}}, config.CheckinPoliciesCompatibility{Stateful: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := NewWorkItemsParameters(WorkItem{ID: 42, Title: "Crash on start"})
			items.SetAction(42, tt.action)
			p := NewParameters(tt.comment, []string{"/ws/a.txt"}, tt.defs, items)

			require.NoError(t, p.EvaluatePolicies(context.Background(), installed, tt.compat))
			var ids []string
			for _, f := range p.AllFailures() {
				ids = append(ids, f.PolicyID)
			}
			assert.Equal(t, tt.want, ids)

			_, hasWarning := p.ValidationMessage(SeverityWarning)
			assert.Equal(t, len(tt.want) > 0, hasWarning)
			_, hasError := p.ValidationMessage(SeverityError)
			assert.False(t, hasError, "policy failures are warnings")
		})
	}
}

func TestEvaluationErrorsBlockCheckin(t *testing.T) {
	broken := funcPolicy{id: "broken", fn: func(context.Context, *Parameters) ([]PolicyFailure, error) {
		return nil, errors.New("no connection to build server")
	}}
	p := NewParameters("fix", nil, []Definition{{ID: "broken"}}, nil)
	require.NoError(t, p.EvaluatePolicies(context.Background(), map[string]Policy{"broken": broken},
		config.CheckinPoliciesCompatibility{Stateful: true}))

	msg, ok := p.ValidationMessage(SeverityError)
	require.True(t, ok)
	assert.Equal(t, "Cannot evaluate checkin policy 'broken': no connection to build server", msg)
}

func TestBeforeCheckinSkips(t *testing.T) {
	f := newHandler(nil)
	assert.Equal(t, Commit, f.handler.BeforeCheckin(context.Background(), "shelve", []string{"/ws/a.txt"}))
	assert.Equal(t, Commit, f.handler.BeforeCheckin(context.Background(), "", []string{"/tmp/untracked"}))
	assert.Empty(t, f.messages.shown)
}

func TestBeforeCheckinRequiresValidation(t *testing.T) {
	f := newHandler(nil)
	assert.Equal(t, CloseWindow, f.handler.BeforeCheckin(context.Background(), "", []string{"/ws/a.txt"}))
	require.Len(t, f.messages.shown, 1)
	assert.Equal(t, shownError{"Checkin", "Validation must be performed before checking in"}, f.messages.shown[0])
}

func TestBeforeCheckinCancelsOnErrors(t *testing.T) {
	p := NewParameters("fix", nil, nil, nil)
	p.AddError("Team project $/P is not accessible")
	f := newHandler(p)

	assert.Equal(t, Cancel, f.handler.BeforeCheckin(context.Background(), "", []string{"/ws/a.txt"}))
	assert.Equal(t, "Checkin: Validation Failed", f.messages.shown[0].title)
}

func TestBeforeCheckinDuplicatePolicyClosesWindow(t *testing.T) {
	f := newHandler(NewParameters("fix", nil, builtinDefs, nil))
	f.handler.Registry.Register(WorkItemRequired{})

	assert.Equal(t, CloseWindow, f.handler.BeforeCheckin(context.Background(), "", []string{"/ws/a.txt"}))
	assert.Contains(t, f.messages.shown[0].message, "'work-item-required'")
	assert.Nil(t, f.handler.Data.Parameters(), "validation must run again")
}

func TestBeforeCheckinOverride(t *testing.T) {
	tests := []struct {
		name    string
		confirm bool
		want    Result
		reason  string
	}{
		{"confirmed", true, Commit, "hotfix"},
		{"declined", false, Cancel, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParameters("", nil, builtinDefs, nil)
			f := newHandler(p)
			f.override.ok = tt.confirm
			f.override.reason = "hotfix"

			assert.Equal(t, tt.want, f.handler.BeforeCheckin(context.Background(), "", []string{"/ws/a.txt"}))
			require.Len(t, f.override.asked, 1)
			assert.Len(t, f.override.asked[0], 2)
			assert.Equal(t, tt.reason, p.OverrideReason())
		})
	}
}

func TestBeforeCheckinReevaluates(t *testing.T) {
	p := NewParameters("", nil, builtinDefs[:1], nil)
	f := newHandler(p)
	installed, err := f.handler.Registry.Installed()
	require.NoError(t, err)
	require.NoError(t, p.EvaluatePolicies(context.Background(), installed, config.CheckinPoliciesCompatibility{Tfs: true}))
	require.Len(t, p.AllFailures(), 1)

	// The comment was typed after the last validation.
	p.SetComment("fix the build")
	assert.Equal(t, Commit, f.handler.BeforeCheckin(context.Background(), "", []string{"/ws/a.txt"}))
	assert.Empty(t, f.override.asked)
}

type cancellingProgress struct {
	titles []string
}

func (c *cancellingProgress) Start(title string, cancel context.CancelFunc) func() {
	c.titles = append(c.titles, title)
	cancel()
	return func() {}
}

func TestBeforeCheckinProgressCancelled(t *testing.T) {
	p := NewParameters("", nil, builtinDefs, nil)
	f := newHandler(p)
	progress := &cancellingProgress{}
	f.handler.Progress = progress

	assert.Equal(t, Cancel, f.handler.BeforeCheckin(context.Background(), "", []string{"/ws/a.txt"}))
	assert.Equal(t, []string{"Evaluating Checkin Policies"}, progress.titles)
	assert.Empty(t, f.override.asked)
	assert.Empty(t, f.handler.Data.Message(), "nothing was evaluated yet")
}

func TestBeforeCheckinOnDispatchThread(t *testing.T) {
	loop := ui.NewLoop()
	p := NewParameters("fix", nil, builtinDefs, nil)
	p.WorkItems().SetAction(7, ActionResolve)
	f := newHandler(p)
	f.handler.Loop = loop

	var got Result
	require.NoError(t, loop.Run(context.Background(), func(ctx context.Context) error {
		got = f.handler.BeforeCheckin(ctx, "", []string{"/ws/a.txt"})
		return nil
	}))
	assert.Equal(t, Commit, got)
}

func TestWorkItemsParameters(t *testing.T) {
	w := NewWorkItemsParameters(WorkItem{ID: 1}, WorkItem{ID: 2})
	w.SetAction(1, ActionAssociate)

	cp := w.CreateCopy()
	cp.SetAction(2, ActionResolve)
	cp.RemoveAction(1)
	_, ok := w.Action(2)
	assert.False(t, ok, "the copy is independent")

	w.Update(cp)
	assert.Equal(t, map[int]WorkItemAction{2: ActionResolve}, w.Actions())

	w.UpdateFromQuery([]WorkItem{{ID: 3, Title: "New"}}, []WorkItemLink{{SourceID: 3, TargetID: 1, LinkType: "Parent"}})
	assert.Empty(t, w.Actions())
	assert.Equal(t, []WorkItem{{ID: 3, Title: "New"}}, w.WorkItems())
	assert.Len(t, w.Links(), 1)
	assert.Equal(t, "Resolve", ActionResolve.String())
}
