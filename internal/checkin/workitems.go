package checkin

import (
	"maps"
	"slices"
	"sync"
)

// WorkItemAction is what a check-in does to a work item.
type WorkItemAction int

const (
	ActionNone WorkItemAction = iota
	ActionAssociate
	ActionResolve
)

func (a WorkItemAction) String() string {
	switch a {
	case ActionAssociate:
		return "Associate"
	case ActionResolve:
		return "Resolve"
	}
	return "None"
}

// WorkItem is the part of a work item the check-in needs.
type WorkItem struct {
	ID    int
	Title string
	State string
}

// WorkItemLink relates two work items returned by a query.
type WorkItemLink struct {
	SourceID int
	TargetID int
	LinkType string
}

// WorkItemsParameters are the work items offered to a check-in and the
// action chosen for each.
type WorkItemsParameters struct {
	mu      sync.Mutex
	items   []WorkItem
	actions map[int]WorkItemAction
	links   []WorkItemLink
}

// NewWorkItemsParameters returns parameters offering items with no action.
func NewWorkItemsParameters(items ...WorkItem) *WorkItemsParameters {
	return &WorkItemsParameters{items: items, actions: make(map[int]WorkItemAction)}
}

// Action returns the action chosen for the work item with id.
func (w *WorkItemsParameters) Action(id int) (WorkItemAction, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.actions[id]
	return a, ok
}

func (w *WorkItemsParameters) SetAction(id int, a WorkItemAction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.actions[id] = a
}

func (w *WorkItemsParameters) RemoveAction(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.actions, id)
}

func (w *WorkItemsParameters) WorkItems() []WorkItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.items)
}

// Links is nil until a query result was applied.
func (w *WorkItemsParameters) Links() []WorkItemLink {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.links)
}

func (w *WorkItemsParameters) Actions() map[int]WorkItemAction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.actions)
}

// CreateCopy returns an independent copy for an edit dialog.
func (w *WorkItemsParameters) CreateCopy() *WorkItemsParameters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &WorkItemsParameters{
		items:   slices.Clone(w.items),
		actions: maps.Clone(w.actions),
		links:   slices.Clone(w.links),
	}
}

// UpdateFromQuery replaces the offered items with a query result and
// forgets every chosen action.
func (w *WorkItemsParameters) UpdateFromQuery(items []WorkItem, links []WorkItemLink) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = items
	w.links = links
	clear(w.actions)
}

// Update adopts the state of other, typically an edited copy.
func (w *WorkItemsParameters) Update(other *WorkItemsParameters) {
	if other == w {
		return
	}
	other.mu.Lock()
	items, links, actions := other.items, other.links, other.actions
	other.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.items, w.links, w.actions = items, links, actions
}
