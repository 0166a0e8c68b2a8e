// Package status classifies local items against the server's view of a
// workspace.
package status

import (
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
)

// Kind is the classification of one local item.
type Kind int

const (
	Undefined Kind = iota
	Unversioned
	UpToDate
	OutOfDate
	ScheduledForAddition
	ScheduledForDeletion
	CheckedOutForEdit
	Renamed
	RenamedCheckedOut
	Undeleted
)

var kindNames = [...]string{
	Undefined:            "Undefined",
	Unversioned:          "Unversioned",
	UpToDate:             "UpToDate",
	OutOfDate:            "OutOfDate",
	ScheduledForAddition: "ScheduledForAddition",
	ScheduledForDeletion: "ScheduledForDeletion",
	CheckedOutForEdit:    "CheckedOutForEdit",
	Renamed:              "Renamed",
	RenamedCheckedOut:    "RenamedCheckedOut",
	Undeleted:            "Undeleted",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Undefined"
	}
	return kindNames[k]
}

// ServerStatus is an immutable classification with its payload. The
// pending change is set when it was preferred over the extended item.
type ServerStatus struct {
	kind   Kind
	item   *vcs.ExtendedItem
	change *vcs.PendingChange
}

func (s ServerStatus) Kind() Kind { return s.kind }

// ExtendedItem is nil for Unversioned.
func (s ServerStatus) ExtendedItem() *vcs.ExtendedItem { return s.item }

// PendingChange is nil unless the variant carries the pending change.
func (s ServerStatus) PendingChange() *vcs.PendingChange { return s.change }

// ItemID identifies the payload, or 0 for Unversioned.
func (s ServerStatus) ItemID() int {
	switch {
	case s.change != nil:
		return s.change.ItemID
	case s.item != nil:
		return s.item.ItemID
	}
	return 0
}

// VisitorFunc receives one classified item.
type VisitorFunc func(path tfspath.FilePath, exists bool, st ServerStatus) error

// Visitor has one callback per kind. Nil callbacks are skipped.
type Visitor struct {
	Unversioned          VisitorFunc
	UpToDate             VisitorFunc
	OutOfDate            VisitorFunc
	ScheduledForAddition VisitorFunc
	ScheduledForDeletion VisitorFunc
	CheckedOutForEdit    VisitorFunc
	Renamed              VisitorFunc
	RenamedCheckedOut    VisitorFunc
	Undeleted            VisitorFunc
	Undefined            VisitorFunc
}

// VisitAll returns a visitor calling fn for every kind.
func VisitAll(fn VisitorFunc) Visitor {
	return Visitor{
		Unversioned:          fn,
		UpToDate:             fn,
		OutOfDate:            fn,
		ScheduledForAddition: fn,
		ScheduledForDeletion: fn,
		CheckedOutForEdit:    fn,
		Renamed:              fn,
		RenamedCheckedOut:    fn,
		Undeleted:            fn,
		Undefined:            fn,
	}
}

func (v Visitor) callback(k Kind) VisitorFunc {
	switch k {
	case Unversioned:
		return v.Unversioned
	case UpToDate:
		return v.UpToDate
	case OutOfDate:
		return v.OutOfDate
	case ScheduledForAddition:
		return v.ScheduledForAddition
	case ScheduledForDeletion:
		return v.ScheduledForDeletion
	case CheckedOutForEdit:
		return v.CheckedOutForEdit
	case Renamed:
		return v.Renamed
	case RenamedCheckedOut:
		return v.RenamedCheckedOut
	case Undeleted:
		return v.Undeleted
	}
	return v.Undefined
}

// VisitBy dispatches to the callback for the status kind.
func (s ServerStatus) VisitBy(path tfspath.FilePath, exists bool, v Visitor) error {
	if fn := v.callback(s.kind); fn != nil {
		return fn(path, exists, s)
	}
	return nil
}

func preferChange(k Kind, pc *vcs.PendingChange, item *vcs.ExtendedItem) ServerStatus {
	return ServerStatus{kind: k, item: item, change: pc}
}

// Determine classifies an item from its pending change and extended item.
// Either may be nil.
func Determine(pc *vcs.PendingChange, item *vcs.ExtendedItem) ServerStatus {
	if item == nil {
		return ServerStatus{kind: Unversioned}
	}

	c := item.ChangeType.Remove(vcs.ChangeNone, vcs.ChangeLock)
	if c.IsEmpty() {
		switch {
		case !item.HasLocal():
			return ServerStatus{kind: Unversioned}
		case item.LocalVersion < item.Latest:
			return ServerStatus{kind: OutOfDate, item: item}
		default:
			return ServerStatus{kind: UpToDate, item: item}
		}
	}

	switch {
	case c.Contains(vcs.ChangeAdd) ||
		(c.ContainsAny(vcs.ChangeMerge, vcs.ChangeBranch) && item.Latest == vcs.NoVersion):
		return preferChange(ScheduledForAddition, pc, item)
	case c.Contains(vcs.ChangeDelete):
		return preferChange(ScheduledForDeletion, pc, item)
	case c.ContainsAny(vcs.ChangeEdit, vcs.ChangeMerge) && !c.Contains(vcs.ChangeRename):
		if item.LocalVersion != vcs.NoVersion {
			return preferChange(CheckedOutForEdit, pc, item)
		}
		return ServerStatus{kind: ScheduledForAddition, item: item}
	case c.ContainsAny(vcs.ChangeMerge, vcs.ChangeRename) && !c.Contains(vcs.ChangeEdit):
		return preferChange(Renamed, pc, item)
	case c.ContainsAll(vcs.ChangeRename, vcs.ChangeEdit):
		return preferChange(RenamedCheckedOut, pc, item)
	case c.Contains(vcs.ChangeUndelete):
		return preferChange(Undeleted, pc, item)
	}
	return ServerStatus{kind: Undefined, item: item, change: pc}
}
