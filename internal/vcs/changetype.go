package vcs

import (
	"fmt"
	"strings"
)

// ChangeType is one kind of pending change.
type ChangeType uint32

const (
	ChangeNone ChangeType = 1 << iota
	ChangeAdd
	ChangeEdit
	ChangeEncoding
	ChangeRename
	ChangeDelete
	ChangeUndelete
	ChangeBranch
	ChangeMerge
	ChangeLock
)

var changeTypeNames = []struct {
	t    ChangeType
	name string
}{
	{ChangeNone, "None"},
	{ChangeAdd, "Add"},
	{ChangeEdit, "Edit"},
	{ChangeEncoding, "Encoding"},
	{ChangeRename, "Rename"},
	{ChangeDelete, "Delete"},
	{ChangeUndelete, "Undelete"},
	{ChangeBranch, "Branch"},
	{ChangeMerge, "Merge"},
	{ChangeLock, "Lock"},
}

// ChangeTypeMask is a set of change types.
type ChangeTypeMask uint32

// MaskOf builds a mask from the given types.
func MaskOf(types ...ChangeType) ChangeTypeMask {
	var m ChangeTypeMask
	for _, t := range types {
		m |= ChangeTypeMask(t)
	}
	return m
}

// Contains reports whether t is in the mask.
func (m ChangeTypeMask) Contains(t ChangeType) bool {
	return m&ChangeTypeMask(t) != 0
}

// ContainsAny reports whether at least one of types is in the mask.
func (m ChangeTypeMask) ContainsAny(types ...ChangeType) bool {
	return m&MaskOf(types...) != 0
}

// ContainsAll reports whether every one of types is in the mask.
func (m ChangeTypeMask) ContainsAll(types ...ChangeType) bool {
	want := MaskOf(types...)
	return m&want == want
}

// ContainsOnly reports whether the mask is non-empty and holds nothing but types.
func (m ChangeTypeMask) ContainsOnly(types ...ChangeType) bool {
	return m != 0 && m&^MaskOf(types...) == 0
}

// Remove returns the mask without types.
func (m ChangeTypeMask) Remove(types ...ChangeType) ChangeTypeMask {
	return m &^ MaskOf(types...)
}

// IsEmpty reports whether no type is set.
func (m ChangeTypeMask) IsEmpty() bool {
	return m == 0
}

// String renders the mask in the server's space-separated form.
func (m ChangeTypeMask) String() string {
	var parts []string
	for _, n := range changeTypeNames {
		if m.Contains(n.t) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}

// ParseChangeTypeMask parses the server's space-separated form.
// Unknown names are an error.
func ParseChangeTypeMask(s string) (ChangeTypeMask, error) {
	var m ChangeTypeMask
	for _, field := range strings.FieldsFunc(s, isMaskSeparator) {
		found := false
		for _, n := range changeTypeNames {
			if strings.EqualFold(n.name, field) {
				m |= ChangeTypeMask(n.t)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown change type %q", field)
		}
	}
	return m, nil
}

func isMaskSeparator(r rune) bool {
	return r == ' ' || r == ',' || r == '\t'
}

// MarshalText implements encoding.TextMarshaler.
func (m ChangeTypeMask) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ChangeTypeMask) UnmarshalText(b []byte) error {
	parsed, err := ParseChangeTypeMask(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
