package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeTypeMaskSetOperations(t *testing.T) {
	m := MaskOf(ChangeEdit, ChangeRename, ChangeLock)

	assert.True(t, m.Contains(ChangeEdit))
	assert.True(t, m.ContainsAny(ChangeAdd, ChangeRename))
	assert.False(t, m.ContainsAny(ChangeAdd, ChangeDelete))
	assert.True(t, m.ContainsAll(ChangeEdit, ChangeRename))
	assert.False(t, m.ContainsAll(ChangeEdit, ChangeMerge))
	assert.False(t, m.ContainsOnly(ChangeEdit, ChangeRename))
	assert.True(t, m.ContainsOnly(ChangeEdit, ChangeRename, ChangeLock))

	stripped := m.Remove(ChangeNone, ChangeLock)
	assert.Equal(t, MaskOf(ChangeEdit, ChangeRename), stripped)
	assert.False(t, stripped.IsEmpty())
	assert.True(t, MaskOf(ChangeNone).Remove(ChangeNone, ChangeLock).IsEmpty())
	assert.False(t, ChangeTypeMask(0).ContainsOnly(ChangeEdit))
}

func TestParseChangeTypeMask(t *testing.T) {
	tests := []struct {
		in      string
		want    ChangeTypeMask
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "Edit", want: MaskOf(ChangeEdit)},
		{in: "Add Edit Encoding", want: MaskOf(ChangeAdd, ChangeEdit, ChangeEncoding)},
		{in: "rename  edit", want: MaskOf(ChangeRename, ChangeEdit)},
		{in: "Edit Frobnicate", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChangeTypeMask(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChangeTypeMaskString(t *testing.T) {
	assert.Equal(t, "Add Edit Encoding", MaskOf(ChangeEncoding, ChangeAdd, ChangeEdit).String())
	assert.Equal(t, "", ChangeTypeMask(0).String())
}
