package soap

import (
	"strconv"
	"time"

	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
)

// Records as they appear on the wire. Local paths are in wire form.

type wireItemSpec struct {
	Item      string `xml:"item,attr"`
	Recursion string `xml:"recurse,attr,omitempty"`
	Deletion  int    `xml:"did,attr,omitempty"`
}

func toWireSpec(s vcs.ItemSpec) wireItemSpec {
	item := s.Item
	if !tfspath.IsServerPath(item) {
		item = tfspath.Local.ToWire(item)
	}
	rec := string(s.Recursion)
	if s.Recursion == vcs.RecursionNone {
		rec = ""
	}
	return wireItemSpec{Item: item, Recursion: rec, Deletion: s.DeletionID}
}

func toWireSpecs(specs []vcs.ItemSpec) []wireItemSpec {
	out := make([]wireItemSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, toWireSpec(s))
	}
	return out
}

type wireVersionSpec struct {
	Type      string `xml:"xsi:type,attr"`
	Changeset int    `xml:"cs,attr,omitempty"`
}

func versionSpec(v int) *wireVersionSpec {
	if v <= 0 || v == vcs.NoVersion {
		return nil
	}
	return &wireVersionSpec{Type: "ChangesetVersionSpec", Changeset: v}
}

// version decodes an optional integer attribute.
func version(s string) int {
	if s == "" {
		return vcs.NoVersion
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return vcs.NoVersion
	}
	return n
}

func fromWireLocal(s string) string {
	if s == "" {
		return ""
	}
	return tfspath.Local.FromWire(s)
}

type wireExtendedItem struct {
	ItemID       int                `xml:"itemid,attr"`
	Local        string             `xml:"local,attr"`
	TargetItem   string             `xml:"titem,attr"`
	SourceItem   string             `xml:"sitem,attr"`
	Type         string             `xml:"type,attr"`
	LocalVersion string             `xml:"lver,attr"`
	Latest       string             `xml:"latest,attr"`
	ChangeType   vcs.ChangeTypeMask `xml:"chg,attr"`
	DeletionID   int                `xml:"did,attr"`
	Encoding     int                `xml:"enc,attr"`
	Lock         string             `xml:"lock,attr"`
	LockOwner    string             `xml:"lowner,attr"`
	OtherChange  bool               `xml:"ochg,attr"`
}

func (w wireExtendedItem) record() vcs.ExtendedItem {
	lock := vcs.LockLevel(w.Lock)
	if lock == "" {
		lock = vcs.LockNone
	}
	return vcs.ExtendedItem{
		ItemID:                w.ItemID,
		Local:                 fromWireLocal(w.Local),
		TargetItem:            w.TargetItem,
		SourceItem:            w.SourceItem,
		Type:                  itemType(w.Type),
		LocalVersion:          version(w.LocalVersion),
		Latest:                version(w.Latest),
		ChangeType:            w.ChangeType,
		DeletionID:            w.DeletionID,
		Encoding:              w.Encoding,
		Lock:                  lock,
		LockOwner:             w.LockOwner,
		HasOtherPendingChange: w.OtherChange,
	}
}

func itemType(s string) vcs.ItemType {
	if s == "" {
		return vcs.ItemFile
	}
	return vcs.ItemType(s)
}

type wirePendingChange struct {
	ItemID           int                `xml:"itemid,attr"`
	Local            string             `xml:"local,attr"`
	ServerItem       string             `xml:"item,attr"`
	SourceServerItem string             `xml:"srcitem,attr"`
	SourceLocal      string             `xml:"srclocal,attr"`
	Type             string             `xml:"type,attr"`
	ChangeType       vcs.ChangeTypeMask `xml:"chg,attr"`
	Version          string             `xml:"ver,attr"`
	Encoding         int                `xml:"enc,attr"`
	Date             time.Time          `xml:"date,attr"`
}

func (w wirePendingChange) record() vcs.PendingChange {
	return vcs.PendingChange{
		ItemID:           w.ItemID,
		Local:            fromWireLocal(w.Local),
		ServerItem:       w.ServerItem,
		SourceServerItem: w.SourceServerItem,
		SourceLocal:      fromWireLocal(w.SourceLocal),
		Type:             itemType(w.Type),
		ChangeType:       w.ChangeType,
		Version:          version(w.Version),
		Encoding:         w.Encoding,
		Date:             w.Date,
	}
}

type wireGetOperation struct {
	ItemID      int                `xml:"itemid,attr"`
	SourceLocal string             `xml:"slocal,attr"`
	TargetLocal string             `xml:"tlocal,attr"`
	ServerItem  string             `xml:"titem,attr"`
	Type        string             `xml:"type,attr"`
	ChangeType  vcs.ChangeTypeMask `xml:"chg,attr"`
	Version     string             `xml:"sver,attr"`
	DownloadURL string             `xml:"durl,attr"`
}

func (w wireGetOperation) record() vcs.GetOperation {
	return vcs.GetOperation{
		ItemID:      w.ItemID,
		SourceLocal: fromWireLocal(w.SourceLocal),
		TargetLocal: fromWireLocal(w.TargetLocal),
		ServerItem:  w.ServerItem,
		Type:        itemType(w.Type),
		ChangeType:  w.ChangeType,
		Version:     version(w.Version),
		DownloadURL: w.DownloadURL,
	}
}

type wireFailure struct {
	Code       string `xml:"code,attr"`
	Severity   string `xml:"sev,attr"`
	Item       string `xml:"item,attr"`
	LocalItem  string `xml:"local,attr"`
	ServerItem string `xml:"sitem,attr"`
	Message    string `xml:"Message"`
}

func (w wireFailure) record() vcs.Failure {
	sev := vcs.SeverityType(w.Severity)
	if sev == "" {
		sev = vcs.SeverityError
	}
	return vcs.Failure{
		Code:       w.Code,
		Severity:   sev,
		Message:    w.Message,
		Item:       w.Item,
		LocalItem:  fromWireLocal(w.LocalItem),
		ServerItem: w.ServerItem,
	}
}

type wireResultWithFailures struct {
	Operations []wireGetOperation `xml:"Result>GetOperation"`
	Failures   []wireFailure      `xml:"failures>Failure"`
}

func (w wireResultWithFailures) record() *vcs.ResultWithFailures {
	out := &vcs.ResultWithFailures{}
	for _, op := range w.Operations {
		out.Operations = append(out.Operations, op.record())
	}
	for _, f := range w.Failures {
		out.Failures = append(out.Failures, f.record())
	}
	return out
}

type wireWorkingFolder struct {
	Local string `xml:"local,attr,omitempty"`
	Item  string `xml:"item,attr"`
	Type  string `xml:"type,attr,omitempty"`
}

type wireWorkspace struct {
	Name             string              `xml:"name,attr"`
	Owner            string              `xml:"owner,attr"`
	Computer         string              `xml:"computer,attr"`
	IsLocal          bool                `xml:"islocal,attr,omitempty"`
	OwnerDisplayName string              `xml:"ownerdisp,attr,omitempty"`
	SecurityToken    string              `xml:"securitytoken,attr,omitempty"`
	Options          int                 `xml:"options,attr,omitempty"`
	Date             *time.Time          `xml:"date,attr,omitempty"`
	Comment          string              `xml:"Comment,omitempty"`
	Folders          []wireWorkingFolder `xml:"Folders>WorkingFolder"`
	OwnerAliases     []string            `xml:"OwnerAliases>string,omitempty"`
}

func toWireWorkspace(ws vcs.Workspace) wireWorkspace {
	w := wireWorkspace{
		Name:             ws.Name,
		Owner:            ws.Owner,
		Computer:         ws.Computer,
		IsLocal:          ws.IsLocal,
		OwnerDisplayName: ws.OwnerDisplayName,
		SecurityToken:    ws.SecurityToken,
		Options:          ws.Options,
		Comment:          ws.Comment,
		OwnerAliases:     ws.OwnerAliases,
	}
	if !ws.LastAccessDate.IsZero() {
		d := ws.LastAccessDate
		w.Date = &d
	}
	for _, f := range ws.Folders {
		wf := wireWorkingFolder{Item: f.ServerItem}
		if f.Type == vcs.FolderCloak {
			wf.Type = string(vcs.FolderCloak)
		} else {
			wf.Local = tfspath.Local.ToWire(f.LocalItem)
		}
		w.Folders = append(w.Folders, wf)
	}
	return w
}

func (w wireWorkspace) record() *vcs.Workspace {
	ws := &vcs.Workspace{
		Name:             w.Name,
		Owner:            w.Owner,
		Computer:         w.Computer,
		Comment:          w.Comment,
		IsLocal:          w.IsLocal,
		OwnerDisplayName: w.OwnerDisplayName,
		OwnerAliases:     w.OwnerAliases,
		SecurityToken:    w.SecurityToken,
		Options:          w.Options,
	}
	if w.Date != nil {
		ws.LastAccessDate = *w.Date
	}
	for _, f := range w.Folders {
		folder := vcs.WorkingFolder{Type: vcs.FolderMap, ServerItem: f.Item, LocalItem: fromWireLocal(f.Local)}
		if f.Type == string(vcs.FolderCloak) {
			folder.Type = vcs.FolderCloak
			folder.LocalItem = ""
		}
		ws.Folders = append(ws.Folders, folder)
	}
	return ws
}

type wireChangeset struct {
	ID      int       `xml:"cset,attr"`
	Owner   string    `xml:"owner,attr"`
	Date    time.Time `xml:"date,attr"`
	Comment string    `xml:"Comment"`
	Changes []struct {
		ChangeType vcs.ChangeTypeMask `xml:"type,attr"`
		Item       struct {
			Type       string `xml:"type,attr"`
			ServerItem string `xml:"item,attr"`
		} `xml:"Item"`
	} `xml:"Changes>Change"`
}

func (w wireChangeset) record() vcs.Changeset {
	cs := vcs.Changeset{ID: w.ID, Owner: w.Owner, Date: w.Date, Comment: w.Comment}
	for _, c := range w.Changes {
		cs.Changes = append(cs.Changes, vcs.Change{
			ServerItem: c.Item.ServerItem,
			Type:       itemType(c.Item.Type),
			ChangeType: c.ChangeType,
		})
	}
	return cs
}

type wireConflict struct {
	ConflictID            int                `xml:"cid,attr"`
	ItemID                int                `xml:"itemid,attr"`
	Type                  string             `xml:"ytype,attr"`
	YoursChange           vcs.ChangeTypeMask `xml:"ychg,attr"`
	BaseChange            vcs.ChangeTypeMask `xml:"bchg,attr"`
	TheirsChange          vcs.ChangeTypeMask `xml:"tchg,attr"`
	YoursServerItem       string             `xml:"ysitem,attr"`
	YoursServerItemSource string             `xml:"ysitemsrc,attr"`
	BaseServerItem        string             `xml:"bsitem,attr"`
	TheirsServerItem      string             `xml:"tsitem,attr"`
	SourceLocalItem       string             `xml:"srclitem,attr"`
	TargetLocalItem       string             `xml:"tgtlitem,attr"`
	YoursVersion          string             `xml:"yver,attr"`
	TheirsVersion         string             `xml:"tver,attr"`
	BaseVersion           string             `xml:"bver,attr"`
	IsResolved            bool               `xml:"isresolved,attr"`
}

func (w wireConflict) record() vcs.Conflict {
	return vcs.Conflict{
		ConflictID:            w.ConflictID,
		ItemID:                w.ItemID,
		Type:                  itemType(w.Type),
		YoursChange:           w.YoursChange,
		BaseChange:            w.BaseChange,
		TheirsChange:          w.TheirsChange,
		YoursServerItem:       w.YoursServerItem,
		YoursServerItemSource: w.YoursServerItemSource,
		BaseServerItem:        w.BaseServerItem,
		TheirsServerItem:      w.TheirsServerItem,
		SourceLocalItem:       fromWireLocal(w.SourceLocalItem),
		TargetLocalItem:       fromWireLocal(w.TargetLocalItem),
		YoursVersion:          version(w.YoursVersion),
		TheirsVersion:         version(w.TheirsVersion),
		BaseVersion:           version(w.BaseVersion),
		IsResolved:            w.IsResolved,
	}
}
