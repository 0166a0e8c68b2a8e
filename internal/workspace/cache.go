package workspace

import (
	"encoding/xml"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// The cache document layout.
type cacheDocument struct {
	XMLName xml.Name      `xml:"Workstation"`
	Servers []cacheServer `xml:"Servers>ServerInfo"`
}

type cacheServer struct {
	URI        string           `xml:"uri,attr"`
	GUID       string           `xml:"guid,attr"`
	Workspaces []cacheWorkspace `xml:"WorkspaceInfo"`
}

type cacheWorkspace struct {
	Computer    string           `xml:"computer,attr"`
	Owner       string           `xml:"owner,attr"`
	Timestamp   string           `xml:"timestamp,attr"`
	Name        string           `xml:"name,attr"`
	Comment     *string          `xml:"comment,attr,omitempty"`
	MappedPaths cacheMappedPaths `xml:"MappedPaths"`
}

type cacheMappedPaths struct {
	Paths []cacheMappedPath `xml:"MappedPath"`
}

type cacheMappedPath struct {
	Path string `xml:"path,attr"`
}

func readCache(afs afero.Fs, path string) (*cacheDocument, error) {
	data, err := afero.ReadFile(afs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return &cacheDocument{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc cacheDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// writeCache writes doc without an XML declaration, creating the parent
// directory when needed.
func writeCache(afs afero.Fs, path string, doc *cacheDocument) error {
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := afs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(afs, path, append(data, '\n'), 0o644)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
