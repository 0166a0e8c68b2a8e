// Package config handles the per-server settings store and its document (config.toml).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

const (
	// DirName is the directory under the user config dir holding tfvc files.
	DirName = "tfvc"
	// Filename is the name of the configuration document.
	Filename = "config.toml"
	// CacheFilename is the name of the workstation cache beside it.
	CacheFilename = "workstation.xml"
)

// StoredCredentials is the persisted form of credentials.
type StoredCredentials struct {
	User          string `toml:"user" json:"user" jsonschema:"required,description=User name"`
	Domain        string `toml:"domain,omitempty" json:"domain,omitempty" jsonschema:"description=Windows domain"`
	Kind          string `toml:"kind,omitempty" json:"kind,omitempty" jsonschema:"enum=ntlm,enum=alternate,description=Authentication kind"`
	StorePassword bool   `toml:"store_password,omitempty" json:"store_password,omitempty" jsonschema:"description=Persist the password sealed on disk"`
	// Password is age-sealed and base64 encoded.
	Password string `toml:"password,omitempty" json:"password,omitempty" jsonschema:"description=Sealed password (written by tfvc)"`
}

// ServerConfig is the persisted configuration of one server.
type ServerConfig struct {
	Credentials *StoredCredentials `toml:"credentials,omitempty" json:"credentials,omitempty" jsonschema:"description=Credentials used for this server"`
	ProxyURI    string             `toml:"proxy_uri,omitempty" json:"proxy_uri,omitempty" jsonschema:"description=TFS proxy URI"`
}

// HTTPProxy describes the host-level HTTP proxy.
type HTTPProxy struct {
	Enabled        bool   `toml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"description=Route requests through the proxy"`
	Host           string `toml:"host,omitempty" json:"host,omitempty" jsonschema:"description=Proxy host"`
	Port           int    `toml:"port,omitempty" json:"port,omitempty" jsonschema:"description=Proxy port"`
	Authentication bool   `toml:"authentication,omitempty" json:"authentication,omitempty" jsonschema:"description=Proxy requires authentication"`
	User           string `toml:"user,omitempty" json:"user,omitempty" jsonschema:"description=Proxy user"`
	KeepPassword   bool   `toml:"keep_password,omitempty" json:"keep_password,omitempty" jsonschema:"description=Proxy password is kept by the host"`
}

// Document is the whole configuration document. Server keys end in "/".
type Document struct {
	Servers                           map[string]ServerConfig `toml:"server,omitempty" json:"server,omitempty" jsonschema:"description=Per-server configuration keyed by server URI"`
	UseHTTPProxy                      bool                    `toml:"use_http_proxy" json:"use_http_proxy" jsonschema:"description=Honor the host HTTP proxy settings"`
	SupportTfsCheckinPolicies         bool                    `toml:"support_tfs_checkin_policies" json:"support_tfs_checkin_policies" jsonschema:"description=Evaluate TFS check-in policies"`
	SupportStatefulCheckinPolicies    bool                    `toml:"support_stateful_checkin_policies" json:"support_stateful_checkin_policies" jsonschema:"description=Evaluate stateful check-in policies"`
	ReportNotInstalledCheckinPolicies bool                    `toml:"report_not_installed_checkin_policies" json:"report_not_installed_checkin_policies" jsonschema:"description=Warn about required policies that are not installed"`
	HTTPProxy                         HTTPProxy               `toml:"http_proxy,omitempty" json:"http_proxy,omitempty" jsonschema:"description=Host HTTP proxy"`
}

// DefaultDocument returns a document with every flag enabled.
func DefaultDocument() Document {
	return Document{
		Servers:                           map[string]ServerConfig{},
		UseHTTPProxy:                      true,
		SupportTfsCheckinPolicies:         true,
		SupportStatefulCheckinPolicies:    true,
		ReportNotInstalledCheckinPolicies: true,
	}
}

// SchemaComment is the TOML comment that references the JSON Schema for editor autocomplete.
const SchemaComment = "#:schema https://raw.githubusercontent.com/bolasblack/tfvc/refs/heads/master/tfvc-config.schema.json\n\n"

// DefaultDir returns the directory holding config.toml.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(base, DirName), nil
}

// LoadDocument reads the document at path.
// A missing file yields DefaultDocument and no error.
func LoadDocument(fs afero.Fs, path string) (Document, error) {
	doc := DefaultDocument()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return DefaultDocument(), fmt.Errorf("failed to parse config file: %w", err)
	}
	if doc.Servers == nil {
		doc.Servers = map[string]ServerConfig{}
	}
	return doc, nil
}

// SaveDocument writes the document with the schema comment header,
// creating the parent directory if needed.
func SaveDocument(fs afero.Fs, path string, doc Document) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(SchemaComment)
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
