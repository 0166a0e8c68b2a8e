package config

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestLoadDocument(t *testing.T) {
	content := `
use_http_proxy = false

[server."http://tfs:8080/tfs/"]
proxy_uri = "http://proxy:8081/"

[server."http://tfs:8080/tfs/".credentials]
user = "alice"
domain = "CORP"
kind = "ntlm"
`
	memFs := afero.NewMemMapFs()
	path := "/cfg/config.toml"
	if err := afero.WriteFile(memFs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	doc, err := LoadDocument(memFs, path)
	if err != nil {
		t.Fatalf("LoadDocument failed: %v", err)
	}
	if doc.UseHTTPProxy {
		t.Errorf("expected use_http_proxy false")
	}
	if !doc.SupportTfsCheckinPolicies || !doc.SupportStatefulCheckinPolicies || !doc.ReportNotInstalledCheckinPolicies {
		t.Errorf("missing flags should default to true: %+v", doc)
	}
	sc, ok := doc.Servers["http://tfs:8080/tfs/"]
	if !ok {
		t.Fatalf("server entry missing: %+v", doc.Servers)
	}
	if sc.ProxyURI != "http://proxy:8081/" {
		t.Errorf("expected proxy uri, got %q", sc.ProxyURI)
	}
	if sc.Credentials == nil || sc.Credentials.User != "alice" || sc.Credentials.Domain != "CORP" {
		t.Errorf("unexpected credentials %+v", sc.Credentials)
	}
}

func TestLoadDocumentNotFound(t *testing.T) {
	doc, err := LoadDocument(afero.NewMemMapFs(), "/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if !doc.UseHTTPProxy || doc.Servers == nil {
		t.Errorf("expected default document, got %+v", doc)
	}
}

func TestLoadDocumentInvalid(t *testing.T) {
	memFs := afero.NewMemMapFs()
	_ = afero.WriteFile(memFs, "/config.toml", []byte("use_http_proxy = [unterminated"), 0o644)
	if _, err := LoadDocument(memFs, "/config.toml"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveDocument(t *testing.T) {
	memFs := afero.NewMemMapFs()
	doc := DefaultDocument()
	doc.Servers["http://tfs/"] = ServerConfig{ProxyURI: "http://proxy/"}

	if err := SaveDocument(memFs, "/new/dir/config.toml", doc); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	data, err := afero.ReadFile(memFs, "/new/dir/config.toml")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.HasPrefix(string(data), "#:schema ") {
		t.Errorf("expected schema comment header, got %q", string(data)[:20])
	}

	back, err := LoadDocument(memFs, "/new/dir/config.toml")
	if err != nil {
		t.Fatalf("LoadDocument failed: %v", err)
	}
	if back.Servers["http://tfs/"].ProxyURI != "http://proxy/" {
		t.Errorf("round trip lost proxy: %+v", back.Servers)
	}
}
