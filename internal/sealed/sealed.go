// Package sealed encrypts stored passwords at rest with age.
//
// The X25519 identity lives in a file next to the configuration document and
// is created on first use. Ciphertext is base64 so it fits in a TOML string.
package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/spf13/afero"
)

// IdentityFilename is the name of the identity file beside config.toml.
const IdentityFilename = "identity.txt"

// Sealer encrypts and decrypts short secrets with one identity.
type Sealer struct {
	identity *age.X25519Identity
}

// New wraps an existing identity.
func New(identity *age.X25519Identity) *Sealer {
	return &Sealer{identity: identity}
}

// LoadOrCreate reads the identity at path, generating and writing a new one
// if the file does not exist.
func LoadOrCreate(fs afero.Fs, path string) (*Sealer, error) {
	data, err := afero.ReadFile(fs, path)
	if err == nil {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse identity file: %w", err)
		}
		return New(identity), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create identity dir: %w", err)
	}
	if err := afero.WriteFile(fs, path, []byte(identity.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write identity file: %w", err)
	}
	return New(identity), nil
}

// Seal encrypts plaintext to the sealer's own recipient.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading plaintext: %w", err)
	}
	return string(plaintext), nil
}
