// Package secrets encrypts .env values with an age identity kept next to
// the storybook config.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"github.com/dohr-michael/storybook/internal/config"
)

const encPrefix = "ENC[age:"
const encSuffix = "]"

// ErrNoIdentity is returned when an encrypted value is found but no age key
// exists.
var ErrNoIdentity = errors.New("no age identity; run 'storybook secret init'")

// KeyPath returns the default age key file path: $STORYBOOK_PATH/.age-key.
func KeyPath() string {
	return filepath.Join(config.StorybookPath(), ".age-key")
}

// GenerateIdentity creates an X25519 key pair at path with 0o600. An
// existing key is kept. It returns the public recipient.
func GenerateIdentity(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		id, err := LoadIdentity(path)
		if err != nil {
			return "", err
		}
		return id.Recipient().String(), nil
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generate age identity: %w", err)
	}
	content := fmt.Sprintf("# created by storybook\n# public key: %s\n%s\n",
		identity.Recipient().String(), identity.String())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write age key: %w", err)
	}
	return identity.Recipient().String(), nil
}

// LoadIdentity reads the first X25519 identity from path.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoIdentity
		}
		return nil, fmt.Errorf("open age key: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age identities: %w", err)
	}
	id, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("unexpected identity type in %s", path)
	}
	return id, nil
}

// Encrypt seals plaintext for recipient as an ENC[age:...] value.
func Encrypt(plaintext string, recipient age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("age encrypt init: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt close: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + encSuffix, nil
}

// Decrypt opens an ENC[age:...] value.
func Decrypt(blob string, identity age.Identity) (string, error) {
	if !IsEncrypted(blob) {
		return "", fmt.Errorf("not an encrypted value")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob[len(encPrefix) : len(blob)-len(encSuffix)])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read decrypted: %w", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether s is an ENC[age:...] value.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix) && strings.HasSuffix(s, encSuffix)
}

// Keyring loads the identity at a key path on first use.
type Keyring struct {
	path string

	once     sync.Once
	identity *age.X25519Identity
	err      error
}

// NewKeyring returns a keyring backed by the key file at path.
func NewKeyring(path string) *Keyring {
	return &Keyring{path: path}
}

func (k *Keyring) load() (*age.X25519Identity, error) {
	k.once.Do(func() {
		k.identity, k.err = LoadIdentity(k.path)
	})
	return k.identity, k.err
}

// Seal encrypts plaintext for the keyring's own recipient.
func (k *Keyring) Seal(plaintext string) (string, error) {
	id, err := k.load()
	if err != nil {
		return "", err
	}
	return Encrypt(plaintext, id.Recipient())
}

// Decode implements config.ValueDecoder: encrypted values are opened,
// anything else passes through. The key file is only read when an
// encrypted value is met.
func (k *Keyring) Decode(_ string, value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	id, err := k.load()
	if err != nil {
		return "", err
	}
	return Decrypt(value, id)
}
