package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/goliatone/go-marketplace/core"
)

const (
	DefaultKeyID   = "app-key"
	DefaultVersion = 1
)

type Option func(*AppKeySecretProvider)

func WithKeyID(id string) Option {
	return func(p *AppKeySecretProvider) {
		if id = strings.TrimSpace(id); id != "" {
			p.keyID = id
		}
	}
}

func WithVersion(version int) Option {
	return func(p *AppKeySecretProvider) {
		if version > 0 {
			p.version = version
		}
	}
}

// WithRotationWindow sets when a KeyRing may pick the key to seal new values.
// Decryption is never gated so rows sealed before a rotation stay readable.
func WithRotationWindow(window KeyRotationWindow) Option {
	return func(p *AppKeySecretProvider) {
		p.window = window
	}
}

// AppKeySecretProvider seals installation credentials with AES-GCM under one
// application key. Key material that is not a valid AES key length is
// stretched with SHA-256.
type AppKeySecretProvider struct {
	aead    cipher.AEAD
	keyID   string
	version int
	window  KeyRotationWindow
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, errors.New("security: key material is required")
	}
	block, err := aes.NewCipher(aesKey(material))
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	p := &AppKeySecretProvider{aead: aead, keyID: DefaultKeyID, version: DefaultVersion}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, errors.New("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, errors.New("security: plaintext is required")
	}
	env := envelope{KeyID: p.keyID, Version: p.version, Algorithm: envelopeAlgorithm}
	nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(plaintext)+p.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	return sealEnvelope(env, p.aead.Seal(nonce, nonce, plaintext, env.additionalData()))
}

// Decrypt opens an envelope sealed by this key id and version. Envelopes for
// any other key are rejected before decryption is attempted.
func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, errors.New("security: secret provider is nil")
	}
	env, err := openEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	switch {
	case env.Algorithm != envelopeAlgorithm:
		return nil, fmt.Errorf("security: unsupported envelope algorithm %q", env.Algorithm)
	case env.KeyID != p.keyID || env.Version != p.version:
		return nil, fmt.Errorf("security: envelope sealed by %s:%d, provider is %s:%d",
			env.KeyID, env.Version, p.keyID, p.version)
	}
	payload, err := env.payload()
	if err != nil {
		return nil, err
	}
	nonceSize := p.aead.NonceSize()
	if len(payload) < nonceSize+p.aead.Overhead() {
		return nil, errors.New("security: envelope data is truncated")
	}
	plaintext, err := p.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], env.additionalData())
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

// IsEnvelope lets stores tell sealed values from rows written before
// encryption was enabled.
func (p *AppKeySecretProvider) IsEnvelope(value []byte) bool {
	return IsEnvelope(value)
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.keyID
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.version
}

func (p *AppKeySecretProvider) Metadata() (string, int) {
	return p.KeyID(), p.Version()
}

func (p *AppKeySecretProvider) RotationWindow() KeyRotationWindow {
	if p == nil {
		return KeyRotationWindow{}
	}
	return p.window
}

func aesKey(material []byte) []byte {
	switch len(material) {
	case 16, 24, 32:
		return slices.Clone(material)
	}
	sum := sha256.Sum256(material)
	return sum[:]
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
