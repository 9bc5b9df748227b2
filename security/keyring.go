package security

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

// KeyRotationWindow bounds when a key version may seal new values. Zero
// bounds are open.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	if !w.NotBefore.IsZero() && at.Before(w.NotBefore) {
		return false
	}
	return w.NotAfter.IsZero() || !at.After(w.NotAfter)
}

type KeyRingDiagnostic struct {
	OccurredAt time.Time
	Operation  string
	KeyID      string
	Version    int
	Error      string
}

type KeyRingDiagnosticHook func(event KeyRingDiagnostic)

type KeyRingOption func(*KeyRing)

func WithKeyRingClock(now func() time.Time) KeyRingOption {
	return func(r *KeyRing) {
		if now != nil {
			r.now = now
		}
	}
}

func WithKeyRingDiagnostics(hook KeyRingDiagnosticHook) KeyRingOption {
	return func(r *KeyRing) {
		r.diagnosticHook = hook
	}
}

// KeyRing holds every key version still needed to read stored credentials.
// New values are sealed with the highest version whose rotation window is
// open; reads are routed by the key id and version in the envelope.
type KeyRing struct {
	mu             sync.RWMutex
	keys           []*AppKeySecretProvider
	now            func() time.Time
	diagnosticHook KeyRingDiagnosticHook
}

func NewKeyRing(keys []*AppKeySecretProvider, opts ...KeyRingOption) (*KeyRing, error) {
	ring := &KeyRing{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(ring)
	}
	for _, key := range keys {
		if err := ring.Add(key); err != nil {
			return nil, err
		}
	}
	if len(ring.keys) == 0 {
		return nil, fmt.Errorf("security: key ring requires at least one key")
	}
	return ring, nil
}

// Add registers another key version. A key id and version pair can only be
// added once.
func (r *KeyRing) Add(key *AppKeySecretProvider) error {
	if r == nil {
		return fmt.Errorf("security: key ring is nil")
	}
	if key == nil {
		return fmt.Errorf("security: key is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.keys {
		if existing.KeyID() == key.KeyID() && existing.Version() == key.Version() {
			return fmt.Errorf("security: key %s:%d already registered", key.KeyID(), key.Version())
		}
	}
	r.keys = append(r.keys, key)
	return nil
}

func (r *KeyRing) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("security: key ring is nil")
	}
	key := r.active()
	if key == nil {
		err := fmt.Errorf("security: no key is open for encryption")
		r.emit("encrypt", "", 0, err)
		return nil, err
	}
	return key.Encrypt(ctx, plaintext)
}

func (r *KeyRing) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("security: key ring is nil")
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, err
	}
	key := r.lookup(meta.KeyID, meta.Version)
	if key == nil {
		err := fmt.Errorf("security: no key registered for %s:%d", meta.KeyID, meta.Version)
		r.emit("decrypt", meta.KeyID, meta.Version, err)
		return nil, err
	}
	plaintext, err := key.Decrypt(ctx, ciphertext)
	if err != nil {
		r.emit("decrypt", meta.KeyID, meta.Version, err)
		return nil, err
	}
	return plaintext, nil
}

func (r *KeyRing) IsEnvelope(value []byte) bool {
	return IsEnvelope(value)
}

// Metadata reports the key that currently seals new values.
func (r *KeyRing) Metadata() (string, int) {
	key := r.active()
	if key == nil {
		return "", 0
	}
	return key.Metadata()
}

func (r *KeyRing) active() *AppKeySecretProvider {
	if r == nil {
		return nil
	}
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var selected *AppKeySecretProvider
	for _, key := range r.keys {
		if !key.RotationWindow().Allows(now) {
			continue
		}
		if selected == nil || key.Version() > selected.Version() {
			selected = key
		}
	}
	return selected
}

func (r *KeyRing) lookup(keyID string, version int) *AppKeySecretProvider {
	keyID = strings.TrimSpace(keyID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.keys {
		if key.KeyID() == keyID && key.Version() == version {
			return key
		}
	}
	return nil
}

func (r *KeyRing) emit(operation string, keyID string, version int, err error) {
	if r == nil || r.diagnosticHook == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.diagnosticHook(KeyRingDiagnostic{
		OccurredAt: r.now().UTC(),
		Operation:  operation,
		KeyID:      keyID,
		Version:    version,
		Error:      msg,
	})
}

var _ core.SecretProvider = (*KeyRing)(nil)
