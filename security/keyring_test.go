package security

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestKeyRing_SealsWithNewestOpenKeyAndReadsOlderVersions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v1, err := NewAppKeySecretProviderFromString("key-one", WithKeyID("marketplace"), WithVersion(1))
	if err != nil {
		t.Fatalf("new v1: %v", err)
	}
	ctx := context.Background()
	legacy, err := v1.Encrypt(ctx, []byte("legacy-token"))
	if err != nil {
		t.Fatalf("encrypt legacy: %v", err)
	}

	v2, err := NewAppKeySecretProviderFromString("key-two",
		WithKeyID("marketplace"),
		WithVersion(2),
		WithRotationWindow(KeyRotationWindow{NotBefore: now.Add(time.Hour)}),
	)
	if err != nil {
		t.Fatalf("new v2: %v", err)
	}
	ring, err := NewKeyRing([]*AppKeySecretProvider{v1, v2}, WithKeyRingClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}

	if kid, version := ring.Metadata(); kid != "marketplace" || version != 1 {
		t.Fatalf("expected v1 to seal before the v2 window opens, got %s:%d", kid, version)
	}

	now = now.Add(2 * time.Hour)
	sealed, err := ring.Encrypt(ctx, []byte("fresh-token"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	meta, err := ParseEnvelopeMetadata(sealed)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if meta.Version != 2 {
		t.Fatalf("expected v2 to seal once open, got %d", meta.Version)
	}

	for _, tc := range []struct {
		ciphertext []byte
		want       string
	}{
		{ciphertext: legacy, want: "legacy-token"},
		{ciphertext: sealed, want: "fresh-token"},
	} {
		plaintext, err := ring.Decrypt(ctx, tc.ciphertext)
		if err != nil {
			t.Fatalf("decrypt %q: %v", tc.want, err)
		}
		if !bytes.Equal(plaintext, []byte(tc.want)) {
			t.Fatalf("expected %q, got %q", tc.want, plaintext)
		}
	}
}

func TestKeyRing_ReportsUnknownKeysAndClosedWindows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var diagnostics []KeyRingDiagnostic

	expired, err := NewAppKeySecretProviderFromString("key-one",
		WithKeyID("marketplace"),
		WithRotationWindow(KeyRotationWindow{NotAfter: now.Add(-time.Minute)}),
	)
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	ring, err := NewKeyRing([]*AppKeySecretProvider{expired},
		WithKeyRingClock(func() time.Time { return now }),
		WithKeyRingDiagnostics(func(event KeyRingDiagnostic) { diagnostics = append(diagnostics, event) }),
	)
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}

	ctx := context.Background()
	if _, err := ring.Encrypt(ctx, []byte("token")); err == nil {
		t.Fatalf("expected encrypt to fail with no open key")
	}

	stranger, err := NewAppKeySecretProviderFromString("key-x", WithKeyID("other"), WithVersion(7))
	if err != nil {
		t.Fatalf("new stranger: %v", err)
	}
	foreign, err := stranger.Encrypt(ctx, []byte("token"))
	if err != nil {
		t.Fatalf("encrypt foreign: %v", err)
	}
	if _, err := ring.Decrypt(ctx, foreign); err == nil {
		t.Fatalf("expected decrypt with unknown key to fail")
	}

	if len(diagnostics) != 2 || diagnostics[0].Operation != "encrypt" || diagnostics[1].KeyID != "other" {
		t.Fatalf("unexpected diagnostics %+v", diagnostics)
	}
}

func TestKeyRing_RejectsDuplicateAndEmptyKeys(t *testing.T) {
	if _, err := NewKeyRing(nil); err == nil {
		t.Fatalf("expected empty key ring to be rejected")
	}
	key, err := NewAppKeySecretProviderFromString("key-one")
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	if _, err := NewKeyRing([]*AppKeySecretProvider{key, key}); err == nil {
		t.Fatalf("expected duplicate key version to be rejected")
	}
}

func TestKeyRotationWindow_Allows(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		window KeyRotationWindow
		want   bool
	}{
		{name: "open", window: KeyRotationWindow{}, want: true},
		{name: "not yet", window: KeyRotationWindow{NotBefore: at.Add(time.Second)}, want: false},
		{name: "expired", window: KeyRotationWindow{NotAfter: at.Add(-time.Second)}, want: false},
		{name: "inside", window: KeyRotationWindow{NotBefore: at.Add(-time.Hour), NotAfter: at.Add(time.Hour)}, want: true},
	}
	for _, tc := range cases {
		if got := tc.window.Allows(at); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
