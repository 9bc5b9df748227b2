package security

import (
	"bytes"
	"context"
	"testing"
)

func TestAppKeySecretProvider_EncryptDecryptRoundTrip(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("marketplace-v1"), WithVersion(3))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	plaintext := []byte("key_live_123")
	encrypted, err := provider.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(encrypted, plaintext) {
		t.Fatalf("expected encrypted payload to differ from plaintext")
	}
	if !IsEnvelope(encrypted) {
		t.Fatalf("expected envelope prefix")
	}
	meta, err := ParseEnvelopeMetadata(encrypted)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if meta.KeyID != "marketplace-v1" || meta.Version != 3 || meta.Algorithm != envelopeAlgorithm {
		t.Fatalf("unexpected envelope metadata %+v", meta)
	}

	decrypted, err := provider.Decrypt(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected roundtrip plaintext; got %q", string(decrypted))
	}
}

func TestAppKeySecretProvider_RejectsMetadataMismatch(t *testing.T) {
	issuer, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("marketplace-v1"), WithVersion(1))
	if err != nil {
		t.Fatalf("new issuer provider: %v", err)
	}
	receiver, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("marketplace-v2"), WithVersion(2))
	if err != nil {
		t.Fatalf("new receiver provider: %v", err)
	}

	encrypted, err := issuer.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := receiver.Decrypt(context.Background(), encrypted); err == nil {
		t.Fatalf("expected metadata mismatch error")
	}
}

func TestAppKeySecretProvider_RejectsInvalidInput(t *testing.T) {
	if _, err := NewAppKeySecretProvider([]byte("  ")); err == nil {
		t.Fatalf("expected empty key material to be rejected")
	}
	provider, err := NewAppKeySecretProviderFromString("0123456789abcdef")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.Encrypt(context.Background(), nil); err == nil {
		t.Fatalf("expected empty plaintext to be rejected")
	}
	if _, err := provider.Decrypt(context.Background(), []byte("key_live_plain")); err == nil {
		t.Fatalf("expected value without envelope to be rejected")
	}
}

func TestAppKeySecretProvider_DetectsTampering(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("super-secret-test-key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	other, err := NewAppKeySecretProviderFromString("another-secret-test-key")
	if err != nil {
		t.Fatalf("new other provider: %v", err)
	}
	encrypted, err := other.Encrypt(context.Background(), []byte("token"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := provider.Decrypt(context.Background(), encrypted); err == nil {
		t.Fatalf("expected decrypt under a different key to fail")
	}
}

func TestAppKeySecretProvider_RejectsRelabelledEnvelope(t *testing.T) {
	v1, err := NewAppKeySecretProviderFromString("shared-key-material", WithKeyID("marketplace"), WithVersion(1))
	if err != nil {
		t.Fatalf("new v1: %v", err)
	}
	v2, err := NewAppKeySecretProviderFromString("shared-key-material", WithKeyID("marketplace"), WithVersion(2))
	if err != nil {
		t.Fatalf("new v2: %v", err)
	}
	sealed, err := v1.Encrypt(context.Background(), []byte("refresh_abc"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	relabelled := bytes.Replace(sealed, []byte(`"ver":1`), []byte(`"ver":2`), 1)
	if bytes.Equal(relabelled, sealed) {
		t.Fatalf("expected version field in envelope, got %s", sealed)
	}
	if _, err := v2.Decrypt(context.Background(), relabelled); err == nil {
		t.Fatalf("expected relabelled envelope to fail authentication")
	}
	if _, err := v1.Decrypt(context.Background(), []byte(envelopePrefix+`{"kid":"marketplace","ver":1,"alg":"aes-256-gcm","data":"AAAA"}`)); err == nil {
		t.Fatalf("expected truncated envelope data to fail")
	}
}
