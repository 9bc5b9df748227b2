package sqlstore

import (
	"context"
	"fmt"

	"github.com/goliatone/go-marketplace/core"
)

type envelopeDetector interface {
	IsEnvelope(value []byte) bool
}

// credentialFields lists the installation config values sealed at rest.
func credentialFields(cfg *core.InstallationConfig) map[string]*string {
	return map[string]*string{
		"api_key":       &cfg.APIKey,
		"api_secret":    &cfg.APISecret,
		"access_token":  &cfg.AccessToken,
		"refresh_token": &cfg.RefreshToken,
	}
}

// seal encrypts the credential fields of record in place. Without a secret
// provider the record is written as is.
func (s *InstallationStore) seal(ctx context.Context, record *installationRecord) error {
	if s.secrets == nil || record == nil {
		return nil
	}
	detector, _ := s.secrets.(envelopeDetector)
	for name, field := range credentialFields(&record.Config) {
		if *field == "" {
			continue
		}
		if detector != nil && detector.IsEnvelope([]byte(*field)) {
			continue
		}
		sealed, err := s.secrets.Encrypt(ctx, []byte(*field))
		if err != nil {
			return fmt.Errorf("sqlstore: seal %s: %w", name, err)
		}
		*field = string(sealed)
	}
	return nil
}

// open returns the domain installation with credentials decrypted. Values
// the provider does not recognise as sealed, such as rows written before
// encryption was enabled, are returned unchanged.
func (s *InstallationStore) open(ctx context.Context, record *installationRecord) (core.Installation, error) {
	inst := record.toDomain()
	if s.secrets == nil {
		return inst, nil
	}
	detector, _ := s.secrets.(envelopeDetector)
	for name, field := range credentialFields(&inst.Config) {
		if *field == "" {
			continue
		}
		if detector != nil && !detector.IsEnvelope([]byte(*field)) {
			continue
		}
		plaintext, err := s.secrets.Decrypt(ctx, []byte(*field))
		if err != nil {
			return core.Installation{}, fmt.Errorf("sqlstore: open %s of installation %q: %w", name, inst.ID, err)
		}
		*field = string(plaintext)
	}
	return inst, nil
}
