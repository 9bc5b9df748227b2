package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-marketplace/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// IntegrationStore is the SQL integration catalog.
type IntegrationStore struct {
	db   *bun.DB
	repo repository.Repository[*integrationRecord]
}

func NewIntegrationStore(db *bun.DB) (*IntegrationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*integrationRecord](db, integrationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid integration repository wiring: %w", err)
		}
	}
	return &IntegrationStore{db: db, repo: repo}, nil
}

func (s *IntegrationStore) GetIntegration(ctx context.Context, id string) (core.Integration, error) {
	if s == nil || s.db == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	record, err := s.load(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return core.Integration{}, err
	}
	return record.toDomain(), nil
}

// Save inserts or replaces a catalog entry.
func (s *IntegrationStore) Save(ctx context.Context, in core.Integration) (core.Integration, error) {
	if s == nil || s.db == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return core.Integration{}, fmt.Errorf("sqlstore: integration id is required")
	}
	if in.Status == "" {
		in.Status = core.IntegrationStatusDraft
	}
	record := newIntegrationRecord(in, time.Now().UTC())
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("category = EXCLUDED.category").
		Set("developer = EXCLUDED.developer").
		Set("auth_method = EXCLUDED.auth_method").
		Set("base_url = EXCLUDED.base_url").
		Set("webhook_events = EXCLUDED.webhook_events").
		Set("permissions = EXCLUDED.permissions").
		Set("version = EXCLUDED.version").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.Integration{}, err
	}
	return s.GetIntegration(ctx, in.ID)
}

// UpdateStatus moves an integration through its review lifecycle.
func (s *IntegrationStore) UpdateStatus(
	ctx context.Context,
	id string,
	status core.IntegrationStatus,
	version string,
) (core.Integration, error) {
	if s == nil || s.db == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	id = strings.TrimSpace(id)
	var out core.Integration
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		candidate := record.toDomain()
		now := time.Now().UTC()
		if err := candidate.TransitionTo(status, now); err != nil {
			return err
		}
		if version = strings.TrimSpace(version); version != "" {
			candidate.Version = version
		}
		candidate.UpdatedAt = now
		updated := newIntegrationRecord(candidate, now)
		if _, err := tx.NewUpdate().
			Model(updated).
			Column("status", "version", "updated_at").
			Where("id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		out = updated.toDomain()
		return nil
	})
	if err != nil {
		return core.Integration{}, err
	}
	return out, nil
}

func (s *IntegrationStore) List(ctx context.Context, status core.IntegrationStatus) ([]core.Integration, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: integration store is not configured")
	}
	selectors := []repository.SelectCriteria{repository.OrderBy("name ASC")}
	if status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(status)))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Integration, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *IntegrationStore) load(ctx context.Context, db bun.IDB, id string) (*integrationRecord, error) {
	if id == "" {
		return nil, core.ErrIntegrationNotFound
	}
	record := &integrationRecord{}
	err := db.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrIntegrationNotFound
		}
		return nil, err
	}
	return record, nil
}
