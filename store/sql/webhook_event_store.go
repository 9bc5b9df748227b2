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

type WebhookEventStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEventRecord]
}

func NewWebhookEventStore(db *bun.DB) (*WebhookEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookEventRecord](db, webhookEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook event repository wiring: %w", err)
		}
	}
	return &WebhookEventStore{db: db, repo: repo}, nil
}

func (s *WebhookEventStore) Create(ctx context.Context, event core.WebhookEvent) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event id is required")
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.CreatedAt
	}
	if event.Status == "" {
		event.Status = core.WebhookEventStatusPending
	}
	record := newWebhookEventRecord(event)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event %q already exists", event.ID)
		}
		return core.WebhookEvent{}, err
	}
	return record.toDomain(), nil
}

func (s *WebhookEventStore) Get(ctx context.Context, id string) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	record := &webhookEventRecord{}
	err := s.db.NewSelect().Model(record).Where("?TableAlias.id = ?", strings.TrimSpace(id)).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookEvent{}, core.ErrEventNotFound
		}
		return core.WebhookEvent{}, err
	}
	return record.toDomain(), nil
}

func (s *WebhookEventStore) Update(ctx context.Context, event core.WebhookEvent) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	event.ID = strings.TrimSpace(event.ID)
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = time.Now().UTC()
	}
	record := newWebhookEventRecord(event)
	res, err := s.db.NewUpdate().
		Model(record).
		ExcludeColumn("id", "installation_id", "type", "created_at").
		Where("id = ?", event.ID).
		Exec(ctx)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.WebhookEvent{}, err
	}
	if affected == 0 {
		return core.WebhookEvent{}, core.ErrEventNotFound
	}
	return s.Get(ctx, event.ID)
}

func (s *WebhookEventStore) ListByInstallation(
	ctx context.Context,
	installationID string,
	limit int,
) ([]core.WebhookEvent, error) {
	return s.list(ctx, limit, repository.SelectBy("installation_id", "=", strings.TrimSpace(installationID)))
}

func (s *WebhookEventStore) ListByStatus(
	ctx context.Context,
	status core.WebhookEventStatus,
	limit int,
) ([]core.WebhookEvent, error) {
	return s.list(ctx, limit, repository.SelectBy("status", "=", string(status)))
}

func (s *WebhookEventStore) list(
	ctx context.Context,
	limit int,
	criteria ...repository.SelectCriteria,
) ([]core.WebhookEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	selectors := append([]repository.SelectCriteria{
		repository.OrderBy("created_at ASC"),
		repository.OrderBy("id ASC"),
	}, criteria...)
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
