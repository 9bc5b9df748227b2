package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-marketplace/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const (
	defaultMutateAttempts = 8
	writerStripes         = 64
)

type InstallationStore struct {
	db             *bun.DB
	repo           repository.Repository[*installationRecord]
	mutateAttempts int
	secrets        core.SecretProvider
	writers        [writerStripes]sync.Mutex
}

type InstallationStoreOption func(*InstallationStore)

// WithInstallationSecrets seals installation credentials with provider before
// they are written.
func WithInstallationSecrets(provider core.SecretProvider) InstallationStoreOption {
	return func(s *InstallationStore) {
		s.secrets = provider
	}
}

func NewInstallationStore(db *bun.DB, opts ...InstallationStoreOption) (*InstallationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*installationRecord](db, installationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid installation repository wiring: %w", err)
		}
	}
	store := &InstallationStore{
		db:             db,
		repo:           repo,
		mutateAttempts: defaultMutateAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Create inserts the installation with version 1. A live installation for the
// same tenant and integration is rejected inside the transaction and again by
// the partial unique index, so concurrent creates cannot both succeed.
func (s *InstallationStore) Create(ctx context.Context, in core.Installation) (core.Installation, error) {
	if s == nil || s.db == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation store is not configured")
	}
	in.ID = strings.TrimSpace(in.ID)
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.IntegrationID = strings.TrimSpace(in.IntegrationID)
	if in.ID == "" {
		return core.Installation{}, fmt.Errorf("sqlstore: installation id is required")
	}
	if in.TenantID == "" || in.IntegrationID == "" {
		return core.Installation{}, fmt.Errorf("sqlstore: tenant id and integration id are required")
	}
	if in.Status == "" {
		in.Status = core.InstallationStatusActive
	}
	now := time.Now().UTC()
	if in.InstalledAt.IsZero() {
		in.InstalledAt = now
	}
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = in.InstalledAt
	}
	in.Version = 1

	record := newInstallationRecord(in)
	created := record.toDomain()
	if err := s.seal(ctx, record); err != nil {
		return core.Installation{}, err
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findLiveInstallationTx(ctx, tx, in.TenantID, in.IntegrationID)
		if err != nil {
			return err
		}
		if existing != nil {
			return core.ErrAlreadyInstalled
		}
		_, err = tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return core.Installation{}, core.ErrAlreadyInstalled
		}
		return core.Installation{}, err
	}
	return created, nil
}

func (s *InstallationStore) Get(ctx context.Context, id string) (core.Installation, error) {
	if s == nil || s.db == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation store is not configured")
	}
	record, err := s.load(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Installation{}, err
	}
	return s.open(ctx, record)
}

func (s *InstallationStore) FindByTenantIntegration(
	ctx context.Context,
	tenantID string,
	integrationID string,
) (core.Installation, error) {
	if s == nil || s.db == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation store is not configured")
	}
	record := &installationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.integration_id = ?", strings.TrimSpace(integrationID)).
		Where("?TableAlias.status <> ?", string(core.InstallationStatusUninstalled)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Installation{}, core.ErrInstallationNotFound
		}
		return core.Installation{}, err
	}
	return s.open(ctx, record)
}

func (s *InstallationStore) List(ctx context.Context, filter core.InstallationFilter) ([]core.Installation, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: installation store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("installed_at ASC"),
		repository.OrderBy("id ASC"),
	}
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		selectors = append(selectors, repository.SelectBy("tenant_id", "=", tenantID))
	}
	if integrationID := strings.TrimSpace(filter.IntegrationID); integrationID != "" {
		selectors = append(selectors, repository.SelectBy("integration_id", "=", integrationID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.status IN (?)", bun.In(statuses))
		}))
	}

	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Installation, 0, len(records))
	for _, record := range records {
		inst, err := s.open(ctx, record)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// Mutate applies fn to the latest row and writes it back guarded by the
// version column. Writers in this process queue on a striped lock; writers in
// other processes lose the version check, reload and reapply fn.
func (s *InstallationStore) Mutate(
	ctx context.Context,
	id string,
	fn core.InstallationMutator,
) (core.Installation, error) {
	if s == nil || s.db == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation store is not configured")
	}
	if fn == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation mutator is required")
	}
	id = strings.TrimSpace(id)
	lock := s.writerLock(id)
	lock.Lock()
	defer lock.Unlock()

	attempts := s.mutateAttempts
	if attempts <= 0 {
		attempts = defaultMutateAttempts
	}
	for range attempts {
		if err := ctx.Err(); err != nil {
			return core.Installation{}, err
		}
		out, err := s.mutateOnce(ctx, id, fn)
		if errors.Is(err, errStaleVersion) {
			continue
		}
		return out, err
	}
	return core.Installation{}, fmt.Errorf("%w: installation %q", core.ErrVersionConflict, id)
}

var errStaleVersion = errors.New("sqlstore: stale installation version")

func (s *InstallationStore) writerLock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.writers[h.Sum32()%writerStripes]
}

func (s *InstallationStore) mutateOnce(
	ctx context.Context,
	id string,
	fn core.InstallationMutator,
) (core.Installation, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return core.Installation{}, err
	}
	current, err := s.open(ctx, record)
	if err != nil {
		return core.Installation{}, err
	}
	next := core.CloneInstallation(current)
	if err := fn(&next); err != nil {
		return core.Installation{}, err
	}
	next.ID = current.ID
	next.TenantID = current.TenantID
	next.IntegrationID = current.IntegrationID
	next.InstalledAt = current.InstalledAt
	next.Version = current.Version + 1

	updated := newInstallationRecord(next)
	result := updated.toDomain()
	if err := s.seal(ctx, updated); err != nil {
		return core.Installation{}, err
	}
	res, err := s.db.NewUpdate().
		Model(updated).
		ExcludeColumn("id", "tenant_id", "integration_id", "installed_at").
		Where("id = ?", current.ID).
		Where("version = ?", current.Version).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Installation{}, core.ErrAlreadyInstalled
		}
		return core.Installation{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Installation{}, err
	}
	if affected == 0 {
		return core.Installation{}, errStaleVersion
	}
	return result, nil
}

func (s *InstallationStore) load(ctx context.Context, id string) (*installationRecord, error) {
	if id == "" {
		return nil, core.ErrInstallationNotFound
	}
	record := &installationRecord{}
	err := s.db.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrInstallationNotFound
		}
		return nil, err
	}
	return record, nil
}

func findLiveInstallationTx(
	ctx context.Context,
	tx bun.Tx,
	tenantID string,
	integrationID string,
) (*installationRecord, error) {
	record := &installationRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", tenantID).
		Where("?TableAlias.integration_id = ?", integrationID).
		Where("?TableAlias.status <> ?", string(core.InstallationStatusUninstalled)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}
