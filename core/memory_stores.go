package core

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// keyedMutex hands out one mutex per key so writers for different
// installations never wait on each other.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedLock{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

type MemoryInstallationStore struct {
	mu      sync.RWMutex
	writers *keyedMutex
	records map[string]Installation
	reverse map[string]string
}

func NewMemoryInstallationStore() *MemoryInstallationStore {
	return &MemoryInstallationStore{
		writers: newKeyedMutex(),
		records: map[string]Installation{},
		reverse: map[string]string{},
	}
}

// ReverseLookupKey is the uniqueness key for one tenant/integration pair.
func ReverseLookupKey(tenantID, integrationID string) string {
	return "tenant:" + strings.TrimSpace(tenantID) + ":integration:" + strings.TrimSpace(integrationID)
}

func (s *MemoryInstallationStore) Create(_ context.Context, in Installation) (Installation, error) {
	if s == nil {
		return Installation{}, fmt.Errorf("core: installation store is not configured")
	}
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return Installation{}, fmt.Errorf("core: installation id is required")
	}
	key := ReverseLookupKey(in.TenantID, in.IntegrationID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reverse[key]; exists {
		return Installation{}, ErrAlreadyInstalled
	}
	if _, exists := s.records[in.ID]; exists {
		return Installation{}, fmt.Errorf("core: installation %q already exists", in.ID)
	}
	in.Version = 1
	s.records[in.ID] = cloneInstallation(in)
	s.reverse[key] = in.ID
	return cloneInstallation(in), nil
}

func (s *MemoryInstallationStore) Get(_ context.Context, id string) (Installation, error) {
	if s == nil {
		return Installation{}, fmt.Errorf("core: installation store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return Installation{}, ErrInstallationNotFound
	}
	return cloneInstallation(record), nil
}

func (s *MemoryInstallationStore) FindByTenantIntegration(
	_ context.Context,
	tenantID string,
	integrationID string,
) (Installation, error) {
	if s == nil {
		return Installation{}, fmt.Errorf("core: installation store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.reverse[ReverseLookupKey(tenantID, integrationID)]
	if !ok {
		return Installation{}, ErrInstallationNotFound
	}
	return cloneInstallation(s.records[id]), nil
}

func (s *MemoryInstallationStore) List(_ context.Context, filter InstallationFilter) ([]Installation, error) {
	if s == nil {
		return nil, fmt.Errorf("core: installation store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Installation, 0, len(s.records))
	for _, record := range s.records {
		if !filter.Matches(record) {
			continue
		}
		out = append(out, cloneInstallation(record))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstalledAt.Equal(out[j].InstalledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].InstalledAt.Before(out[j].InstalledAt)
	})
	return out, nil
}

func (s *MemoryInstallationStore) Mutate(
	_ context.Context,
	id string,
	fn InstallationMutator,
) (Installation, error) {
	if s == nil {
		return Installation{}, fmt.Errorf("core: installation store is not configured")
	}
	if fn == nil {
		return Installation{}, fmt.Errorf("core: installation mutator is required")
	}
	id = strings.TrimSpace(id)
	unlock := s.writers.Lock(id)
	defer unlock()

	s.mu.RLock()
	current, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Installation{}, ErrInstallationNotFound
	}

	next := cloneInstallation(current)
	if err := fn(&next); err != nil {
		return Installation{}, err
	}
	next.ID = current.ID
	next.TenantID = current.TenantID
	next.IntegrationID = current.IntegrationID
	next.Version = current.Version + 1

	s.mu.Lock()
	s.records[id] = cloneInstallation(next)
	if next.Uninstalled() {
		// Frees the pair for a later reinstall; the record is kept for audit.
		key := ReverseLookupKey(next.TenantID, next.IntegrationID)
		if s.reverse[key] == id {
			delete(s.reverse, key)
		}
	}
	s.mu.Unlock()
	return cloneInstallation(next), nil
}

// Matches reports whether an installation passes the filter.
func (f InstallationFilter) Matches(in Installation) bool {
	if tenant := strings.TrimSpace(f.TenantID); tenant != "" && in.TenantID != tenant {
		return false
	}
	if integration := strings.TrimSpace(f.IntegrationID); integration != "" && in.IntegrationID != integration {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, in.Status) {
		return false
	}
	return true
}

type MemoryWebhookEventStore struct {
	mu     sync.RWMutex
	events map[string]WebhookEvent
	order  []string
}

func NewMemoryWebhookEventStore() *MemoryWebhookEventStore {
	return &MemoryWebhookEventStore{events: map[string]WebhookEvent{}}
}

func (s *MemoryWebhookEventStore) Create(_ context.Context, event WebhookEvent) (WebhookEvent, error) {
	if s == nil {
		return WebhookEvent{}, fmt.Errorf("core: webhook event store is not configured")
	}
	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		return WebhookEvent{}, fmt.Errorf("core: webhook event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return WebhookEvent{}, fmt.Errorf("core: webhook event %q already exists", event.ID)
	}
	s.events[event.ID] = cloneWebhookEvent(event)
	s.order = append(s.order, event.ID)
	return cloneWebhookEvent(event), nil
}

func (s *MemoryWebhookEventStore) Get(_ context.Context, id string) (WebhookEvent, error) {
	if s == nil {
		return WebhookEvent{}, fmt.Errorf("core: webhook event store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[strings.TrimSpace(id)]
	if !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	return cloneWebhookEvent(event), nil
}

func (s *MemoryWebhookEventStore) Update(_ context.Context, event WebhookEvent) (WebhookEvent, error) {
	if s == nil {
		return WebhookEvent{}, fmt.Errorf("core: webhook event store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ID]; !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	s.events[event.ID] = cloneWebhookEvent(event)
	return cloneWebhookEvent(event), nil
}

func (s *MemoryWebhookEventStore) ListByInstallation(
	_ context.Context,
	installationID string,
	limit int,
) ([]WebhookEvent, error) {
	return s.list(func(event WebhookEvent) bool {
		return event.InstallationID == strings.TrimSpace(installationID)
	}, limit)
}

func (s *MemoryWebhookEventStore) ListByStatus(
	_ context.Context,
	status WebhookEventStatus,
	limit int,
) ([]WebhookEvent, error) {
	return s.list(func(event WebhookEvent) bool {
		return event.Status == status
	}, limit)
}

func (s *MemoryWebhookEventStore) list(match func(WebhookEvent) bool, limit int) ([]WebhookEvent, error) {
	if s == nil {
		return nil, fmt.Errorf("core: webhook event store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []WebhookEvent{}
	for _, id := range s.order {
		event := s.events[id]
		if !match(event) {
			continue
		}
		out = append(out, cloneWebhookEvent(event))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type MemorySubscriptionStore struct {
	mu     sync.RWMutex
	byInst map[string]map[string]struct{}
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{byInst: map[string]map[string]struct{}{}}
}

func (s *MemorySubscriptionStore) Subscribe(_ context.Context, installationID string, eventTypes []string) error {
	if s == nil {
		return fmt.Errorf("core: subscription store is not configured")
	}
	installationID = strings.TrimSpace(installationID)
	if installationID == "" {
		return fmt.Errorf("core: installation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.byInst[installationID]
	if !ok {
		set = map[string]struct{}{}
		s.byInst[installationID] = set
	}
	for _, eventType := range eventTypes {
		if trimmed := strings.TrimSpace(eventType); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return nil
}

func (s *MemorySubscriptionStore) Unsubscribe(_ context.Context, installationID string) error {
	if s == nil {
		return fmt.Errorf("core: subscription store is not configured")
	}
	s.mu.Lock()
	delete(s.byInst, strings.TrimSpace(installationID))
	s.mu.Unlock()
	return nil
}

func (s *MemorySubscriptionStore) EventTypes(_ context.Context, installationID string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("core: subscription store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byInst[strings.TrimSpace(installationID)]))
	for eventType := range s.byInst[strings.TrimSpace(installationID)] {
		out = append(out, eventType)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemorySubscriptionStore) Subscribers(_ context.Context, eventType string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("core: subscription store is not configured")
	}
	eventType = strings.TrimSpace(eventType)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []string{}
	for installationID, set := range s.byInst {
		if _, ok := set[eventType]; ok {
			out = append(out, installationID)
		}
	}
	sort.Strings(out)
	return out, nil
}

type MemoryIntegrationCatalog struct {
	mu           sync.RWMutex
	integrations map[string]Integration
}

func NewMemoryIntegrationCatalog(integrations ...Integration) *MemoryIntegrationCatalog {
	catalog := &MemoryIntegrationCatalog{integrations: map[string]Integration{}}
	for _, integration := range integrations {
		catalog.Put(integration)
	}
	return catalog
}

func (c *MemoryIntegrationCatalog) Put(integration Integration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.integrations[strings.TrimSpace(integration.ID)] = cloneIntegration(integration)
	c.mu.Unlock()
}

func (c *MemoryIntegrationCatalog) GetIntegration(_ context.Context, id string) (Integration, error) {
	if c == nil {
		return Integration{}, fmt.Errorf("core: integration catalog is not configured")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	integration, ok := c.integrations[strings.TrimSpace(id)]
	if !ok {
		return Integration{}, ErrIntegrationNotFound
	}
	return cloneIntegration(integration), nil
}

// Save stores integration, replacing any entry with the same id.
func (c *MemoryIntegrationCatalog) Save(_ context.Context, integration Integration) (Integration, error) {
	if c == nil {
		return Integration{}, fmt.Errorf("core: integration catalog is not configured")
	}
	if strings.TrimSpace(integration.ID) == "" {
		return Integration{}, validationError("id", "integration id is required")
	}
	if integration.Status == "" {
		integration.Status = IntegrationStatusDraft
	}
	c.Put(integration)
	return cloneIntegration(integration), nil
}

func cloneIntegration(in Integration) Integration {
	out := in
	out.WebhookEvents = append([]string(nil), in.WebhookEvents...)
	out.Permissions = append([]string(nil), in.Permissions...)
	return out
}

// CloneInstallation returns a deep copy safe to hand across goroutines.
func CloneInstallation(in Installation) Installation {
	return cloneInstallation(in)
}

func cloneInstallation(in Installation) Installation {
	out := in
	out.Config.Settings = copyAnyMap(in.Config.Settings)
	out.Config.Mappings = copyStringMap(in.Config.Mappings)
	out.Permissions.Granted = append([]string(nil), in.Permissions.Granted...)
	out.Permissions.Denied = append([]string(nil), in.Permissions.Denied...)
	out.Health.LastCheck = cloneTime(in.Health.LastCheck)
	out.Billing.TrialEndsAt = cloneTime(in.Billing.TrialEndsAt)
	out.UninstalledAt = cloneTime(in.UninstalledAt)
	if in.Usage.Periods != nil {
		out.Usage.Periods = make(map[string]UsagePeriod, len(in.Usage.Periods))
		for key, value := range in.Usage.Periods {
			out.Usage.Periods[key] = value
		}
	}
	return out
}

// CloneWebhookEvent returns a deep copy of an event.
func CloneWebhookEvent(in WebhookEvent) WebhookEvent {
	return cloneWebhookEvent(in)
}

func cloneWebhookEvent(in WebhookEvent) WebhookEvent {
	out := in
	out.Payload = copyAnyMap(in.Payload)
	out.Failures = append([]DeliveryAttempt(nil), in.Failures...)
	out.NextRetry = cloneTime(in.NextRetry)
	out.DeliveredAt = cloneTime(in.DeliveredAt)
	return out
}

