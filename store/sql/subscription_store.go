package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// SubscriptionStore keeps one row per (installation, event type).
type SubscriptionStore struct {
	db *bun.DB
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &SubscriptionStore{db: db}, nil
}

func (s *SubscriptionStore) Subscribe(ctx context.Context, installationID string, eventTypes []string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	installationID = strings.TrimSpace(installationID)
	if installationID == "" {
		return fmt.Errorf("sqlstore: installation id is required")
	}
	now := time.Now().UTC()
	seen := map[string]struct{}{}
	records := make([]subscriptionRecord, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			continue
		}
		if _, ok := seen[eventType]; ok {
			continue
		}
		seen[eventType] = struct{}{}
		records = append(records, subscriptionRecord{
			InstallationID: installationID,
			EventType:      eventType,
			CreatedAt:      now,
		})
	}
	if len(records) == 0 {
		return nil
	}
	_, err := s.db.NewInsert().
		Model(&records).
		On("CONFLICT (installation_id, event_type) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *SubscriptionStore) Unsubscribe(ctx context.Context, installationID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*subscriptionRecord)(nil)).
		Where("installation_id = ?", strings.TrimSpace(installationID)).
		Exec(ctx)
	return err
}

func (s *SubscriptionStore) EventTypes(ctx context.Context, installationID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	out := []string{}
	err := s.db.NewSelect().
		Model((*subscriptionRecord)(nil)).
		Column("event_type").
		Where("installation_id = ?", strings.TrimSpace(installationID)).
		Scan(ctx, &out)
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *SubscriptionStore) Subscribers(ctx context.Context, eventType string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	out := []string{}
	err := s.db.NewSelect().
		Model((*subscriptionRecord)(nil)).
		Column("installation_id").
		Where("event_type = ?", strings.TrimSpace(eventType)).
		Scan(ctx, &out)
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
