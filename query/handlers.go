package query

import (
	"context"

	"github.com/goliatone/go-marketplace/core"
)

type InstallationReader interface {
	GetInstallation(ctx context.Context, installationID string) (core.Installation, error)
	FindInstallation(ctx context.Context, tenantID string, integrationID string) (core.Installation, error)
	ListInstallations(ctx context.Context, filter core.InstallationFilter) ([]core.Installation, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, eventID string) (core.WebhookEvent, error)
	ListEvents(ctx context.Context, installationID string, limit int) ([]core.WebhookEvent, error)
	ListDeadLetters(ctx context.Context, limit int) ([]core.WebhookEvent, error)
}

// GetInstallationQuery returns the installation with stored credentials
// masked; the other installation queries do the same.
type GetInstallationQuery struct {
	reader InstallationReader
}

func NewGetInstallationQuery(reader InstallationReader) *GetInstallationQuery {
	return &GetInstallationQuery{reader: reader}
}

func (q *GetInstallationQuery) Query(ctx context.Context, msg GetInstallationMessage) (core.Installation, error) {
	if q == nil || q.reader == nil {
		return core.Installation{}, core.MissingDependency("query: installation reader is required")
	}
	inst, err := q.reader.GetInstallation(ctx, msg.InstallationID)
	if err != nil {
		return core.Installation{}, err
	}
	return core.RedactInstallation(inst), nil
}

type FindInstallationQuery struct {
	reader InstallationReader
}

func NewFindInstallationQuery(reader InstallationReader) *FindInstallationQuery {
	return &FindInstallationQuery{reader: reader}
}

func (q *FindInstallationQuery) Query(ctx context.Context, msg FindInstallationMessage) (core.Installation, error) {
	if q == nil || q.reader == nil {
		return core.Installation{}, core.MissingDependency("query: installation reader is required")
	}
	inst, err := q.reader.FindInstallation(ctx, msg.TenantID, msg.IntegrationID)
	if err != nil {
		return core.Installation{}, err
	}
	return core.RedactInstallation(inst), nil
}

type ListInstallationsQuery struct {
	reader InstallationReader
}

func NewListInstallationsQuery(reader InstallationReader) *ListInstallationsQuery {
	return &ListInstallationsQuery{reader: reader}
}

func (q *ListInstallationsQuery) Query(
	ctx context.Context,
	msg ListInstallationsMessage,
) ([]core.Installation, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependency("query: installation reader is required")
	}
	items, err := q.reader.ListInstallations(ctx, msg.Filter)
	if err != nil {
		return nil, err
	}
	out := make([]core.Installation, 0, len(items))
	for _, item := range items {
		out = append(out, core.RedactInstallation(item))
	}
	return out, nil
}

type GetEventQuery struct {
	reader EventReader
}

func NewGetEventQuery(reader EventReader) *GetEventQuery {
	return &GetEventQuery{reader: reader}
}

func (q *GetEventQuery) Query(ctx context.Context, msg GetEventMessage) (core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return core.WebhookEvent{}, core.MissingDependency("query: event reader is required")
	}
	return q.reader.GetEvent(ctx, msg.EventID)
}

type ListEventsQuery struct {
	reader EventReader
}

func NewListEventsQuery(reader EventReader) *ListEventsQuery {
	return &ListEventsQuery{reader: reader}
}

func (q *ListEventsQuery) Query(ctx context.Context, msg ListEventsMessage) ([]core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependency("query: event reader is required")
	}
	return q.reader.ListEvents(ctx, msg.InstallationID, msg.Limit)
}

type ListDeadLettersQuery struct {
	reader EventReader
}

func NewListDeadLettersQuery(reader EventReader) *ListDeadLettersQuery {
	return &ListDeadLettersQuery{reader: reader}
}

func (q *ListDeadLettersQuery) Query(ctx context.Context, msg ListDeadLettersMessage) ([]core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependency("query: event reader is required")
	}
	return q.reader.ListDeadLetters(ctx, msg.Limit)
}
