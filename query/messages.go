package query

import (
	"strings"

	"github.com/goliatone/go-marketplace/core"
)

const (
	TypeGetInstallation   = "marketplace.query.installation.get"
	TypeFindInstallation  = "marketplace.query.installation.find"
	TypeListInstallations = "marketplace.query.installation.list"
	TypeGetEvent          = "marketplace.query.webhook.get"
	TypeListEvents        = "marketplace.query.webhook.list"
	TypeListDeadLetters   = "marketplace.query.webhook.dead_letters"
)

const MaxListLimit = 500

type GetInstallationMessage struct {
	InstallationID string
}

func (GetInstallationMessage) Type() string { return TypeGetInstallation }

func (m GetInstallationMessage) Validate() error {
	if strings.TrimSpace(m.InstallationID) == "" {
		return core.FieldError("query", "installation_id", "installation id is required")
	}
	return nil
}

type FindInstallationMessage struct {
	TenantID      string
	IntegrationID string
}

func (FindInstallationMessage) Type() string { return TypeFindInstallation }

func (m FindInstallationMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return core.FieldError("query", "tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.IntegrationID) == "" {
		return core.FieldError("query", "integration_id", "integration id is required")
	}
	return nil
}

type ListInstallationsMessage struct {
	Filter core.InstallationFilter
}

func (ListInstallationsMessage) Type() string { return TypeListInstallations }

func (m ListInstallationsMessage) Validate() error {
	for _, status := range m.Filter.Statuses {
		switch status {
		case core.InstallationStatusActive,
			core.InstallationStatusPaused,
			core.InstallationStatusError,
			core.InstallationStatusUninstalled:
		default:
			return core.FieldError("query", "statuses", "unknown installation status "+string(status))
		}
	}
	return nil
}

type GetEventMessage struct {
	EventID string
}

func (GetEventMessage) Type() string { return TypeGetEvent }

func (m GetEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.FieldError("query", "event_id", "event id is required")
	}
	return nil
}

type ListEventsMessage struct {
	InstallationID string
	Limit          int
}

func (ListEventsMessage) Type() string { return TypeListEvents }

func (m ListEventsMessage) Validate() error {
	if strings.TrimSpace(m.InstallationID) == "" {
		return core.FieldError("query", "installation_id", "installation id is required")
	}
	return validateLimit(m.Limit)
}

type ListDeadLettersMessage struct {
	Limit int
}

func (ListDeadLettersMessage) Type() string { return TypeListDeadLetters }

func (m ListDeadLettersMessage) Validate() error {
	return validateLimit(m.Limit)
}

func validateLimit(limit int) error {
	if limit < 0 || limit > MaxListLimit {
		return core.FieldError("query", "limit", "limit must be between 0 and 500")
	}
	return nil
}
