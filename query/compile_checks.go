package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-marketplace/core"
)

var (
	_ gocmd.Querier[GetInstallationMessage, core.Installation]     = (*GetInstallationQuery)(nil)
	_ gocmd.Querier[FindInstallationMessage, core.Installation]    = (*FindInstallationQuery)(nil)
	_ gocmd.Querier[ListInstallationsMessage, []core.Installation] = (*ListInstallationsQuery)(nil)
	_ gocmd.Querier[GetEventMessage, core.WebhookEvent]            = (*GetEventQuery)(nil)
	_ gocmd.Querier[ListEventsMessage, []core.WebhookEvent]        = (*ListEventsQuery)(nil)
	_ gocmd.Querier[ListDeadLettersMessage, []core.WebhookEvent]   = (*ListDeadLettersQuery)(nil)

	_ InstallationReader = (*core.Service)(nil)
	_ EventReader        = (*core.Service)(nil)
)
