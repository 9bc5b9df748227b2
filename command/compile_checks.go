package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-marketplace/core"
)

var (
	_ gocmd.Commander[InstallMessage]           = (*InstallCommand)(nil)
	_ gocmd.Commander[UninstallMessage]         = (*UninstallCommand)(nil)
	_ gocmd.Commander[PauseMessage]             = (*PauseCommand)(nil)
	_ gocmd.Commander[ResumeMessage]            = (*ResumeCommand)(nil)
	_ gocmd.Commander[RecordUsageMessage]       = (*RecordUsageCommand)(nil)
	_ gocmd.Commander[RecordErrorMessage]       = (*RecordErrorCommand)(nil)
	_ gocmd.Commander[SetHealthMessage]         = (*SetHealthCommand)(nil)
	_ gocmd.Commander[CallMessage]              = (*CallCommand)(nil)
	_ gocmd.Commander[PublishMessage]           = (*PublishCommand)(nil)
	_ gocmd.Commander[BroadcastMessage]         = (*BroadcastCommand)(nil)
	_ gocmd.Commander[DeliverEventMessage]      = (*DeliverEventCommand)(nil)
	_ gocmd.Commander[ProbeInstallationMessage] = (*ProbeInstallationCommand)(nil)
	_ gocmd.Commander[ReconcileMessage]         = (*ReconcileCommand)(nil)

	_ InstallationService = (*core.Service)(nil)
	_ GatewayService      = (*core.Service)(nil)
	_ WebhookService      = (*core.Service)(nil)
	_ HealthService       = (*core.Service)(nil)
)
