package gocommand

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	mcommand "github.com/goliatone/go-marketplace/command"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/query"
)

// Subscriptions groups dispatcher subscriptions so they can be released
// together.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterMarketplace registers every marketplace command and query handler
// against svc. On failure the subscriptions made so far are released.
func RegisterMarketplace(
	adapter *RegistryAdapter,
	svc *core.Service,
	runnerOpts ...runner.Option,
) (subs Subscriptions, err error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if svc == nil {
		return nil, fmt.Errorf("gocommand: marketplace service is required")
	}
	defer func() {
		if err != nil {
			subs.Unsubscribe()
			subs = nil
		}
	}()

	add := func(sub commanddispatcher.Subscription, regErr error) {
		if regErr != nil {
			err = errors.Join(err, regErr)
			return
		}
		subs = append(subs, sub)
	}

	add(RegisterAndSubscribe[mcommand.InstallMessage](adapter, mcommand.NewInstallCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.UninstallMessage](adapter, mcommand.NewUninstallCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.PauseMessage](adapter, mcommand.NewPauseCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.ResumeMessage](adapter, mcommand.NewResumeCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.RecordUsageMessage](adapter, mcommand.NewRecordUsageCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.RecordErrorMessage](adapter, mcommand.NewRecordErrorCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.SetHealthMessage](adapter, mcommand.NewSetHealthCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.CallMessage](adapter, mcommand.NewCallCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.PublishMessage](adapter, mcommand.NewPublishCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.BroadcastMessage](adapter, mcommand.NewBroadcastCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.DeliverEventMessage](adapter, mcommand.NewDeliverEventCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.ProbeInstallationMessage](adapter, mcommand.NewProbeInstallationCommand(svc), runnerOpts...))
	add(RegisterAndSubscribe[mcommand.ReconcileMessage](adapter, mcommand.NewReconcileCommand(svc), runnerOpts...))

	add(RegisterAndSubscribeQuery[query.GetInstallationMessage, core.Installation](adapter, query.NewGetInstallationQuery(svc), runnerOpts...))
	add(RegisterAndSubscribeQuery[query.FindInstallationMessage, core.Installation](adapter, query.NewFindInstallationQuery(svc), runnerOpts...))
	add(RegisterAndSubscribeQuery[query.ListInstallationsMessage, []core.Installation](adapter, query.NewListInstallationsQuery(svc), runnerOpts...))
	add(RegisterAndSubscribeQuery[query.GetEventMessage, core.WebhookEvent](adapter, query.NewGetEventQuery(svc), runnerOpts...))
	add(RegisterAndSubscribeQuery[query.ListEventsMessage, []core.WebhookEvent](adapter, query.NewListEventsQuery(svc), runnerOpts...))
	add(RegisterAndSubscribeQuery[query.ListDeadLettersMessage, []core.WebhookEvent](adapter, query.NewListDeadLettersQuery(svc), runnerOpts...))

	return subs, err
}

var _ command.Message = mcommand.InstallMessage{}
