package command

import (
	"context"
	"errors"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-marketplace/core"
)

// InstallationService is the mutating half of core.Service that commands
// delegate to.
type InstallationService interface {
	Install(ctx context.Context, req core.InstallRequest) (core.Installation, error)
	Uninstall(ctx context.Context, installationID string, reason string) (core.Installation, error)
	Pause(ctx context.Context, installationID string) (core.Installation, error)
	Resume(ctx context.Context, installationID string) (core.Installation, error)
	RecordUsage(ctx context.Context, installationID string, delta core.UsageDelta) (core.Installation, error)
	RecordError(ctx context.Context, installationID string, cause error) (core.Installation, error)
	SetHealth(ctx context.Context, installationID string, status core.HealthStatus, latency time.Duration) (core.Installation, error)
}

type GatewayService interface {
	Call(ctx context.Context, req core.CallRequest) (core.CallResponse, error)
}

type WebhookService interface {
	Publish(ctx context.Context, installationID string, eventType string, payload map[string]any) (core.WebhookEvent, error)
	Broadcast(ctx context.Context, eventType string, payload map[string]any) ([]core.WebhookEvent, error)
	DeliverEvent(ctx context.Context, eventID string) (core.DeliveryOutcome, error)
}

type HealthService interface {
	ProbeInstallation(ctx context.Context, installationID string) (core.Installation, error)
	Reconcile(ctx context.Context) (core.ReconcileStats, error)
}

type InstallCommand struct {
	service InstallationService
}

func NewInstallCommand(service InstallationService) *InstallCommand {
	return &InstallCommand{service: service}
}

func (c *InstallCommand) Execute(ctx context.Context, msg InstallMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: installation service is required")
	}
	out, err := c.service.Install(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, core.RedactInstallation(out))
	return nil
}

type UninstallCommand struct {
	service InstallationService
}

func NewUninstallCommand(service InstallationService) *UninstallCommand {
	return &UninstallCommand{service: service}
}

func (c *UninstallCommand) Execute(ctx context.Context, msg UninstallMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: installation service is required")
	}
	out, err := c.service.Uninstall(ctx, msg.InstallationID, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, core.RedactInstallation(out))
	return nil
}

type PauseCommand struct {
	service InstallationService
}

func NewPauseCommand(service InstallationService) *PauseCommand {
	return &PauseCommand{service: service}
}

func (c *PauseCommand) Execute(ctx context.Context, msg PauseMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: installation service is required")
	}
	out, err := c.service.Pause(ctx, msg.InstallationID)
	if err != nil {
		return err
	}
	storeResult(ctx, core.RedactInstallation(out))
	return nil
}

type ResumeCommand struct {
	service InstallationService
}

func NewResumeCommand(service InstallationService) *ResumeCommand {
	return &ResumeCommand{service: service}
}

func (c *ResumeCommand) Execute(ctx context.Context, msg ResumeMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: installation service is required")
	}
	out, err := c.service.Resume(ctx, msg.InstallationID)
	if err != nil {
		return err
	}
	storeResult(ctx, core.RedactInstallation(out))
	return nil
}

type RecordUsageCommand struct {
	service InstallationService
}

func NewRecordUsageCommand(service InstallationService) *RecordUsageCommand {
	return &RecordUsageCommand{service: service}
}

func (c *RecordUsageCommand) Execute(ctx context.Context, msg RecordUsageMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: installation service is required")
	}
	_, err := c.service.RecordUsage(ctx, msg.InstallationID, msg.Delta)
	return err
}

type RecordErrorCommand struct {
	service InstallationService
}

func NewRecordErrorCommand(service InstallationService) *RecordErrorCommand {
	return &RecordErrorCommand{service: service}
}

func (c *RecordErrorCommand) Execute(ctx context.Context, msg RecordErrorMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: installation service is required")
	}
	var cause error
	if text := strings.TrimSpace(msg.Error); text != "" {
		cause = errors.New(text)
	}
	_, err := c.service.RecordError(ctx, msg.InstallationID, cause)
	return err
}

type SetHealthCommand struct {
	service InstallationService
}

func NewSetHealthCommand(service InstallationService) *SetHealthCommand {
	return &SetHealthCommand{service: service}
}

func (c *SetHealthCommand) Execute(ctx context.Context, msg SetHealthMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: installation service is required")
	}
	_, err := c.service.SetHealth(ctx, msg.InstallationID, msg.Status, msg.Latency)
	return err
}

type CallCommand struct {
	service GatewayService
}

func NewCallCommand(service GatewayService) *CallCommand {
	return &CallCommand{service: service}
}

func (c *CallCommand) Execute(ctx context.Context, msg CallMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: gateway service is required")
	}
	out, err := c.service.Call(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PublishCommand struct {
	service WebhookService
}

func NewPublishCommand(service WebhookService) *PublishCommand {
	return &PublishCommand{service: service}
}

func (c *PublishCommand) Execute(ctx context.Context, msg PublishMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: webhook service is required")
	}
	out, err := c.service.Publish(ctx, msg.InstallationID, msg.EventType, msg.Payload)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type BroadcastCommand struct {
	service WebhookService
}

func NewBroadcastCommand(service WebhookService) *BroadcastCommand {
	return &BroadcastCommand{service: service}
}

func (c *BroadcastCommand) Execute(ctx context.Context, msg BroadcastMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: webhook service is required")
	}
	out, err := c.service.Broadcast(ctx, msg.EventType, msg.Payload)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeliverEventCommand struct {
	service WebhookService
}

func NewDeliverEventCommand(service WebhookService) *DeliverEventCommand {
	return &DeliverEventCommand{service: service}
}

func (c *DeliverEventCommand) Execute(ctx context.Context, msg DeliverEventMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: webhook service is required")
	}
	out, err := c.service.DeliverEvent(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ProbeInstallationCommand struct {
	service HealthService
}

func NewProbeInstallationCommand(service HealthService) *ProbeInstallationCommand {
	return &ProbeInstallationCommand{service: service}
}

func (c *ProbeInstallationCommand) Execute(ctx context.Context, msg ProbeInstallationMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: health service is required")
	}
	out, err := c.service.ProbeInstallation(ctx, msg.InstallationID)
	if err != nil {
		return err
	}
	storeResult(ctx, core.RedactInstallation(out))
	return nil
}

type ReconcileCommand struct {
	service HealthService
}

func NewReconcileCommand(service HealthService) *ReconcileCommand {
	return &ReconcileCommand{service: service}
}

func (c *ReconcileCommand) Execute(ctx context.Context, _ ReconcileMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: health service is required")
	}
	out, err := c.service.Reconcile(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
