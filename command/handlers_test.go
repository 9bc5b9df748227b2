package command

import (
	"context"
	"errors"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/queue"
)

func newTestService(t *testing.T) *core.Service {
	t.Helper()
	svc, err := core.NewService(core.Config{},
		core.WithIntegrationCatalog(core.NewMemoryIntegrationCatalog(core.Integration{
			ID:            "int_crm",
			Name:          "CRM",
			AuthMethod:    core.AuthMethodAPIKey,
			BaseURL:       "https://api.example.test",
			WebhookEvents: []string{"contact.created"},
			Status:        core.IntegrationStatusActive,
		})),
		core.WithJobEnqueuer(queue.NewMemoryQueue()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestInstallCommand_ExecuteStoresRedactedInstallation(t *testing.T) {
	svc := newTestService(t)
	collector := gocmd.NewResult[core.Installation]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := NewInstallCommand(svc).Execute(ctx, InstallMessage{Request: core.InstallRequest{
		TenantID:      "tenant_1",
		IntegrationID: "int_crm",
		Config:        core.InstallationConfig{APIKey: "key_live"},
	}})
	if err != nil {
		t.Fatalf("execute install: %v", err)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.Status != core.InstallationStatusActive {
		t.Fatalf("expected active installation, got %s", result.Status)
	}
	if result.Config.APIKey != core.RedactedValue {
		t.Fatalf("expected api key to be redacted in the result, got %q", result.Config.APIKey)
	}

	stored, err := svc.GetInstallation(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("get installation: %v", err)
	}
	if stored.Config.APIKey != "key_live" {
		t.Fatalf("expected stored api key to be untouched, got %q", stored.Config.APIKey)
	}
}

func TestLifecycleCommands_DelegateToService(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inst, err := svc.Install(ctx, core.InstallRequest{TenantID: "tenant_1", IntegrationID: "int_crm"})
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	if err := NewPauseCommand(svc).Execute(ctx, PauseMessage{InstallationID: inst.ID}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if current, _ := svc.GetInstallation(ctx, inst.ID); current.Status != core.InstallationStatusPaused {
		t.Fatalf("expected paused, got %s", current.Status)
	}

	if err := NewResumeCommand(svc).Execute(ctx, ResumeMessage{InstallationID: inst.ID}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := NewRecordUsageCommand(svc).Execute(ctx, RecordUsageMessage{
		InstallationID: inst.ID,
		Delta:          core.UsageDelta{Calls: 2, Bytes: 512},
	}); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := NewRecordErrorCommand(svc).Execute(ctx, RecordErrorMessage{
		InstallationID: inst.ID,
		Error:          "upstream timeout",
	}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	current, _ := svc.GetInstallation(ctx, inst.ID)
	if current.Usage.Calls != 2 || current.Health.ConsecutiveErrors != 1 || current.Health.LastError != "upstream timeout" {
		t.Fatalf("unexpected usage/health state: %+v %+v", current.Usage, current.Health)
	}

	if err := NewSetHealthCommand(svc).Execute(ctx, SetHealthMessage{
		InstallationID: inst.ID,
		Status:         core.HealthStatusHealthy,
		Latency:        20 * time.Millisecond,
	}); err != nil {
		t.Fatalf("set health: %v", err)
	}

	collector := gocmd.NewResult[core.Installation]()
	if err := NewUninstallCommand(svc).Execute(gocmd.ContextWithResult(ctx, collector), UninstallMessage{
		InstallationID: inst.ID,
		Reason:         "tenant request",
	}); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	result, _ := collector.Load()
	if result.Status != core.InstallationStatusUninstalled || result.StatusReason != "tenant request" {
		t.Fatalf("unexpected uninstall result: %s %q", result.Status, result.StatusReason)
	}
}

func TestWebhookCommands_PublishAndBroadcast(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inst, err := svc.Install(ctx, core.InstallRequest{
		TenantID:      "tenant_1",
		IntegrationID: "int_crm",
		Config:        core.InstallationConfig{WebhookURL: "https://hooks.example.test"},
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	published := gocmd.NewResult[core.WebhookEvent]()
	if err := NewPublishCommand(svc).Execute(gocmd.ContextWithResult(ctx, published), PublishMessage{
		InstallationID: inst.ID,
		EventType:      "contact.created",
		Payload:        map[string]any{"id": "c_1"},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	event, ok := published.Load()
	if !ok || event.Status != core.WebhookEventStatusPending || event.InstallationID != inst.ID {
		t.Fatalf("unexpected published event: %+v", event)
	}

	broadcast := gocmd.NewResult[[]core.WebhookEvent]()
	if err := NewBroadcastCommand(svc).Execute(gocmd.ContextWithResult(ctx, broadcast), BroadcastMessage{
		EventType: "contact.created",
	}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	events, _ := broadcast.Load()
	if len(events) != 1 || events[0].InstallationID != inst.ID {
		t.Fatalf("expected one broadcast event for the subscriber, got %+v", events)
	}
}

type stubHealthService struct {
	probeFn     func(ctx context.Context, id string) (core.Installation, error)
	reconcileFn func(ctx context.Context) (core.ReconcileStats, error)
}

func (s stubHealthService) ProbeInstallation(ctx context.Context, id string) (core.Installation, error) {
	return s.probeFn(ctx, id)
}

func (s stubHealthService) Reconcile(ctx context.Context) (core.ReconcileStats, error) {
	return s.reconcileFn(ctx)
}

func TestHealthCommands_DelegateAndPropagateErrors(t *testing.T) {
	svc := stubHealthService{
		probeFn: func(_ context.Context, id string) (core.Installation, error) {
			if id != "inst_1" {
				t.Fatalf("unexpected probe id %q", id)
			}
			return core.Installation{}, core.ErrInstallationNotFound
		},
		reconcileFn: func(context.Context) (core.ReconcileStats, error) {
			return core.ReconcileStats{Scanned: 3, Repaired: 1}, nil
		},
	}

	err := NewProbeInstallationCommand(svc).Execute(context.Background(), ProbeInstallationMessage{InstallationID: "inst_1"})
	if !errors.Is(err, core.ErrInstallationNotFound) {
		t.Fatalf("expected service error to propagate, got %v", err)
	}

	collector := gocmd.NewResult[core.ReconcileStats]()
	if err := NewReconcileCommand(svc).Execute(gocmd.ContextWithResult(context.Background(), collector), ReconcileMessage{}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	stats, _ := collector.Load()
	if stats.Scanned != 3 || stats.Repaired != 1 {
		t.Fatalf("unexpected reconcile stats: %+v", stats)
	}
}

func TestCommandMessages_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{name: "install valid", msg: InstallMessage{Request: core.InstallRequest{TenantID: "t", IntegrationID: "i"}}},
		{name: "install missing tenant", msg: InstallMessage{Request: core.InstallRequest{IntegrationID: "i"}}, wantErr: true},
		{name: "pause missing id", msg: PauseMessage{}, wantErr: true},
		{name: "usage negative", msg: RecordUsageMessage{InstallationID: "inst_1", Delta: core.UsageDelta{Calls: -1}}, wantErr: true},
		{name: "health unknown status", msg: SetHealthMessage{InstallationID: "inst_1", Status: "sick"}, wantErr: true},
		{name: "health valid", msg: SetHealthMessage{InstallationID: "inst_1", Status: core.HealthStatusDegraded}},
		{name: "call missing endpoint", msg: CallMessage{Request: core.CallRequest{InstallationID: "inst_1"}}, wantErr: true},
		{name: "publish missing type", msg: PublishMessage{InstallationID: "inst_1"}, wantErr: true},
		{name: "broadcast valid", msg: BroadcastMessage{EventType: "contact.created"}},
		{name: "deliver missing event", msg: DeliverEventMessage{}, wantErr: true},
		{name: "reconcile", msg: ReconcileMessage{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInstallMessage_ValidateReturnsRichError(t *testing.T) {
	err := (InstallMessage{}).Validate()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.ServiceErrorBadInput {
		t.Fatalf("unexpected envelope: %s %s", rich.Category, rich.TextCode)
	}
}

func TestInstallCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *InstallCommand
	err := cmd.Execute(context.Background(), InstallMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
