package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-marketplace/adapters/gojob"
	"github.com/goliatone/go-marketplace/adapters/gologger"
	mcommand "github.com/goliatone/go-marketplace/command"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/health"
	mquery "github.com/goliatone/go-marketplace/query"
	"github.com/goliatone/go-marketplace/webhooks"
)

type Commands struct {
	Install           *mcommand.InstallCommand
	Uninstall         *mcommand.UninstallCommand
	Pause             *mcommand.PauseCommand
	Resume            *mcommand.ResumeCommand
	RecordUsage       *mcommand.RecordUsageCommand
	RecordError       *mcommand.RecordErrorCommand
	SetHealth         *mcommand.SetHealthCommand
	Call              *mcommand.CallCommand
	Publish           *mcommand.PublishCommand
	Broadcast         *mcommand.BroadcastCommand
	DeliverEvent      *mcommand.DeliverEventCommand
	ProbeInstallation *mcommand.ProbeInstallationCommand
	Reconcile         *mcommand.ReconcileCommand
}

type Queries struct {
	GetInstallation   *mquery.GetInstallationQuery
	FindInstallation  *mquery.FindInstallationQuery
	ListInstallations *mquery.ListInstallationsQuery
	GetEvent          *mquery.GetEventQuery
	ListEvents        *mquery.ListEventsQuery
	ListDeadLetters   *mquery.ListDeadLettersQuery
}

// Facade exposes the command and query handlers over one service and runs
// its background workers: the webhook delivery pool and the health monitor.
type Facade struct {
	service  *Service
	commands Commands
	queries  Queries
	pool     *webhooks.WorkerPool
	monitor  *health.Monitor

	mu      sync.Mutex
	running bool
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	dequeuer        core.JobDequeuer
	workerPool      webhooks.WorkerPoolConfig
	health          health.Config
	disableDelivery bool
	disableHealth   bool
}

// WithJobDequeuer sets the queue the delivery pool drains. Without it the
// facade uses the service's job enqueuer when that also dequeues.
func WithJobDequeuer(dequeuer core.JobDequeuer) FacadeOption {
	return func(options *facadeOptions) {
		options.dequeuer = dequeuer
	}
}

func WithWorkerPoolConfig(cfg webhooks.WorkerPoolConfig) FacadeOption {
	return func(options *facadeOptions) {
		options.workerPool = cfg
	}
}

func WithHealthConfig(cfg health.Config) FacadeOption {
	return func(options *facadeOptions) {
		options.health = cfg
	}
}

func WithoutDeliveryWorkers() FacadeOption {
	return func(options *facadeOptions) {
		options.disableDelivery = true
	}
}

func WithoutHealthMonitor() FacadeOption {
	return func(options *facadeOptions) {
		options.disableHealth = true
	}
}

func NewFacade(service *Service, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("marketplace: service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	deps := service.Dependencies()
	serviceConfig := service.Config()

	facade := &Facade{service: service}
	facade.commands = Commands{
		Install:           mcommand.NewInstallCommand(service),
		Uninstall:         mcommand.NewUninstallCommand(service),
		Pause:             mcommand.NewPauseCommand(service),
		Resume:            mcommand.NewResumeCommand(service),
		RecordUsage:       mcommand.NewRecordUsageCommand(service),
		RecordError:       mcommand.NewRecordErrorCommand(service),
		SetHealth:         mcommand.NewSetHealthCommand(service),
		Call:              mcommand.NewCallCommand(service),
		Publish:           mcommand.NewPublishCommand(service),
		Broadcast:         mcommand.NewBroadcastCommand(service),
		DeliverEvent:      mcommand.NewDeliverEventCommand(service),
		ProbeInstallation: mcommand.NewProbeInstallationCommand(service),
		Reconcile:         mcommand.NewReconcileCommand(service),
	}
	facade.queries = Queries{
		GetInstallation:   mquery.NewGetInstallationQuery(service),
		FindInstallation:  mquery.NewFindInstallationQuery(service),
		ListInstallations: mquery.NewListInstallationsQuery(service),
		GetEvent:          mquery.NewGetEventQuery(service),
		ListEvents:        mquery.NewListEventsQuery(service),
		ListDeadLetters:   mquery.NewListDeadLettersQuery(service),
	}

	if !cfg.disableDelivery {
		dequeuer := cfg.dequeuer
		if dequeuer == nil {
			dequeuer, _ = deps.JobEnqueuer.(core.JobDequeuer)
		}
		if dequeuer != nil {
			poolConfig := cfg.workerPool
			if poolConfig.Workers <= 0 {
				poolConfig.Workers = serviceConfig.Webhooks.Workers
			}
			if poolConfig.Hook == nil {
				poolConfig.Hook = gojob.NewMetricsHook(deps.MetricsRecorder)
			}
			if poolConfig.Logger == nil {
				poolConfig.Logger = gologger.ForComponent(deps.LoggerProvider, deps.Logger, "webhooks")
			}
			facade.pool = webhooks.NewWorkerPool(dequeuer, service, poolConfig)
		}
	}

	if !cfg.disableHealth {
		healthConfig := cfg.health
		if healthConfig.Interval <= 0 {
			healthConfig.Interval = serviceConfig.Health.Interval
		}
		if healthConfig.Logger == nil {
			healthConfig.Logger = gologger.ForComponent(deps.LoggerProvider, deps.Logger, "health")
		}
		facade.monitor = health.NewMonitor(service, healthConfig)
	}

	return facade, nil
}

// Start launches the delivery pool and the health monitor. When either fails
// to start the other is stopped again.
func (f *Facade) Start(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("marketplace: facade is nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return fmt.Errorf("marketplace: facade already started")
	}
	if f.pool != nil {
		if err := f.pool.Start(ctx); err != nil {
			return err
		}
	}
	if f.monitor != nil {
		if err := f.monitor.Start(ctx); err != nil {
			if f.pool != nil {
				_ = f.pool.Stop(ctx)
			}
			return err
		}
	}
	f.running = true
	return nil
}

// Stop halts the health monitor and drains the delivery pool, waiting at most
// until ctx is done.
func (f *Facade) Stop(ctx context.Context) error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.mu.Unlock()

	var err error
	if f.monitor != nil {
		select {
		case <-f.monitor.Stop().Done():
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
		}
	}
	if f.pool != nil {
		err = errors.Join(err, f.pool.Stop(ctx))
	}
	return err
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() *Service {
	if f == nil {
		return nil
	}
	return f.service
}

func (f *Facade) WorkerPool() *webhooks.WorkerPool {
	if f == nil {
		return nil
	}
	return f.pool
}

func (f *Facade) HealthMonitor() *health.Monitor {
	if f == nil {
		return nil
	}
	return f.monitor
}
