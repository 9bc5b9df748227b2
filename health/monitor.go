package health

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-marketplace/core"
	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval      = 5 * time.Minute
	DefaultMaxConcurrent = 16
)

// Prober is the slice of core.Service the monitor drives.
type Prober interface {
	ListInstallations(ctx context.Context, filter core.InstallationFilter) ([]core.Installation, error)
	ProbeInstallation(ctx context.Context, installationID string) (core.Installation, error)
	Reconcile(ctx context.Context) (core.ReconcileStats, error)
}

type Config struct {
	Interval time.Duration
	// MaxConcurrent bounds probes running at the same time.
	MaxConcurrent int
	// Jitter picks the delay before each scheduled probe. Defaults to a
	// uniform value in [0, Interval).
	Jitter func(max time.Duration) time.Duration
	Logger core.Logger
}

type SweepResult struct {
	Scheduled int
	Probed    int
	Failed    int
	Reconcile core.ReconcileStats
}

// Monitor probes live installations on a cron schedule. Each sweep spreads
// its probes over the interval so integrations are not hit at once, then runs
// a reconciliation pass.
type Monitor struct {
	prober Prober
	config Config
	logger core.Logger
	sem    chan struct{}

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	timers  map[*time.Timer]struct{}
	probes  sync.WaitGroup
	running bool
}

func NewMonitor(prober Prober, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Jitter == nil {
		cfg.Jitter = uniformJitter
	}
	return &Monitor{
		prober: prober,
		config: cfg,
		logger: glog.Ensure(cfg.Logger),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		timers: map[*time.Timer]struct{}{},
	}
}

// Start schedules a sweep every interval. A sweep still running when the next
// tick fires causes that tick to be skipped.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil || m.prober == nil {
		return fmt.Errorf("health: monitor requires a prober")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("health: monitor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{logger: m.logger}
	scheduler := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	spec := "@every " + m.config.Interval.String()
	if _, err := scheduler.AddFunc(spec, func() {
		if _, err := m.sweep(runCtx, true); err != nil && runCtx.Err() == nil {
			m.logger.Warn("health sweep failed", "error", err.Error())
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("health: schedule %q: %w", spec, err)
	}

	m.cron = scheduler
	m.cancel = cancel
	m.running = true
	scheduler.Start()
	return nil
}

// Stop halts the schedule, cancels probes still waiting on their jitter and
// returns a context that is done once in-flight probes finish.
func (m *Monitor) Stop() context.Context {
	done, finish := context.WithCancel(context.Background())
	if m == nil {
		finish()
		return done
	}
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		finish()
		return done
	}
	m.running = false
	scheduler := m.cron
	cancel := m.cancel
	pending := 0
	for timer := range m.timers {
		if timer.Stop() {
			pending++
			m.probes.Done()
		}
		delete(m.timers, timer)
	}
	m.mu.Unlock()

	cronDone := scheduler.Stop()
	cancel()
	if pending > 0 {
		m.logger.Debug("health monitor dropped pending probes", "pending", pending)
	}
	go func() {
		<-cronDone.Done()
		m.probes.Wait()
		finish()
	}()
	return done
}

// RunOnce probes every eligible installation immediately and waits for the
// results before reconciling.
func (m *Monitor) RunOnce(ctx context.Context) (SweepResult, error) {
	if m == nil || m.prober == nil {
		return SweepResult{}, fmt.Errorf("health: monitor requires a prober")
	}
	return m.sweep(ctx, false)
}

func (m *Monitor) sweep(ctx context.Context, jitter bool) (SweepResult, error) {
	items, err := m.prober.ListInstallations(ctx, core.InstallationFilter{Statuses: core.ProbeStatuses})
	if err != nil {
		return SweepResult{}, err
	}

	var (
		result SweepResult
		probed atomic.Int64
		failed atomic.Int64
		local  sync.WaitGroup
	)
	for _, inst := range items {
		id := inst.ID
		run := func() {
			defer local.Done()
			defer m.probes.Done()
			if ctx.Err() != nil {
				return
			}
			select {
			case m.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-m.sem }()
			probed.Add(1)
			if _, err := m.prober.ProbeInstallation(ctx, id); err != nil {
				failed.Add(1)
				m.logger.Debug("health probe failed", "installation_id", id, "error", err.Error())
			}
		}

		local.Add(1)
		m.probes.Add(1)
		result.Scheduled++
		if !jitter {
			go run()
			continue
		}
		m.schedule(m.config.Jitter(m.config.Interval), run, &local)
	}

	if !jitter {
		local.Wait()
		result.Probed = int(probed.Load())
		result.Failed = int(failed.Load())
	}

	stats, err := m.prober.Reconcile(ctx)
	result.Reconcile = stats
	if err != nil {
		return result, err
	}
	return result, nil
}

func (m *Monitor) schedule(delay time.Duration, run func(), local *sync.WaitGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		local.Done()
		m.probes.Done()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.timers, timer)
		m.mu.Unlock()
		run()
	})
	m.timers[timer] = struct{}{}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// cronLogger routes scheduler logs through the service logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("health cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"error", fmt.Sprint(err)}, keysAndValues...)
	l.logger.Error("health cron: "+msg, args...)
}

var _ cron.Logger = cronLogger{}
