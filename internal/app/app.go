// Package app wires the process together: config, logging, storage, limiter,
// worker pool, scheduler and the ops notifier. Everything is constructed once
// in New and injected by reference; nothing here is a package-level singleton.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"outreachd/internal/config"
	"outreachd/internal/eventbus"
	"outreachd/internal/model"
	"outreachd/internal/notify"
	"outreachd/internal/platform"
	"outreachd/internal/pool"
	"outreachd/internal/ratelimit"
	rtsup "outreachd/internal/runtime/supervisor"
	"outreachd/internal/scheduler"
	"outreachd/internal/store"
	"outreachd/internal/worker"
	logx "outreachd/pkg/logx"
)

// ClientFactory builds the platform session client for one configured worker
// account. The default factory hands out in-memory simulators; a deployment
// with real drivers injects its own via WithClientFactory.
type ClientFactory func(wc config.WorkerConfig) (platform.Client, error)

type Option func(*App)

func WithClientFactory(f ClientFactory) Option {
	return func(a *App) { a.clients = f }
}

type App struct {
	cfgPath string
	cfgm    *config.Manager
	clients ClientFactory

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	db      *store.SQLite
	limiter *ratelimit.Service
	pool    *pool.Pool
	sched   *scheduler.Service
	notif   *notify.Service

	cron *cron.Cron
	sup  *rtsup.Supervisor
}

func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{cfgPath: cfgPath}
	for _, o := range opts {
		o(a)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	a.cfgm = config.NewManager(cfgPath, bootLog)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a.logs, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	})
	a.log = a.log.With(logx.String("comp", "app"))

	a.bus = eventbus.New()

	busyTimeout, err := config.ParseDuration("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return nil, err
	}
	a.db, err = store.Open(store.Config{
		Path:        cfg.Store.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.limiter = ratelimit.New(cfg.Limits.Limits(), a.log.With(logx.String("comp", "ratelimit")))
	a.pool = pool.New(a.log.With(logx.String("comp", "pool")))

	if a.clients == nil {
		a.clients = a.simulatorFactory
	}
	if err := a.buildWorkers(cfg); err != nil {
		a.closeEarly()
		return nil, err
	}

	retention, idleRearm, err := cfg.Scheduler.Durations()
	if err != nil {
		a.closeEarly()
		return nil, err
	}
	a.sched = scheduler.New(scheduler.Config{
		RetryMax:       cfg.Scheduler.RetryMax,
		Retention:      retention,
		IdleRearmDelay: idleRearm,
	}, a.db, a.pool, a.bus, a.log)

	var sender notify.Sender
	if cfg.Notify.Enabled {
		sender, err = notify.NewTelegramSender(cfg.Notify.Token, cfg.Notify.ChatID)
		if err != nil {
			a.closeEarly()
			return nil, fmt.Errorf("notify: %w", err)
		}
	}
	a.notif = notify.New(notify.Config{
		Enabled:    cfg.Notify.Enabled,
		RatePerSec: cfg.Notify.RatePerSec,
	}, sender, a.bus, a.log)

	return a, nil
}

func (a *App) buildWorkers(cfg *config.Config) error {
	for _, wc := range cfg.Workers {
		client, err := a.clients(wc)
		if err != nil {
			return fmt.Errorf("worker %s: %w", wc.AccountID, err)
		}
		roles := make([]model.Role, 0, len(wc.Roles))
		for _, r := range wc.Roles {
			roles = append(roles, model.Role(strings.ToUpper(r)))
		}
		w := worker.New(worker.Config{
			AccountID: wc.AccountID,
			Platform:  model.Platform(strings.ToUpper(wc.Platform)),
			Roles:     roles,
			Credentials: platform.Credentials{
				Username: wc.Username,
				Password: wc.Password,
			},
			Profile: wc.Profile,
		}, client, a.limiter, nil, a.bus, a.log)
		if err := a.pool.Register(w); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) simulatorFactory(wc config.WorkerConfig) (platform.Client, error) {
	a.log.Warn("no platform driver registered, using in-memory simulator",
		logx.String("account", wc.AccountID))
	return platform.NewFake(model.Platform(strings.ToUpper(wc.Platform))), nil
}

// Scheduler exposes the scheduler for diagnostics (snapshot dumps).
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Store exposes the repository so a control plane can seed and edit
// campaigns.
func (a *App) Store() *store.SQLite { return a.db }

// Start brings the services up and arms the periodic refresh. The context
// bounds the lifetime of every background goroutine.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))

	a.limiter.Start()
	a.notif.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	cfg := a.cfgm.Get()
	refreshSpec := cfg.Scheduler.RefreshCron
	if strings.TrimSpace(refreshSpec) == "" {
		refreshSpec = "* * * * *"
	}
	a.cron = cron.New()
	if _, err := a.cron.AddFunc(refreshSpec, func() {
		ctx := a.sup.Context()
		if err := a.sched.RefreshQueue(ctx); err != nil {
			return
		}
		_ = a.sched.Dispatch(ctx)
	}); err != nil {
		return fmt.Errorf("scheduler.refresh_cron %q: %w", refreshSpec, err)
	}
	a.cron.Start()

	// Config hot reload: watch the file and re-apply the cheap-to-swap parts
	// (logging, limiter tables). Structural changes need a restart.
	a.sup.Go("config.watch", func(ctx context.Context) error {
		return a.cfgm.Watch(ctx)
	})
	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyReload(cfg)
			}
		}
	})

	// Prime the queue so a restart with due work does not wait for the first
	// cron tick.
	if err := a.sched.RefreshQueue(a.sup.Context()); err == nil {
		_ = a.sched.Dispatch(a.sup.Context())
	}

	a.log.Info("started",
		logx.Int("workers", a.pool.Size()),
		logx.String("refresh", refreshSpec),
		logx.Bool("notify", a.notif.Enabled()),
	)
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	})
	a.limiter.Apply(cfg.Limits.Limits())
	a.log.Info("config re-applied", logx.String("path", a.cfgPath))

	if len(cfg.Workers) != a.pool.Size() {
		a.log.Warn("worker set changed in config; restart required to take effect")
	}
}

// Stop shuts the services down in reverse dependency order, draining
// in-flight runs until ctx expires.
func (a *App) Stop(ctx context.Context) {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.sched != nil {
		a.sched.Stop(ctx)
	}
	if a.pool != nil {
		a.pool.StopAll()
	}
	if a.notif != nil {
		a.notif.Stop(ctx)
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// closeEarly releases what New opened before a construction failure.
func (a *App) closeEarly() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
