// Package app wires the bot together: transport, storage, plugins,
// scheduler, observability and config hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"joingate/internal/broadcast"
	"joingate/internal/config"
	"joingate/internal/eventbus"
	"joingate/internal/observability/debughttp"
	"joingate/internal/observability/metrics"
	"joingate/internal/plugin"
	"joingate/internal/plugin/builtin/admin"
	"joingate/internal/plugin/builtin/gate"
	"joingate/internal/runtime/supervisor"
	"joingate/internal/session"
	"joingate/internal/storage"
	"joingate/internal/task/scheduler"
	kit "joingate/internal/transport"
	telegram "joingate/internal/transport/telegram/adapter"
	"joingate/internal/transport/telegram/router"
	logx "joingate/pkg/logx"
	"joingate/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter  *telegram.Adapter
	bus      eventbus.Bus
	store    storage.Store
	sessions session.Store
	metrics  *metrics.Metrics

	sched  *scheduler.Service
	router *router.Router
	pm     *plugin.Manager
	debug  *debughttp.Service

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing talks to
// Telegram until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, updates: make(chan kit.Update, 256)}
	a.metrics = metrics.New()

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	a.adapter, err = telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		OnDropped:   func(n uint64) { a.metrics.UpdatesDropped.Add(float64(n)) },
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The Telegram sink is enabled only after its target is set, so the
	// first Apply does not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	a.logs, a.log = logx.New(bootCfg, a.adapter)
	a.logs.SetTelegramTarget(cfg.Telegram.OperatorChatID)
	a.logs.Apply(logCfg)
	a.log = a.log.With(logx.String("comp", "app"))
	cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(ctx, sc, a.log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.sessions, err = session.Open(ctx, mapSessionConfig(cfg), a.log.With(logx.String("comp", "session")))
	if err != nil {
		_ = a.store.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	a.bus = eventbus.New()
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.log.With(logx.String("comp", "scheduler")), scheduler.WithRunner(a))

	a.router = router.New(a.log.With(logx.String("comp", "router")), a.adapter, cfg.Telegram.AdminUserIDs,
		router.WithDropHook(a.metrics.UpdatesDropped.Inc),
		router.WithErrorHook(func(route string) { a.metrics.HandlerErrors.WithLabelValues(route).Inc() }),
		router.WithRunner(a),
	)

	sink := broadcast.MultiSink{
		broadcast.NewOperatorSink(a.adapter, func() []int64 { return operatorTargets(a.cfgm.Get()) }),
		broadcast.NewLogSink(a.log.With(logx.String("comp", "broadcast"))),
	}
	engine := broadcast.NewEngine(a.store, broadcast.NewAdapterGateway(a.adapter), sink,
		broadcast.WithAudit(a.store),
		broadcast.WithEventBus(a.bus),
		broadcast.WithRecorder(a.metrics),
		broadcast.WithEngineLogger(a.log),
	)

	a.pm = plugin.NewManager(a.log.With(logx.String("comp", "plugins")), plugin.Deps{
		Logger:    a.log,
		Adapter:   a.adapter,
		Config:    cfgm,
		Store:     a.store,
		Sessions:  a.sessions,
		Bus:       a.bus,
		Scheduler: a.sched,
		Runner:    a,
		Admins:    a.router.Admins,
	}, a.router)
	if err := a.pm.Register(admin.New(engine), gate.New()); err != nil {
		return nil, err
	}

	a.debug = debughttp.New(mapDebugConfig(cfg), a.metrics.Registry, a.health, a.log)
	return a, nil
}

// Go0 runs fn on the app supervisor, so background work started by
// handlers (a broadcast run, a menu refresh) is awaited on shutdown.
func (a *App) Go0(name string, fn func(ctx context.Context)) {
	if a.sup == nil {
		go fn(context.Background())
		return
	}
	a.sup.Go0(name, fn)
}

// Done is closed when the app supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error { return config.Validate(cfg) })
	run := a.sup.Context()

	a.sched.Start(run)
	if err := a.pm.StartAll(run); err != nil {
		return err
	}
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("metrics.events", func(c context.Context) { a.metrics.Consume(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)
	a.debug.Start(run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { systemd.Watchdog(c, iv) })
	}

	a.log.Info("app started", logx.Int("admins", len(a.router.Admins())))
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsubscribe := a.bus.Subscribe(128)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// health backs /healthz.
func (a *App) health(ctx context.Context) map[string]error {
	out := a.pm.Health(ctx)
	hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := a.store.CountRecipients(hctx); err != nil {
		out["storage"] = err
	} else {
		out["storage"] = nil
	}
	if a.sup != nil {
		out["app"] = a.sup.Err()
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// Cancelling first lets every loop, and any running broadcast, unwind
	// while the steps below close their dependencies.
	a.sup.Cancel()

	var errs []error
	a.step(ctx, "plugins", 4*time.Second, &errs, a.pm.StopAll)
	a.step(ctx, "scheduler", 2*time.Second, &errs, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "debughttp", time.Second, &errs, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, &errs, a.adapter.Stop)
	a.step(ctx, "supervisor", 3*time.Second, &errs, a.sup.Wait)
	a.step(ctx, "sessions", time.Second, &errs, func(context.Context) error { return a.sessions.Close() })
	a.step(ctx, "storage", time.Second, &errs, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// step runs one shutdown step bounded by limit and the caller's deadline. A
// step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, limit time.Duration, errs *[]error, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			*errs = append(*errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
