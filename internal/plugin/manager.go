package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"joingate/internal/config"
	"joingate/internal/eventbus"
	"joingate/internal/session"
	"joingate/internal/storage"
	"joingate/internal/task/scheduler"
	kit "joingate/internal/transport"
	"joingate/internal/transport/telegram/router"
	logx "joingate/pkg/logx"
)

// Plugin lifecycle events published on the bus.
const (
	EventStarted = "plugin.started"
	EventStopped = "plugin.stopped"
	EventFailed  = "plugin.failed"
)

type Event struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Optional route providers. The manager collects them from running plugins
// and installs them on the router.
type (
	CommandProvider  interface{ Commands() []router.Command }
	CallbackProvider interface{ Callbacks() []router.CallbackRoute }
	MessageProvider  interface{ Messages() []router.MessageRoute }
	EventProvider    interface{ Events() []router.EventRoute }
)

// ConfigurablePlugin is told about every committed config reload.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, cfg *config.Config) error
}

// HealthChecker is reported by the debug server's /healthz.
type HealthChecker interface {
	Health(ctx context.Context) (status string, err error)
}

// Runner runs background work owned by the application.
type Runner interface {
	Go0(name string, fn func(ctx context.Context))
}

type Deps struct {
	Logger    logx.Logger
	Adapter   kit.Adapter
	Config    *config.ConfigManager
	Store     storage.Store
	Sessions  session.Store
	Bus       eventbus.Bus
	Scheduler *scheduler.Service
	Runner    Runner

	// Admins returns the current admin allow-list.
	Admins func() []int64
}

// Status is the runtime state of one plugin.
type Status struct {
	Name    string
	Running bool
	Since   time.Time
	Err     string
}

type Manager struct {
	mu sync.Mutex

	log    logx.Logger
	deps   Deps
	router *router.Router

	order  []Plugin
	inited map[string]bool
	status map[string]*Status
}

func NewManager(log logx.Logger, deps Deps, r *router.Router) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:    log.With(logx.String("comp", "plugins")),
		deps:   deps,
		router: r,
		inited: map[string]bool{},
		status: map[string]*Status{},
	}
}

// Register adds plugins in start order. Names must be unique.
func (pm *Manager) Register(p ...Plugin) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		name := pl.Name()
		if _, dup := pm.status[name]; dup {
			return fmt.Errorf("plugin %q registered twice", name)
		}
		pm.order = append(pm.order, pl)
		pm.status[name] = &Status{Name: name}
	}
	return nil
}

func (pm *Manager) emit(typ string, ev Event) {
	if pm.deps.Bus == nil {
		return
	}
	pm.deps.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

// StartAll initializes and starts every plugin in registration order, then
// installs their routes. The first failure stops the sequence.
func (pm *Manager) StartAll(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, p := range pm.order {
		name := p.Name()
		st := pm.status[name]
		if st.Running {
			continue
		}
		start := time.Now()
		if !pm.inited[name] {
			deps := pm.deps
			deps.Logger = pm.deps.Logger.With(logx.String("plugin", name))
			if err := safeCall(func() error { return p.Init(ctx, deps) }); err != nil {
				return pm.failLocked(name, "init", err)
			}
			pm.inited[name] = true
		}
		if err := safeCall(func() error { return p.Start(ctx) }); err != nil {
			return pm.failLocked(name, "start", err)
		}
		st.Running = true
		st.Since = time.Now()
		st.Err = ""
		took := time.Since(start)
		pm.log.Info("plugin started", logx.String("plugin", name), logx.Duration("took", took))
		pm.emit(EventStarted, Event{Plugin: name, TookMS: took.Milliseconds()})
	}
	pm.refreshRegistryLocked()
	return nil
}

func (pm *Manager) failLocked(name, stage string, err error) error {
	pm.status[name].Err = err.Error()
	pm.log.Error("plugin failed", logx.String("plugin", name), logx.String("stage", stage), logx.Err(err))
	pm.emit(EventFailed, Event{Plugin: name, Stage: stage, Err: err.Error()})
	return fmt.Errorf("plugin %s %s: %w", name, stage, err)
}

// StopAll stops running plugins in reverse order and clears their routes.
func (pm *Manager) StopAll(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for i := len(pm.order) - 1; i >= 0; i-- {
		p := pm.order[i]
		st := pm.status[p.Name()]
		if !st.Running {
			continue
		}
		st.Running = false
		if err := safeCall(func() error { return p.Stop(ctx) }); err != nil {
			st.Err = err.Error()
			errs = append(errs, fmt.Errorf("plugin %s stop: %w", p.Name(), err))
			pm.log.Warn("plugin stop failed", logx.String("plugin", p.Name()), logx.Err(err))
		}
		pm.emit(EventStopped, Event{Plugin: p.Name()})
	}
	pm.refreshRegistryLocked()
	return errors.Join(errs...)
}

// OnConfigUpdate forwards a committed config to plugins that want it.
func (pm *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	pm.mu.Lock()
	var targets []Plugin
	for _, p := range pm.order {
		if pm.status[p.Name()].Running {
			targets = append(targets, p)
		}
	}
	pm.mu.Unlock()

	for _, p := range targets {
		cp, ok := p.(ConfigurablePlugin)
		if !ok {
			continue
		}
		if err := safeCall(func() error { return cp.OnConfigChange(ctx, cfg) }); err != nil {
			pm.log.Warn("plugin rejected config change", logx.String("plugin", p.Name()), logx.Err(err))
		}
	}
}

// Snapshot returns the status of every registered plugin in start order.
func (pm *Manager) Snapshot() []Status {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]Status, 0, len(pm.order))
	for _, p := range pm.order {
		out = append(out, *pm.status[p.Name()])
	}
	return out
}

// Health checks every running plugin that implements HealthChecker.
// A plugin that failed to start reports its error.
func (pm *Manager) Health(ctx context.Context) map[string]error {
	pm.mu.Lock()
	var checks []Plugin
	out := map[string]error{}
	for _, p := range pm.order {
		st := pm.status[p.Name()]
		switch {
		case st.Running:
			checks = append(checks, p)
		case st.Err != "":
			out["plugin."+p.Name()] = errors.New(st.Err)
		}
	}
	pm.mu.Unlock()

	for _, p := range checks {
		hc, ok := p.(HealthChecker)
		if !ok {
			continue
		}
		hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_, err := hc.Health(hctx)
		cancel()
		out["plugin."+p.Name()] = err
	}
	return out
}

func (pm *Manager) refreshRegistryLocked() {
	if pm.router == nil {
		return
	}
	var reg router.Registry
	for _, p := range pm.order {
		name := p.Name()
		if !pm.status[name].Running {
			continue
		}
		if cp, ok := p.(CommandProvider); ok {
			for _, c := range cp.Commands() {
				c.Plugin = name
				reg.Commands = append(reg.Commands, c)
			}
		}
		if cp, ok := p.(CallbackProvider); ok {
			for _, c := range cp.Callbacks() {
				c.Plugin = name // callback namespace is the plugin name
				reg.Callbacks = append(reg.Callbacks, c)
			}
		}
		if mp, ok := p.(MessageProvider); ok {
			for _, m := range mp.Messages() {
				m.Plugin = name
				reg.Messages = append(reg.Messages, m)
			}
		}
		if ep, ok := p.(EventProvider); ok {
			for _, e := range ep.Events() {
				e.Plugin = name
				reg.Events = append(reg.Events, e)
			}
		}
	}
	pm.router.SetRegistry(reg)
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
