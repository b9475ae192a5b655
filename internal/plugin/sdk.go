package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"joingate/internal/eventbus"
	"joingate/internal/runtime/supervisor"
	kit "joingate/internal/transport"
	logx "joingate/pkg/logx"
)

var errNoScheduler = errors.New("scheduler not available")

// Base carries what every plugin needs. Typical usage:
//
//	type Plugin struct{ plugin.Base }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type Base struct {
	Log    logx.Logger
	Deps   Deps
	Runner *supervisor.Supervisor

	pluginName string
	ctx        context.Context
}

// InitBase wires deps and the plugin logger.
func (b *Base) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", pluginName))
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *Base) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = supervisor.NewSupervisor(ctx, supervisor.WithLogger(b.Log), supervisor.WithCancelOnError(false))
}

// StopBase cancels the supervisor and waits for its goroutines, bounded by
// ctx.
func (b *Base) StopBase(ctx context.Context) error {
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context (cancelled on stop).
func (b *Base) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

func (b *Base) Health(ctx context.Context) (string, error) {
	if b.ctx == nil {
		return "not_started", nil
	}
	if err := b.ctx.Err(); err != nil {
		return "stopped", err
	}
	return "ok", nil
}

func (b *Base) ns(name string) string {
	if name == "" {
		return b.pluginName
	}
	return b.pluginName + ":" + name
}

// Schedule registers a recurring job (cron, "@every", duration or HH:MM)
// namespaced by the plugin name.
func (b *Base) Schedule(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	if b.Deps.Scheduler == nil {
		return errNoScheduler
	}
	return b.Deps.Scheduler.AddSchedule(b.ns(name), spec, timeout, job)
}

// After registers a one-shot job. Registering the same name again replaces
// the pending one.
func (b *Base) After(name string, delay, timeout time.Duration, job func(ctx context.Context) error) error {
	if b.Deps.Scheduler == nil {
		return errNoScheduler
	}
	return b.Deps.Scheduler.AddAfter(b.ns(name), delay, timeout, job)
}

// Unschedule removes a recurring or one-shot job.
func (b *Base) Unschedule(name string) bool {
	if b.Deps.Scheduler == nil {
		return false
	}
	return b.Deps.Scheduler.Remove(b.ns(name))
}

// PublishEvent publishes on the in-process bus. Publish never blocks.
func (b *Base) PublishEvent(typ string, data any) {
	if b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// Admins returns the current admin allow-list.
func (b *Base) Admins() []int64 {
	if b.Deps.Admins == nil {
		return nil
	}
	return b.Deps.Admins()
}

// NotifyAdmins sends text to every admin's private chat. Failures for one
// admin do not stop the others.
func (b *Base) NotifyAdmins(ctx context.Context, text string, opt *kit.SendOptions) error {
	var errs []error
	for _, id := range b.Admins() {
		if _, err := b.Deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: id}, text, opt); err != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
