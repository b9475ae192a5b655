package app

import (
	"context"
	"strings"

	"joingate/internal/config"
	logx "joingate/pkg/logx"
)

// reloadLoop applies committed config reloads to the running components.
// Storage and session drivers are only read at startup.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			cfg = drainLatest(sub, cfg)
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

// drainLatest coalesces a burst of reloads into the newest one.
func drainLatest(sub chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cfg
			}
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	if cfg == nil {
		return
	}
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.SetTelegramTarget(cfg.Telegram.OperatorChatID)
	a.logs.Apply(mapLogConfig(cfg))

	a.router.SetAdmins(cfg.Telegram.AdminUserIDs)
	a.sched.Apply(mapSchedulerConfig(cfg))
	a.debug.Reconfigure(ctx, mapDebugConfig(cfg))
	a.pm.OnConfigUpdate(ctx, cfg)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
