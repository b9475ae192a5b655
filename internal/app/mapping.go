package app

import (
	"strings"
	"time"

	"joingate/internal/config"
	"joingate/internal/observability/debughttp"
	"joingate/internal/session"
	"joingate/internal/storage"
	"joingate/internal/task/scheduler"
	logx "joingate/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
		DefaultLink: strings.TrimSpace(cfg.Gate.DefaultLink),
	}, nil
}

func mapSessionConfig(cfg *config.Config) session.Config {
	s := cfg.Session
	return session.Config{
		Driver:        strings.ToLower(strings.TrimSpace(s.Driver)),
		RedisAddr:     strings.TrimSpace(s.Redis.Addr),
		RedisPassword: s.Redis.Password,
		RedisDB:       s.Redis.DB,
		Prefix:        strings.TrimSpace(s.Redis.Prefix),
	}
}

func mapDebugConfig(cfg *config.Config) debughttp.Config {
	d := cfg.DebugHTTP
	addr := strings.TrimSpace(d.Addr)
	if addr == "" {
		addr = debughttp.DefaultAddr
	}
	return debughttp.Config{Enabled: d.Enabled, Addr: addr, Token: d.Token, Pprof: d.Pprof, Metrics: d.Metrics}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Export.Timezone)}
}

// operatorTargets is where delivery diagnostics go: the operator chat when
// one is configured, otherwise every admin's private chat.
func operatorTargets(cfg *config.Config) []int64 {
	if cfg == nil {
		return nil
	}
	if cfg.Telegram.OperatorChatID != 0 {
		return []int64{cfg.Telegram.OperatorChatID}
	}
	return append([]int64(nil), cfg.Telegram.AdminUserIDs...)
}
