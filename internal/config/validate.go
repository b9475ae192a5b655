package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks the fields the bot cannot start or reload without.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if len(cfg.Telegram.AdminUserIDs) == 0 {
		errs = append(errs, errors.New("telegram.admin_user_ids must not be empty"))
	}
	if _, err := ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		errs = append(errs, err)
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory":
	case "sqlite":
		if _, err := ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0); err != nil {
			errs = append(errs, err)
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", d))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Session.Driver)); d {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Session.Redis.Addr) == "" {
			errs = append(errs, errors.New("session.redis.addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.driver: unknown driver %q", d))
	}

	if _, err := ParseDuration("gate.followup_delay", cfg.Gate.FollowupDelay, 0); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(cfg.Export.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("export.timezone: %w", err))
		}
	}

	if cfg.DebugHTTP.Enabled && strings.TrimSpace(cfg.DebugHTTP.Token) == "" && !IsLoopbackAddr(cfg.DebugHTTP.Addr) {
		errs = append(errs, fmt.Errorf("debug_http.addr %q is not loopback; set debug_http.token", cfg.DebugHTTP.Addr))
	}
	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether a listen address only binds loopback.
// An empty address means the loopback default.
func IsLoopbackAddr(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
