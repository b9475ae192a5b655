package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. Secrets belong here rather than in the config file.
const (
	EnvTelegramToken = "JOINGATE_TELEGRAM_TOKEN"
	EnvAdminIDs      = "JOINGATE_ADMIN_USER_IDS" // comma separated
	EnvPostgresDSN   = "JOINGATE_POSTGRES_DSN"
	EnvRedisPassword = "JOINGATE_REDIS_PASSWORD"
	EnvDebugToken    = "JOINGATE_DEBUG_TOKEN"
)

// LoadDotEnv loads .env files into the process environment. Missing files are
// not an error; variables that are already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overlays environment values onto cfg. lookup is os.LookupEnv in
// production.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvAdminIDs); ok {
		if ids := parseIDList(v); len(ids) > 0 {
			cfg.Telegram.AdminUserIDs = ids
		}
	}
	if v, ok := get(EnvPostgresDSN); ok {
		cfg.Storage.DSN = v
	}
	if v, ok := get(EnvRedisPassword); ok {
		cfg.Session.Redis.Password = v
	}
	if v, ok := get(EnvDebugToken); ok {
		cfg.DebugHTTP.Token = v
	}
}

func parseIDList(s string) []int64 {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err == nil && id != 0 {
			out = append(out, id)
		}
	}
	return out
}
