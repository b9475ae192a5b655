package config

import (
	"slices"
	"sort"
	"strings"

	logx "joingate/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (token, dsn, passwords) are only
// reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.OperatorChatID != nt.OperatorChatID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!slices.Equal(ot.AdminUserIDs, nt.AdminUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.admin_count", len(nt.AdminUserIDs)),
			logx.Bool("telegram.operator_chat_set", nt.OperatorChatID != 0),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
	}

	if oldCfg.Session != newCfg.Session {
		changed = append(changed, "session")
		attrs = append(attrs, logx.String("session.driver", newCfg.Session.Driver))
	}

	if oldCfg.Gate != newCfg.Gate {
		changed = append(changed, "gate")
		attrs = append(attrs, logx.String("gate.followup_delay", newCfg.Gate.FollowupDelay))
	}

	if oldCfg.Export != newCfg.Export {
		changed = append(changed, "export")
		attrs = append(attrs, logx.String("export.schedule", newCfg.Export.Schedule))
	}

	if oldCfg.DebugHTTP != newCfg.DebugHTTP {
		changed = append(changed, "debug_http")
		attrs = append(attrs,
			logx.Bool("debug_http.enabled", newCfg.DebugHTTP.Enabled),
			logx.String("debug_http.addr", newCfg.DebugHTTP.Addr),
			logx.Bool("debug_http.token_set", newCfg.DebugHTTP.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports changed sections that are only read at startup.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "session":
			out = append(out, s)
		}
	}
	return out
}
