package config

// Config is the on-disk configuration (JSON or YAML). Unknown keys are
// rejected so typos surface on load and on reload.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Session   SessionConfig   `json:"session"`
	Gate      GateConfig      `json:"gate"`
	Export    ExportConfig    `json:"export"`
	DebugHTTP DebugHTTPConfig `json:"debug_http"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs is the allow-list for every admin command, callback and
	// composer input. Everyone else is ignored silently.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// OperatorChatID receives delivery diagnostics and the log sink.
	// 0 falls back to the admins' private chats.
	OperatorChatID int64 `json:"operator_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./joingate.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@localhost/joingate" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | sqlite | postgres
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	MaxConns    int    `json:"max_conns,omitempty"`    // postgres only
}

// SessionConfig selects where in-progress broadcast drafts live.
type SessionConfig struct {
	Driver string      `json:"driver"` // memory | redis
	Redis  RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type GateConfig struct {
	// FollowupDelay is how long after verification the thank-you message is
	// sent. Default "90s".
	FollowupDelay string `json:"followup_delay,omitempty"`
	// DefaultLink seeds the channel link when none is stored yet.
	DefaultLink string `json:"default_link,omitempty"`
}

type ExportConfig struct {
	// Schedule is a cron expression, "@every 24h" or a plain duration.
	// Empty disables the scheduled export.
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// DebugHTTPConfig controls the optional health/metrics/pprof server.
//
// A non-loopback Addr requires Token.
type DebugHTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token   string `json:"token,omitempty"` // bearer token (never logged)
	Pprof   bool   `json:"pprof,omitempty"`
	Metrics bool   `json:"metrics,omitempty"`
}
