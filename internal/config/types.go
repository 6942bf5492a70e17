package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Watch     WatchConfig     `json:"watch"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Storage   StorageConfig   `json:"storage"`

	// Sources optionally overrides the monitored page URLs, keyed by source
	// kind ("result", "datesheet", "circular"). Unknown keys are rejected at
	// load time. If omitted, the built-in GGSIPU URLs are used.
	Sources map[string]string `json:"sources,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the trigger/health HTTP server.
//
// APIKey guards POST /v1/check; requests without it are rejected before any
// page fetch happens. Leave Enabled false to run purely on the internal
// scheduler.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	APIKey  string `json:"api_key,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// SchedulerConfig controls the periodic check trigger.
//
// Spec is a standard 5-field cron expression (e.g. "*/2 * * * *").
// Timezone is an IANA name; timestamps shown to users also use it.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec,omitempty"`     // default: "*/2 * * * *"
	Timezone string `json:"timezone,omitempty"` // default: "Asia/Kolkata"
	// PassTimeout bounds one full pass across all sources.
	PassTimeout string `json:"pass_timeout,omitempty"` // default: "2m"
}

// WatchConfig controls page fetching.
type WatchConfig struct {
	// FetchTimeout is the per-request timeout (default "30s").
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	// RetryMax is the number of retries after the first attempt (default 2).
	// An explicit 0 disables retries.
	RetryMax *int `json:"retry_max,omitempty"`
	// RetryDelay is the fixed delay between attempts (default "2s").
	RetryDelay string `json:"retry_delay,omitempty"`
}

// DispatchConfig controls the notification fan-out.
type DispatchConfig struct {
	Workers    int `json:"workers,omitempty"`      // default 4
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 25 (Telegram broadcast ceiling is ~30/s)
	// SendTimeout bounds a single delivery attempt (default "10s").
	SendTimeout string `json:"send_timeout,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`                   // sqlite database file
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}
