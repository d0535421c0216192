package config

// Config is the whole file. It is built once at startup; only the logging
// section is applied live on reload.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	State     StateConfig     `json:"state"`
	Session   SessionConfig   `json:"session"`
	Status    StatusConfig    `json:"status"`
	HTTP      HTTPConfig      `json:"http"`
	Browser   BrowserConfig   `json:"browser"`

	// Sinks are named delivery targets referenced by sources.
	Sinks   map[string]SinkConfig `json:"sinks" validate:"dive"`
	Sources []SourceConfig        `json:"sources" validate:"required,min=1,dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format  string      `json:"format,omitempty" validate:"omitempty,oneof=console json"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the poll loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - tick: the shortest source poll interval
//   - workers: 1 (sources poll sequentially)
//   - login_cooldown: "30m"
//   - timezone: local
type SchedulerConfig struct {
	Tick          string `json:"tick,omitempty"`
	Workers       int    `json:"workers,omitempty" validate:"gte=0,lte=64"`
	LoginCooldown string `json:"login_cooldown,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// NotifierConfig controls delivery pacing. If the section is omitted the
// runtime defaults apply: 3 msg/s, no retries.
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec" validate:"gte=0"`
	RetryMax      int    `json:"retry_max" validate:"gte=0,lte=10"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	HistorySize   int    `json:"history_size,omitempty" validate:"gte=0"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pollwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// StateConfig: persist journals record state to storage and restores it on
// start so a restart does not re-notify.
type StateConfig struct {
	Persist bool `json:"persist"`
}

type SessionConfig struct {
	// ClearOnStart discards persisted session tokens before the first tick.
	ClearOnStart bool `json:"clear_on_start"`
}

// StatusConfig controls the optional status HTTP server (/healthz, /status,
// /debug/pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6061").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6061"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// HTTPConfig tunes the shared page fetcher used by scrape and feed sources.
type HTTPConfig struct {
	Timeout   string `json:"timeout,omitempty"`
	MaxBytes  int64  `json:"max_bytes,omitempty" validate:"gte=0"`
	UserAgent string `json:"user_agent,omitempty"`
}

// BrowserConfig configures headless Chrome for render: browser sources.
type BrowserConfig struct {
	RemoteURL      string `json:"remote_url,omitempty" validate:"omitempty,url"`
	Bin            string `json:"bin,omitempty"`
	NavTimeout     string `json:"nav_timeout,omitempty"`
	DisableStealth bool   `json:"disable_stealth,omitempty"`
}

type SinkConfig struct {
	Kind     string `json:"kind" validate:"required,oneof=webhook desktop telegram log"`
	URL      string `json:"url,omitempty" validate:"omitempty,url"`
	Format   string `json:"format,omitempty"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// SourceConfig is one monitored source.
//
// Target is shorthand for scrape.url or feed.feed_id. Sink names an entry
// of the sinks map; the built-in names "desktop" and "log" need no entry.
type SourceConfig struct {
	Key          string            `json:"key" validate:"required,max=64"`
	Kind         string            `json:"kind" validate:"required,oneof=scrape feed"`
	Target       string            `json:"target,omitempty"`
	PollInterval string            `json:"poll_interval" validate:"required"`
	Sink         string            `json:"sink" validate:"required"`
	Credentials  map[string]string `json:"credentials,omitempty"`

	Policy  PolicyConfig  `json:"policy"`
	Message MessageConfig `json:"message"`

	Scrape *ScrapeConfig `json:"scrape,omitempty"`
	Feed   *FeedConfig   `json:"feed,omitempty"`
}

type PolicyConfig struct {
	Kind            string `json:"kind,omitempty" validate:"omitempty,oneof=on_change threshold_once"`
	MetricThreshold *int64 `json:"metric_threshold,omitempty"`
	MaxAge          string `json:"max_age,omitempty"`
	AgeBasis        string `json:"age_basis,omitempty" validate:"omitempty,oneof=source observed"`
}

type MessageConfig struct {
	Title       string `json:"title,omitempty"`
	Text        string `json:"text,omitempty"`
	PreviewLen  int    `json:"preview_len,omitempty" validate:"gte=0"`
	MetricLabel string `json:"metric_label,omitempty"`
	Batch       bool   `json:"batch,omitempty"`
}

type ScrapeConfig struct {
	URL             string `json:"url,omitempty"`
	Render          string `json:"render,omitempty" validate:"omitempty,oneof=http browser"`
	Container       string `json:"container,omitempty"`
	Item            string `json:"item,omitempty"`
	KeySelector     string `json:"key_selector,omitempty"`
	KeyAttr         string `json:"key_attr,omitempty"`
	Author          string `json:"author,omitempty"`
	Body            string `json:"body,omitempty"`
	BodyFormat      string `json:"body_format,omitempty" validate:"omitempty,oneof=text markdown html"`
	Timestamp       string `json:"timestamp,omitempty"`
	TimestampAttr   string `json:"timestamp_attr,omitempty"`
	TimestampLayout string `json:"timestamp_layout,omitempty"`
	Link            string `json:"link,omitempty"`
	LinkAttr        string `json:"link_attr,omitempty"`
	Metric          string `json:"metric,omitempty"`
}

type FeedConfig struct {
	ListURL     string            `json:"list_url" validate:"required"`
	FeedID      string            `json:"feed_id,omitempty"`
	LoginURL    string            `json:"login_url,omitempty" validate:"omitempty,url"`
	PageSize    int               `json:"page_size,omitempty" validate:"gte=0,lte=100"`
	MetricField string            `json:"metric_field,omitempty"`
	PostURL     string            `json:"post_url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}
