package notifier

import "time"

// Config controls delivery pacing and retries.
type Config struct {
	RatePerSec    int           // global token bucket; default 3
	RetryMax      int           // extra attempts after the first; default 0
	RetryBase     time.Duration // default 500ms
	RetryMaxDelay time.Duration // default 10s
	SendTimeout   time.Duration // per attempt; default 10s
	HistorySize   int           // default 300
}

// Sink kinds.
const (
	KindWebhook  = "webhook"
	KindDesktop  = "desktop"
	KindTelegram = "telegram"
	KindLog      = "log"
)

// Webhook payload formats.
const (
	FormatDiscord = "discord"
	FormatSlack   = "slack"
	FormatRaw     = "raw"
)

// Sink describes one delivery destination. Which fields matter depends on Kind.
type Sink struct {
	Name     string
	Kind     string
	URL      string // webhook
	Format   string // webhook: discord (default), slack or raw
	Token    string // telegram bot token
	ChatID   int64  // telegram
	ThreadID int    // telegram forum topic
}

// Message is one rendered notification.
type Message struct {
	Title string
	Text  string

	// Source and Records identify what triggered the message, for the
	// delivery log and bus events.
	Source  string
	Records []string

	DisablePreview bool
}

// Body is the title and text as one block, the way single-field sinks
// (discord, slack, telegram) render it.
func (m Message) Body() string {
	switch {
	case m.Title == "":
		return m.Text
	case m.Text == "":
		return m.Title
	default:
		return m.Title + "\n" + m.Text
	}
}

type HistoryItem struct {
	At       time.Time `json:"at"`
	Sink     string    `json:"sink"`
	Source   string    `json:"source,omitempty"`
	Title    string    `json:"title,omitempty"`
	OK       bool      `json:"ok"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// Bus event types.
const (
	EventSent   = "notify.sent"
	EventFailed = "notify.failed"
)

// NotificationEvent is the Data of notify.* bus events.
// Keep it small; subscribers may log or serialize it.
type NotificationEvent struct {
	Sink     string    `json:"sink"`
	Kind     string    `json:"kind"`
	Source   string    `json:"source,omitempty"`
	Records  []string  `json:"records,omitempty"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
