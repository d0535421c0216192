package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"pollwatch/internal/monitor"
	"pollwatch/internal/notifier"
	"pollwatch/internal/session"
	"pollwatch/internal/source"
)

// Config controls the poll loop.
type Config struct {
	// Tick is the loop period. 0 = the shortest source schedule period.
	Tick time.Duration
	// Workers bounds how many due sources poll concurrently. Default 1.
	Workers int
	// LoginCooldown gates login retries after a failed login. Default 30m.
	LoginCooldown time.Duration
	// Timezone for cron expressions (IANA name). Empty = Local.
	Timezone string
}

// Source is one configured source, fully built.
type Source struct {
	Key         string
	Schedule    string
	Adapter     source.Adapter
	Policy      monitor.Policy
	Sink        notifier.Sink
	Renderer    *notifier.Renderer
	Credentials map[string]string
}

// Dispatcher sends rendered messages. *notifier.Service implements it.
type Dispatcher interface {
	Send(ctx context.Context, sink notifier.Sink, msg notifier.Message) error
}

// Phase is a source's position in the poll cycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseFetching    Phase = "fetching"
	PhaseEvaluating  Phase = "evaluating"
	PhaseDispatching Phase = "dispatching"
)

// Bus event types.
const (
	EventPollDone   = "poll.done"
	EventPollFailed = "poll.failed"
)

// PollEvent is the Data of poll.* bus events.
type PollEvent struct {
	Tick     string    `json:"tick"`
	Source   string    `json:"source"`
	Records  int       `json:"records"`
	Notified int       `json:"notified"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

type sourceRun struct {
	src   Source
	sched cron.Schedule
	sess  *session.Session // nil for sources without login

	nextDue time.Time // zero = due now

	phase       Phase
	lastPoll    time.Time
	lastSuccess time.Time
	lastErr     string
	lastErrAt   time.Time
	failures    int // consecutive

	polls            uint64
	records          uint64
	notifications    uint64
	dispatchFailures uint64
	droppedKeyless   uint64
	loginSkips       uint64

	// Copies of session fields for Snapshot; the session itself is only
	// touched by the goroutine polling this source.
	loggedIn   bool
	loggedInAs string
	retryAt    time.Time
}

// SourceStatus is the observable state of one source.
type SourceStatus struct {
	Key                 string    `json:"key"`
	Kind                string    `json:"kind"`
	Schedule            string    `json:"schedule"`
	Policy              string    `json:"policy"`
	Phase               Phase     `json:"phase"`
	NextDue             time.Time `json:"next_due,omitempty"`
	LastPoll            time.Time `json:"last_poll,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Polls               uint64    `json:"polls"`
	Records             uint64    `json:"records"`
	Notifications       uint64    `json:"notifications"`
	DispatchFailures    uint64    `json:"dispatch_failures"`
	DroppedKeyless      uint64    `json:"dropped_keyless"`
	LoginSkips          uint64    `json:"login_skips"`

	RequiresLogin bool      `json:"requires_login"`
	LoggedIn      bool      `json:"logged_in"`
	LoggedInAs    string    `json:"logged_in_as,omitempty"`
	LoginRetryAt  time.Time `json:"login_retry_at,omitempty"`
}

// Snapshot is the scheduler state exposed on the status endpoint.
type Snapshot struct {
	Tick     time.Duration  `json:"tick"`
	Workers  int            `json:"workers"`
	Ticks    uint64         `json:"ticks"`
	LastTick string         `json:"last_tick,omitempty"`
	LastAt   time.Time      `json:"last_at,omitempty"`
	Sources  []SourceStatus `json:"sources"`
}

// TickReport summarizes one RunTick.
type TickReport struct {
	ID      string
	At      time.Time
	Polled  []string
	Skipped []string // due but gated by login cool-down
	Errors  map[string]error
}
