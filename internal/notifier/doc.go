// Package notifier delivers rendered notifications to sinks.
//
// A sink is a plain descriptor (kind plus destination). The Service looks up
// the Sender for the kind, paces calls through a global token bucket and
// retries transient failures with jittered exponential backoff. Senders mark
// permanent failures with NoRetry and server-requested delays with RetryAfter.
//
// # Sinks
//
//   - webhook: JSON POST in discord, slack or raw shape
//   - desktop: OS notification via notify-send, osascript or PowerShell
//   - telegram: Bot API sendMessage through an offline telebot bot
//   - log: the structured log, for dry runs
//
// # Rendering
//
// Renderer turns notified records into messages with text/template. Bodies
// are cut to a bounded preview, and a source can batch one tick's
// notifications into a single digest.
//
// # History
//
// The service keeps a small in-memory history of recent deliveries for the
// status endpoint, publishes notify.sent / notify.failed on the event bus and
// optionally appends each outcome to the storage delivery log.
package notifier
