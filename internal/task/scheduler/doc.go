// Package scheduler runs the poll loop.
//
// Every tick it walks the configured sources, polls the ones that are due
// and feeds their records through the evaluator. Each source moves through
// Idle -> Fetching -> Evaluating -> Dispatching and back; a failure or panic
// in one source is recorded in its status and never stops the loop or the
// other sources.
//
// Schedules are robfig/cron schedules: a fixed interval ("1m", "00:15") or a
// cron expression ("*/5 * * * *"). The first tick polls every source.
package scheduler
