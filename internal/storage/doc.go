// Package storage provides the optional persistence layer.
//
// It stores:
//   - A delivery log (one entry per notification attempt)
//   - Record state, so baselines and notified flags survive restarts
//   - Session tokens for authenticated sources (write-or-discard)
package storage
