// Package monitor holds the change-detection core: the Record and StateEntry
// data model, notify policies, the pure Evaluate function, and the error
// taxonomy shared by adapters, the session manager and the dispatcher.
package monitor
