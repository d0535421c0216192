package monitor

import (
	"errors"
	"fmt"
)

// AuthError means a source rejected or could not establish a session.
// The scheduler invalidates the session and applies the login cool-down.
type AuthError struct {
	Source string
	Cause  error
}

func (e *AuthError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("auth: %v", e.Cause)
	}
	return fmt.Sprintf("auth %s: %v", e.Source, e.Cause)
}
func (e *AuthError) Unwrap() error { return e.Cause }

// FetchError is a transport or parse failure while fetching a source.
// The source is skipped for the tick and retried on its next due poll.
type FetchError struct {
	Source string
	Cause  error
}

func (e *FetchError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("fetch: %v", e.Cause)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Cause)
}
func (e *FetchError) Unwrap() error { return e.Cause }

// DispatchError is a failed notification delivery. It is logged and never
// rolls back record state.
type DispatchError struct {
	Sink  string
	Cause error
}

func (e *DispatchError) Error() string { return fmt.Sprintf("dispatch %s: %v", e.Sink, e.Cause) }
func (e *DispatchError) Unwrap() error { return e.Cause }

// ConfigError is an invalid or incomplete configuration. Fatal at startup.
type ConfigError struct {
	Field string
	Cause error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Cause)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Cause)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ConfigErrorf builds a ConfigError for field with a formatted cause.
func ConfigErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Cause: fmt.Errorf(format, args...)}
}

func IsAuth(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

func IsFetch(err error) bool {
	var e *FetchError
	return errors.As(err, &e)
}

func IsDispatch(err error) bool {
	var e *DispatchError
	return errors.As(err, &e)
}

func IsConfig(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// IsRetryable reports whether a later poll may succeed without operator
// action: fetch, auth and dispatch failures. Config errors and unclassified
// errors (including recovered panics) are not.
func IsRetryable(err error) bool {
	return IsFetch(err) || IsAuth(err) || IsDispatch(err)
}
