// Package errors provides the error taxonomy shared by the session
// registry, the protocol engines and the reconnect controller.
//
// Every failure that crosses a package boundary is a *SessionError
// carrying one of a closed set of kinds, so callers can branch with
// errors.Is against the sentinel of that kind:
//
//	if errors.Is(err, vrperr.ErrNotFound) { ... }
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a session failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConnectionFailed
	KindAuthenticationFailed
	KindChannelError
	KindChannelClosed
	KindIoError
	KindCancelled
	KindTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindNotFound:             "session not found",
	KindConnectionFailed:     "connection failed",
	KindAuthenticationFailed: "authentication failed",
	KindChannelError:         "channel error",
	KindChannelClosed:        "channel closed",
	KindIoError:              "i/o error",
	KindCancelled:            "cancelled",
	KindTimeout:              "timed out",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotFound             = errors.New(KindNotFound.String())
	ErrConnectionFailed     = errors.New(KindConnectionFailed.String())
	ErrAuthenticationFailed = errors.New(KindAuthenticationFailed.String())
	ErrChannelError         = errors.New(KindChannelError.String())
	ErrChannelClosed        = errors.New(KindChannelClosed.String())
	ErrIoError              = errors.New(KindIoError.String())
	ErrCancelled            = errors.New(KindCancelled.String())
	ErrTimeout              = errors.New(KindTimeout.String())
)

var sentinels = map[Kind]error{
	KindNotFound:             ErrNotFound,
	KindConnectionFailed:     ErrConnectionFailed,
	KindAuthenticationFailed: ErrAuthenticationFailed,
	KindChannelError:         ErrChannelError,
	KindChannelClosed:        ErrChannelClosed,
	KindIoError:              ErrIoError,
	KindCancelled:            ErrCancelled,
	KindTimeout:              ErrTimeout,
}

// ── Structured error types ───────────────────────────────────────────

// SessionError is a failure of one operation on one session.
type SessionError struct {
	Kind      Kind
	SessionID string // empty before an id is assigned
	Op        string // "create", "send", "dial", "auth", "pty", ...
	Err       error  // underlying cause (optional)
}

func (e *SessionError) Error() string {
	s := e.Op
	if e.SessionID != "" {
		s = fmt.Sprintf("session %s: %s", e.SessionID, e.Op)
	}
	s += ": " + e.Kind.String()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *SessionError) Unwrap() error { return e.Err }

// Is matches the sentinel error of the same kind.
func (e *SessionError) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// ReconnectError is returned once every reconnect attempt has failed.
type ReconnectError struct {
	Attempts int
	Last     error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("reconnect failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ReconnectError) Unwrap() error { return e.Last }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a SessionError.  err may be nil.
func Wrap(kind Kind, id, op string, err error) *SessionError {
	return &SessionError{Kind: kind, SessionID: id, Op: op, Err: err}
}

// NotFound is shorthand for the most common registry failure.
func NotFound(id, op string) *SessionError {
	return &SessionError{Kind: KindNotFound, SessionID: id, Op: op}
}

// Closed reports that the session's engine is no longer accepting
// commands on its endpoints.
func Closed(id, op string) *SessionError {
	return &SessionError{Kind: KindChannelClosed, SessionID: id, Op: op}
}

// ── Classification helpers ───────────────────────────────────────────

// KindOf returns the kind carried by err.  Context errors map to
// Cancelled and Timeout; anything else unclassified is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindUnknown
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use vrpterm/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
