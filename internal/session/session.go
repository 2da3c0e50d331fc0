// Package session runs interactive terminal sessions to network devices
// over SSH and Telnet.
//
// Each session is one engine goroutine.  Callers never touch an engine
// directly: they address it by id through the Registry, which forwards
// commands over the session's Handle.  Everything the engine observes
// (output bytes, state changes, VRP events, flow-control signals) is
// reported through an Emitter.
package session

import (
	"fmt"
	"strings"

	vrperr "vrpterm/internal/errors"
	"vrpterm/util"
)

// Protocol selects the session engine.
type Protocol string

const (
	SSH    Protocol = "ssh"
	Telnet Protocol = "telnet"
)

// ParseProtocol validates a protocol name (case-insensitive).
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(s)); p {
	case SSH, Telnet:
		return p, nil
	}
	return "", fmt.Errorf("unknown protocol %q (want ssh or telnet)", s)
}

// DefaultPort returns the well-known port of p.
func (p Protocol) DefaultPort() int {
	if p == Telnet {
		return 23
	}
	return 22
}

// State is a point in a session's lifecycle.  Telnet sessions skip
// StateAuthenticating.  StateReconnecting is only ever reported by the
// reconnect controller, under the id of the session being replaced.
type State string

const (
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateAuthenticating State = "authenticating"
	StateReady          State = "ready"
	StateDisconnected   State = "disconnected"
	StateError          State = "error"
	StateReconnecting   State = "reconnecting"
)

// Terminal reports whether s ends a session.  A session in a terminal
// state is never resurrected; reconnecting creates a new one.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError
}

// Default terminal size applied when a Config leaves it unset.
const (
	DefaultCols = 80
	DefaultRows = 24
)

// Config describes one session.  It is immutable once the session has
// started; reconnection starts a new session from a Clone.
type Config struct {
	Host     string   `json:"host" yaml:"host" toml:"host" jsonschema:"required"`
	Port     int      `json:"port" yaml:"port" toml:"port" jsonschema:"minimum=1,maximum=65535"`
	Protocol Protocol `json:"protocol" yaml:"protocol" toml:"protocol" jsonschema:"required,enum=ssh,enum=telnet"`
	Username string   `json:"username,omitempty" yaml:"username" toml:"username"`
	Password string   `json:"password,omitempty" yaml:"password" toml:"password"`
	Cols     int      `json:"cols,omitempty" yaml:"cols" toml:"cols"`
	Rows     int      `json:"rows,omitempty" yaml:"rows" toml:"rows"`
}

// Clone returns a copy of c.
func (c Config) Clone() Config { return c }

// WithDefaults fills in the protocol port and an 80x24 terminal.
func (c Config) WithDefaults() Config {
	if c.Port == 0 && c.Protocol != "" {
		c.Port = c.Protocol.DefaultPort()
	}
	if c.Cols == 0 {
		c.Cols = DefaultCols
	}
	if c.Rows == 0 {
		c.Rows = DefaultRows
	}
	return c
}

// Address returns host:port.
func (c Config) Address() string { return util.FormatAddr(c.Host, c.Port) }

// Validate checks c after defaults have been applied.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return &vrperr.ConfigError{Field: "host", Message: "required"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &vrperr.ConfigError{Field: "port", Value: c.Port, Message: "out of range 1-65535"}
	}
	if _, err := ParseProtocol(string(c.Protocol)); err != nil {
		return &vrperr.ConfigError{Field: "protocol", Value: c.Protocol, Message: err.Error()}
	}
	if c.Cols < 1 || c.Rows < 1 || c.Cols > 0xFFFF || c.Rows > 0xFFFF {
		return &vrperr.ConfigError{
			Field:   "size",
			Value:   fmt.Sprintf("%dx%d", c.Cols, c.Rows),
			Message: "terminal size out of range",
			Hint:    "columns and rows must be between 1 and 65535",
		}
	}
	return nil
}

// Size is a terminal size in character cells.
type Size struct {
	Cols, Rows int
}

// ReconnectStatus reports the progress of a reconnect attempt.
type ReconnectStatus struct {
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	NextRetryMS int64  `json:"next_retry_ms"`
	LastError   string `json:"last_error,omitempty"`
}
