package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultSSHPort is the standard SSH port, also used for jump hosts.
	DefaultSSHPort = 22

	// DefaultProtocol is used when neither flag nor file names one.
	DefaultProtocol = "ssh"

	// DefaultListen is the API server address in serve mode.
	DefaultListen = "127.0.0.1:8765"

	// DefaultConnTimeout bounds the TCP dial plus the SSH handshake.
	DefaultConnTimeout = 30 * time.Second

	// DefaultKeepAliveInterval is the SSH keepalive probe interval.
	DefaultKeepAliveInterval = 30 * time.Second

	// DefaultKeepAliveMaxMisses is how many unanswered probes end a
	// session.
	DefaultKeepAliveMaxMisses = 3

	// DefaultInactivityTimeout ends an SSH session with no traffic at
	// all.  Keepalive replies count as traffic.
	DefaultInactivityTimeout = time.Hour

	// DefaultTerminalType is reported to the device.
	DefaultTerminalType = "xterm-256color"

	// DefaultBufferSize is the per-session output buffer capacity.
	DefaultBufferSize = 256 * 1024

	// DefaultMaxReconnectAttempts is how many times to retry after a
	// drop.
	DefaultMaxReconnectAttempts = 10

	// DefaultReconnectInitialDelay is the wait before the first retry.
	DefaultReconnectInitialDelay = 2 * time.Second

	// DefaultMaxReconnectBackoff caps the exponential backoff between
	// reconnection attempts.
	DefaultMaxReconnectBackoff = 60 * time.Second

	// DefaultReconnectMultiplier grows the backoff each attempt.
	DefaultReconnectMultiplier = 1.5

	// DefaultReconnectAttemptTimeout bounds one reconnection attempt.
	DefaultReconnectAttemptTimeout = 30 * time.Second

	// DefaultGracePeriod is how long shutdown waits for sessions to end.
	DefaultGracePeriod = 5 * time.Second
)

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Protocol:                DefaultProtocol,
		ConnectTimeout:          DefaultConnTimeout,
		KeepAliveInterval:       DefaultKeepAliveInterval,
		KeepAliveMaxMisses:      DefaultKeepAliveMaxMisses,
		InactivityTimeout:       DefaultInactivityTimeout,
		TerminalType:            DefaultTerminalType,
		BufferSize:              DefaultBufferSize,
		FlowControl:             "advisory",
		VRP:                     true,
		AutoPagination:          true,
		HostKeyPolicy:           "tofu",
		ReconnectRetries:        DefaultMaxReconnectAttempts,
		ReconnectInitialDelay:   DefaultReconnectInitialDelay,
		ReconnectMaxDelay:       DefaultMaxReconnectBackoff,
		ReconnectMultiplier:     DefaultReconnectMultiplier,
		ReconnectAttemptTimeout: DefaultReconnectAttemptTimeout,
		Listen:                  DefaultListen,
		Verbose:                 1,
		LogFormat:               "console",
	}
}
