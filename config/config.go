// Package config defines the runtime configuration for vrpterm and
// loads it from defaults, a config file and the environment.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	vrperr "vrpterm/internal/errors"
)

// Config holds every tuneable for vrpterm.  Field tags name the config
// file keys (yaml/toml); the environment variable for a field is
// VRPTERM_ plus its name in upper snake case (VRPTERM_CONNECT_TIMEOUT).
type Config struct {
	// ── Target (attach mode) ─────────────────────────────────────────
	Host     string `yaml:"host" toml:"host" split_words:"true"`
	Port     int    `yaml:"port" toml:"port" split_words:"true"`
	Protocol string `yaml:"protocol" toml:"protocol" split_words:"true"`
	User     string `yaml:"user" toml:"user" split_words:"true"`
	Password string `yaml:"password" toml:"password" split_words:"true"`
	Cols     int    `yaml:"cols" toml:"cols" split_words:"true"`
	Rows     int    `yaml:"rows" toml:"rows" split_words:"true"`

	// ── Engine ───────────────────────────────────────────────────────
	ConnectTimeout     time.Duration `yaml:"connect_timeout" toml:"connect_timeout" split_words:"true"`
	KeepAliveInterval  time.Duration `yaml:"keepalive_interval" toml:"keepalive_interval" split_words:"true"`
	KeepAliveMaxMisses int           `yaml:"keepalive_max_misses" toml:"keepalive_max_misses" split_words:"true"`
	InactivityTimeout  time.Duration `yaml:"inactivity_timeout" toml:"inactivity_timeout" split_words:"true"`
	TerminalType       string        `yaml:"terminal_type" toml:"terminal_type" split_words:"true"`
	BufferSize         int           `yaml:"buffer_size" toml:"buffer_size" split_words:"true"`
	FlowControl        string        `yaml:"flow_control" toml:"flow_control" split_words:"true"`
	VRP                bool          `yaml:"vrp" toml:"vrp" split_words:"true"`
	AutoPagination     bool          `yaml:"auto_pagination" toml:"auto_pagination" split_words:"true"`
	Charset            string        `yaml:"charset" toml:"charset" split_words:"true"`

	// ── Host keys ────────────────────────────────────────────────────
	HostKeyPolicy  string `yaml:"host_key_policy" toml:"host_key_policy" split_words:"true"`
	KnownHostsPath string `yaml:"known_hosts" toml:"known_hosts" split_words:"true"`

	// ── Jump host ────────────────────────────────────────────────────
	JumpSpec     string `yaml:"jump" toml:"jump" split_words:"true"` // [user@]host[:port]
	JumpKeyPath  string `yaml:"jump_key" toml:"jump_key" split_words:"true"`
	JumpPassword string `yaml:"jump_password" toml:"jump_password" split_words:"true"`
	JumpUseAgent bool   `yaml:"jump_agent" toml:"jump_agent" split_words:"true"`
	JumpUser     string `yaml:"-" toml:"-" ignored:"true"`
	JumpHost     string `yaml:"-" toml:"-" ignored:"true"`
	JumpPort     int    `yaml:"-" toml:"-" ignored:"true"`

	// ── Reconnect ────────────────────────────────────────────────────
	Reconnect               bool          `yaml:"reconnect" toml:"reconnect" split_words:"true"`
	ReconnectRetries        int           `yaml:"reconnect_retries" toml:"reconnect_retries" split_words:"true"`
	ReconnectInitialDelay   time.Duration `yaml:"reconnect_initial_delay" toml:"reconnect_initial_delay" split_words:"true"`
	ReconnectMaxDelay       time.Duration `yaml:"reconnect_max_delay" toml:"reconnect_max_delay" split_words:"true"`
	ReconnectMultiplier     float64       `yaml:"reconnect_multiplier" toml:"reconnect_multiplier" split_words:"true"`
	ReconnectAttemptTimeout time.Duration `yaml:"reconnect_attempt_timeout" toml:"reconnect_attempt_timeout" split_words:"true"`

	// ── Server ───────────────────────────────────────────────────────
	Serve          bool     `yaml:"serve" toml:"serve" split_words:"true"`
	Listen         string   `yaml:"listen" toml:"listen" split_words:"true"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" split_words:"true"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose   int    `yaml:"verbose" toml:"verbose" split_words:"true"`
	LogFormat string `yaml:"log_format" toml:"log_format" split_words:"true"` // console | json

	// Path of the file this config was loaded from, if any.
	File string `yaml:"-" toml:"-" ignored:"true"`
}

// ── Jump-spec parser ─────────────────────────────────────────────────

// jumpRe matches [user@]host[:port].
var jumpRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseJumpSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseJumpSpec(spec string) (user, host string, port int, err error) {
	m := jumpRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid jump host %q, expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid jump host port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent and
// resolves JumpSpec into JumpUser/JumpHost/JumpPort.
func (c *Config) Validate() error {
	if !c.Serve && c.Host == "" {
		return &vrperr.ConfigError{Field: "host", Message: "hostname is required", Hint: "use --help for usage, or --serve to run the API server"}
	}
	if c.Serve && c.Listen == "" {
		return &vrperr.ConfigError{Field: "listen", Message: "required in serve mode"}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &vrperr.ConfigError{Field: "port", Value: c.Port, Message: "out of range 1-65535"}
	}

	switch strings.ToLower(c.Protocol) {
	case "ssh", "telnet":
	default:
		return &vrperr.ConfigError{Field: "protocol", Value: c.Protocol, Message: "must be ssh or telnet"}
	}
	switch c.FlowControl {
	case "advisory", "pause":
	default:
		return &vrperr.ConfigError{Field: "flow-control", Value: c.FlowControl, Message: "must be advisory or pause"}
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return &vrperr.ConfigError{Field: "log-format", Value: c.LogFormat, Message: "must be console or json"}
	}

	if c.Charset != "" {
		if _, err := htmlindex.Get(c.Charset); err != nil {
			return &vrperr.ConfigError{Field: "charset", Value: c.Charset, Message: "unknown charset", Hint: "use a WHATWG encoding label such as utf-8, gbk or gb18030"}
		}
	}

	if c.ConnectTimeout <= 0 {
		return &vrperr.ConfigError{Field: "timeout", Value: c.ConnectTimeout, Message: "must be positive"}
	}
	if c.KeepAliveInterval < 0 || c.InactivityTimeout < 0 {
		return &vrperr.ConfigError{Field: "keepalive", Message: "intervals must not be negative", Hint: "use 0 to disable"}
	}
	if c.BufferSize < 1024 {
		return &vrperr.ConfigError{Field: "buffer-size", Value: c.BufferSize, Message: "must be at least 1024 bytes"}
	}

	if c.Reconnect || c.Serve {
		if c.ReconnectRetries < 1 {
			return &vrperr.ConfigError{Field: "reconnect-retries", Value: c.ReconnectRetries, Message: "must be at least 1"}
		}
		if c.ReconnectMultiplier < 1 {
			return &vrperr.ConfigError{Field: "reconnect-multiplier", Value: c.ReconnectMultiplier, Message: "must be at least 1"}
		}
	}

	if c.JumpSpec != "" {
		user, host, port, err := ParseJumpSpec(c.JumpSpec)
		if err != nil {
			return &vrperr.ConfigError{Field: "jump", Value: c.JumpSpec, Message: err.Error()}
		}
		if user == "" {
			user = c.User
		}
		if user == "" {
			return &vrperr.ConfigError{Field: "jump", Value: c.JumpSpec, Message: "no user for the jump host", Hint: "use user@host or --user"}
		}
		c.JumpUser, c.JumpHost, c.JumpPort = user, host, port
	}

	if c.Cols < 0 || c.Rows < 0 {
		return &vrperr.ConfigError{Field: "size", Value: fmt.Sprintf("%dx%d", c.Cols, c.Rows), Message: "must not be negative"}
	}
	return nil
}
