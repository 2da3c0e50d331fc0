package core

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"vrpterm/config"
	"vrpterm/internal/hostkey"
	"vrpterm/internal/metrics"
	"vrpterm/internal/reconnect"
	"vrpterm/internal/session"
	"vrpterm/internal/transport"
	"vrpterm/util"
)

// Build constructs the appropriate Mode from a validated configuration.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	m := metrics.New()
	opts, err := EngineOptions(cfg, logger, m)
	if err != nil {
		return nil, err
	}

	if cfg.Serve {
		return &ServeMode{
			Config:  cfg,
			Options: opts,
			Policy:  ReconnectPolicy(cfg),
			Metrics: m,
			Logger:  logger,
		}, nil
	}

	mode := &AttachMode{
		Session:        SessionConfig(cfg),
		Options:        opts,
		AttemptTimeout: cfg.ReconnectAttemptTimeout,
		Prompt:         TerminalPrompt,
		Metrics:        m,
		Logger:         logger,
	}
	if cfg.Reconnect {
		p := ReconnectPolicy(cfg)
		mode.Policy = &p
	}
	return mode, nil
}

// ── mapping ──────────────────────────────────────────────────────────

// SessionConfig extracts the target session from cfg.
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Protocol: session.Protocol(strings.ToLower(cfg.Protocol)),
		Username: cfg.User,
		Password: cfg.Password,
		Cols:     cfg.Cols,
		Rows:     cfg.Rows,
	}
}

// ReconnectPolicy extracts the backoff policy from cfg.
func ReconnectPolicy(cfg *config.Config) reconnect.Policy {
	p := &reconnect.Policy{
		MaxRetries:   cfg.ReconnectRetries,
		InitialDelay: cfg.ReconnectInitialDelay,
		MaxDelay:     cfg.ReconnectMaxDelay,
		Multiplier:   cfg.ReconnectMultiplier,
	}
	return p.WithDefaults()
}

// EngineOptions maps cfg onto the engine tunables, building the host-key
// verifier and, for a jump host, the bastion dialer.  The caller owns
// the returned Dialer and must Close it.
func EngineOptions(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (session.Options, error) {
	opts := session.DefaultOptions()
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.KeepAliveInterval = cfg.KeepAliveInterval
	opts.KeepAliveMaxMisses = cfg.KeepAliveMaxMisses
	opts.InactivityTimeout = cfg.InactivityTimeout
	if cfg.TerminalType != "" {
		opts.TerminalType = cfg.TerminalType
	}
	opts.BufferCapacity = cfg.BufferSize
	opts.FlowControl = session.FlowControl(cfg.FlowControl)
	opts.VRP = cfg.VRP
	opts.AutoPagination = cfg.AutoPagination
	opts.Charset = cfg.Charset
	opts.Logger = logger
	opts.Metrics = m

	policy, err := hostkey.ParsePolicy(cfg.HostKeyPolicy)
	if err != nil {
		return session.Options{}, err
	}
	verifier, err := hostkey.New(policy, cfg.KnownHostsPath, logger)
	if err != nil {
		return session.Options{}, fmt.Errorf("host keys: %w", err)
	}
	opts.HostKeyCallback = verifier.Callback()

	opts.Dialer, err = buildDialer(cfg, opts.HostKeyCallback, logger)
	if err != nil {
		return session.Options{}, err
	}
	return opts, nil
}

// buildDialer creates the right transport.Dialer for the given config.
// The jump host is verified under the same host-key policy as devices.
func buildDialer(cfg *config.Config, hostKeys ssh.HostKeyCallback, logger *util.Logger) (transport.Dialer, error) {
	base := &transport.TCPDialer{Timeout: cfg.ConnectTimeout}
	if cfg.JumpHost == "" {
		return base, nil
	}

	auth, err := jumpAuthMethods(cfg, TerminalPrompt)
	if err != nil {
		return nil, fmt.Errorf("jump host: %w", err)
	}
	return &transport.JumpDialer{
		Addr: util.FormatAddr(cfg.JumpHost, cfg.JumpPort),
		Config: &ssh.ClientConfig{
			User:            cfg.JumpUser,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         cfg.ConnectTimeout,
		},
		Base:   base,
		Logger: logger,
	}, nil
}
