package core

import (
	"context"
	"fmt"
	"net"

	"vrpterm/config"
	"vrpterm/internal/api"
	"vrpterm/internal/metrics"
	"vrpterm/internal/reconnect"
	"vrpterm/internal/session"
	"vrpterm/internal/tracer"
	"vrpterm/util"
)

// ServeMode runs the session registry behind the HTTP/WebSocket API
// until ctx is cancelled, then disconnects every session.
type ServeMode struct {
	Config  *config.Config
	Options session.Options
	Policy  reconnect.Policy
	Metrics *metrics.Collector
	Logger  *util.Logger
	Tracer  tracer.Service // optional

	// Reload re-reads the configuration after the config file changes.
	// Sessions created afterwards use the new engine settings; the jump
	// host is fixed for the life of the process.  Nil disables watching.
	Reload func() (*config.Config, error)

	// Listener overrides Config.Listen.
	Listener net.Listener
}

// Run serves until ctx is cancelled.
func (m *ServeMode) Run(ctx context.Context) error {
	log := m.Logger
	if log == nil {
		log = util.Nop()
	}
	if m.Options.Dialer != nil {
		defer m.Options.Dialer.Close()
	}

	hub := api.NewHub(log)
	reg := session.NewRegistry(hub, m.Options)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), config.DefaultGracePeriod)
		defer cancel()
		if err := reg.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("sessions did not stop in time")
		}
	}()

	recon := reconnect.NewManager(reg, hub, reconnect.Options{
		AttemptTimeout: m.Config.ReconnectAttemptTimeout,
		Logger:         log,
		Metrics:        m.Metrics,
	})
	policy := m.Policy
	srv := api.New(api.Config{
		Registry:       reg,
		Reconnect:      recon,
		Policy:         &policy,
		Hub:            hub,
		Tracer:         m.Tracer,
		Metrics:        m.Metrics,
		Logger:         log,
		OriginPatterns: m.Config.AllowedOrigins,
	})

	if m.Reload != nil && m.Config.File != "" {
		go func() {
			if err := config.Watch(ctx, m.Config.File, log, func() error { return m.reload(reg) }); err != nil {
				log.Warn().Err(err).Msg("config file not watched")
			}
		}()
	}

	if m.Listener != nil {
		return srv.Serve(ctx, m.Listener)
	}
	return srv.ListenAndServe(ctx, m.Config.Listen)
}

// reload applies a changed configuration to sessions created from now
// on.
func (m *ServeMode) reload(reg *session.Registry) error {
	cfg, err := m.Reload()
	if err != nil {
		return err
	}

	current := reg.Options()
	// Keep the running dialer: sessions through the jump host share it.
	noJump := *cfg
	noJump.JumpHost = ""
	opts, err := EngineOptions(&noJump, current.Logger, m.Metrics)
	if err != nil {
		return fmt.Errorf("applying %s: %w", cfg.File, err)
	}
	opts.Dialer = current.Dialer
	reg.SetOptions(opts)

	m.Logger.Verbose().
		Str("flow_control", string(opts.FlowControl)).
		Bool("vrp", opts.VRP).
		Dur("connect_timeout", opts.ConnectTimeout).
		Msg("engine settings updated")
	return nil
}
