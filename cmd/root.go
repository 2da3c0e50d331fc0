// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"vrpterm/config"
	"vrpterm/internal/core"
	"vrpterm/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X vrpterm/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// flags holds the raw flag values.  Only flags the user actually set
// override the environment and the config file.
type flags struct {
	configPath string

	protocol string
	user     string
	password string
	cols     int
	rows     int

	timeout        time.Duration
	keepalive      time.Duration
	idle           time.Duration
	terminalType   string
	bufferSize     int
	flowControl    string
	noVRP          bool
	noAutoPaginate bool
	charset        string

	hostKeyPolicy string
	knownHosts    string

	jump      string
	jumpKey   string
	jumpAgent bool

	reconnect        bool
	reconnectRetries int

	serve  bool
	listen string

	verbose   int
	quiet     bool
	logFormat string

	dryRun      bool
	showVersion bool
	showHelp    bool
}

func newFlagSet(f *flags) *flag.FlagSet {
	fs := flag.NewFlagSet("vrpterm", flag.ContinueOnError)

	fs.StringVarP(&f.configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")

	// ── target ───────────────────────────────────────────────────
	fs.StringVarP(&f.protocol, "protocol", "t", config.DefaultProtocol, "Protocol: ssh or telnet")
	fs.StringVarP(&f.user, "user", "l", "", "Login name")
	fs.StringVar(&f.password, "password", "", "Password (prefer VRPTERM_PASSWORD or the prompt)")
	fs.IntVar(&f.cols, "cols", 0, "Terminal columns (default: local terminal width)")
	fs.IntVar(&f.rows, "rows", 0, "Terminal rows (default: local terminal height)")

	// ── engine ───────────────────────────────────────────────────
	fs.DurationVarP(&f.timeout, "timeout", "w", config.DefaultConnTimeout, "Connect timeout")
	fs.DurationVar(&f.keepalive, "keepalive", config.DefaultKeepAliveInterval, "SSH keepalive interval (0 disables)")
	fs.DurationVar(&f.idle, "idle-timeout", config.DefaultInactivityTimeout, "SSH inactivity timeout (0 disables)")
	fs.StringVar(&f.terminalType, "term", config.DefaultTerminalType, "Terminal type sent to the device")
	fs.IntVar(&f.bufferSize, "buffer-size", config.DefaultBufferSize, "Output buffer size in bytes")
	fs.StringVar(&f.flowControl, "flow-control", "advisory", "Backpressure mode: advisory or pause")
	fs.BoolVar(&f.noVRP, "no-vrp", false, "Do not interpret Huawei VRP output on Telnet sessions")
	fs.BoolVar(&f.noAutoPaginate, "no-auto-pagination", false, "Do not answer ---- More ---- prompts")
	fs.StringVar(&f.charset, "charset", "", "Device output charset for VRP parsing (e.g. gbk)")

	// ── host keys ────────────────────────────────────────────────
	fs.StringVar(&f.hostKeyPolicy, "host-key-policy", "tofu", "SSH host keys: known-hosts, tofu or insecure")
	fs.StringVar(&f.knownHosts, "known-hosts", "", "Custom known_hosts path")

	// ── jump host ────────────────────────────────────────────────
	fs.StringVarP(&f.jump, "jump", "J", "", "Connect via SSH jump host [user@]host[:port]")
	fs.StringVar(&f.jumpKey, "jump-key", "", "Private key for the jump host")
	fs.BoolVar(&f.jumpAgent, "jump-agent", false, "Use the SSH agent for the jump host")

	// ── reconnect ────────────────────────────────────────────────
	fs.BoolVarP(&f.reconnect, "reconnect", "r", false, "Reconnect automatically when the connection is lost")
	fs.IntVar(&f.reconnectRetries, "reconnect-retries", config.DefaultMaxReconnectAttempts, "Reconnect attempts before giving up")

	// ── server ───────────────────────────────────────────────────
	fs.BoolVar(&f.serve, "serve", false, "Run the WebSocket API server")
	fs.StringVar(&f.listen, "listen", config.DefaultListen, "API listen address (with --serve)")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&f.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Only log errors")
	fs.StringVar(&f.logFormat, "log-format", "console", "Log format: console or json")

	fs.BoolVar(&f.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&f.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&f.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }
	return fs
}

// Execute parses args and runs the selected vrpterm mode.
func Execute(ctx context.Context, args []string) error {
	f := &flags{}
	fs := newFlagSet(f)

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if f.showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if f.showVersion {
		fmt.Printf("vrpterm %s\n", version)
		return nil
	}

	cfg, err := resolve(fs, f)
	if err != nil {
		return err
	}
	if f.dryRun {
		fmt.Println(summary(cfg))
		return nil
	}

	// ── build ────────────────────────────────────────────────────
	logger := newLogger(cfg)
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	if sm, ok := mode.(*core.ServeMode); ok {
		sm.Reload = func() (*config.Config, error) { return resolve(fs, f) }
	}
	return mode.Run(ctx)
}

// resolve layers defaults, the config file, the environment and the
// flags the user set, in that order, then validates the result.
func resolve(fs *flag.FlagSet, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	f.apply(fs, cfg)
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *flags) apply(fs *flag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("protocol", func() { cfg.Protocol = f.protocol })
	set("user", func() { cfg.User = f.user })
	set("password", func() { cfg.Password = f.password })
	set("cols", func() { cfg.Cols = f.cols })
	set("rows", func() { cfg.Rows = f.rows })
	set("timeout", func() { cfg.ConnectTimeout = f.timeout })
	set("keepalive", func() { cfg.KeepAliveInterval = f.keepalive })
	set("idle-timeout", func() { cfg.InactivityTimeout = f.idle })
	set("term", func() { cfg.TerminalType = f.terminalType })
	set("buffer-size", func() { cfg.BufferSize = f.bufferSize })
	set("flow-control", func() { cfg.FlowControl = f.flowControl })
	set("no-vrp", func() { cfg.VRP = !f.noVRP })
	set("no-auto-pagination", func() { cfg.AutoPagination = !f.noAutoPaginate })
	set("charset", func() { cfg.Charset = f.charset })
	set("host-key-policy", func() { cfg.HostKeyPolicy = f.hostKeyPolicy })
	set("known-hosts", func() { cfg.KnownHostsPath = f.knownHosts })
	set("jump", func() { cfg.JumpSpec = f.jump })
	set("jump-key", func() { cfg.JumpKeyPath = f.jumpKey })
	set("jump-agent", func() { cfg.JumpUseAgent = f.jumpAgent })
	set("reconnect", func() { cfg.Reconnect = f.reconnect })
	set("reconnect-retries", func() { cfg.ReconnectRetries = f.reconnectRetries })
	set("serve", func() { cfg.Serve = f.serve })
	set("listen", func() { cfg.Listen = f.listen })
	set("verbose", func() { cfg.Verbose += f.verbose })
	set("quiet", func() {
		if f.quiet {
			cfg.Verbose = 0
		}
	})
	set("log-format", func() { cfg.LogFormat = f.logFormat })
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		return nil
	case 1, 2:
	default:
		return fmt.Errorf("too many arguments (want <host> [port])")
	}
	if cfg.Serve {
		return fmt.Errorf("no target host in serve mode; sessions are created over the API")
	}
	cfg.Host = remaining[0]
	if len(remaining) == 2 {
		port, err := util.ParsePort(remaining[1])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Port = port
	}
	return nil
}

func newLogger(cfg *config.Config) *util.Logger {
	if cfg.LogFormat == "json" {
		return util.NewJSONLogger(os.Stderr, cfg.Verbose)
	}
	return util.NewLogger(cfg.Verbose)
}

func summary(cfg *config.Config) string {
	if cfg.Serve {
		return fmt.Sprintf("ok: serve on %s (flow control %s, host keys %s)", cfg.Listen, cfg.FlowControl, cfg.HostKeyPolicy)
	}
	target := util.FormatAddr(cfg.Host, cfg.Port)
	if cfg.Port == 0 {
		target = cfg.Host
	}
	s := fmt.Sprintf("ok: %s to %s (flow control %s, host keys %s)", cfg.Protocol, target, cfg.FlowControl, cfg.HostKeyPolicy)
	if cfg.JumpHost != "" {
		s += fmt.Sprintf(" via %s@%s", cfg.JumpUser, util.FormatAddr(cfg.JumpHost, cfg.JumpPort))
	}
	return s
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `vrpterm - SSH/Telnet terminal for network devices v%s

Usage:
  vrpterm [options] <host> [port]             Attach this terminal to a device
  vrpterm --serve [--listen addr] [options]   Run the WebSocket API server

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  Every config key can be set as VRPTERM_<KEY>, e.g. VRPTERM_PASSWORD,
  VRPTERM_CONNECT_TIMEOUT=10s.  Flags win over the environment, which
  wins over the config file.

Examples:
  vrpterm -l admin 192.168.1.1                 SSH, prompts for the password
  vrpterm -t telnet 10.0.0.5                   Telnet with VRP parsing
  vrpterm -r -J ops@bastion -l admin core-sw1  Via a jump host, auto-reconnect
  vrpterm --serve --listen :8765 -c vrpterm.yaml

Press Ctrl-] to leave an attached session.
`)
}
