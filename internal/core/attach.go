package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"vrpterm/config"
	vrperr "vrpterm/internal/errors"
	"vrpterm/internal/metrics"
	"vrpterm/internal/reconnect"
	"vrpterm/internal/session"
	"vrpterm/internal/vrp"
	"vrpterm/util"
)

// EscapeByte ends an attached session from the keyboard (Ctrl-]).
const EscapeByte = 0x1d

// AttachMode connects the local terminal to one device session:
// keystrokes go to the device and device output goes to stdout.
type AttachMode struct {
	Session session.Config
	Options session.Options

	// Policy enables automatic reconnection after the connection is
	// lost.  A session the device closes cleanly is not reconnected.
	Policy         *reconnect.Policy
	AttemptTimeout time.Duration

	// Prompt asks for the SSH password when Session has none.  Nil
	// disables prompting.
	Prompt  Prompter
	Metrics *metrics.Collector
	Logger  *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.  When Stdin
	// is a terminal it is put in raw mode for the life of the session.
	Stdin  io.Reader
	Stdout io.Writer

	// Resize delivers terminal size changes.  When nil and Stdin is a
	// terminal, SIGWINCH is watched instead.
	Resize <-chan session.Size
}

func (m *AttachMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *AttachMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

func (m *AttachMode) logger() *util.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return util.Nop()
}

// Run connects, relays until the session ends, the escape byte is
// typed, stdin reaches EOF or ctx is cancelled.
func (m *AttachMode) Run(ctx context.Context) error {
	if m.Options.Dialer != nil {
		defer m.Options.Dialer.Close()
	}
	log := m.logger()

	cfg := m.Session
	if cfg.Protocol == session.SSH && cfg.Password == "" && m.Prompt != nil {
		pw, err := m.Prompt(fmt.Sprintf("%s@%s's password: ", cfg.Username, cfg.Host))
		if err != nil {
			return err
		}
		cfg.Password = pw
	}

	in := m.stdin()
	resize := m.Resize
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		if cfg.Cols == 0 && cfg.Rows == 0 {
			if w, h, err := term.GetSize(fd); err == nil {
				cfg.Cols, cfg.Rows = w, h
			}
		}
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, state) //nolint:errcheck
		if resize == nil {
			resize = watchResize(ctx, fd)
		}
	}
	cfg = cfg.WithDefaults()

	out := newTerminal(m.stdout(), log)
	reg := session.NewRegistry(out, m.Options)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), config.DefaultGracePeriod)
		defer cancel()
		if err := reg.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("session shutdown")
		}
	}()

	log.Verbose().Str("addr", cfg.Address()).Str("protocol", string(cfg.Protocol)).Msg("connecting")
	h, err := launch(ctx, reg, uuid.NewString(), cfg)
	if err != nil {
		return err
	}
	log.Info().Str("addr", cfg.Address()).Msg("connected; press Ctrl-] to quit")

	chunks := make(chan util.Chunk, 16)
	done := make(chan struct{})
	defer close(done)
	go util.PumpReader(in, chunks, done)

	var ctrl *reconnect.Controller
	results := make(chan reconnectResult, 1)
	ended := h.Done()

	for {
		select {
		case c, ok := <-chunks:
			if !ok || c.Err != nil {
				log.Verbose().Msg("stdin closed")
				return m.stop(reg, ctrl, results, h.ID)
			}
			data := c.Data
			i := bytes.IndexByte(data, EscapeByte)
			if i >= 0 {
				data = data[:i]
			}
			if len(data) > 0 && ctrl == nil {
				if err := reg.Send(ctx, h.ID, data); err != nil {
					log.Verbose().Err(err).Msg("input dropped")
				}
			}
			if i >= 0 {
				return m.stop(reg, ctrl, results, h.ID)
			}

		case sz := <-resize:
			if ctrl != nil {
				continue
			}
			cfg.Cols, cfg.Rows = sz.Cols, sz.Rows
			if err := reg.Resize(ctx, h.ID, sz.Cols, sz.Rows); err != nil {
				log.Verbose().Err(err).Msg("resize dropped")
			}

		case id := <-out.behind:
			// Output is written synchronously, so by now it is all out.
			if id == h.ID {
				if err := reg.NotifyDrained(ctx, id); err != nil {
					log.Debug().Err(err).Msg("drain notification dropped")
				}
			}

		case <-ended:
			ended = nil
			final := h.State()
			if m.Policy == nil || final != session.StateError {
				return m.finished(cfg, final)
			}
			log.Warn().Str("addr", cfg.Address()).Msg("connection lost, reconnecting")
			ctrl = reconnect.NewController(h.ID, cfg, *m.Policy, reg, out, reconnect.Options{
				AttemptTimeout: m.AttemptTimeout,
				Logger:         log,
				Metrics:        m.Metrics,
			})
			go func(c *reconnect.Controller) {
				id, err := c.Run(ctx)
				results <- reconnectResult{id, err}
			}(ctrl)

		case r := <-results:
			ctrl = nil
			if r.err != nil {
				return r.err
			}
			next, ok := reg.Get(r.id)
			if !ok {
				return m.finished(cfg, session.StateError)
			}
			h, ended = next, next.Done()
			log.Info().Str("addr", cfg.Address()).Msg("reconnected")

		case <-ctx.Done():
			return nil
		}
	}
}

// stop ends the attachment at the user's request.
func (m *AttachMode) stop(reg *session.Registry, ctrl *reconnect.Controller, results <-chan reconnectResult, id string) error {
	if ctrl != nil {
		ctrl.Cancel()
		<-results
		return nil
	}
	if err := reg.Disconnect(id); err != nil && !errors.Is(err, vrperr.ErrNotFound) {
		return err
	}
	return nil
}

func (m *AttachMode) finished(cfg session.Config, final session.State) error {
	if final == session.StateError {
		return fmt.Errorf("session to %s ended with an error", cfg.Address())
	}
	m.logger().Info().Str("addr", cfg.Address()).Msg("connection closed by device")
	return nil
}

type reconnectResult struct {
	id  string
	err error
}

// launch starts a session and waits for it to become ready.
func launch(ctx context.Context, reg *session.Registry, id string, cfg session.Config) (*session.Handle, error) {
	ready := reg.Launch(id, cfg)
	h, ok := reg.Get(id)
	select {
	case err := <-ready:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		reg.Disconnect(id) //nolint:errcheck
		return nil, ctx.Err()
	}
	if !ok {
		return nil, vrperr.Closed(id, "connect")
	}
	return h, nil
}

// ── terminal emitter ─────────────────────────────────────────────────

// terminal is the Emitter for an attached session.  Output goes to the
// writer; everything else is logged.
type terminal struct {
	mu  sync.Mutex
	out io.Writer
	log *util.Logger

	// behind carries the id of a session reporting backpressure.
	behind chan string
}

func newTerminal(out io.Writer, log *util.Logger) *terminal {
	return &terminal{out: out, log: log, behind: make(chan string, 1)}
}

func (t *terminal) Data(id string, p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.out.Write(p); err != nil {
		t.log.Debug().Err(err).Msg("writing output")
	}
}

func (t *terminal) State(id string, s session.State) {
	t.log.Debug().Str("session_id", id).Str("state", string(s)).Msg("session state")
}

func (t *terminal) Reconnect(id string, st session.ReconnectStatus) {
	ev := t.log.Info().
		Int("attempt", st.Attempt).
		Int("max_attempts", st.MaxAttempts).
		Int64("next_retry_ms", st.NextRetryMS)
	if st.LastError != "" {
		ev = ev.Str("last_error", st.LastError)
	}
	ev.Msg("reconnect status")
}

func (t *terminal) VRP(id string, ev vrp.Event) {
	e := t.log.Verbose().Str("event", string(ev.Type))
	switch ev.Type {
	case vrp.EventViewChange:
		e = e.Str("view", ev.View.String()).Str("hostname", ev.Hostname)
	case vrp.EventBoardInfo:
		e = e.Str("slot", ev.SlotID).Str("board", ev.BoardType).Str("status", ev.Status)
	case vrp.EventPagination:
		e = e.Bool("auto_handled", ev.AutoHandled)
	}
	e.Msg("vrp")
}

func (t *terminal) Backpressure(id string, paused bool) {
	if !paused {
		return
	}
	select {
	case t.behind <- id:
	default:
	}
}
