package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/crypto/ssh"

	vrperr "vrpterm/internal/errors"
	"vrpterm/internal/metrics"
	"vrpterm/internal/ringbuf"
	"vrpterm/internal/telnet"
	"vrpterm/internal/transport"
	"vrpterm/util"
)

// FlowControl selects what an engine does when the consumer falls
// behind.
type FlowControl string

const (
	// FlowAdvisory only reports backpressure; output keeps flowing.
	FlowAdvisory FlowControl = "advisory"
	// FlowPause stops reading from the device while paused, so TCP
	// (Telnet) or the SSH channel window pushes back on the device.
	FlowPause FlowControl = "pause"
)

// Options are the engine tunables shared by every session a Registry
// launches.
type Options struct {
	ConnectTimeout     time.Duration
	KeepAliveInterval  time.Duration // SSH; 0 disables keepalive
	KeepAliveMaxMisses int
	InactivityTimeout  time.Duration // SSH; 0 disables
	TerminalType       string
	BufferCapacity     int
	FlowControl        FlowControl

	VRP            bool   // interpret Telnet output as Huawei VRP
	AutoPagination bool   // initial auto-pagination setting
	Charset        string // device output charset for the VRP interpreter

	// HostKeyCallback verifies SSH host keys.  SSH sessions refuse to
	// connect when it is nil.
	HostKeyCallback ssh.HostKeyCallback

	Dialer  transport.Dialer
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// DefaultOptions returns the stock tunables.  HostKeyCallback is left
// unset; see package hostkey.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:     30 * time.Second,
		KeepAliveInterval:  30 * time.Second,
		KeepAliveMaxMisses: 3,
		InactivityTimeout:  time.Hour,
		TerminalType:       telnet.DefaultTerminalType,
		BufferCapacity:     ringbuf.DefaultCapacity,
		FlowControl:        FlowAdvisory,
		VRP:                true,
		AutoPagination:     true,
		Dialer:             &transport.TCPDialer{Timeout: 30 * time.Second},
		Logger:             util.Nop(),
	}
}

// shutdownGrace bounds how long input queued before a disconnect may
// take to reach the device before the connection is closed under it.
const shutdownGrace = 250 * time.Millisecond

// closeOnShutdown runs closeFn shutdownGrace after ctx ends.  The
// returned stop func behaves like the one from context.AfterFunc.
func closeOnShutdown(ctx context.Context, closeFn func()) func() bool {
	return context.AfterFunc(ctx, func() {
		time.AfterFunc(shutdownGrace, closeFn)
	})
}

// engine is the per-session goroutine state shared by both protocols.
// Only the engine goroutine touches it.
type engine struct {
	h    *Handle
	emit Emitter
	opts Options
	log  *util.Logger

	buf    *ringbuf.Buffer
	ctrl   *ringbuf.Controller
	paused bool
}

func newEngine(h *Handle, emit Emitter, opts Options) *engine {
	buf := ringbuf.New(opts.BufferCapacity)
	return &engine{
		h:    h,
		emit: emit,
		opts: opts,
		log: opts.Logger.With("session_id", h.ID).
			With("protocol", string(h.Config.Protocol)).
			With("addr", h.Config.Address()),
		buf:  buf,
		ctrl: ringbuf.NewController(buf, h.backpressure),
	}
}

// run drives one session to completion.  Whatever happens, including a
// panic in protocol code, it ends by reporting exactly one terminal
// state, removing the handle and closing done.
func (e *engine) run(reg *Registry) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = vrperr.Wrap(vrperr.KindChannelError, e.h.ID, "engine", fmt.Errorf("panic: %v", p))
			e.log.Error().Str("stack", string(debug.Stack())).Msgf("engine panic: %v", p)
		}
		e.finish(reg, err)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-e.h.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	e.opts.Metrics.SessionOpened()
	e.setState(StateConnecting)

	switch e.h.Config.Protocol {
	case SSH:
		err = e.runSSH(ctx)
	case Telnet:
		err = e.runTelnet(ctx)
	default:
		err = vrperr.Wrap(vrperr.KindConnectionFailed, e.h.ID, "create",
			fmt.Errorf("unsupported protocol %q", e.h.Config.Protocol))
	}
	if err != nil && ctx.Err() != nil {
		// Disconnected while still connecting.
		e.log.Verbose().Err(err).Msg("connect abandoned")
		err = nil
	}
}

func (e *engine) finish(reg *Registry, err error) {
	final := StateDisconnected
	if err != nil {
		final = StateError
		e.log.Error().Err(err).Msg("session failed")
		e.opts.Metrics.RecordError(err.Error())
	} else {
		e.log.Info().Msg("session closed")
	}

	e.h.state.Store(final)
	e.emit.State(e.h.ID, final)
	reg.sessions.CompareAndDelete(e.h.ID, e.h)
	e.opts.Metrics.SessionClosed()

	if err == nil {
		err = vrperr.Closed(e.h.ID, "connect")
	}
	e.h.signalReady(err)
	close(e.h.done)
}

func (e *engine) setState(s State) {
	e.h.state.Store(s)
	e.log.Verbose().Str("state", string(s)).Msg("state change")
	e.emit.State(e.h.ID, s)
	if s == StateReady {
		e.h.signalReady(nil)
	}
}

// failure classifies err for op, preferring cancellation and timeout
// when ctx explains it.
func (e *engine) failure(ctx context.Context, kind vrperr.Kind, op string, err error) error {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		kind = vrperr.KindTimeout
	case ctx.Err() != nil:
		kind = vrperr.KindCancelled
	}
	return vrperr.Wrap(kind, e.h.ID, op, err)
}

// deliver forwards device output to the consumer and accounts for it in
// the ring buffer until the consumer acknowledges it.
func (e *engine) deliver(p []byte) {
	e.emit.Data(e.h.ID, p)
	if !e.buf.Push(p) {
		e.log.Debug().Int("queued", e.buf.Len()).Msg("output buffer over capacity")
	}
	e.ctrl.Check()
}

// drained handles a consumer acknowledgement.
func (e *engine) drained() {
	n := e.buf.DrainAll()
	e.log.Debug().Int("bytes", n).Msg("consumer drained")
	e.ctrl.Check()
}

// backpressure handles a controller transition.
func (e *engine) backpressure(paused bool) {
	if paused {
		e.opts.Metrics.BackpressurePause()
		e.log.Verbose().Float64("fill_pct", e.buf.FillPercent()).Msg("consumer behind, backpressure on")
	} else {
		e.log.Verbose().Msg("consumer caught up, backpressure off")
	}
	e.emit.Backpressure(e.h.ID, paused)
	if e.opts.FlowControl == FlowPause {
		e.paused = paused
	}
}

// inbound returns ch, or nil while reading is paused so the select in
// the engine loop stops consuming device output.
func (e *engine) inbound(ch <-chan util.Chunk) <-chan util.Chunk {
	if e.paused {
		return nil
	}
	return ch
}
