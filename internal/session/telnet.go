package session

import (
	"context"
	"io"
	"net"

	vrperr "vrpterm/internal/errors"
	"vrpterm/internal/telnet"
	"vrpterm/internal/transport"
	"vrpterm/internal/vrp"
	"vrpterm/util"
)

// runTelnet is the Telnet engine loop.  There is no handshake: the
// session is ready as soon as the TCP connection is up, and option
// negotiation happens in-band as the device asks.
func (e *engine) runTelnet(ctx context.Context) error {
	cfg := e.h.Config

	// A bad charset fails the session before anything reports ready.
	var interp *vrp.Interpreter
	if e.opts.VRP {
		var err error
		interp, err = vrp.New(e.opts.Charset)
		if err != nil {
			return vrperr.Wrap(vrperr.KindConnectionFailed, e.h.ID, "vrp", err)
		}
		interp.SetAutoPagination(e.opts.AutoPagination)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, e.opts.ConnectTimeout)
	conn, err := e.opts.Dialer.Dial(dialCtx, "tcp", cfg.Address())
	if err != nil {
		err = e.failure(dialCtx, vrperr.KindConnectionFailed, "dial", err)
		cancelDial()
		return err
	}
	cancelDial()
	defer conn.Close()
	// Closing the connection on shutdown unblocks any pending write.
	stop := closeOnShutdown(ctx, func() { conn.Close() })
	defer stop()

	e.log.Info().Msg("telnet connected")
	e.setState(StateConnected)
	e.setState(StateReady)

	parser := telnet.NewParser()
	neg := &telnet.Negotiator{
		TerminalType: e.opts.TerminalType,
		Cols:         uint16(cfg.Cols),
		Rows:         uint16(cfg.Rows),
	}

	chunks := make(chan util.Chunk, 16)
	done := make(chan struct{})
	defer close(done)
	go util.PumpReader(conn, chunks, done)

	for {
		select {
		case c, ok := <-e.inbound(chunks):
			if !ok {
				return nil
			}
			if c.Err != nil {
				return e.readFailure(ctx, c.Err)
			}
			e.opts.Metrics.BytesReceived(int64(len(c.Data)))

			data, cmds := parser.Parse(c.Data)
			if resp := neg.Respond(cmds); len(resp) > 0 {
				e.log.Debug().Int("commands", len(cmds)).Msg("telnet negotiation")
				if err := e.write(conn, resp); err != nil {
					e.log.Warn().Err(err).Msg("sending negotiation response")
				}
			}
			if len(data) == 0 {
				continue
			}

			if interp != nil {
				events, reply := interp.Feed(data)
				for _, ev := range events {
					e.emit.VRP(e.h.ID, ev)
				}
				if reply != nil {
					if err := e.write(conn, reply); err != nil {
						e.log.Warn().Err(err).Msg("sending pagination reply")
					}
				}
			}
			e.deliver(data)

		case p := <-e.h.input:
			if err := e.write(conn, p); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return vrperr.Wrap(vrperr.KindIoError, e.h.ID, "write", err)
			}

		case sz := <-e.h.resize:
			neg.Cols, neg.Rows = uint16(sz.Cols), uint16(sz.Rows)
			e.log.Debug().Int("cols", sz.Cols).Int("rows", sz.Rows).Msg("resize")
			if err := e.write(conn, telnet.NAWS(neg.Cols, neg.Rows)); err != nil {
				e.log.Warn().Err(err).Msg("sending window size")
			}

		case on := <-e.h.autoPag:
			if interp != nil {
				interp.SetAutoPagination(on)
			}

		case <-e.h.drain:
			e.drained()

		case paused := <-e.h.backpressure:
			e.backpressure(paused)

		case <-ctx.Done():
			e.log.Verbose().Msg("shutdown requested")
			e.flushInput(conn)
			return nil
		}
	}
}

// write sends p to the device, counting it.
func (e *engine) write(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	e.opts.Metrics.BytesSent(int64(n))
	return err
}

// flushInput writes whatever input is still queued, in order.  Bytes a
// caller sent before Disconnect are not lost.
func (e *engine) flushInput(w io.Writer) {
	for {
		select {
		case p := <-e.h.input:
			if err := e.write(w, p); err != nil {
				e.log.Debug().Err(err).Msg("flushing input")
				return
			}
		default:
			return
		}
	}
}

// readFailure maps the error that ended a device read.  A remote close
// or a local shutdown is a clean end of session.
func (e *engine) readFailure(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil, util.IsClosedErr(err):
		e.log.Verbose().Msg("connection closed")
		return nil
	case transport.IsTimeout(err):
		return vrperr.Wrap(vrperr.KindTimeout, e.h.ID, "read", err)
	}
	var opErr *net.OpError
	if vrperr.As(err, &opErr) {
		return vrperr.Wrap(vrperr.KindIoError, e.h.ID, opErr.Op, err)
	}
	return vrperr.Wrap(vrperr.KindIoError, e.h.ID, "read", err)
}
