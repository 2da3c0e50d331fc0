package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	vrperr "vrpterm/internal/errors"
	"vrpterm/internal/hostkey"
	"vrpterm/internal/transport"
	"vrpterm/util"
)

const keepaliveRequest = "keepalive@openssh.com"

var errNoHostKeyPolicy = errors.New("no host key verification configured")

// runSSH is the SSH engine loop: dial, handshake with password auth,
// open a PTY shell and shuttle bytes until either side closes.
func (e *engine) runSSH(ctx context.Context) error {
	cfg := e.h.Config
	addr := cfg.Address()

	if e.opts.HostKeyCallback == nil {
		return vrperr.Wrap(vrperr.KindConnectionFailed, e.h.ID, "hostkey", errNoHostKeyPolicy)
	}

	// The connect timeout covers both the TCP dial and the handshake.
	dialCtx, cancelDial := context.WithTimeout(ctx, e.opts.ConnectTimeout)
	defer cancelDial()

	conn, err := e.opts.Dialer.Dial(dialCtx, "tcp", addr)
	if err != nil {
		return e.failure(dialCtx, vrperr.KindConnectionFailed, "dial", err)
	}
	conn = transport.WithIdleTimeout(conn, e.opts.InactivityTimeout)
	e.setState(StateConnected)

	e.setState(StateAuthenticating)
	clientCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
			// Many network devices only offer keyboard-interactive and
			// ask a single "Password:" question.
			ssh.KeyboardInteractive(answerWith(cfg.Password)),
		},
		HostKeyCallback: e.opts.HostKeyCallback,
		Timeout:         e.opts.ConnectTimeout,
	}

	// ssh.NewClientConn has no context parameter; closing the conn on
	// cancellation unblocks the handshake.
	stopHandshake := context.AfterFunc(dialCtx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if !stopHandshake() && err == nil {
		c.Close()
		err = dialCtx.Err()
	}
	if err != nil {
		conn.Close()
		return e.handshakeFailure(dialCtx, err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()
	stop := closeOnShutdown(ctx, func() { client.Close() })
	defer stop()

	sess, err := client.NewSession()
	if err != nil {
		return e.failure(ctx, vrperr.KindChannelError, "session", err)
	}
	defer sess.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(e.opts.TerminalType, cfg.Rows, cfg.Cols, modes); err != nil {
		return e.failure(ctx, vrperr.KindChannelError, "pty", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		return e.failure(ctx, vrperr.KindChannelError, "stdin", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return e.failure(ctx, vrperr.KindChannelError, "stdout", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return e.failure(ctx, vrperr.KindChannelError, "stderr", err)
	}
	if err := sess.Shell(); err != nil {
		return e.failure(ctx, vrperr.KindChannelError, "shell", err)
	}

	e.log.Info().Str("user", cfg.Username).Msg("ssh session ready")
	e.setState(StateReady)

	done := make(chan struct{})
	defer close(done)

	out := make(chan util.Chunk, 16)
	errOut := make(chan util.Chunk, 16)
	go util.PumpReader(stdout, out, done)
	go util.PumpReader(stderr, errOut, done)

	kaFailed := make(chan error, 1)
	if e.opts.KeepAliveInterval > 0 {
		go e.keepalive(client, kaFailed, done)
	}

	for {
		select {
		case c, ok := <-e.inbound(out):
			if !ok {
				return nil
			}
			if c.Err != nil {
				return e.readFailure(ctx, c.Err)
			}
			e.opts.Metrics.BytesReceived(int64(len(c.Data)))
			e.deliver(c.Data)

		case c, ok := <-errOut:
			if !ok || c.Err != nil {
				errOut = nil
				continue
			}
			e.opts.Metrics.BytesReceived(int64(len(c.Data)))
			e.emit.Data(e.h.ID, c.Data)

		case p := <-e.h.input:
			if err := e.write(stdin, p); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return vrperr.Wrap(vrperr.KindIoError, e.h.ID, "write", err)
			}

		case sz := <-e.h.resize:
			e.log.Debug().Int("cols", sz.Cols).Int("rows", sz.Rows).Msg("resize")
			if err := sess.WindowChange(sz.Rows, sz.Cols); err != nil {
				e.log.Warn().Err(err).Msg("sending window change")
			}

		case <-e.h.autoPag:
			// The registry rejects this for SSH sessions.

		case <-e.h.drain:
			e.drained()

		case paused := <-e.h.backpressure:
			e.backpressure(paused)

		case err := <-kaFailed:
			return vrperr.Wrap(vrperr.KindChannelError, e.h.ID, "keepalive", err)

		case <-ctx.Done():
			e.log.Verbose().Msg("shutdown requested")
			e.flushInput(stdin)
			return nil
		}
	}
}

// keepalive probes the server every interval.  A probe that fails or
// gets no reply within the interval is a miss; KeepAliveMaxMisses
// misses in a row are reported on failed.
func (e *engine) keepalive(client *ssh.Client, failed chan<- error, done <-chan struct{}) {
	ticker := time.NewTicker(e.opts.KeepAliveInterval)
	defer ticker.Stop()

	maxMisses := e.opts.KeepAliveMaxMisses
	if maxMisses < 1 {
		maxMisses = 1
	}

	misses := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		reply := make(chan error, 1)
		go func() {
			// A "false" reply still proves the peer is alive.
			_, _, err := client.SendRequest(keepaliveRequest, true, nil)
			reply <- err
		}()

		var err error
		select {
		case err = <-reply:
		case <-time.After(e.opts.KeepAliveInterval):
			err = fmt.Errorf("no reply within %s", e.opts.KeepAliveInterval)
		case <-done:
			return
		}

		if err == nil {
			misses = 0
			e.log.Debug().Msg("keepalive ok")
			continue
		}
		misses++
		e.log.Warn().Err(err).Int("misses", misses).Msg("keepalive missed")
		if misses >= maxMisses {
			failed <- fmt.Errorf("%d keepalives missed: %w", misses, err)
			return
		}
	}
}

// handshakeFailure classifies an error from the SSH handshake.
func (e *engine) handshakeFailure(ctx context.Context, err error) error {
	var rej *hostkey.RejectedError
	switch {
	case errors.As(err, &rej):
		return vrperr.Wrap(vrperr.KindConnectionFailed, e.h.ID, "hostkey", rej)
	case strings.Contains(err.Error(), "unable to authenticate"):
		return vrperr.Wrap(vrperr.KindAuthenticationFailed, e.h.ID, "auth", err)
	}
	return e.failure(ctx, vrperr.KindConnectionFailed, "handshake", err)
}

// answerWith answers every keyboard-interactive question with password.
func answerWith(password string) ssh.KeyboardInteractiveChallenge {
	return func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}
