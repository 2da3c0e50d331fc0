package reconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	vrperr "vrpterm/internal/errors"
	"vrpterm/internal/metrics"
	"vrpterm/internal/session"
	"vrpterm/util"
)

// DefaultAttemptTimeout bounds one connection attempt.
const DefaultAttemptTimeout = 30 * time.Second

var errAborted = errors.New("attempt aborted")

// Status is the progress report emitted under the old session id.
type Status = session.ReconnectStatus

// Launcher starts and stops sessions.  *session.Registry satisfies it.
type Launcher interface {
	Launch(id string, cfg session.Config) <-chan error
	Disconnect(id string) error
}

// Options tune every Controller a Manager runs.
type Options struct {
	AttemptTimeout time.Duration
	Logger         *util.Logger
	Metrics        *metrics.Collector
	// NewID generates the id for each attempt (default uuid v4).
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	if o.Logger == nil {
		o.Logger = util.Nop()
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Controller runs the retry loop for one dropped session.  It is used
// once: create it, call Run, optionally Cancel from another goroutine.
type Controller struct {
	id     string
	cfg    session.Config
	policy Policy
	reg    Launcher
	emit   session.Emitter
	opts   Options
	log    *util.Logger

	cancel     chan struct{}
	cancelOnce sync.Once

	mu       sync.Mutex
	finished bool
}

// NewController prepares a reconnect of session id.  The policy is
// used as given; see Policy.WithDefaults.
func NewController(id string, cfg session.Config, policy Policy, reg Launcher, emit session.Emitter, opts Options) *Controller {
	if emit == nil {
		emit = session.NopEmitter{}
	}
	opts = opts.withDefaults()
	return &Controller{
		id:     id,
		cfg:    cfg.Clone(),
		policy: policy,
		reg:    reg,
		emit:   emit,
		opts:   opts,
		log:    opts.Logger.With("session_id", id),
		cancel: make(chan struct{}),
	}
}

// Cancel stops the loop.  It reports false if the controller was
// already cancelled or Run has finished.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return false
	}
	cancelled := false
	c.cancelOnce.Do(func() {
		close(c.cancel)
		cancelled = true
	})
	return cancelled
}

// Run retries until a session reaches Ready and returns its id.  State
// and status events are reported under the old id: reconnecting first,
// then disconnected on cancellation or error once attempts run out
// (with a *errors.ReconnectError).  Cancelling ctx is the same as
// calling Cancel.
func (c *Controller) Run(ctx context.Context) (string, error) {
	defer c.finish()
	p := c.policy
	c.emit.State(c.id, session.StateReconnecting)
	c.log.Info().Str("policy", p.String()).Msg("reconnecting")

	var last error
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		delay := p.Delay(attempt)
		c.emit.Reconnect(c.id, c.status(attempt, delay, last))
		c.log.Info().
			Int("attempt", attempt).
			Int("max_attempts", p.MaxRetries).
			Dur("delay", delay).
			Msg("reconnect attempt scheduled")

		timer := time.NewTimer(p.wait(attempt))
		select {
		case <-timer.C:
		case <-c.cancel:
			timer.Stop()
			return "", c.cancelled(attempt)
		case <-ctx.Done():
			timer.Stop()
			return "", c.cancelled(attempt)
		}

		newID := c.opts.NewID()
		c.opts.Metrics.ReconnectAttempt()
		err := c.attempt(ctx, newID)
		if errors.Is(err, errAborted) {
			return "", c.cancelled(attempt)
		}
		if err == nil && !c.finish() {
			// Cancelled while the new session came up.
			c.abandon(newID)
			return "", c.cancelled(attempt)
		}
		if err == nil {
			c.opts.Metrics.ReconnectSuccess()
			c.log.Info().Str("new_session_id", newID).Int("attempt", attempt).Msg("reconnected")
			return newID, nil
		}

		last = err
		var next time.Duration
		if attempt < p.MaxRetries {
			next = p.Delay(attempt + 1)
		}
		c.emit.Reconnect(c.id, c.status(attempt, next, last))
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
	}

	c.log.Error().Int("attempts", p.MaxRetries).Msg("reconnect failed after all attempts")
	c.emit.State(c.id, session.StateError)
	return "", &vrperr.ReconnectError{Attempts: p.MaxRetries, Last: last}
}

// attempt launches one session and waits for its readiness signal.  It
// returns errAborted when the caller cancelled meanwhile.  A session
// that is abandoned (timeout or cancel) is disconnected so it does not
// linger in the registry.
func (c *Controller) attempt(ctx context.Context, newID string) error {
	ready := c.reg.Launch(newID, c.cfg.Clone())

	timer := time.NewTimer(c.opts.AttemptTimeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		return err
	case <-timer.C:
		c.abandon(newID)
		return vrperr.Wrap(vrperr.KindTimeout, newID, "reconnect",
			fmt.Errorf("no result within %s", c.opts.AttemptTimeout))
	case <-c.cancel:
	case <-ctx.Done():
	}
	c.abandon(newID)
	return errAborted
}

// finish marks the controller finished so later Cancel calls report
// false.  It reports whether Cancel had not been called before.
func (c *Controller) finish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
	select {
	case <-c.cancel:
		return false
	default:
		return true
	}
}

func (c *Controller) abandon(id string) {
	if err := c.reg.Disconnect(id); err != nil {
		c.log.Debug().Err(err).Str("attempt_session_id", id).Msg("abandoned attempt already gone")
	}
}

func (c *Controller) cancelled(attempt int) error {
	c.log.Info().Int("attempt", attempt).Msg("reconnect cancelled")
	c.emit.State(c.id, session.StateDisconnected)
	return vrperr.Wrap(vrperr.KindCancelled, c.id, "reconnect", nil)
}

func (c *Controller) status(attempt int, next time.Duration, last error) Status {
	st := Status{
		Attempt:     attempt,
		MaxAttempts: c.policy.MaxRetries,
		NextRetryMS: next.Milliseconds(),
	}
	if last != nil {
		st.LastError = last.Error()
	}
	return st
}
