package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	vrperr "vrpterm/internal/errors"
)

// Endpoint capacities.
const (
	inputQueue        = 256
	resizeQueue       = 16
	drainQueue        = 16
	backpressureQueue = 16
	autoPagQueue      = 4
)

// Handle is the registry's view of a running engine: its identity, its
// last reported state and the channels that carry commands to it.
type Handle struct {
	ID        string
	Config    Config
	CreatedAt time.Time

	state atomic.Value // State

	input        chan []byte
	resize       chan Size
	drain        chan struct{}
	backpressure chan bool
	autoPag      chan bool

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{} // closed when the engine has exited

	ready     chan error // receives once: nil at Ready, or the failure
	readyOnce sync.Once
}

func newHandle(id string, cfg Config) *Handle {
	h := &Handle{
		ID:           id,
		Config:       cfg,
		CreatedAt:    time.Now(),
		input:        make(chan []byte, inputQueue),
		resize:       make(chan Size, resizeQueue),
		drain:        make(chan struct{}, drainQueue),
		backpressure: make(chan bool, backpressureQueue),
		autoPag:      make(chan bool, autoPagQueue),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		ready:        make(chan error, 1),
	}
	h.state.Store(StateConnecting)
	return h
}

// State returns the last state the engine reported.
func (h *Handle) State() State { return h.state.Load().(State) }

// Done is closed once the engine has exited and emitted its terminal
// state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close asks the engine to shut down.  It is idempotent.
func (h *Handle) Close() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}

func (h *Handle) signalReady(err error) {
	h.readyOnce.Do(func() { h.ready <- err })
}

// send delivers v on ch unless the engine has exited or ctx ends first.
func send[T any](ctx context.Context, h *Handle, op string, ch chan<- T, v T) error {
	select {
	case <-h.done:
		return vrperr.Closed(h.ID, op)
	default:
	}
	select {
	case ch <- v:
		return nil
	case <-h.done:
		return vrperr.Closed(h.ID, op)
	case <-ctx.Done():
		return vrperr.Wrap(vrperr.KindOf(ctx.Err()), h.ID, op, ctx.Err())
	}
}
