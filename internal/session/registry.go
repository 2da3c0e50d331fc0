package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	vrperr "vrpterm/internal/errors"
	"vrpterm/internal/transport"
	"vrpterm/util"
)

// Registry maps session ids to running engines.  It is safe for
// concurrent use.  Individual operations are atomic per key; there is
// no atomicity across keys (Len and IDs are snapshots).
type Registry struct {
	sessions sync.Map // id -> *Handle
	emit     Emitter
	opts     atomic.Pointer[Options]
	wg       sync.WaitGroup
}

// NewRegistry returns an empty registry reporting to emit.
func NewRegistry(emit Emitter, opts Options) *Registry {
	if emit == nil {
		emit = NopEmitter{}
	}
	r := &Registry{emit: emit}
	r.SetOptions(opts)
	return r
}

// SetOptions replaces the engine tunables.  Running sessions keep the
// options they started with.
func (r *Registry) SetOptions(opts Options) {
	if opts.Dialer == nil {
		opts.Dialer = &transport.TCPDialer{Timeout: opts.ConnectTimeout}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = util.Nop()
	}
	if opts.FlowControl == "" {
		opts.FlowControl = FlowAdvisory
	}
	r.opts.Store(&opts)
}

// Options returns the current engine tunables.
func (r *Registry) Options() Options { return *r.opts.Load() }

// Emitter returns the emitter sessions report to.
func (r *Registry) Emitter() Emitter { return r.emit }

// Create validates cfg, starts a session for it under a fresh random id
// and returns the id.  The session connects in the background; its
// progress is reported through the Emitter.
func (r *Registry) Create(cfg Config) (string, error) {
	id := uuid.NewString()
	if _, err := r.start(id, cfg.WithDefaults()); err != nil {
		return "", err
	}
	return id, nil
}

// Launch starts a session under a caller-chosen id.  The returned
// channel yields nil once the session is ready, or the error that ended
// it first.  It yields exactly one value.
func (r *Registry) Launch(id string, cfg Config) <-chan error {
	ready, err := r.start(id, cfg.WithDefaults())
	if err != nil {
		ch := make(chan error, 1)
		ch <- err
		return ch
	}
	return ready
}

func (r *Registry) start(id string, cfg Config) (<-chan error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := newHandle(id, cfg)
	if _, loaded := r.sessions.LoadOrStore(id, h); loaded {
		return nil, vrperr.Wrap(vrperr.KindChannelError, id, "create", errIDInUse)
	}

	e := newEngine(h, r.emit, r.Options())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		e.run(r)
	}()
	return h.ready, nil
}

var errIDInUse = vrperr.New("session id already in use")

// Send queues p for the session's device.  Bytes from one caller are
// written in order.
func (r *Registry) Send(ctx context.Context, id string, p []byte) error {
	h, ok := r.Get(id)
	if !ok {
		return vrperr.NotFound(id, "send")
	}
	return send(ctx, h, "send", h.input, append([]byte(nil), p...))
}

// Resize changes the session's terminal size.
func (r *Registry) Resize(ctx context.Context, id string, cols, rows int) error {
	h, ok := r.Get(id)
	if !ok {
		return vrperr.NotFound(id, "resize")
	}
	if cols < 1 || rows < 1 || cols > 0xFFFF || rows > 0xFFFF {
		return &vrperr.ConfigError{Field: "size", Value: Size{cols, rows}, Message: "terminal size out of range"}
	}
	return send(ctx, h, "resize", h.resize, Size{Cols: cols, Rows: rows})
}

// SetAutoPagination toggles automatic "---- More ----" handling.  Only
// Telnet sessions interpret VRP output.
func (r *Registry) SetAutoPagination(ctx context.Context, id string, enabled bool) error {
	h, ok := r.Get(id)
	if !ok {
		return vrperr.NotFound(id, "set_auto_pagination")
	}
	if h.Config.Protocol != Telnet {
		return vrperr.Wrap(vrperr.KindChannelError, id, "set_auto_pagination",
			vrperr.New("auto-pagination is only available on telnet sessions"))
	}
	return send(ctx, h, "set_auto_pagination", h.autoPag, enabled)
}

// NotifyDrained tells the session the consumer has displayed everything
// delivered so far.
func (r *Registry) NotifyDrained(ctx context.Context, id string) error {
	h, ok := r.Get(id)
	if !ok {
		return vrperr.NotFound(id, "buffer_drained")
	}
	return send(ctx, h, "buffer_drained", h.drain, struct{}{})
}

// Disconnect removes the session and asks its engine to stop.  Of two
// racing calls for the same id exactly one succeeds; the other gets a
// NotFound error.
func (r *Registry) Disconnect(id string) error {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return vrperr.NotFound(id, "disconnect")
	}
	v.(*Handle).Close()
	return nil
}

// Get returns the handle for id.
func (r *Registry) Get(id string) (*Handle, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// Insert stores h, replacing any handle with the same id.
func (r *Registry) Insert(h *Handle) { r.sessions.Store(h.ID, h) }

// Remove deletes and returns the handle for id without stopping it.
func (r *Registry) Remove(id string) (*Handle, bool) {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// IDs returns the registered session ids, sorted.
func (r *Registry) IDs() []string {
	var ids []string
	r.sessions.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// Info is a read-only summary of a session.
type Info struct {
	ID        string    `json:"id"`
	Protocol  Protocol  `json:"protocol"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username,omitempty"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// List summarises every registered session, oldest first.
func (r *Registry) List() []Info {
	var out []Info
	r.sessions.Range(func(_, v any) bool {
		h := v.(*Handle)
		out = append(out, Info{
			ID:        h.ID,
			Protocol:  h.Config.Protocol,
			Host:      h.Config.Host,
			Port:      h.Config.Port,
			Username:  h.Config.Username,
			State:     h.State(),
			CreatedAt: h.CreatedAt,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Shutdown disconnects every session and waits for all engines to exit
// or for ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	for _, id := range r.IDs() {
		r.Disconnect(id) //nolint:errcheck
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
