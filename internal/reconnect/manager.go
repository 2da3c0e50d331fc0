package reconnect

import (
	"context"
	"errors"
	"sort"
	"sync"

	vrperr "vrpterm/internal/errors"
	"vrpterm/internal/session"
)

var errInProgress = errors.New("reconnect already in progress")

// Manager tracks the running controllers, keyed by the id of the
// session being replaced.
type Manager struct {
	reg    Launcher
	emit   session.Emitter
	opts   Options
	active sync.Map // old id -> *Controller
}

// NewManager returns a Manager launching attempts through reg.
func NewManager(reg Launcher, emit session.Emitter, opts Options) *Manager {
	if emit == nil {
		emit = session.NopEmitter{}
	}
	return &Manager{reg: reg, emit: emit, opts: opts.withDefaults()}
}

// Reconnect blocks until session id has been replaced and returns the
// new id.  A nil policy means DefaultPolicy.  Only one reconnect per id
// may run at a time.
func (m *Manager) Reconnect(ctx context.Context, id string, cfg session.Config, p *Policy) (string, error) {
	policy := p.WithDefaults()
	if err := policy.Validate(); err != nil {
		return "", err
	}
	if err := cfg.WithDefaults().Validate(); err != nil {
		return "", err
	}

	c := NewController(id, cfg.WithDefaults(), policy, m.reg, m.emit, m.opts)
	if _, loaded := m.active.LoadOrStore(id, c); loaded {
		return "", vrperr.Wrap(vrperr.KindChannelError, id, "reconnect", errInProgress)
	}
	defer m.active.CompareAndDelete(id, c)

	return c.Run(ctx)
}

// Cancel stops the reconnect of id.  It reports whether one was
// running.
func (m *Manager) Cancel(id string) bool {
	v, ok := m.active.Load(id)
	if !ok {
		return false
	}
	return v.(*Controller).Cancel()
}

// Active lists the ids currently being reconnected.
func (m *Manager) Active() []string {
	var ids []string
	m.active.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}
