package ringbuf

import "sync"

// Controller turns a Buffer's fill level into edge-triggered
// pause/resume signals.  It enters the paused state at the high
// watermark and leaves it only at the low watermark, so a level that
// oscillates between the two never flaps.
type Controller struct {
	buf *Buffer

	mu     sync.Mutex
	paused bool
	notify chan<- bool
}

// NewController watches buf.  If notify is non-nil, each transition
// also sends the new paused state on it without blocking; a full
// channel drops the signal, which Check's return value still reports.
func NewController(buf *Buffer, notify chan<- bool) *Controller {
	return &Controller{buf: buf, notify: notify}
}

// Check re-evaluates the fill level.  It returns changed=true exactly
// when the paused state flipped during this call.
func (c *Controller) Check() (paused, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case !c.paused && c.buf.ShouldPause():
		c.paused = true
		changed = true
	case c.paused && c.buf.CanResume():
		c.paused = false
		changed = true
	}
	if changed && c.notify != nil {
		select {
		case c.notify <- c.paused:
		default:
		}
	}
	return c.paused, changed
}

// Paused reports the current state without re-evaluating it.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Buffer returns the watched buffer.
func (c *Controller) Buffer() *Buffer { return c.buf }
