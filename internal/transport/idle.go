package transport

import (
	"errors"
	"net"
	"time"
)

// IdleConn closes the read side of a connection that has seen no
// inbound traffic for Timeout.  Every Read pushes the deadline forward,
// so a Read that returns a timeout error means the link went silent.
type IdleConn struct {
	net.Conn
	Timeout time.Duration
}

// WithIdleTimeout wraps conn.  A zero timeout returns conn unchanged.
func WithIdleTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &IdleConn{Conn: conn, Timeout: timeout}
}

func (c *IdleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// IsTimeout reports whether err is a network timeout, such as the one
// an IdleConn returns when its deadline passes.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
