// Package transport provides abstractions for network connection
// establishment.  A transport reaches a device, directly over TCP or
// through an SSH jump host, independent of the protocol spoken over the
// connection.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and a jump-host dialer that routes traffic through
// an SSH bastion.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH client).  Stateless dialers return nil.
	Close() error
}
