package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"

	"vrpterm/util"
)

// JumpDialer routes connections through an SSH bastion using
// direct-tcpip channels.  The bastion connection is established lazily
// on the first Dial, shared by every session dialled through it, and
// re-established if it has died.
type JumpDialer struct {
	Addr   string            // bastion host:port
	Config *ssh.ClientConfig // auth and host-key policy for the bastion
	Base   Dialer            // dialer used to reach the bastion itself
	Logger *util.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// connect returns the shared bastion client, dialling it if needed.
func (d *JumpDialer) connect(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	d.Logger.Verbose().Str("jump", d.Addr).Str("user", d.Config.User).Msg("establishing jump host connection")

	conn, err := d.Base.Dial(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("jump host %s: %w", d.Addr, err)
	}

	// ssh.NewClientConn has no context parameter; closing the conn on
	// cancellation unblocks the handshake.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, d.Addr, d.Config)
	if !stop() && err == nil {
		c.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jump host %s: %w", d.Addr, err)
	}

	client := ssh.NewClient(c, chans, reqs)
	d.client = client
	go func() {
		client.Wait() //nolint:errcheck
		d.mu.Lock()
		if d.client == client {
			d.client = nil
		}
		d.mu.Unlock()
		d.Logger.Verbose().Str("jump", d.Addr).Msg("jump host connection closed")
	}()

	d.Logger.Verbose().Str("jump", d.Addr).Msg("jump host connection established")
	return client, nil
}

// Dial opens a direct-tcpip channel from the bastion to address.
func (d *JumpDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("via %s: %w", d.Addr, err)
	}
	return conn, nil
}

// Close tears down the bastion connection.  Channels opened through it
// are closed with it.
func (d *JumpDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}
