package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"vrpterm/internal/sshtest"
	"vrpterm/util"
)

// greeter accepts one connection, writes msg and closes.
func greeter(t *testing.T, msg string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Write([]byte(msg)) //nolint:errcheck
			conn.Close()
		}
	}()
	return ln
}

// TestTCPDialer_Connect verifies that TCPDialer can reach a local
// TCP server and exchange data.
func TestTCPDialer_Connect(t *testing.T) {
	ln := greeter(t, "hello from server\n")
	defer ln.Close()

	d := &TCPDialer{Timeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hello from server\n", string(got))
}

// TestTCPDialer_ContextCancel verifies that a cancelled context stops the dial.
func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dial(ctx, "tcp", "127.0.0.1:1")
	assert.Error(t, err)
}

func TestTCPDialer_Close(t *testing.T) {
	d := &TCPDialer{}
	assert.NoError(t, d.Close())
}

func TestIdleConn_TimesOutSilentLink(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := WithIdleTimeout(client, 50*time.Millisecond)

	start := time.Now()
	_, err := conn.Read(make([]byte, 16))
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestIdleConn_TrafficExtendsDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := WithIdleTimeout(client, 100*time.Millisecond)
	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(50 * time.Millisecond)
			server.Write([]byte("x")) //nolint:errcheck
		}
	}()

	buf := make([]byte, 1)
	for i := 0; i < 3; i++ {
		_, err := conn.Read(buf)
		require.NoError(t, err, "read %d", i)
	}
}

func TestWithIdleTimeout_Zero(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	assert.Same(t, client, WithIdleTimeout(client, 0))
}

func TestJumpDialer_ForwardsThroughBastion(t *testing.T) {
	target := greeter(t, "<device>")
	defer target.Close()

	bastion, err := sshtest.NewServer("ops", "secret", nil)
	require.NoError(t, err)
	defer bastion.Close()

	d := &JumpDialer{
		Addr: bastion.Addr,
		Config: &ssh.ClientConfig{
			User:            "ops",
			Auth:            []ssh.AuthMethod{ssh.Password("secret")},
			HostKeyCallback: ssh.FixedHostKey(bastion.HostKey),
			Timeout:         2 * time.Second,
		},
		Base:   &TCPDialer{Timeout: 2 * time.Second},
		Logger: util.Nop(),
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		conn, err := d.Dial(ctx, "tcp", target.Addr().String())
		require.NoError(t, err)
		got, err := io.ReadAll(conn)
		require.NoError(t, err)
		assert.Equal(t, "<device>", string(got))
		conn.Close()
	}

	assert.Equal(t, 1, bastion.Logins(), "bastion connection must be shared")
	assert.Len(t, bastion.Forwards(), 2)
}

func TestJumpDialer_AuthFailure(t *testing.T) {
	bastion, err := sshtest.NewServer("ops", "secret", nil)
	require.NoError(t, err)
	defer bastion.Close()

	d := &JumpDialer{
		Addr: bastion.Addr,
		Config: &ssh.ClientConfig{
			User:            "ops",
			Auth:            []ssh.AuthMethod{ssh.Password("wrong")},
			HostKeyCallback: ssh.FixedHostKey(bastion.HostKey),
		},
		Base:   &TCPDialer{Timeout: 2 * time.Second},
		Logger: util.Nop(),
	}

	_, err = d.Dial(context.Background(), "tcp", "127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to authenticate")
	assert.NoError(t, d.Close())
}
