package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vrpterm/internal/vrp"
	"vrpterm/util"
)

const waitFor = 5 * time.Second

// recorder is an Emitter that keeps everything it is told.
type recorder struct {
	mu     sync.Mutex
	data   map[string][]byte
	states map[string][]State
	vrp    map[string][]vrp.Event
	bp     map[string][]bool
	recon  map[string][]ReconnectStatus
}

func newRecorder() *recorder {
	return &recorder{
		data:   map[string][]byte{},
		states: map[string][]State{},
		vrp:    map[string][]vrp.Event{},
		bp:     map[string][]bool{},
		recon:  map[string][]ReconnectStatus{},
	}
}

func (r *recorder) Data(id string, p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[id] = append(r.data[id], p...)
}

func (r *recorder) State(id string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[id] = append(r.states[id], s)
}

func (r *recorder) Reconnect(id string, st ReconnectStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recon[id] = append(r.recon[id], st)
}

func (r *recorder) VRP(id string, ev vrp.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vrp[id] = append(r.vrp[id], ev)
}

func (r *recorder) Backpressure(id string, paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bp[id] = append(r.bp[id], paused)
}

func (r *recorder) dataOf(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.data[id])
}

func (r *recorder) statesOf(id string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states[id]...)
}

func (r *recorder) vrpOf(id string) []vrp.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]vrp.Event(nil), r.vrp[id]...)
}

func (r *recorder) bpOf(id string) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.bp[id]...)
}

func (r *recorder) lastState(id string) State {
	s := r.statesOf(id)
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func (r *recorder) waitState(t *testing.T, id string, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return r.lastState(id) == want },
		waitFor, 5*time.Millisecond, "session %s never reached %s", id, want)
}

func (r *recorder) waitData(t *testing.T, id string, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return r.dataOf(id) == want },
		waitFor, 5*time.Millisecond, "never received %q", want)
}

// device is a fake Telnet device: a loopback listener that hands the
// test each accepted connection.
type device struct {
	ln    net.Listener
	conns chan net.Conn
}

func newDevice(t *testing.T) *device {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	d := &device{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			d.conns <- c
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *device) port() int { return d.ln.Addr().(*net.TCPAddr).Port }

func (d *device) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-d.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(waitFor):
		t.Fatal("no connection from the engine")
		return nil
	}
}

// readN reads exactly n bytes from c.
func readN(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(waitFor)) //nolint:errcheck
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := c.Read(buf[got:])
		require.NoError(t, err, "read %d/%d bytes: %q", got, n, buf[:got])
		got += m
	}
	return buf
}

func testOptions() Options {
	o := DefaultOptions()
	o.ConnectTimeout = 2 * time.Second
	o.Logger = util.Nop()
	return o
}

func telnetConfig(port int) Config {
	return Config{Host: "127.0.0.1", Port: port, Protocol: Telnet}
}
