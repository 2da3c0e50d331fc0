package reconnect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vrperr "vrpterm/internal/errors"
	"vrpterm/internal/metrics"
	"vrpterm/internal/session"
	"vrpterm/util"
)

const waitFor = 5 * time.Second

// fakeLauncher answers each Launch with the next canned result.  Once
// the results run out, launched sessions never become ready.
type fakeLauncher struct {
	mu           sync.Mutex
	results      []error
	launched     []string
	disconnected []string
}

func (f *fakeLauncher) Launch(id string, _ session.Config) <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.launched)
	f.launched = append(f.launched, id)
	if n >= len(f.results) {
		return make(chan error)
	}
	ch := make(chan error, 1)
	ch <- f.results[n]
	return ch
}

func (f *fakeLauncher) Disconnect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, id)
	return nil
}

func (f *fakeLauncher) launches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.launched...)
}

func (f *fakeLauncher) disconnects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnected...)
}

// events records state and status events.
type events struct {
	session.NopEmitter
	mu       sync.Mutex
	states   []session.State
	statuses []Status
}

func (e *events) State(_ string, s session.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, s)
}

func (e *events) Reconnect(_ string, st Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = append(e.statuses, st)
}

func (e *events) snapshot() ([]session.State, []Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]session.State(nil), e.states...), append([]Status(nil), e.statuses...)
}

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2}
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("attempt-%d", n)
	}
}

func testConfig() session.Config {
	return session.Config{Host: "10.0.0.1", Protocol: session.Telnet}.WithDefaults()
}

func connFailed(id string) error {
	return vrperr.Wrap(vrperr.KindConnectionFailed, id, "dial", errors.New("connection refused"))
}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 3000 * time.Millisecond},
		{3, 4500 * time.Millisecond},
		{4, 6750 * time.Millisecond},
		{5, 10125 * time.Millisecond},
		{20, 60 * time.Second},
		{5000, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}

	prev := time.Duration(0)
	for n := 1; n <= 40; n++ {
		d := p.Delay(n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		assert.LessOrEqual(t, d, p.MaxDelay, "attempt %d", n)
		prev = d
	}
}

func TestPolicy_DelayTruncatesToMilliseconds(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1.15}
	assert.Equal(t, 11*time.Millisecond, p.Delay(2)) // 11.5ms
}

func TestPolicy_WithDefaults(t *testing.T) {
	var nilPolicy *Policy
	assert.Equal(t, *DefaultPolicy(), nilPolicy.WithDefaults())

	p := (&Policy{MaxRetries: 3}).WithDefaults()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 2*time.Second, p.InitialDelay)
	assert.Equal(t, 60*time.Second, p.MaxDelay)
	assert.Equal(t, 1.5, p.Multiplier)
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name      string
		policy    Policy
		wantField string
	}{
		{"default", *DefaultPolicy(), ""},
		{"no retries", Policy{MaxRetries: 0, Multiplier: 2}, "reconnect-retries"},
		{"negative delay", Policy{MaxRetries: 1, InitialDelay: -time.Second, Multiplier: 2}, "reconnect-delay"},
		{"shrinking", Policy{MaxRetries: 1, Multiplier: 0.5}, "reconnect-multiplier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ce *vrperr.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantField, ce.Field)
		})
	}
}

func TestPolicy_Jitter(t *testing.T) {
	p := Policy{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1, Jitter: true}
	for i := 0; i < 100; i++ {
		d := p.wait(1)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestController_SucceedsAfterFailures(t *testing.T) {
	reg := &fakeLauncher{results: []error{connFailed("attempt-1"), connFailed("attempt-2"), nil}}
	ev := &events{}
	m := metrics.New()
	c := NewController("old", testConfig(), fastPolicy(5), reg, ev, Options{Metrics: m, NewID: seqIDs()})

	newID, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "attempt-3", newID)
	assert.Equal(t, []string{"attempt-1", "attempt-2", "attempt-3"}, reg.launches())
	assert.Empty(t, reg.disconnects())

	states, statuses := ev.snapshot()
	assert.Equal(t, []session.State{session.StateReconnecting}, states)
	require.Len(t, statuses, 5)

	// Before each attempt: its own delay.  After a failure: the delay
	// before the next one, with the error.
	assert.Equal(t, Status{Attempt: 1, MaxAttempts: 5, NextRetryMS: 1}, statuses[0])
	assert.Equal(t, 1, statuses[1].Attempt)
	assert.EqualValues(t, 2, statuses[1].NextRetryMS)
	assert.Contains(t, statuses[1].LastError, "connection refused")
	assert.Equal(t, 2, statuses[2].Attempt)
	assert.EqualValues(t, 4, statuses[3].NextRetryMS)
	assert.Equal(t, 3, statuses[4].Attempt)

	assert.EqualValues(t, 3, m.ReconnectAttempts())
	assert.EqualValues(t, 1, m.ReconnectSuccesses())
}

func TestController_Exhausted(t *testing.T) {
	reg := &fakeLauncher{results: []error{connFailed("attempt-1"), connFailed("attempt-2")}}
	ev := &events{}
	c := NewController("old", testConfig(), fastPolicy(2), reg, ev, Options{NewID: seqIDs()})

	newID, err := c.Run(context.Background())
	assert.Empty(t, newID)

	var re *vrperr.ReconnectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 2, re.Attempts)
	assert.ErrorIs(t, err, vrperr.ErrConnectionFailed)
	assert.Contains(t, err.Error(), "after 2 attempts")

	states, statuses := ev.snapshot()
	assert.Equal(t, []session.State{session.StateReconnecting, session.StateError}, states)
	require.Len(t, statuses, 4)
	last := statuses[3]
	assert.Equal(t, 2, last.Attempt)
	assert.Zero(t, last.NextRetryMS)
	assert.NotEmpty(t, last.LastError)
}

func TestController_CancelDuringWait(t *testing.T) {
	reg := &fakeLauncher{}
	ev := &events{}
	p := Policy{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	c := NewController("old", testConfig(), p, reg, ev, Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background())
		errc <- err
	}()

	require.Eventually(t, func() bool {
		_, st := ev.snapshot()
		return len(st) == 1
	}, waitFor, time.Millisecond)
	assert.True(t, c.Cancel())
	assert.False(t, c.Cancel())

	select {
	case err := <-errc:
		assert.Equal(t, vrperr.KindCancelled, vrperr.KindOf(err))
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Cancel")
	}
	states, _ := ev.snapshot()
	assert.Equal(t, []session.State{session.StateReconnecting, session.StateDisconnected}, states)
	assert.Empty(t, reg.launches())
}

func TestController_CancelDuringAttempt(t *testing.T) {
	reg := &fakeLauncher{} // attempts never finish
	ev := &events{}
	c := NewController("old", testConfig(), fastPolicy(3), reg, ev, Options{NewID: seqIDs()})

	errc := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background())
		errc <- err
	}()

	require.Eventually(t, func() bool { return len(reg.launches()) == 1 }, waitFor, time.Millisecond)
	c.Cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, vrperr.ErrCancelled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Cancel")
	}
	assert.Equal(t, []string{"attempt-1"}, reg.disconnects())
}

func TestController_CancelAfterRunReportsFalse(t *testing.T) {
	reg := &fakeLauncher{results: []error{nil}}
	c := NewController("old", testConfig(), fastPolicy(3), reg, &events{}, Options{NewID: seqIDs()})

	newID, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "attempt-1", newID)
	assert.False(t, c.Cancel(), "nothing left to cancel")
	assert.Empty(t, reg.disconnects())
}

// cancellingLauncher cancels the controller while its attempt launches.
type cancellingLauncher struct {
	fakeLauncher
	c *Controller
}

func (l *cancellingLauncher) Launch(id string, cfg session.Config) <-chan error {
	l.c.Cancel()
	return l.fakeLauncher.Launch(id, cfg)
}

func TestController_CancelDuringSuccessfulLaunch(t *testing.T) {
	reg := &cancellingLauncher{fakeLauncher: fakeLauncher{results: []error{nil}}}
	ev := &events{}
	c := NewController("old", testConfig(), fastPolicy(3), reg, ev, Options{NewID: seqIDs()})
	reg.c = c

	newID, err := c.Run(context.Background())
	assert.Empty(t, newID)
	assert.ErrorIs(t, err, vrperr.ErrCancelled)
	assert.Equal(t, []string{"attempt-1"}, reg.disconnects(), "the session that came up is torn down")
	states, _ := ev.snapshot()
	assert.Equal(t, []session.State{session.StateReconnecting, session.StateDisconnected}, states)
}

func TestController_ContextCancel(t *testing.T) {
	reg := &fakeLauncher{}
	ev := &events{}
	p := Policy{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	c := NewController("old", testConfig(), p, reg, ev, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Run(ctx)
	assert.Equal(t, vrperr.KindCancelled, vrperr.KindOf(err))
}

func TestController_AttemptTimeout(t *testing.T) {
	reg := &fakeLauncher{}
	ev := &events{}
	c := NewController("old", testConfig(), fastPolicy(2), reg, ev, Options{
		AttemptTimeout: 10 * time.Millisecond,
		NewID:          seqIDs(),
	})

	_, err := c.Run(context.Background())
	var re *vrperr.ReconnectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, vrperr.KindTimeout, vrperr.KindOf(err))
	assert.Equal(t, []string{"attempt-1", "attempt-2"}, reg.disconnects())
}

func TestManager_Reconnect(t *testing.T) {
	t.Run("one per id", func(t *testing.T) {
		reg := &fakeLauncher{}
		p := Policy{MaxRetries: 1, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
		mgr := NewManager(reg, nil, Options{})

		errc := make(chan error, 1)
		go func() {
			_, err := mgr.Reconnect(context.Background(), "old", testConfig(), &p)
			errc <- err
		}()
		require.Eventually(t, func() bool { return len(mgr.Active()) == 1 }, waitFor, time.Millisecond)
		assert.Equal(t, []string{"old"}, mgr.Active())

		_, err := mgr.Reconnect(context.Background(), "old", testConfig(), &p)
		assert.ErrorIs(t, err, vrperr.ErrChannelError)

		assert.False(t, mgr.Cancel("other"))
		assert.True(t, mgr.Cancel("old"))
		assert.ErrorIs(t, <-errc, vrperr.ErrCancelled)
		assert.Empty(t, mgr.Active())
		assert.False(t, mgr.Cancel("old"))
	})

	t.Run("invalid input", func(t *testing.T) {
		mgr := NewManager(&fakeLauncher{}, nil, Options{})

		_, err := mgr.Reconnect(context.Background(), "old", testConfig(), &Policy{MaxRetries: -1})
		var ce *vrperr.ConfigError
		assert.ErrorAs(t, err, &ce)

		_, err = mgr.Reconnect(context.Background(), "old", session.Config{Protocol: session.SSH}, nil)
		assert.ErrorAs(t, err, &ce)
	})
}

func TestManager_ReconnectsThroughRegistry(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	opts := session.DefaultOptions()
	opts.Logger = util.Nop()
	reg := session.NewRegistry(nil, opts)
	defer reg.Shutdown(context.Background()) //nolint:errcheck

	ev := &events{}
	mgr := NewManager(reg, ev, Options{})
	cfg := session.Config{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, Protocol: session.Telnet}
	p := fastPolicy(3)

	newID, err := mgr.Reconnect(context.Background(), "old", cfg, &p)
	require.NoError(t, err)
	assert.NotEqual(t, "old", newID)

	h, ok := reg.Get(newID)
	require.True(t, ok)
	assert.Equal(t, session.StateReady, h.State())
}
