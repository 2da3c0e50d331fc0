package session

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	vrperr "vrpterm/internal/errors"
	"vrpterm/internal/metrics"
	"vrpterm/internal/telnet"
	"vrpterm/internal/vrp"
)

func TestTelnet_NegotiationAndVRP(t *testing.T) {
	dev := newDevice(t)
	rec := newRecorder()
	r := NewRegistry(rec, testOptions())
	ctx := context.Background()

	id, err := r.Create(telnetConfig(dev.port()))
	require.NoError(t, err)
	conn := dev.accept(t)
	rec.waitState(t, id, StateReady)

	// The device asks for window size and offers echo.
	_, err = conn.Write([]byte{telnet.IAC, telnet.DO, telnet.OptNAWS, telnet.IAC, telnet.WILL, telnet.OptEcho})
	require.NoError(t, err)

	want := append([]byte{telnet.IAC, telnet.WILL, telnet.OptNAWS}, telnet.NAWS(80, 24)...)
	want = append(want, telnet.IAC, telnet.DO, telnet.OptEcho)
	assert.Equal(t, want, readN(t, conn, len(want)))

	// Output reaches the consumer with negotiation bytes removed and
	// the prompt is recognised.
	_, err = conn.Write([]byte("Info: welcome\r\n<Huawei>"))
	require.NoError(t, err)
	rec.waitData(t, id, "Info: welcome\r\n<Huawei>")
	require.Eventually(t, func() bool { return len(rec.vrpOf(id)) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, vrp.Event{Type: vrp.EventViewChange, View: vrp.ViewUser, Hostname: "Huawei"}, rec.vrpOf(id)[0])

	// Input is written to the device.
	require.NoError(t, r.Send(ctx, id, []byte("display device\r\n")))
	assert.Equal(t, "display device\r\n", string(readN(t, conn, 16)))

	// A pagination prompt is answered with a space.
	_, err = conn.Write([]byte("0    -    SRUC    Present Master   192.168.1.1\r\n  ---- More ----"))
	require.NoError(t, err)
	assert.Equal(t, " ", string(readN(t, conn, 1)))

	// Resize sends NAWS straight away.
	require.NoError(t, r.Resize(ctx, id, 132, 50))
	assert.Equal(t, telnet.NAWS(132, 50), readN(t, conn, len(telnet.NAWS(132, 50))))

	byType := map[vrp.EventType]vrp.Event{}
	for _, ev := range rec.vrpOf(id) {
		byType[ev.Type] = ev
	}
	require.Len(t, byType, 3)
	require.NotNil(t, byType[vrp.EventBoardInfo].BoardInfo)
	assert.Equal(t, "SRUC", byType[vrp.EventBoardInfo].BoardType)
	assert.Equal(t, "192.168.1.1", byType[vrp.EventBoardInfo].IP)
	assert.True(t, byType[vrp.EventPagination].AutoHandled)

	require.NoError(t, r.Disconnect(id))
	rec.waitState(t, id, StateDisconnected)
	assert.Equal(t, []State{StateConnecting, StateConnected, StateReady, StateDisconnected}, rec.statesOf(id))
}

func TestTelnet_ManualPagination(t *testing.T) {
	dev := newDevice(t)
	rec := newRecorder()
	r := NewRegistry(rec, testOptions())
	ctx := context.Background()

	id, err := r.Create(telnetConfig(dev.port()))
	require.NoError(t, err)
	conn := dev.accept(t)
	rec.waitState(t, id, StateReady)

	require.NoError(t, r.SetAutoPagination(ctx, id, false))
	require.NoError(t, r.Send(ctx, id, []byte("x")))
	assert.Equal(t, "x", string(readN(t, conn, 1)))
	time.Sleep(20 * time.Millisecond)

	_, err = conn.Write([]byte("---- More ----"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.vrpOf(id)) == 1 }, waitFor, 5*time.Millisecond)
	assert.False(t, rec.vrpOf(id)[0].AutoHandled)

	// Nothing was written back.
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)) //nolint:errcheck
	n, _ := conn.Read(make([]byte, 1))
	assert.Zero(t, n)

	require.NoError(t, r.Disconnect(id))
}

func TestTelnet_RemoteCloseIsDisconnected(t *testing.T) {
	dev := newDevice(t)
	rec := newRecorder()
	m := metrics.New()
	opts := testOptions()
	opts.Metrics = m
	r := NewRegistry(rec, opts)

	id, err := r.Create(telnetConfig(dev.port()))
	require.NoError(t, err)
	conn := dev.accept(t)
	rec.waitState(t, id, StateReady)

	_, err = conn.Write([]byte("bye\r\n"))
	require.NoError(t, err)
	rec.waitData(t, id, "bye\r\n")
	conn.Close()

	rec.waitState(t, id, StateDisconnected)
	require.Eventually(t, func() bool { return r.Len() == 0 }, waitFor, 5*time.Millisecond)
	assert.EqualValues(t, 5, m.TotalBytesIn())
	assert.Zero(t, m.ActiveSessions())
	assert.Zero(t, m.ErrorCount())
}

func TestTelnet_EscapedIACReachesConsumer(t *testing.T) {
	dev := newDevice(t)
	rec := newRecorder()
	r := NewRegistry(rec, testOptions())

	id, err := r.Create(telnetConfig(dev.port()))
	require.NoError(t, err)
	conn := dev.accept(t)
	rec.waitState(t, id, StateReady)

	_, err = conn.Write([]byte{'a', telnet.IAC, telnet.IAC, 'b'})
	require.NoError(t, err)
	rec.waitData(t, id, "a\xffb")

	require.NoError(t, r.Disconnect(id))
}

func TestTelnet_BackpressureAdvisory(t *testing.T) {
	dev := newDevice(t)
	rec := newRecorder()
	opts := testOptions()
	opts.BufferCapacity = 100
	opts.VRP = false
	r := NewRegistry(rec, opts)
	ctx := context.Background()

	id, err := r.Create(telnetConfig(dev.port()))
	require.NoError(t, err)
	conn := dev.accept(t)
	rec.waitState(t, id, StateReady)

	payload := bytes.Repeat([]byte("x"), 90)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	rec.waitData(t, id, string(payload))
	require.Eventually(t, func() bool { return len(rec.bpOf(id)) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []bool{true}, rec.bpOf(id))

	// Advisory mode keeps reading while paused.
	_, err = conn.Write([]byte("more"))
	require.NoError(t, err)
	rec.waitData(t, id, string(payload)+"more")

	require.NoError(t, r.NotifyDrained(ctx, id))
	require.Eventually(t, func() bool { return len(rec.bpOf(id)) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.bpOf(id))

	require.NoError(t, r.Disconnect(id))
}

func TestTelnet_BackpressurePauseStopsReading(t *testing.T) {
	dev := newDevice(t)
	rec := newRecorder()
	opts := testOptions()
	opts.BufferCapacity = 100
	opts.FlowControl = FlowPause
	opts.VRP = false
	r := NewRegistry(rec, opts)
	ctx := context.Background()

	id, err := r.Create(telnetConfig(dev.port()))
	require.NoError(t, err)
	conn := dev.accept(t)
	rec.waitState(t, id, StateReady)

	first := bytes.Repeat([]byte("a"), 90)
	_, err = conn.Write(first)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.bpOf(id)) == 1 }, waitFor, 5*time.Millisecond)

	// While paused, further output is held back.
	_, err = conn.Write([]byte("held"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, string(first), rec.dataOf(id))

	// Draining resumes the flow.
	require.NoError(t, r.NotifyDrained(ctx, id))
	rec.waitData(t, id, string(first)+"held")
	assert.Equal(t, []bool{true, false}, rec.bpOf(id))

	require.NoError(t, r.Disconnect(id))
}

func TestTelnet_StateSequenceWithMock(t *testing.T) {
	dev := newDevice(t)
	ctrl := gomock.NewController(t)
	emit := NewMockEmitter(ctrl)

	ended := make(chan struct{})
	gomock.InOrder(
		emit.EXPECT().State(gomock.Any(), StateConnecting),
		emit.EXPECT().State(gomock.Any(), StateConnected),
		emit.EXPECT().State(gomock.Any(), StateReady),
		emit.EXPECT().State(gomock.Any(), StateDisconnected).Do(func(string, State) { close(ended) }),
	)
	emit.EXPECT().Data(gomock.Any(), []byte("hi")).Times(1)

	r := NewRegistry(emit, testOptions())
	id, err := r.Create(telnetConfig(dev.port()))
	require.NoError(t, err)
	conn := dev.accept(t)

	_, err = conn.Write([]byte("hi"))
	require.NoError(t, err)
	// Let the engine read before closing.
	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case <-ended:
	case <-time.After(waitFor):
		t.Fatalf("session %s did not end", id)
	}
}

func TestTelnet_UnknownCharsetFailsBeforeReady(t *testing.T) {
	dev := newDevice(t)
	rec := newRecorder()
	opts := testOptions()
	opts.Charset = "no-such-charset"
	r := NewRegistry(rec, opts)

	err := <-r.Launch("bad", telnetConfig(dev.port()))
	require.Error(t, err)
	assert.Equal(t, vrperr.KindConnectionFailed, vrperr.KindOf(err))
	assert.Contains(t, err.Error(), "no-such-charset")
	assert.Equal(t, []State{StateConnecting, StateError}, rec.statesOf("bad"))
	assert.Zero(t, r.Len())

	select {
	case <-dev.conns:
		t.Fatal("dialled the device with an unusable charset")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTelnet_DisconnectFlushesQueuedInput(t *testing.T) {
	dev := newDevice(t)
	r := NewRegistry(newRecorder(), testOptions())
	ctx := context.Background()

	// The engine sees the queued input and the shutdown together; the
	// input must still go out first.
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("s%d", i)
		require.NoError(t, <-r.Launch(id, telnetConfig(dev.port())))
		conn := dev.accept(t)
		h, ok := r.Get(id)
		require.True(t, ok)

		require.NoError(t, r.Send(ctx, id, []byte("quit\r\n")))
		require.NoError(t, r.Disconnect(id))
		assert.Equal(t, "quit\r\n", string(readN(t, conn, 6)), "iteration %d", i)
		<-h.Done()
	}
}
