package session

import "vrpterm/internal/vrp"

//go:generate mockgen -destination=mock_emitter_test.go -package=session vrpterm/internal/session Emitter

// Emitter receives everything a session reports.  Implementations must
// be safe for concurrent use: every engine calls it from its own
// goroutine.  Calls for one session arrive in order.
type Emitter interface {
	// Data delivers device output, in order, exactly as received
	// (after Telnet negotiation bytes have been removed).
	Data(id string, p []byte)
	// State reports a lifecycle transition.
	State(id string, s State)
	// Reconnect reports reconnect progress for the session being
	// replaced.
	Reconnect(id string, st ReconnectStatus)
	// VRP reports a vendor CLI event noticed in a Telnet stream.
	VRP(id string, ev vrp.Event)
	// Backpressure reports that the consumer fell behind (paused=true)
	// or caught up again.
	Backpressure(id string, paused bool)
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) Data(string, []byte) {}
func (NopEmitter) State(string, State) {}
func (NopEmitter) Reconnect(string, ReconnectStatus) {}
func (NopEmitter) VRP(string, vrp.Event) {}
func (NopEmitter) Backpressure(string, bool) {}
