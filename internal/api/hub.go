package api

import (
	"encoding/json"
	"sync"

	"vrpterm/internal/session"
	"vrpterm/internal/vrp"
	"vrpterm/util"
)

// clientQueue is how many encoded events a client may fall behind by
// before it is dropped.
const clientQueue = 1024

// Hub fans session events out to every subscribed client.  It
// implements session.Emitter.
type Hub struct {
	log *util.Logger

	mu      sync.Mutex
	clients map[*subscriber]struct{}
}

type subscriber struct {
	msgs chan []byte
	// slow is closed when the subscriber could not keep up.
	slow     chan struct{}
	slowOnce sync.Once
}

// NewHub returns an empty Hub.
func NewHub(log *util.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*subscriber]struct{})}
}

// subscribe registers a client.  The returned func unregisters it.
func (h *Hub) subscribe() (*subscriber, func()) {
	s := &subscriber{
		msgs: make(chan []byte, clientQueue),
		slow: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[s] = struct{}{}
	h.mu.Unlock()
	return s, func() {
		h.mu.Lock()
		delete(h.clients, s)
		h.mu.Unlock()
	}
}

// Clients returns the number of subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(ev.Type)).Msg("encoding event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		select {
		case s.msgs <- msg:
		default:
			s.slowOnce.Do(func() {
				h.log.Warn().Str("session_id", ev.SessionID).Msg("dropping slow client")
				close(s.slow)
			})
		}
	}
}

func (h *Hub) Data(id string, p []byte) {
	h.broadcast(Event{Type: EventData, SessionID: id, Data: p})
}

func (h *Hub) State(id string, s session.State) {
	h.broadcast(Event{Type: EventState, SessionID: id, State: s})
}

func (h *Hub) Reconnect(id string, st session.ReconnectStatus) {
	h.broadcast(Event{Type: EventReconnect, SessionID: id, Reconnect: &st})
}

func (h *Hub) VRP(id string, ev vrp.Event) {
	h.broadcast(Event{Type: EventVRP, SessionID: id, VRP: &ev})
}

func (h *Hub) Backpressure(id string, paused bool) {
	h.broadcast(Event{Type: EventBackpressure, SessionID: id, Paused: &paused})
}
