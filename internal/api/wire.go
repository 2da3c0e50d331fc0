package api

import (
	"time"

	"github.com/invopop/jsonschema"

	"vrpterm/internal/reconnect"
	"vrpterm/internal/session"
	"vrpterm/internal/vrp"
)

// Op names a WebSocket request.
type Op string

const (
	OpCreate            Op = "create"
	OpSend              Op = "send"
	OpDisconnect        Op = "disconnect"
	OpResize            Op = "resize"
	OpSetAutoPagination Op = "set_auto_pagination"
	OpBufferDrained     Op = "buffer_drained"
	OpReconnect         Op = "reconnect"
	OpCancelReconnect   Op = "cancel_reconnect"
)

// Request is one command from a client.  Which fields are read depends
// on Op.
type Request struct {
	ID        string          `json:"id,omitempty" jsonschema:"description=echoed in the reply"`
	Op        Op              `json:"op" jsonschema:"required,enum=create,enum=send,enum=disconnect,enum=resize,enum=set_auto_pagination,enum=buffer_drained,enum=reconnect,enum=cancel_reconnect"`
	SessionID string          `json:"session_id,omitempty"`
	Config    *session.Config `json:"config,omitempty"`
	Data      []byte          `json:"data,omitempty" jsonschema:"description=base64 bytes for send"`
	Cols      int             `json:"cols,omitempty"`
	Rows      int             `json:"rows,omitempty"`
	Enabled   *bool           `json:"enabled,omitempty"`
	Policy    *Policy         `json:"policy,omitempty"`
}

// Policy is the wire form of reconnect.Policy, in milliseconds.
type Policy struct {
	MaxRetries        int     `json:"max_retries,omitempty"`
	InitialDelayMS    int64   `json:"initial_delay_ms,omitempty"`
	MaxDelayMS        int64   `json:"max_delay_ms,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
	Jitter            bool    `json:"jitter,omitempty"`
}

// toPolicy converts p, leaving unset fields for WithDefaults.  A nil p
// yields nil.
func (p *Policy) toPolicy() *reconnect.Policy {
	if p == nil {
		return nil
	}
	return &reconnect.Policy{
		MaxRetries:   p.MaxRetries,
		InitialDelay: time.Duration(p.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(p.MaxDelayMS) * time.Millisecond,
		Multiplier:   p.BackoffMultiplier,
		Jitter:       p.Jitter,
	}
}

// Reply answers a Request.
type Reply struct {
	ID        string `json:"id,omitempty"`
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty" jsonschema:"description=error class such as session not found"`
}

// EventType tags a pushed Event.
type EventType string

const (
	EventData         EventType = "data"
	EventState        EventType = "state"
	EventReconnect    EventType = "reconnect"
	EventVRP          EventType = "vrp"
	EventBackpressure EventType = "backpressure"
)

// Event is pushed to every connected client.
type Event struct {
	Type      EventType                `json:"type" jsonschema:"required,enum=data,enum=state,enum=reconnect,enum=vrp,enum=backpressure"`
	SessionID string                   `json:"session_id" jsonschema:"required"`
	Data      []byte                   `json:"data,omitempty"`
	State     session.State            `json:"state,omitempty"`
	Reconnect *session.ReconnectStatus `json:"reconnect,omitempty"`
	VRP       *vrp.Event               `json:"vrp,omitempty"`
	Paused    *bool                    `json:"paused,omitempty"`
}

// Schemas returns the JSON Schema of every wire message.
func Schemas() map[string]*jsonschema.Schema {
	r := &jsonschema.Reflector{}
	return map[string]*jsonschema.Schema{
		"request": r.Reflect(&Request{}),
		"reply":   r.Reflect(&Reply{}),
		"event":   r.Reflect(&Event{}),
	}
}
