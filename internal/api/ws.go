package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	wsReadLimit    = 1 << 20
	wsWriteTimeout = 10 * time.Second
)

// serveWS runs one client connection: requests are read and answered
// in order, except reconnects which run in the background and reply
// when done.  Session events are pushed as they happen.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := s.log.With("remote", r.RemoteAddr)
	log.Info().Msg("client connected")
	defer log.Info().Msg("client disconnected")

	sub, unsubscribe := s.hub.subscribe()
	defer unsubscribe()
	go s.pushEvents(ctx, cancel, c, sub)

	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					log.Verbose().Err(err).Msg("websocket read")
				}
			}
			return
		}
		if typ != websocket.MessageText {
			c.Close(websocket.StatusUnsupportedData, "expected JSON text messages") //nolint:errcheck
			return
		}

		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			s.writeReply(ctx, c, Reply{Error: "invalid request: " + err.Error()})
			continue
		}
		if req.Op == OpReconnect {
			go func(req Request) {
				s.writeReply(ctx, c, s.Handle(ctx, req))
			}(req)
			continue
		}
		s.writeReply(ctx, c, s.Handle(ctx, req))
	}
}

func (s *Server) pushEvents(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, sub *subscriber) {
	defer cancel()
	for {
		select {
		case msg := <-sub.msgs:
			if err := s.write(ctx, c, msg); err != nil {
				return
			}
		case <-sub.slow:
			c.Close(websocket.StatusPolicyViolation, "client too slow to keep up with events") //nolint:errcheck
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeReply(ctx context.Context, c *websocket.Conn, reply Reply) {
	msg, err := json.Marshal(reply)
	if err != nil {
		s.log.Error().Err(err).Msg("encoding reply")
		return
	}
	if err := s.write(ctx, c, msg); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Verbose().Err(err).Msg("writing reply")
	}
}

func (s *Server) write(ctx context.Context, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, msg)
}
