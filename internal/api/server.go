// Package api serves the session registry over HTTP: a WebSocket for
// commands and pushed events, plus a few JSON endpoints for
// inspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	vrperr "vrpterm/internal/errors"
	"vrpterm/internal/metrics"
	"vrpterm/internal/reconnect"
	"vrpterm/internal/session"
	"vrpterm/internal/tracer"
	"vrpterm/util"
)

const shutdownTimeout = 5 * time.Second

// Config wires a Server.  Registry and Hub are required; the Hub must
// be the registry's Emitter for clients to see session events.
type Config struct {
	Registry  *session.Registry
	Reconnect *reconnect.Manager
	// Policy applies to reconnect requests that carry none.  Nil means
	// reconnect.DefaultPolicy.
	Policy  *reconnect.Policy
	Hub     *Hub
	Tracer  tracer.Service // optional
	Metrics *metrics.Collector
	Logger  *util.Logger
	// OriginPatterns are the cross-origin hosts allowed to open the
	// WebSocket.  Same-origin requests are always allowed.
	OriginPatterns []string
}

// Server is the HTTP front end.
type Server struct {
	reg     *session.Registry
	recon   *reconnect.Manager
	policy  *reconnect.Policy
	hub     *Hub
	tracer  tracer.Service
	metrics *metrics.Collector
	log     *util.Logger
	origins []string
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = util.Nop()
	}
	return &Server{
		reg:     cfg.Registry,
		recon:   cfg.Reconnect,
		policy:  cfg.Policy,
		hub:     cfg.Hub,
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
		log:     log.With("component", "api"),
		origins: cfg.OriginPatterns,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)

	r.Get("/health", s.health)
	r.Get("/ws", s.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.listSessions)
		r.Get("/metrics", s.getMetrics)
		r.Get("/schema", s.getSchema)

		r.Route("/tracer", func(r chi.Router) {
			r.Use(s.requireTracer)
			r.Post("/index", s.tracerIndex)
			r.Post("/match", s.tracerMatch)
			r.Get("/stats", s.tracerStats)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked WebSocket connections outlive Shutdown; tie their
		// request contexts to ctx instead.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("api listening")

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	s.log.Info().Msg("api stopped")
	return err
}

// Handle executes one request.  It blocks for the whole reconnect
// cycle on OpReconnect.
func (s *Server) Handle(ctx context.Context, req Request) Reply {
	reply := Reply{ID: req.ID}
	id := req.SessionID

	var err error
	switch req.Op {
	case OpCreate:
		if req.Config == nil {
			err = missing("config")
			break
		}
		id, err = s.reg.Create(*req.Config)
	case OpSend:
		err = s.reg.Send(ctx, id, req.Data)
	case OpDisconnect:
		err = s.reg.Disconnect(id)
		if errors.Is(err, vrperr.ErrNotFound) {
			// Already gone is fine for a disconnect.
			err = nil
		}
	case OpResize:
		err = s.reg.Resize(ctx, id, req.Cols, req.Rows)
	case OpSetAutoPagination:
		if req.Enabled == nil {
			err = missing("enabled")
			break
		}
		err = s.reg.SetAutoPagination(ctx, id, *req.Enabled)
	case OpBufferDrained:
		err = s.reg.NotifyDrained(ctx, id)
	case OpReconnect:
		if req.Config == nil {
			err = missing("config")
			break
		}
		if s.recon == nil {
			err = errors.New("reconnect is not enabled")
			break
		}
		policy := req.Policy.toPolicy()
		if policy == nil {
			policy = s.policy
		}
		id, err = s.recon.Reconnect(ctx, id, *req.Config, policy)
	case OpCancelReconnect:
		if s.recon != nil {
			reply.Cancelled = s.recon.Cancel(id)
		}
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}

	if err != nil {
		reply.Error = err.Error()
		if k := vrperr.KindOf(err); k != vrperr.KindUnknown {
			reply.Kind = k.String()
		}
		s.log.Verbose().Err(err).Str("op", string(req.Op)).Str("session_id", req.SessionID).Msg("request failed")
		return reply
	}
	reply.OK = true
	reply.SessionID = id
	return reply
}

func missing(field string) error {
	return &vrperr.ConfigError{Field: field, Message: "required for this op"}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.reg.Len(),
		"clients":  s.hub.Clients(),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list := s.reg.List()
	if list == nil {
		list = []session.Info{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) getSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Schemas())
}

func (s *Server) requireTracer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tracer == nil {
			writeError(w, http.StatusServiceUnavailable, "log tracer not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) tracerIndex(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Dir string `json:"dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Dir == "" {
		writeError(w, http.StatusBadRequest, "expected {\"dir\": \"...\"}")
		return
	}
	stats, err := s.tracer.Index(r.Context(), body.Dir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) tracerMatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Line string `json:"line"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "expected {\"line\": \"...\"}")
		return
	}
	if !s.tracer.Stats().Indexed {
		writeError(w, http.StatusConflict, tracer.ErrNotIndexed.Error())
		return
	}
	loc, ok := s.tracer.Match(body.Line)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matched":  ok,
		"location": loc,
	})
}

func (s *Server) tracerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracer.Stats())
}

// requestLogger logs each request at verbose level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Verbose().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
