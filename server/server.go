// Package server exposes the analysis orchestration over HTTP: starting a
// session, reading its persisted status, and streaming its progress feed
// over a websocket that supports reconnect with replay.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/hupe1980/finmesh/session"
)

type startRequest struct {
	Scenario string `json:"scenario"`
	Mode     string `json:"mode"`
	Query    string `json:"query"`
}

type startResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Options configures the HTTP server.
type Options struct {
	// Addr is the listen address.
	Addr string

	// Logger is the zerolog logger wired through the request middleware.
	Logger zerolog.Logger
}

// Server serves the session API.
type Server struct {
	manager  *session.Manager
	server   *http.Server
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New builds the routed server around a session manager.
func New(manager *session.Manager, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:   ":8080",
		Logger: zerolog.Nop(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		manager: manager,
		logger:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r := chi.NewRouter()
	r.Use(logMiddleware(opts.Logger))
	r.Post("/analyses", s.handleStart)
	r.Get("/analyses/{id}", s.handleStatus)
	r.Get("/analyses/{id}/stream", s.handleStream)

	s.server = &http.Server{
		Addr:    opts.Addr,
		Handler: r,
	}
	return s
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "unable to parse body"})
		return
	}
	if req.Scenario == "" || req.Query == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "scenario and query are required"})
		return
	}

	sess, err := s.manager.Start(context.Background(), req.Scenario, req.Mode, req.Query)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}

	hlog.FromRequest(r).Info().Str("session_id", sess.ID()).Msg("analysis started")

	w.WriteHeader(http.StatusAccepted)
	render.JSON(w, r, startResponse{ID: sess.ID()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, ok, err := s.manager.Lookup(id)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{Error: "session lookup failed"})
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, errorResponse{Error: "unknown session"})
		return
	}

	render.JSON(w, r, state)
}

// handleStream upgrades to a websocket and attaches it to the session's
// progress channel. A reconnecting client passes ?after=<seq> to have every
// unseen event replayed before live events resume.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, ok := s.manager.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, errorResponse{Error: "unknown or finished session"})
		return
	}

	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: "invalid after parameter"})
			return
		}
		after = parsed
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sink := session.NewWebSocketSink(conn)
	sess.Attach(sink, after)

	// Blocks until the client goes away; the session keeps running. Detach
	// names the sink so a reconnected client's stream survives this teardown.
	session.ReadAcks(conn, sess)
	sess.Detach(sink)
	_ = conn.Close()
}

func logMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	c := alice.New()
	c = c.Append(hlog.NewHandler(logger))
	c = c.Append(hlog.RemoteAddrHandler("ip"))
	c = c.Append(hlog.UserAgentHandler("agent"))
	c = c.Append(hlog.RequestIDHandler("req_id", "Request-Id"))
	c = c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("verb", r.Method).
			Stringer("url", r.URL).
			Int("size", size).
			Int("status", status).
			Int64("duration", duration.Milliseconds()).
			Msg("REQ")
	}))

	return c.Then
}
