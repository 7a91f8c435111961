package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deskbridge/deskbridge-gateway/internal/changeset"
	"github.com/deskbridge/deskbridge-gateway/internal/config"
	"github.com/deskbridge/deskbridge-gateway/internal/events"
	"github.com/deskbridge/deskbridge-gateway/internal/inspector"
	"github.com/deskbridge/deskbridge-gateway/internal/jwt"
	"github.com/deskbridge/deskbridge-gateway/internal/plugins"
	"github.com/deskbridge/deskbridge-gateway/pkg/sdk"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Host is what the server needs from the plugin manager.
type Host interface {
	inspector.Host
	Plugins() []plugins.Info
	Attached() bool
}

type Server struct {
	mu  sync.RWMutex
	cfg *config.Config
	jwt *jwt.Validator

	log    *zap.Logger
	bus    sdk.Bus
	host   Host
	source *changeset.Debug
	r      *chi.Mux
	up     websocket.Upgrader

	// hijacked websockets outlive http.Server.Shutdown; they end with ctx
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config, log *zap.Logger, bus sdk.Bus, host Host, source *changeset.Debug) (*Server, error) {
	v, err := jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return nil, err
	}
	if !v.Enabled() {
		log.Warn("no jwt keys configured, API is unauthenticated")
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		jwt:    v,
		log:    log,
		bus:    bus,
		host:   host,
		source: source,
		r:      r,
		up:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.routes()
	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Close ends every open websocket.
func (s *Server) Close() { s.cancel() }

// Reload swaps the configuration. Key files are re-read; on failure the
// previous validator stays in place.
func (s *Server) Reload(cfg *config.Config) error {
	v, err := jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg, s.jwt = cfg, v
	s.mu.Unlock()
	return nil
}

func (s *Server) snapshot() (*config.Config, *jwt.Validator) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.jwt
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.r.Get("/v1/info", s.auth(s.handleInfo))
	s.r.Post("/v1/changesets", s.auth(s.handleChangeset))
	s.r.Get("/v1/inspector", s.auth(s.handleInspector))
	s.r.Get("/v1/events", s.auth(s.handleEvents))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"name":      "deskbridge-gateway",
		"time":      time.Now().UTC(),
		"attached":  s.host.Attached(),
		"listening": s.source.HasListener(),
		"plugins":   s.host.Plugins(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleChangeset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 8<<20)
	ev, err := changeset.DecodeEvent(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	delivered := s.source.Apply(ev)
	s.bus.Publish(sdk.Event{
		Type: events.ChangesetReceived,
		Data: map[string]any{"id": string(ev.ID), "surface": ev.SurfaceID, "delivered": delivered},
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": ev.ID, "delivered": delivered})
}

func (s *Server) handleInspector(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	cfg, _ := s.snapshot()
	sess := inspector.NewSession(conn, s.host, inspector.Config{
		WriteWait: cfg.Inspector.WriteWait,
		PongWait:  cfg.Inspector.PongWait,
		ReadLimit: cfg.Inspector.ReadLimit,
		SendQueue: cfg.Inspector.SendQueue,
	}, s.log)
	if err := sess.Serve(s.ctx); err != nil {
		s.log.Debug("inspector session ended", zap.String("session", sess.ID()), zap.Error(err))
	}
	if n := sess.Dropped(); n > 0 {
		s.log.Warn("inspector session dropped messages", zap.String("session", sess.ID()), zap.Int64("dropped", n))
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	cfg, _ := s.snapshot()
	pongWait, writeWait := cfg.Inspector.PongWait, cfg.Inspector.WriteWait
	ch := s.bus.Subscribe()

	// writer: push bus events to the client, ping so idle streams stay open
	go func() {
		defer func() {
			s.bus.Unsubscribe(ch)
			_ = conn.Close()
		}()
		ticker := time.NewTicker(pongWait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					s.log.Debug("ws write error", zap.Error(err))
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	// reader only watches for the client going away
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.bus.Unsubscribe(ch)
			return
		}
	}
}

// auth accepts a bearer token in the Authorization header or, for browser
// websockets, in the access_token query parameter.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, v := s.snapshot()
		if !v.Enabled() {
			next(w, r)
			return
		}
		tok := r.Header.Get("Authorization")
		if after, ok := strings.CutPrefix(tok, "Bearer "); ok {
			tok = after
		}
		if tok == "" {
			tok = r.URL.Query().Get("access_token")
		}
		if tok == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, err := v.Verify(tok); err != nil {
			if !errors.Is(err, jwt.ErrInvalidToken) {
				s.log.Warn("token verification failed", zap.Error(err))
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
