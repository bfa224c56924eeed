// Package web serves the monitor API: session CRUD, coordination
// rounds, bus history introspection, audit records, and a websocket
// feed of live swarm traffic.
package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/epoptis/internal/config"
	"github.com/mtzanidakis/epoptis/internal/messaging"
	"github.com/mtzanidakis/epoptis/internal/policy"
	"github.com/mtzanidakis/epoptis/internal/runner"
	"github.com/mtzanidakis/epoptis/internal/store"
)

const (
	sessionCookieName = "session"
	sessionMaxAge     = 30 * 24 * time.Hour // 30 days
)

type Server struct {
	store     *store.Store
	runner    *runner.Runner
	bus       *messaging.Bus
	policies  *policy.Registry
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time

	tokenMu sync.Mutex
	tokens  map[string]time.Time // token → expiry
}

func NewServer(s *store.Store, r *runner.Runner, bus *messaging.Bus, policies *policy.Registry, cfg config.WebConfig, version string) *Server {
	return &Server{
		store:     s,
		runner:    r,
		bus:       bus,
		policies:  policies,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		tokens:    make(map[string]time.Time),
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.attachFeeds()

	server := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", s.cfg.ListenAddr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auth endpoints (public)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	s.registerAPI(mux)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s.withMiddleware(mux)
}

// attachFeeds forwards bus envelopes and runner events to the
// websocket hub. Bus handlers run under the bus lock; Broadcast is a
// non-blocking send, so a slow monitor can never stall a publisher.
func (s *Server) attachFeeds() {
	s.bus.AddHandler(func(env messaging.Envelope) {
		s.hub.Broadcast(Event{Type: "message", Payload: env})
	})
	s.runner.OnEvent(func(ev runner.Event) {
		s.hub.Broadcast(Event{Type: ev.Type, Payload: ev})
	})
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Session/auth for API routes and the websocket feed
		if s.cfg.Auth != "" && (strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws") {
			// Public endpoints: login and auth check
			if r.URL.Path == "/api/login" || r.URL.Path == "/api/auth/check" {
				next.ServeHTTP(w, r)
				return
			}

			if !s.checkAuth(w, r) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// checkAuth validates session cookie or Basic Auth. Returns true if authenticated.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	// Check session cookie first
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.tokenMu.Lock()
		expiry, ok := s.tokens[cookie.Value]
		if ok && time.Now().Before(expiry) {
			// Refresh session expiry
			s.tokens[cookie.Value] = time.Now().Add(sessionMaxAge)
			s.tokenMu.Unlock()
			s.setSessionCookie(w, cookie.Value)
			return true
		}
		// Expired or unknown — clean up
		if ok {
			delete(s.tokens, cookie.Value)
		}
		s.tokenMu.Unlock()
	}

	// Fall back to Basic Auth (for programmatic API access)
	if _, pass, ok := r.BasicAuth(); ok && pass == s.cfg.Auth {
		return true
	}

	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) createToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	s.tokenMu.Lock()
	s.tokens[token] = time.Now().Add(sessionMaxAge)
	s.tokenMu.Unlock()

	return token, nil
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == "" {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Password != s.cfg.Auth {
		jsonError(w, "invalid password", http.StatusUnauthorized)
		return
	}

	token, err := s.createToken()
	if err != nil {
		jsonError(w, "session creation failed", http.StatusInternalServerError)
		return
	}

	s.setSessionCookie(w, token)
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.tokenMu.Lock()
		delete(s.tokens, cookie.Value)
		s.tokenMu.Unlock()
	}

	// Clear cookie
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	// No auth configured — tell the monitor to skip login
	if s.cfg.Auth == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Check session cookie
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.tokenMu.Lock()
		expiry, ok := s.tokens[cookie.Value]
		if ok && time.Now().Before(expiry) {
			s.tokens[cookie.Value] = time.Now().Add(sessionMaxAge)
			s.tokenMu.Unlock()
			s.setSessionCookie(w, cookie.Value)
			jsonResponse(w, map[string]string{"status": "ok"})
			return
		}
		if ok {
			delete(s.tokens, cookie.Value)
		}
		s.tokenMu.Unlock()
	}

	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
