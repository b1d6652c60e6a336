package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtzanidakis/aiteam/internal/agent"
	"github.com/mtzanidakis/aiteam/internal/config"
	"github.com/mtzanidakis/aiteam/internal/memory"
	"github.com/mtzanidakis/aiteam/internal/natsbus"
	"github.com/mtzanidakis/aiteam/internal/pipeline"
	"github.com/mtzanidakis/aiteam/internal/store"
)

const (
	sessionCookieName = "session"
	sessionMaxAge     = 30 * 24 * time.Hour // 30 days
)

// RunStore reads and prunes pipeline run records.
type RunStore interface {
	GetPipelineRun(id string) (*store.PipelineRun, error)
	ListPipelineRuns(limit int) ([]store.PipelineRun, error)
	DeletePipelineRun(id string) error
	Ping() error
}

// RetroRunner triggers a retrospective.
type RetroRunner interface {
	RunNow(ctx context.Context) string
}

// Deps are the collaborators of the web server. Runs, Retro and Events may
// be nil.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Planner      *agent.Planner
	Coach        *agent.Coach
	Memory       memory.Gateway
	Graph        memory.Graph
	Runs         RunStore
	Retro        RetroRunner
	Events       *natsbus.Client
	Config       config.WebConfig
	// AsyncPreferred is the dispatch mode used when a request does not say.
	AsyncPreferred bool
	// HistoryLimit is the default number of memory records per request.
	HistoryLimit int
	Version      string
}

type Server struct {
	orch    *pipeline.Orchestrator
	planner *agent.Planner
	coach   *agent.Coach
	memory  memory.Gateway
	graph   memory.Graph
	runs    RunStore
	retro   RetroRunner
	events  *natsbus.Client
	hub     *Hub
	cfg     config.WebConfig
	version string

	startedAt time.Time

	mu             sync.RWMutex
	asyncPreferred bool
	history        int

	sessionMu sync.Mutex
	sessions  map[string]time.Time // token → expiry
}

func NewServer(d Deps) *Server {
	graph := d.Graph
	if graph == nil {
		graph = memory.NopGraph{}
	}
	return &Server{
		orch:           d.Orchestrator,
		planner:        d.Planner,
		coach:          d.Coach,
		memory:         d.Memory,
		graph:          graph,
		runs:           d.Runs,
		retro:          d.Retro,
		events:         d.Events,
		hub:            NewHub(),
		cfg:            d.Config,
		version:        d.Version,
		history:        historyDefault(d.HistoryLimit),
		startedAt:      time.Now(),
		asyncPreferred: d.AsyncPreferred,
		sessions:       make(map[string]time.Time),
	}
}

// SetAsyncPreferred changes the default dispatch mode for new runs.
func (s *Server) SetAsyncPreferred(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asyncPreferred = v
}

// SetHistoryLimit changes the default record count of memory requests.
func (s *Server) SetHistoryLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = historyDefault(n)
}

func (s *Server) historyLimit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history
}

func historyDefault(n int) int {
	if n <= 0 {
		return memory.DefaultHistoryLimit
	}
	return min(n, maxHistoryLimit)
}

func (s *Server) defaultOptions() pipeline.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pipeline.Options{AsyncPreferred: s.asyncPreferred}
}

// Handler returns the full HTTP handler including auth middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auth endpoints (public)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	s.registerAPI(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	// WebSocket
	mux.HandleFunc("GET /ws/chat", s.handleChat)
	mux.HandleFunc("GET /ws/events", s.handleEvents)

	return s.withMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Subscribe to NATS events and broadcast to WebSocket
	s.subscribeEvents()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func isPublic(path string) bool {
	switch path {
	case "/api/login", "/api/auth/check", "/api/health", "/metrics":
		return true
	}
	return false
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		protected := strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/")
		if protected && s.cfg.Auth != "" && !isPublic(r.URL.Path) {
			if !s.checkAuth(w, r) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// checkAuth validates session cookie or Basic Auth. Returns true if authenticated.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.validSession(w, r) {
		return true
	}

	// Fall back to Basic Auth (for programmatic API access)
	if _, pass, ok := r.BasicAuth(); ok && pass == s.cfg.Auth {
		return true
	}

	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

// validSession reports whether the request carries a live session cookie and
// refreshes it.
func (s *Server) validSession(w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	expiry, ok := s.sessions[cookie.Value]
	if ok && time.Now().Before(expiry) {
		s.sessions[cookie.Value] = time.Now().Add(sessionMaxAge)
		s.setSessionCookie(w, cookie.Value)
		return true
	}
	// Expired or unknown, clean up
	if ok {
		delete(s.sessions, cookie.Value)
	}
	return false
}

func (s *Server) createSession() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	s.sessionMu.Lock()
	s.sessions[token] = time.Now().Add(sessionMaxAge)
	s.sessionMu.Unlock()

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

	token, err := s.createSession()
	if err != nil {
		jsonError(w, "session creation failed", http.StatusInternalServerError)
		return
	}

	s.setSessionCookie(w, token)
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessionMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessionMu.Unlock()
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
	// No auth configured, tell the client to skip login
	if s.cfg.Auth == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if s.validSession(w, r) {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func (s *Server) subscribeEvents() {
	if s.events == nil {
		return
	}

	// Forward all event topics to WebSocket observers as raw JSON
	_, err := s.events.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		if !json.Valid(msg.Data) {
			slog.Warn("invalid NATS event payload", "subject", msg.Subject)
			return
		}
		s.hub.Broadcast(json.RawMessage(msg.Data))
	})
	if err != nil {
		slog.Error("web server event subscription failed", "error", err)
	}
}
