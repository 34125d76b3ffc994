package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dzungpv/mitsubishi2MQTT/internal/auth"
	"github.com/dzungpv/mitsubishi2MQTT/internal/control"
	"github.com/dzungpv/mitsubishi2MQTT/internal/events"
	"github.com/dzungpv/mitsubishi2MQTT/internal/firmware"
	"github.com/dzungpv/mitsubishi2MQTT/internal/hvacsync"
	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
	"github.com/dzungpv/mitsubishi2MQTT/internal/mqtt"
	"github.com/dzungpv/mitsubishi2MQTT/internal/state"
	"github.com/dzungpv/mitsubishi2MQTT/internal/storage"
)

// panelPassword reads the login hash from the unit record. An unreadable
// record keeps the last hash that could be read, so corruption never opens
// a protected panel.
type panelPassword struct {
	storage storage.Storage
	log     *logger.Logger

	mu      sync.Mutex
	hash    string
	failing bool
}

func newPanelPassword(st storage.Storage, log *logger.Logger) *panelPassword {
	p := &panelPassword{storage: st, log: log}
	p.Hash()
	return p
}

// Hash returns the bcrypt hash of the panel password, empty for an open panel
func (p *panelPassword) Hash() string {
	u, err := p.storage.LoadUnit()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		if !p.failing {
			p.log.Errorw("unit record unreadable, keeping last login password", "error", err)
		}
		p.failing = true
		return p.hash
	}
	p.failing = false
	p.hash = u.LoginPassword
	return p.hash
}

// Inbox hands climate commands to the loop that owns the engine
type Inbox interface {
	Submit(cmd control.Command) error
}

// StatsSource reports the sync engine counters
type StatsSource interface {
	Stats() hvacsync.Stats
}

// Rebooter schedules restarts and factory resets
type Rebooter interface {
	RequestReboot(after time.Duration, reason string) bool
	Pending() bool
	FactoryReset() error
}

// Deps are the collaborators of the API server
type Deps struct {
	Store          *state.Store
	Storage        storage.Storage
	Events         *events.Store
	Inbox          Inbox
	Stats          StatsSource
	Rebooter       Rebooter
	Info           mqtt.InfoSource
	Firmware       *firmware.Stager
	FirmwareTarget string // binary replaced by an uploaded image
	Fahrenheit     bool
	Version        string
	JWTSecret      string
	JWTExpiration  time.Duration
	Log            *logger.Logger
}

// Server represents the API server
type Server struct {
	router       *chi.Mux
	deps         Deps
	passwords    *auth.PasswordAuth
	jwtManager   *auth.JWTManager
	authMw       *auth.Middleware
	wsTokenStore *auth.WSTokenStore
	rateLimiter  *auth.LoginRateLimiter
	hub          *Hub
	log          *logger.Logger
}

// NewServer creates new API server
func NewServer(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Events == nil {
		deps.Events = events.NewStore(100)
	}

	log := deps.Log.Named("api")
	passwords := auth.NewPasswordAuth(newPanelPassword(deps.Storage, log).Hash)
	jwtManager := auth.NewJWTManager(deps.JWTSecret, deps.JWTExpiration)

	s := &Server{
		router:       chi.NewRouter(),
		deps:         deps,
		passwords:    passwords,
		jwtManager:   jwtManager,
		authMw:       auth.NewMiddleware(jwtManager, passwords),
		wsTokenStore: auth.NewWSTokenStore(),
		rateLimiter:  auth.NewLoginRateLimiter(0, 0, 0),
		hub:          NewHub(log),
		log:          log,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	// Create handlers
	authHandler := NewAuthHandler(s.passwords, s.jwtManager, s.wsTokenStore, s.rateLimiter, s.deps.Events)
	statusHandler := NewStatusHandler(s.deps)
	settingsHandler := NewSettingsHandler(s.deps.Storage, s.deps.Rebooter, s.deps.Events)
	systemHandler := NewSystemHandler(s.deps.Rebooter, s.deps.Events)
	eventsHandler := NewEventsHandler(s.deps.Events)
	firmwareHandler := NewFirmwareHandler(s.deps.Firmware, s.deps.FirmwareTarget, s.deps.Rebooter, s.deps.Events)
	wsHandler := NewWSHandler(s.hub, s.wsTokenStore, statusHandler.statePayload)

	// Public routes
	r.Post("/api/auth/login", authHandler.Login)
	r.Get("/metrics", statusHandler.Metrics)

	// WebSocket authenticates with a one-time token instead of the cookie
	r.Get("/api/ws", wsHandler.Connect)

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMw.RequireAuth)

		// Auth
		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/auth/me", authHandler.Me)
		r.Get("/api/auth/ws-token", authHandler.WSToken)

		// Unit
		r.Get("/api/status", statusHandler.Status)
		r.Get("/api/control", statusHandler.Control)
		r.Post("/api/control", statusHandler.Submit)

		// Settings
		r.Get("/api/settings/wifi", settingsHandler.GetWifi)
		r.Post("/api/settings/wifi", settingsHandler.SaveWifi)
		r.Get("/api/settings/mqtt", settingsHandler.GetMqtt)
		r.Post("/api/settings/mqtt", settingsHandler.SaveMqtt)
		r.Get("/api/settings/unit", settingsHandler.GetUnit)
		r.Post("/api/settings/unit", settingsHandler.SaveUnit)
		r.Get("/api/settings/others", settingsHandler.GetOthers)
		r.Post("/api/settings/others", settingsHandler.SaveOthers)

		// System
		r.Post("/api/system/reboot", systemHandler.Reboot)
		r.Post("/api/system/factory-reset", systemHandler.FactoryReset)
		r.Get("/api/system/version", firmwareHandler.Version)
		r.Post("/api/firmware", firmwareHandler.Upload)

		// Events
		r.Get("/api/events", eventsHandler.List)
	})
}

// requestLogger logs every request through the server's logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugw("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Hub returns the websocket hub state changes are broadcast on
func (s *Server) Hub() *Hub {
	return s.hub
}

// RateLimiter returns the login rate limiter so its cleanup can be run
func (s *Server) RateLimiter() *auth.LoginRateLimiter {
	return s.rateLimiter
}

// WSTokens returns the websocket token store so its cleanup can be run
func (s *Server) WSTokens() *auth.WSTokenStore {
	return s.wsTokenStore
}

// writeJSON writes JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes {"error": msg}
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
