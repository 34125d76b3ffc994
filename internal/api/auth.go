package api

import (
	"net/http"
	"strconv"

	"github.com/dzungpv/mitsubishi2MQTT/internal/auth"
	"github.com/dzungpv/mitsubishi2MQTT/internal/events"
)

// AuthHandler serves the panel session endpoints. The panel has a single
// user; a session is a JWT cookie issued against the unit's login password.
type AuthHandler struct {
	passwords    *auth.PasswordAuth
	jwtManager   *auth.JWTManager
	wsTokenStore *auth.WSTokenStore
	rateLimiter  *auth.LoginRateLimiter
	eventStore   *events.Store
}

// NewAuthHandler creates the session handler
func NewAuthHandler(passwords *auth.PasswordAuth, jwtManager *auth.JWTManager, wsTokenStore *auth.WSTokenStore, rateLimiter *auth.LoginRateLimiter, eventStore *events.Store) *AuthHandler {
	return &AuthHandler{
		passwords:    passwords,
		jwtManager:   jwtManager,
		wsTokenStore: wsTokenStore,
		rateLimiter:  rateLimiter,
		eventStore:   eventStore,
	}
}

// LoginRequest is the login form. An empty username means admin.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse reports the login outcome
type LoginResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	User    *auth.User `json:"user,omitempty"`
}

func loginFailed(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, LoginResponse{Message: message})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)

	if ok, retryAfter := h.rateLimiter.Allow(ip); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		loginFailed(w, http.StatusTooManyRequests, "Too many login attempts")
		return
	}

	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		loginFailed(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" {
		req.Username = auth.DefaultUsername
	}

	user, err := h.passwords.Authenticate(req.Username, req.Password)
	if err != nil {
		h.eventStore.Add(events.EventLoginFailed, req.Username, ip, false, "")
		loginFailed(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	h.rateLimiter.Reset(ip)

	token, err := h.jwtManager.GenerateToken(user)
	if err != nil {
		loginFailed(w, http.StatusInternalServerError, "Failed to issue session")
		return
	}
	auth.SetAuthCookie(w, r, token, int(h.jwtManager.Duration().Seconds()))
	h.eventStore.Add(events.EventLogin, user.Username, ip, true, "")

	writeJSON(w, http.StatusOK, LoginResponse{Success: true, User: user})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearAuthCookie(w)
	h.eventStore.Add(events.EventLogout, username(r), getClientIP(r), true, "")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me handles GET /api/auth/me. loginRequired is false while the panel is open.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":          user,
		"loginRequired": h.passwords.Required(),
	})
}

// WSToken handles GET /api/auth/ws-token. The token is good for one
// /api/ws upgrade.
func (h *AuthHandler) WSToken(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	token, err := h.wsTokenStore.Generate(user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue websocket token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
