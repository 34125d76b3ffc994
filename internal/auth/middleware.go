package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	// UserContextKey holds the *User of an authenticated request
	UserContextKey contextKey = "user"

	// CookieName is the session cookie set by login
	CookieName string = "m2m_token"
)

// Middleware guards the panel routes
type Middleware struct {
	jwtManager *JWTManager
	passwords  *PasswordAuth
}

// NewMiddleware creates the guard. While the unit has no login password
// every request passes as admin.
func NewMiddleware(jwtManager *JWTManager, passwords *PasswordAuth) *Middleware {
	return &Middleware{jwtManager: jwtManager, passwords: passwords}
}

// RequireAuth admits requests carrying a valid session, either as the
// session cookie or as an Authorization bearer token for scripts
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.passwords.Required() {
			next.ServeHTTP(w, r.WithContext(SetUserContext(r.Context(), &User{Username: DefaultUsername})))
			return
		}

		token, fromCookie := sessionToken(r)
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			if fromCookie {
				ClearAuthCookie(w)
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetUserContext(r.Context(), &User{Username: claims.Username})))
	})
}

// sessionToken prefers the cookie over the bearer header
func sessionToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:]), false
	}
	return "", false
}

// GetUserFromContext returns the request's user, nil outside RequireAuth
func GetUserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(UserContextKey).(*User)
	return user
}

// SetUserContext attaches user to ctx
func SetUserContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// SetAuthCookie stores the session token. Secure is set when the panel is
// reached over TLS, directly or behind a proxy.
func SetAuthCookie(w http.ResponseWriter, r *http.Request, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
}

// ClearAuthCookie expires the session cookie
func ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
