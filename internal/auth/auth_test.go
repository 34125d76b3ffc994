package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPasswordAuth(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	a := NewPasswordAuth(func() string { return hash })

	if !a.Required() {
		t.Fatal("login should be required with a password set")
	}
	tests := []struct {
		user, pass string
		ok         bool
	}{
		{"admin", "s3cret", true},
		{"admin", "wrong", false},
		{"root", "s3cret", false},
	}
	for _, tt := range tests {
		u, err := a.Authenticate(tt.user, tt.pass)
		if (err == nil) != tt.ok {
			t.Errorf("Authenticate(%q, %q) error = %v", tt.user, tt.pass, err)
		}
		if tt.ok && u.Username != DefaultUsername {
			t.Errorf("user = %+v", u)
		}
	}

	empty, _ := HashPassword("")
	open := NewPasswordAuth(func() string { return empty })
	if open.Required() {
		t.Error("empty password should disable login")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.GenerateToken(&User{Username: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Username != "admin" || claims.Issuer != Issuer {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := NewJWTManager("other", time.Hour).ValidateToken(token); err != ErrInvalidToken {
		t.Errorf("foreign secret: err = %v", err)
	}
	expired, _ := NewJWTManager("secret", -time.Minute).GenerateToken(&User{Username: "admin"})
	if _, err := m.ValidateToken(expired); err != ErrExpiredToken {
		t.Errorf("expired token: err = %v", err)
	}
}

func TestRequireAuth(t *testing.T) {
	hash, _ := HashPassword("pw")
	current := hash
	jm := NewJWTManager("secret", time.Hour)
	mw := NewMiddleware(jm, NewPasswordAuth(func() string { return current }))

	var seen *User
	h := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no cookie: status = %d", rec.Code)
	}

	token, _ := jm.GenerateToken(&User{Username: "admin"})
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen == nil || seen.Username != "admin" {
		t.Errorf("valid cookie: status = %d, user = %+v", rec.Code, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("Set-Cookie") == "" {
		t.Errorf("bad cookie: status = %d, cookie cleared = %q", rec.Code, rec.Header().Get("Set-Cookie"))
	}

	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen == nil || rec.Header().Get("Set-Cookie") != "" {
		t.Errorf("bearer token: status = %d, user = %+v", rec.Code, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("Set-Cookie") != "" {
		t.Errorf("bad bearer: status = %d, set-cookie = %q", rec.Code, rec.Header().Get("Set-Cookie"))
	}

	current = ""
	seen = nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK || seen == nil {
		t.Errorf("open panel: status = %d", rec.Code)
	}
}

func TestLoginRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewLoginRateLimiter(3, time.Minute, 5*time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow("1.2.3.4"); !ok {
			t.Fatalf("attempt %d blocked", i+1)
		}
	}
	ok, wait := rl.Allow("1.2.3.4")
	if ok || wait != 300 {
		t.Errorf("fourth attempt: ok = %v, wait = %d", ok, wait)
	}
	if ok, _ := rl.Allow("5.6.7.8"); !ok {
		t.Error("other ip blocked")
	}

	now = now.Add(5 * time.Minute)
	if ok, _ := rl.Allow("1.2.3.4"); !ok {
		t.Error("still blocked after block time")
	}

	rl.Reset("1.2.3.4")
	now = now.Add(2 * time.Minute)
	rl.cleanup()
	if len(rl.attempts) != 0 {
		t.Errorf("stale entries kept: %d", len(rl.attempts))
	}
}

func TestWSTokens(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewWSTokenStore()
	s.now = func() time.Time { return now }

	token, err := s.Generate("admin")
	if err != nil {
		t.Fatal(err)
	}
	if user, ok := s.Validate(token); !ok || user != "admin" {
		t.Errorf("Validate = %q, %v", user, ok)
	}
	if _, ok := s.Validate(token); ok {
		t.Error("token reused")
	}

	stale, _ := s.Generate("admin")
	now = now.Add(WSTokenTTL + time.Second)
	if _, ok := s.Validate(stale); ok {
		t.Error("expired token accepted")
	}
}
