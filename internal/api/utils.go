package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dzungpv/mitsubishi2MQTT/internal/auth"
)

// maxBodySize bounds JSON request bodies; records are capped well below it
const maxBodySize = 16 << 10

// maskedSecret stands in for stored secrets in responses. Posting it back
// keeps the stored value.
const maskedSecret = "********"

// getClientIP extracts client IP from request, considering reverse proxy headers
func getClientIP(r *http.Request) string {
	// Check X-Real-IP first (set by nginx)
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	// Check X-Forwarded-For (can contain multiple IPs)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP (original client)
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Fall back to RemoteAddr
	// Remove port if present
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// decodeJSON decodes a bounded request body into v
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return err
	}
	if len(body) > maxBodySize {
		return fmt.Errorf("request body too large")
	}
	return json.Unmarshal(body, v)
}

// mask hides a non-empty secret
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return maskedSecret
}

// unmask returns stored when posted is the masked placeholder
func unmask(posted, stored string) string {
	if posted == maskedSecret {
		return stored
	}
	return posted
}

// username returns the authenticated user name, empty when anonymous
func username(r *http.Request) string {
	if u := auth.GetUserFromContext(r.Context()); u != nil {
		return u.Username
	}
	return ""
}
