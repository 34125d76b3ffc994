package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// WSTokenTTL is how long a token is valid
	WSTokenTTL = 30 * time.Second
	// WSTokenLength is the byte length of the token (hex encoded to 2x)
	WSTokenLength = 32
)

// WSTokenStore issues one-time tokens for the state push websocket
type WSTokenStore struct {
	mu     sync.Mutex
	tokens map[string]wsTokenEntry
	now    func() time.Time
}

type wsTokenEntry struct {
	username  string
	createdAt time.Time
}

// NewWSTokenStore creates a new WebSocket token store
func NewWSTokenStore() *WSTokenStore {
	return &WSTokenStore{
		tokens: make(map[string]wsTokenEntry),
		now:    time.Now,
	}
}

// Generate creates a new one-time token for a user
func (s *WSTokenStore) Generate(username string) (string, error) {
	b := make([]byte, WSTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	s.mu.Lock()
	s.tokens[token] = wsTokenEntry{username: username, createdAt: s.now()}
	s.mu.Unlock()

	return token, nil
}

// Validate consumes token and returns its user when it was issued within WSTokenTTL
func (s *WSTokenStore) Validate(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.tokens[token]
	if !exists {
		return "", false
	}
	delete(s.tokens, token)

	if s.now().Sub(entry.createdAt) > WSTokenTTL {
		return "", false
	}
	return entry.username, true
}

// Run drops expired tokens every minute until ctx is done
func (s *WSTokenStore) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *WSTokenStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, entry := range s.tokens {
		if now.Sub(entry.createdAt) > WSTokenTTL {
			delete(s.tokens, token)
		}
	}
}
