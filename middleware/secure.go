package middleware

import (
	"sync"
	"time"
)

const SecureTokenTTL = 8 * time.Minute

type secureToken struct {
	signature string
	targetID  string
	expiresAt time.Time
}

// SecureTokens binds a verified signature to a target behind an opaque path
// token. Tokens are re-checked on every use and are not consumed.
type SecureTokens struct {
	mu     sync.Mutex
	tokens map[string]secureToken
	now    func() time.Time
}

func NewSecureTokens() *SecureTokens {
	return &SecureTokens{
		tokens: make(map[string]secureToken),
		now:    time.Now,
	}
}

func (s *SecureTokens) Issue(signature, targetID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = secureToken{
		signature: signature,
		targetID:  targetID,
		expiresAt: s.now().Add(SecureTokenTTL),
	}
	return token, nil
}

// Check returns the bound target when token is live and was issued to signature.
func (s *SecureTokens) Check(token, signature string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok {
		return "", false
	}
	if !s.now().Before(rec.expiresAt) {
		delete(s.tokens, token)
		return "", false
	}
	if rec.signature != signature {
		return "", false
	}
	return rec.targetID, true
}

func (s *SecureTokens) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, rec := range s.tokens {
		if !now.Before(rec.expiresAt) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed
}
