package middleware

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	ChallengeTTL  = 5 * time.Minute
	VerifiedTTL   = 20 * time.Minute
	FailureWindow = 10 * time.Minute
	MaxFailures   = 3
)

var (
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeMismatch = errors.New("challenge mismatch")
	ErrNotHuman          = errors.New("human confirmation missing")
	ErrTooManyFailures   = errors.New("too many failed challenges")
)

// UserMessage is the text shown on the challenge page for a verification error.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrChallengeMismatch):
		return "Challenge mismatch. Please retry."
	case errors.Is(err, ErrNotHuman):
		return "Please confirm you are not a robot."
	case errors.Is(err, ErrTooManyFailures):
		return "Verification failed. Access blocked."
	default:
		return "Challenge expired. Please retry."
	}
}

type Challenge struct {
	Token       string
	Signature   string
	TargetID    string
	OriginalURL string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type failureRecord struct {
	count       int
	lastFailure time.Time
}

// Verification is the outcome of a verify attempt. Failures and Blocked are
// set on every failed attempt.
type Verification struct {
	Challenge *Challenge
	Failures  int
	Blocked   bool
}

// ChallengeService issues human-verification challenges and tracks verified
// signatures and failure counts.
type ChallengeService struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	verified   map[string]time.Time
	failures   map[string]*failureRecord
	now        func() time.Time
}

func NewChallengeService() *ChallengeService {
	return &ChallengeService{
		challenges: make(map[string]*Challenge),
		verified:   make(map[string]time.Time),
		failures:   make(map[string]*failureRecord),
		now:        time.Now,
	}
}

func (s *ChallengeService) Issue(signature, targetID, originalURL string) (*Challenge, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c := &Challenge{
		Token:       token,
		Signature:   signature,
		TargetID:    targetID,
		OriginalURL: originalURL,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ChallengeTTL),
	}
	s.challenges[token] = c
	return c, nil
}

// Verify consumes the challenge on success and marks the signature verified.
// Every failure counts against the signature; once MaxFailures is reached
// further attempts fail with ErrTooManyFailures without touching the token.
func (s *ChallengeService) Verify(token, signature string, human bool) (Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if n := s.failureCount(signature, now); n >= MaxFailures {
		return Verification{Failures: n, Blocked: true}, ErrTooManyFailures
	}

	err := s.check(token, signature, human, now)
	if err != nil {
		n := s.recordFailure(signature, now)
		return Verification{Failures: n, Blocked: n >= MaxFailures}, err
	}

	c := s.challenges[token]
	delete(s.challenges, token)
	s.verified[signature] = now.Add(VerifiedTTL)
	delete(s.failures, signature)
	return Verification{Challenge: c}, nil
}

func (s *ChallengeService) check(token, signature string, human bool, now time.Time) error {
	c, ok := s.challenges[token]
	if !ok {
		return ErrChallengeExpired
	}
	if c.Signature != signature {
		return ErrChallengeMismatch
	}
	if !now.Before(c.ExpiresAt) {
		delete(s.challenges, token)
		return ErrChallengeExpired
	}
	if !human {
		return ErrNotHuman
	}
	return nil
}

func (s *ChallengeService) IsVerified(signature string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.verified[signature]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(s.verified, signature)
		return false
	}
	return true
}

// MarkVerified trusts the signature as if it had passed a challenge.
func (s *ChallengeService) MarkVerified(signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[signature] = s.now().Add(VerifiedTTL)
}

func (s *ChallengeService) Failures(signature string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureCount(signature, s.now())
}

func (s *ChallengeService) ClearFailures(signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, signature)
}

func (s *ChallengeService) failureCount(signature string, now time.Time) int {
	rec, ok := s.failures[signature]
	if !ok {
		return 0
	}
	if !now.Before(rec.lastFailure.Add(FailureWindow)) {
		delete(s.failures, signature)
		return 0
	}
	return rec.count
}

func (s *ChallengeService) recordFailure(signature string, now time.Time) int {
	count := s.failureCount(signature, now) + 1
	s.failures[signature] = &failureRecord{count: count, lastFailure: now}
	return count
}

// Sweep drops expired challenges, verifications and failure records.
func (s *ChallengeService) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, c := range s.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(s.challenges, token)
			removed++
		}
	}
	for sig, exp := range s.verified {
		if !now.Before(exp) {
			delete(s.verified, sig)
			removed++
		}
	}
	for sig, rec := range s.failures {
		if !now.Before(rec.lastFailure.Add(FailureWindow)) {
			delete(s.failures, sig)
			removed++
		}
	}
	return removed
}

type ChallengePage struct {
	TargetID    string
	Token       string
	OriginalURL string
	Error       string
}

var challengeTemplate = template.Must(template.New("challenge").Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>Verification Required</title>
    <style>
      body { font-family: sans-serif; background:#0d1117; color:#cdd9e5; display:flex; align-items:center; justify-content:center; height:100vh; margin:0; }
      .box { background:#161b22; border:1px solid #30363d; border-radius:12px; padding:28px; width:360px; }
      h1 { font-size:18px; margin:0 0 8px; }
      p { font-size:13px; color:#8b949e; margin:0 0 16px; }
      label { display:flex; align-items:center; gap:8px; font-size:13px; }
      button { margin-top:14px; width:100%; padding:10px 12px; background:#58a6ff; color:#fff; border:none; border-radius:8px; cursor:pointer; font-weight:600; }
      .error { color:#f87171; font-size:12px; margin-top:10px; }
    </style>
  </head>
  <body>
    <div class="box">
      <h1>We detected unusual traffic. Please verify.</h1>
      <p>AegisGate Security &mdash; complete this quick check to continue.</p>
      <form method="POST" action="/gateway/{{.TargetID}}/_verify">
        <input type="hidden" name="token" value="{{.Token}}" />
        <input type="hidden" name="originalUrl" value="{{.EncodedURL}}" />
        <label><input type="checkbox" name="human" required /> I am not a robot</label>
        <button type="submit">Verify</button>
      </form>
      {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
    </div>
  </body>
</html>`))

// RenderChallengePage writes the verification form with a 200 status.
func RenderChallengePage(w http.ResponseWriter, page ChallengePage) error {
	originalURL := page.OriginalURL
	if originalURL == "" {
		originalURL = "/gateway/" + page.TargetID
	}

	SetSecurityHeaders(w.Header())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	return challengeTemplate.Execute(w, struct {
		ChallengePage
		EncodedURL string
	}{page, url.QueryEscape(originalURL)})
}
