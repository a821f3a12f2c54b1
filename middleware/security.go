package middleware

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"aegisgate/logger"
)

// SetSecurityHeaders applies the headers used on every gateway-generated page.
func SetSecurityHeaders(h http.Header) {
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetSecurityHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

// decoyDelay is 250-649ms so a decoy answer looks like a slow upstream.
var decoyDelay = func() time.Duration {
	return 250*time.Millisecond + time.Duration(rand.Intn(400))*time.Millisecond
}

type decoyData struct {
	Items     []any     `json:"items"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type decoyResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Data    decoyData `json:"data"`
}

// Decoy tarpits a probing client and then answers with an empty success payload.
func Decoy(w http.ResponseWriter, r *http.Request) {
	timer := time.NewTimer(decoyDelay())
	defer timer.Stop()

	select {
	case <-r.Context().Done():
		logger.Debug("Decoy client went away", "remote_addr", r.RemoteAddr)
		return
	case <-timer.C:
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(decoyResponse{
		Status:  "ok",
		Message: "Request received.",
		Data:    decoyData{Items: []any{}, UpdatedAt: time.Now().UTC()},
	})
}
