package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aegisgate/filter"
	"aegisgate/logger"
	"aegisgate/middleware"
	"aegisgate/policy"

	"github.com/go-chi/chi/v5"
)

const (
	Prefix    = "/gateway"
	decoyPath = Prefix + "/decoy"
)

// Routes returns the router to mount at /gateway.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		r.HandleFunc("/decoy", middleware.Decoy)
		r.HandleFunc("/decoy/*", middleware.Decoy)
	})
	r.HandleFunc("/secure/{token}", g.handleSecure)
	r.HandleFunc("/secure/{token}/*", g.handleSecure)

	r.HandleFunc("/{targetID}/_challenge", g.handleChallenge)
	r.HandleFunc("/{targetID}/_verify", g.handleVerify)
	r.HandleFunc("/{targetID}", g.handleTarget)
	r.HandleFunc("/{targetID}/*", g.handleTarget)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Target not specified."})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	middleware.SetSecurityHeaders(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type rejection struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func reject(w http.ResponseWriter, status int, retryAfter int, reason string) {
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	label := "blocked"
	if status == http.StatusTooManyRequests {
		label = "rate_limited"
	}
	writeJSON(w, status, rejection{Status: label, Reason: reason})
}

// suffix is the part of the request path after prefix, "/" when empty.
func suffix(path, prefix string) string {
	s := strings.TrimPrefix(path, prefix)
	if s == "" {
		return "/"
	}
	return s
}

func withQuery(path string, r *http.Request) string {
	if r.URL.RawQuery == "" {
		return path
	}
	return path + "?" + r.URL.RawQuery
}

// safeRedirect keeps post-verification redirects inside the target's gateway path.
func safeRedirect(targetID, raw string) string {
	base := Prefix + "/" + targetID
	if raw == base || strings.HasPrefix(raw, base+"/") || strings.HasPrefix(raw, base+"?") {
		return raw
	}
	return base
}

func (g *Gateway) lookup(w http.ResponseWriter, r *http.Request) (*Target, bool) {
	id := chi.URLParam(r, "targetID")
	t, ok := g.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Target not registered.", "targetId": id})
		return nil, false
	}
	return t, true
}

func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, t *Target, pathSuffix string) {
	out := t.proxy.Forward(w, r, pathSuffix)
	meta := filter.ResponseMeta{
		StatusCode: out.Status,
		BytesOut:   out.BytesOut,
		Latency:    out.Latency,
		Timestamp:  time.Now(),
	}
	t.State.RecordResponse(meta)
	g.global.RecordResponse(meta)
}

func (g *Gateway) handleSecure(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	targetID, ok := g.secure.Check(token, filter.Signature(r))
	if !ok {
		http.Redirect(w, r, decoyPath, http.StatusFound)
		return
	}
	t, ok := g.registry.Get(targetID)
	if !ok {
		http.Redirect(w, r, decoyPath, http.StatusFound)
		return
	}
	g.forward(w, r, t, suffix(r.URL.Path, Prefix+"/secure/"+token))
}

func (g *Gateway) issueChallenge(w http.ResponseWriter, signature, targetID, originalURL, errMsg string) {
	c, err := g.challenges.Issue(signature, targetID, originalURL)
	if err != nil {
		logger.Error("Challenge issue failed", "err", err, "target", targetID)
		reject(w, http.StatusForbidden, 1, failClosedReason)
		return
	}
	if err := middleware.RenderChallengePage(w, middleware.ChallengePage{
		TargetID:    targetID,
		Token:       c.Token,
		OriginalURL: originalURL,
		Error:       errMsg,
	}); err != nil {
		logger.Error("Challenge page render failed", "err", err)
	}
}

func (g *Gateway) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.handleTarget(w, r)
		return
	}
	t, ok := g.lookup(w, r)
	if !ok {
		return
	}
	original := safeRedirect(t.ID, r.URL.Query().Get("originalUrl"))
	g.issueChallenge(w, filter.Signature(r), t.ID, original, "")
}

func formURL(raw string) string {
	if decoded, err := url.QueryUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.handleTarget(w, r)
		return
	}
	t, ok := g.lookup(w, r)
	if !ok {
		return
	}

	signature := filter.Signature(r)
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)
	if err := r.ParseForm(); err != nil {
		logger.Debug("Malformed verification form", "err", err, "target", t.ID)
	}
	original := safeRedirect(t.ID, formURL(r.PostForm.Get("originalUrl")))
	human := r.PostForm.Get("human") != ""

	v, err := g.challenges.Verify(r.PostForm.Get("token"), signature, human)
	if err != nil {
		logger.Info("Challenge verification failed", "target", t.ID, "ip", filter.ClientIP(r),
			"failures", v.Failures, "reason", err)
		if v.Blocked {
			middleware.SetSecurityHeaders(w.Header())
			http.Error(w, "Verification failed. Access blocked.", http.StatusForbidden)
			return
		}
		g.issueChallenge(w, signature, t.ID, original, middleware.UserMessage(err))
		return
	}

	logger.Info("Client verified", "target", t.ID, "ip", filter.ClientIP(r))
	http.Redirect(w, r, safeRedirect(t.ID, v.Challenge.OriginalURL), http.StatusFound)
}

func (g *Gateway) handleTarget(w http.ResponseWriter, r *http.Request) {
	t, ok := g.lookup(w, r)
	if !ok {
		return
	}

	signature := filter.Signature(r)
	ip := filter.ClientIP(r)
	country := g.geo.Country(ip)
	if g.geo.IsDenied(country) {
		logger.Warn("Blocked request from denied country", "ip", ip, "country", country, "target", t.ID)
		filter.BlockedRequests.WithLabelValues(t.ID, "geoip").Inc()
		reject(w, http.StatusForbidden, int(g.enforcer.BlockTTL().Seconds()), "Access denied for country "+country+".")
		return
	}

	ev, err := g.evaluate(r, t, signature, country)
	if err != nil {
		logger.Error("Detection failed, blocking request", "err", err, "ip", ip, "target", t.ID)
		filter.BlockedRequests.WithLabelValues(t.ID, "fail_closed").Inc()
		writeJSON(w, http.StatusForbidden, rejection{Status: "blocked", Reason: failClosedReason})
		return
	}

	if ev.decision.Action != policy.Allow {
		logger.Info("Mitigation decision", "ip", ip, "target", t.ID, "path", r.URL.RequestURI(),
			"anomaly", ev.anomaly.Score, "action", ev.decision.Action, "reason", ev.reason)
	}

	originalURL := r.URL.RequestURI()
	pathSuffix := suffix(r.URL.Path, Prefix+"/"+t.ID)

	if ev.decision.Action == policy.Challenge {
		g.issueChallenge(w, signature, t.ID, originalURL, "")
		return
	}

	if policy.RequiresAttackChallenge(g.attack.Active(), ev.class.Class, g.challenges.IsVerified(signature)) {
		if g.challenges.Failures(signature) >= middleware.MaxFailures {
			http.Redirect(w, r, decoyPath, http.StatusFound)
			return
		}
		g.issueChallenge(w, signature, t.ID, originalURL, "")
		return
	}

	g.enforce(w, r, t, ev, signature, pathSuffix)
}

// enforce answers a decision that needs no challenge. RATE_LIMIT is always
// refused; only ALLOW reaches the upstream.
func (g *Gateway) enforce(w http.ResponseWriter, r *http.Request, t *Target, ev evaluation, signature, pathSuffix string) {
	limited := ev.decision.Action == policy.RateLimit
	rps := ev.decision.RateLimitRPS
	if limited && rps <= 0 {
		rps = g.cfg.BaseRateLimitRPS
	}

	res := g.enforcer.Enforce(signature, ev.decision.Action == policy.Block, limited, rps)
	switch {
	case res.Blocked:
		g.attack.Update(filter.AttackSignal{
			AnomalyScore: ev.anomaly.Score,
			RPS:          t.State.RPS(),
			Class:        ev.class.Class,
			Blocked:      true,
		})
		filter.BlockedRequests.WithLabelValues(t.ID, "block").Inc()
		reject(w, http.StatusForbidden, res.RetryAfter, ev.reason)
		return
	case limited || !res.Allowed:
		filter.BlockedRequests.WithLabelValues(t.ID, "rate_limit").Inc()
		reject(w, http.StatusTooManyRequests, res.RetryAfter, ev.reason)
		return
	}

	if g.attack.Active() && g.challenges.IsVerified(signature) {
		token, err := g.secure.Issue(signature, t.ID)
		if err == nil {
			http.Redirect(w, r, withQuery(Prefix+"/secure/"+token+pathSuffix, r), http.StatusFound)
			return
		}
		logger.Error("Secure token issue failed", "err", err, "target", t.ID)
	}

	g.forward(w, r, t, pathSuffix)
}
