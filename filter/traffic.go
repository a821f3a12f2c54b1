package filter

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	recentWindow     = 5 * time.Second
	mitigationLogCap = 50
)

type requestRecord struct {
	at          time.Time
	path        string
	fingerprint string
	bytes       int64
	protocol    Protocol
}

type decisionEntry struct {
	at     time.Time
	class  TrafficClass
	action MitigationAction
}

type Totals struct {
	Requests int64 `json:"requests"`
	Bytes    int64 `json:"bytes"`
}

type StatusCounts struct {
	Success     int64 `json:"success"`
	ClientError int64 `json:"clientError"`
	ServerError int64 `json:"serverError"`
}

type ProtocolCounts struct {
	HTTP1     int64 `json:"http1"`
	HTTP2     int64 `json:"http2"`
	WebSocket int64 `json:"websocket"`
}

type ActionCounts struct {
	Allowed     int64 `json:"allowed"`
	RateLimited int64 `json:"rateLimited"`
	Challenged  int64 `json:"challenged"`
	Blocked     int64 `json:"blocked"`
}

func (a *ActionCounts) add(action MitigationAction) {
	switch action {
	case ActionAllowed:
		a.Allowed++
	case ActionRateLimited:
		a.RateLimited++
	case ActionChallenged:
		a.Challenged++
	case ActionBlocked:
		a.Blocked++
	}
}

func (a ActionCounts) total() int64 {
	return a.Allowed + a.RateLimited + a.Challenged + a.Blocked
}

type ClassCounts struct {
	Legit      int64 `json:"legit"`
	FlashCrowd int64 `json:"flash_crowd"`
	Bot        int64 `json:"bot"`
	Flood      int64 `json:"flood"`
}

func (c *ClassCounts) add(class TrafficClass) {
	switch class {
	case ClassLegit:
		c.Legit++
	case ClassFlashCrowd:
		c.FlashCrowd++
	case ClassBot:
		c.Bot++
	case ClassFlood:
		c.Flood++
	}
}

// ClassActions splits action counts between automated (bot, flood) and human traffic.
type ClassActions struct {
	Bot   ActionCounts `json:"bot"`
	Human ActionCounts `json:"human"`
}

func (c *ClassActions) add(class TrafficClass, action MitigationAction) {
	if class.BotLike() {
		c.Bot.add(action)
		return
	}
	c.Human.add(action)
}

type LogEntry struct {
	ID           string           `json:"id"`
	Time         time.Time        `json:"time"`
	Action       MitigationAction `json:"action"`
	Reason       string           `json:"reason"`
	Confidence   float64          `json:"confidence"`
	TrustScore   float64          `json:"trustScore"`
	RiskScore    float64          `json:"riskScore"`
	AnomalyScore int              `json:"anomalyScore"`
	TrafficClass TrafficClass     `json:"trafficClass"`
	Features     []string         `json:"features"`
	Country      string           `json:"country,omitempty"`
}

// TrafficState keeps the sliding request window of one target (or of the
// whole gateway) and everything the metrics snapshots are derived from.
type TrafficState struct {
	mu            sync.Mutex
	windowSeconds int
	startedAt     time.Time

	requests     []requestRecord
	rpsWindow    *RollingCounter
	bytesWindow  *RollingCounter
	latencySum   *RollingCounter
	latencyCount *RollingCounter

	totals       Totals
	statusCodes  StatusCounts
	protocols    ProtocolCounts
	classes      ClassCounts
	classActions ClassActions
	actions      ActionCounts

	lastDecision   *DecisionRecord
	lastDecisionAt time.Time
	lastAnomaly    *AnomalyRecord
	lastSeenAt     time.Time

	decisions []decisionEntry
	log       []LogEntry

	now func() time.Time
}

func NewTrafficState(windowSeconds int) *TrafficState {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &TrafficState{
		windowSeconds: windowSeconds,
		startedAt:     time.Now(),
		rpsWindow:     NewRollingCounter(windowSeconds),
		bytesWindow:   NewRollingCounter(windowSeconds),
		latencySum:    NewRollingCounter(windowSeconds),
		latencyCount:  NewRollingCounter(windowSeconds),
		now:           time.Now,
	}
}

func (s *TrafficState) window() time.Duration {
	return time.Duration(s.windowSeconds) * time.Second
}

// RecordRequest appends the request to the window and returns the features
// recomputed over the live window.
func (s *TrafficState) RecordRequest(meta RequestMeta) Features {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.totals.Requests++
	s.totals.Bytes += meta.Bytes
	s.rpsWindow.Add(1, now)
	s.bytesWindow.Add(float64(meta.Bytes), now)
	s.lastSeenAt = now

	s.requests = append(s.requests, requestRecord{
		at:          now,
		path:        meta.Path,
		fingerprint: meta.HeaderFingerprint,
		bytes:       meta.Bytes,
		protocol:    meta.Protocol,
	})

	switch meta.Protocol {
	case ProtocolHTTP1:
		s.protocols.HTTP1++
	case ProtocolHTTP2:
		s.protocols.HTTP2++
	case ProtocolWebSocket:
		s.protocols.WebSocket++
	}

	s.pruneRequests(now)
	return s.features(now)
}

func (s *TrafficState) pruneRequests(now time.Time) {
	cutoff := now.Add(-s.window())
	i := 0
	for i < len(s.requests) && s.requests[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.requests = append(s.requests[:0], s.requests[i:]...)
	}
}

func (s *TrafficState) features(now time.Time) Features {
	total := len(s.requests)
	if total == 0 {
		total = 1
	}

	byEndpoint := make(map[string]int)
	fingerprints := make(map[string]int)
	sizes := make([]float64, 0, len(s.requests))
	recentCutoff := now.Add(-recentWindow)
	recent := 0

	for _, req := range s.requests {
		byEndpoint[req.path]++
		fingerprints[req.fingerprint]++
		sizes = append(sizes, float64(req.bytes))
		if !req.at.Before(recentCutoff) {
			recent++
		}
	}

	maxEndpoint := 0
	for _, n := range byEndpoint {
		if n > maxEndpoint {
			maxEndpoint = n
		}
	}

	variance := populationVariance(sizes)
	burstiness := 0.0
	if len(sizes) > 2 {
		burstiness = math.Sqrt(variance) / math.Max(1, mean(sizes))
	}

	return Features{
		RPS:                   float64(total) / float64(s.windowSeconds),
		RecentRPS:             float64(recent) / recentWindow.Seconds(),
		EndpointConcentration: float64(maxEndpoint) / float64(total),
		HeaderEntropy:         shannonEntropy(fingerprints, len(s.requests)),
		HeaderUniqueness:      float64(len(fingerprints)) / float64(total),
		PayloadVariance:       variance,
		Burstiness:            burstiness,
	}
}

// RecordResponse feeds latency, egress bytes and status buckets.
func (s *TrafficState) RecordResponse(meta ResponseMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := meta.Timestamp
	if at.IsZero() {
		at = s.now()
	}

	if meta.BytesOut > 0 {
		s.bytesWindow.Add(float64(meta.BytesOut), at)
		s.totals.Bytes += meta.BytesOut
	}
	if meta.Latency >= 0 {
		s.latencySum.Add(float64(meta.Latency)/float64(time.Millisecond), at)
		s.latencyCount.Add(1, at)
	}

	switch {
	case meta.StatusCode >= 500:
		s.statusCodes.ServerError++
	case meta.StatusCode >= 400:
		s.statusCodes.ClientError++
	default:
		s.statusCodes.Success++
	}
}

func (s *TrafficState) RecordAnomaly(rec AnomalyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := rec
	s.lastAnomaly = &r
}

func (s *TrafficState) RecordDecision(rec DecisionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	d := rec
	d.TopFeatures = append([]string(nil), rec.TopFeatures...)
	s.lastDecision = &d
	s.lastDecisionAt = now
	s.actions.add(rec.Action)
	s.classes.add(rec.TrafficClass)
	s.classActions.add(rec.TrafficClass, rec.Action)

	s.decisions = append(s.decisions, decisionEntry{at: now, class: rec.TrafficClass, action: rec.Action})
	s.pruneDecisions(now)

	entry := LogEntry{
		ID:           uuid.NewString(),
		Time:         now.UTC(),
		Action:       rec.Action,
		Reason:       rec.Reason,
		Confidence:   rec.Confidence,
		TrustScore:   rec.TrustScore,
		RiskScore:    rec.RiskScore,
		AnomalyScore: rec.AnomalyScore,
		TrafficClass: rec.TrafficClass,
		Features:     d.TopFeatures,
		Country:      rec.Country,
	}
	// newest first, bounded
	s.log = append([]LogEntry{entry}, s.log...)
	if len(s.log) > mitigationLogCap {
		s.log = s.log[:mitigationLogCap]
	}
}

func (s *TrafficState) pruneDecisions(now time.Time) {
	cutoff := now.Add(-s.window())
	i := 0
	for i < len(s.decisions) && s.decisions[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.decisions = append(s.decisions[:0], s.decisions[i:]...)
	}
}

// RPS is the request rate over the rolling counter window.
func (s *TrafficState) RPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpsWindow.Sum(s.now()) / float64(s.windowSeconds)
}

func shannonEntropy(counts map[string]int, total int) float64 {
	if total == 0 {
		return 0
	}
	sum := 0.0
	for _, n := range counts {
		p := float64(n) / float64(total)
		sum -= p * math.Log2(p)
	}
	return sum
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func populationVariance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	acc := 0.0
	for _, v := range values {
		acc += (v - m) * (v - m)
	}
	return acc / float64(len(values))
}
