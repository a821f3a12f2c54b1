package filter

import "time"

type ProtocolDistribution struct {
	HTTP1     float64 `json:"http1"`
	HTTP2     float64 `json:"http2"`
	WebSocket float64 `json:"websocket"`
}

type TrafficHistory struct {
	RPS       []float64 `json:"rps"`
	Bandwidth []float64 `json:"bandwidth"`
}

type TrafficSnapshot struct {
	RPS                  float64              `json:"rps"`
	BandwidthGbps        float64              `json:"bandwidthGbps"`
	CleanPercent         float64              `json:"cleanPercent"`
	RateLimitedPercent   float64              `json:"rateLimitedPercent"`
	ChallengedPercent    float64              `json:"challengedPercent"`
	BlockedPercent       float64              `json:"blockedPercent"`
	AvgLatencyMs         float64              `json:"avgLatencyMs"`
	StatusCodes          StatusCounts         `json:"statusCodes"`
	Totals               Totals               `json:"totals"`
	ProtocolDistribution ProtocolDistribution `json:"protocolDistribution"`
	History              TrafficHistory       `json:"history"`
}

type MitigationSnapshot struct {
	LastDecision       *DecisionRecord `json:"lastDecision"`
	Actions            ActionCounts    `json:"actions"`
	MitigationLog      []LogEntry      `json:"mitigationLog"`
	TrafficClasses     ClassCounts     `json:"trafficClasses"`
	ClassActions       ClassActions    `json:"classActions"`
	RecentClassCounts  ClassCounts     `json:"recentClassCounts"`
	RecentClassActions ClassActions    `json:"recentClassActions"`
}

type ExplainabilitySnapshot struct {
	Reason       string       `json:"reason"`
	TopFeatures  []string     `json:"topFeatures"`
	Confidence   float64      `json:"confidence"`
	TrustScore   float64      `json:"trustScore"`
	AnomalyScore int          `json:"anomalyScore"`
	TrafficClass TrafficClass `json:"trafficClass"`
	RiskScore    float64      `json:"riskScore"`
}

func percent(part, total int64) float64 {
	if total == 0 {
		total = 1
	}
	return float64(part) / float64(total) * 100
}

func (s *TrafficState) Traffic() TrafficSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	window := float64(s.windowSeconds)
	actions := s.actions.total()
	protocols := s.protocols.HTTP1 + s.protocols.HTTP2 + s.protocols.WebSocket

	avgLatency := 0.0
	if n := s.latencyCount.Sum(now); n > 0 {
		avgLatency = s.latencySum.Sum(now) / n
	}

	bandwidth := s.bytesWindow.Series(now)
	for i, b := range bandwidth {
		bandwidth[i] = b * 8 / 1e9
	}

	return TrafficSnapshot{
		RPS:                s.rpsWindow.Sum(now) / window,
		BandwidthGbps:      s.bytesWindow.Sum(now) * 8 / (window * 1e9),
		CleanPercent:       percent(s.actions.Allowed, actions),
		RateLimitedPercent: percent(s.actions.RateLimited, actions),
		ChallengedPercent:  percent(s.actions.Challenged, actions),
		BlockedPercent:     percent(s.actions.Blocked, actions),
		AvgLatencyMs:       avgLatency,
		StatusCodes:        s.statusCodes,
		Totals:             s.totals,
		ProtocolDistribution: ProtocolDistribution{
			HTTP1:     percent(s.protocols.HTTP1, protocols),
			HTTP2:     percent(s.protocols.HTTP2, protocols),
			WebSocket: percent(s.protocols.WebSocket, protocols),
		},
		History: TrafficHistory{
			RPS:       s.rpsWindow.Series(now),
			Bandwidth: bandwidth,
		},
	}
}

func (s *TrafficState) decisionFresh(now time.Time) bool {
	return s.lastDecision != nil && now.Sub(s.lastDecisionAt) <= s.window()
}

func (s *TrafficState) Mitigation() MitigationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneDecisions(now)

	snap := MitigationSnapshot{
		Actions:        s.actions,
		MitigationLog:  append([]LogEntry(nil), s.log...),
		TrafficClasses: s.classes,
		ClassActions:   s.classActions,
	}
	if s.decisionFresh(now) {
		d := *s.lastDecision
		snap.LastDecision = &d
	}
	for _, e := range s.decisions {
		snap.RecentClassCounts.add(e.class)
		snap.RecentClassActions.add(e.class, e.action)
	}
	return snap
}

// Anomaly returns the last anomaly result while traffic is recent, else a
// zeroed legit record.
func (s *TrafficState) Anomaly() AnomalyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	recent := !s.lastSeenAt.IsZero() && now.Sub(s.lastSeenAt) <= s.window()
	if !recent || s.lastAnomaly == nil {
		return AnomalyRecord{TrafficClass: ClassLegit, Reason: "No recent anomaly."}
	}
	return *s.lastAnomaly
}

func (s *TrafficState) Explainability() ExplainabilitySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.decisionFresh(s.now()) {
		return ExplainabilitySnapshot{
			Reason:       "No recent decision.",
			TopFeatures:  []string{},
			TrafficClass: ClassLegit,
		}
	}
	d := s.lastDecision
	return ExplainabilitySnapshot{
		Reason:       d.Reason,
		TopFeatures:  append([]string{}, d.TopFeatures...),
		Confidence:   d.Confidence,
		TrustScore:   d.TrustScore,
		AnomalyScore: d.AnomalyScore,
		TrafficClass: d.TrafficClass,
		RiskScore:    d.RiskScore,
	}
}
