package filter

import "time"

type TrafficClass string

const (
	ClassLegit      TrafficClass = "legit"
	ClassFlashCrowd TrafficClass = "flash_crowd"
	ClassBot        TrafficClass = "bot"
	ClassFlood      TrafficClass = "flood"
)

// BotLike reports whether the class counts as automated traffic.
func (c TrafficClass) BotLike() bool {
	return c == ClassBot || c == ClassFlood
}

type Protocol string

const (
	ProtocolHTTP1     Protocol = "http1"
	ProtocolHTTP2     Protocol = "http2"
	ProtocolWebSocket Protocol = "websocket"
)

// MitigationAction is the metrics-side name of a decision's action.
type MitigationAction string

const (
	ActionAllowed     MitigationAction = "allowed"
	ActionRateLimited MitigationAction = "rateLimited"
	ActionChallenged  MitigationAction = "challenged"
	ActionBlocked     MitigationAction = "blocked"
)

// Features are the windowed signals recomputed on every request.
type Features struct {
	RPS                   float64 `json:"rps"`
	RecentRPS             float64 `json:"recentRps"`
	EndpointConcentration float64 `json:"endpointConcentration"`
	HeaderEntropy         float64 `json:"headerEntropy"`
	HeaderUniqueness      float64 `json:"headerUniqueness"`
	PayloadVariance       float64 `json:"payloadVariance"`
	Burstiness            float64 `json:"burstiness"`
}

type RequestMeta struct {
	Path              string
	Method            string
	Bytes             int64
	HeaderFingerprint string
	Protocol          Protocol
}

type ResponseMeta struct {
	StatusCode int
	BytesOut   int64
	Latency    time.Duration
	Timestamp  time.Time
}

type AnomalyRecord struct {
	AnomalyScore int          `json:"anomalyScore"`
	TrafficClass TrafficClass `json:"trafficClass"`
	Confidence   float64      `json:"confidence"`
	Reason       string       `json:"reason"`
}

// DecisionRecord is what the pipeline reports after deciding on a request.
type DecisionRecord struct {
	Action       MitigationAction `json:"action"`
	Reason       string           `json:"reason"`
	Confidence   float64          `json:"confidence"`
	AnomalyScore int              `json:"anomalyScore"`
	TrafficClass TrafficClass     `json:"trafficClass"`
	TopFeatures  []string         `json:"topFeatures"`
	TrustScore   float64          `json:"trustScore"`
	RiskScore    float64          `json:"riskScore"`
	Country      string           `json:"country,omitempty"`
}
