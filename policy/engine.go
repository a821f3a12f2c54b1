// Package policy turns detection signals into a single mitigation decision.
package policy

import (
	"fmt"
	"math"

	"aegisgate/filter"
)

type Action string

const (
	Allow     Action = "ALLOW"
	RateLimit Action = "RATE_LIMIT"
	Challenge Action = "CHALLENGE"
	Block     Action = "BLOCK"
)

// Mitigation maps the action onto the counter names used by traffic snapshots.
func (a Action) Mitigation() filter.MitigationAction {
	switch a {
	case RateLimit:
		return filter.ActionRateLimited
	case Challenge:
		return filter.ActionChallenged
	case Block:
		return filter.ActionBlocked
	default:
		return filter.ActionAllowed
	}
}

const (
	RateLimitRPS        = 30
	MaxChallengeFailure = 3
	verifiedRiskRelief  = 0.35
)

var classWeights = map[filter.TrafficClass]float64{
	filter.ClassFlood:      0.35,
	filter.ClassBot:        0.2,
	filter.ClassFlashCrowd: 0.1,
}

type Input struct {
	AnomalyScore      int
	Classification    filter.Classification
	Features          filter.Features
	Trust             float64
	AttackMode        bool
	Verified          bool
	ChallengeFailures int
}

type Decision struct {
	Action       Action   `json:"action"`
	Reason       string   `json:"reason"`
	Confidence   float64  `json:"confidence"`
	RiskScore    float64  `json:"riskScore"`
	RateLimitRPS float64  `json:"rateLimitRps,omitempty"`
	TopFeatures  []string `json:"topFeatures"`
}

// RiskScore is the composite severity in [0,1].
func RiskScore(in Input) float64 {
	trustPenalty := math.Max(0, 0.5-in.Trust) * 0.5
	risk := float64(in.AnomalyScore)/100*0.6 +
		classWeights[in.Classification.Class] +
		trustPenalty +
		in.Classification.Confidence*0.25
	risk = math.Min(1, risk)

	if in.Verified {
		risk = math.Max(0, risk-verifiedRiskRelief)
	}
	if in.ChallengeFailures > 0 {
		risk = math.Min(1, risk+math.Min(0.2, float64(in.ChallengeFailures)*0.08))
	}
	return risk
}

func topFeatures(f filter.Features) []string {
	second := "headerEntropy"
	if f.EndpointConcentration > 0.4 {
		second = "endpointConcentration"
	}
	third := "payloadVariance"
	if f.HeaderEntropy < 1.5 {
		third = "headerEntropy"
	}
	return []string{"rps", second, third}
}

// Decide applies the ordered rules; the first match wins.
func Decide(in Input) Decision {
	class := in.Classification.Class
	d := Decision{
		Action:      Allow,
		Reason:      "Traffic allowed with continued monitoring.",
		Confidence:  in.Classification.Confidence,
		RiskScore:   RiskScore(in),
		TopFeatures: topFeatures(in.Features),
	}

	switch {
	case in.ChallengeFailures >= MaxChallengeFailure:
		d.Action = Block
		d.Reason = "Repeated CAPTCHA failures detected. Blocking temporarily."

	case in.AttackMode && !in.Verified:
		d.Action = Challenge
		d.Reason = "Attack mode active. Step-up verification required."

	case !in.Verified && (class.BotLike() || in.AnomalyScore >= 75 || d.RiskScore >= 0.8 || in.Trust < 0.15):
		d.Action = Challenge
		d.Reason = "Suspicious signals detected. Step-up verification required."

	case in.Features.RPS < 2 && in.Trust > 0.2:
		d.Reason = "Low request rate; allow to avoid false positives."
		d.Confidence = math.Max(0.4, d.Confidence)

	case !class.BotLike() && in.AnomalyScore < 70 && in.Trust > 0.3:
		d.Reason = "Traffic within expected baseline. Monitoring only."
		d.Confidence = math.Max(0.4, d.Confidence)

	case class.BotLike() && d.RiskScore >= 0.97 && in.AnomalyScore > 92 && in.Trust < 0.2:
		d.Action = Block
		d.Reason = fmt.Sprintf("Temporary block applied due to sustained %s signals, high anomaly score, and low trust.", class)

	case d.RiskScore >= 0.85 && (class.BotLike() || in.AnomalyScore > 80):
		d.Action = RateLimit
		d.RateLimitRPS = RateLimitRPS
		d.Reason = fmt.Sprintf("Rate limiting applied due to %s signals, elevated anomaly score, and declining trust.", class)
	}
	return d
}

// ApplyVerificationBypass upgrades any non-BLOCK decision to ALLOW for a
// verified client.
func ApplyVerificationBypass(d Decision, verified bool) Decision {
	if !verified || d.Action == Block || d.Action == Allow {
		return d
	}
	d.Action = Allow
	d.RateLimitRPS = 0
	d.Reason += " Verified client bypass."
	return d
}

// RequiresAttackChallenge is the gateway-level check applied after the engine:
// during attack mode unverified automated traffic must still solve a challenge.
func RequiresAttackChallenge(attackActive bool, class filter.TrafficClass, verified bool) bool {
	return attackActive && class.BotLike() && !verified
}
