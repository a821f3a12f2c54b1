package policy

import (
	"strings"
	"testing"

	"aegisgate/filter"
)

func legit() filter.Classification {
	return filter.Classification{Class: filter.ClassLegit, Confidence: 0.4}
}

func flood() filter.Classification {
	return filter.Classification{Class: filter.ClassFlood, Confidence: 0.9}
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name   string
		in     Input
		action Action
		reason string
	}{
		{
			name:   "quiet legit client",
			in:     Input{Classification: legit(), Features: filter.Features{RPS: 1}, Trust: 0.7},
			action: Allow,
			reason: "Low request rate",
		},
		{
			name:   "attack mode outranks block rules",
			in:     Input{AnomalyScore: 95, Classification: flood(), Features: filter.Features{RPS: 50}, Trust: 0.1, AttackMode: true},
			action: Challenge,
			reason: "Attack mode active",
		},
		{
			name:   "repeated failures",
			in:     Input{Classification: legit(), Trust: 0.9, Verified: true, AttackMode: true, ChallengeFailures: 3},
			action: Block,
			reason: "Repeated CAPTCHA failures",
		},
		{
			name:   "unverified bot",
			in:     Input{AnomalyScore: 20, Classification: filter.Classification{Class: filter.ClassBot, Confidence: 0.82}, Features: filter.Features{RPS: 20}, Trust: 0.6},
			action: Challenge,
			reason: "Suspicious signals",
		},
		{
			name:   "low trust",
			in:     Input{Classification: legit(), Features: filter.Features{RPS: 5}, Trust: 0.1},
			action: Challenge,
			reason: "Suspicious signals",
		},
		{
			name:   "baseline traffic",
			in:     Input{AnomalyScore: 30, Classification: legit(), Features: filter.Features{RPS: 5}, Trust: 0.5},
			action: Allow,
			reason: "within expected baseline",
		},
		{
			name:   "verified flood with mild risk",
			in:     Input{AnomalyScore: 50, Classification: flood(), Features: filter.Features{RPS: 40}, Trust: 0.9, Verified: true},
			action: Allow,
			reason: "continued monitoring",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.in)
			if d.Action != tc.action {
				t.Fatalf("action = %s (risk %.3f, %q), want %s", d.Action, d.RiskScore, d.Reason, tc.action)
			}
			if !strings.Contains(d.Reason, tc.reason) {
				t.Errorf("reason = %q, want it to contain %q", d.Reason, tc.reason)
			}
			if d.RiskScore < 0 || d.RiskScore > 1 {
				t.Errorf("risk %v out of range", d.RiskScore)
			}
		})
	}
}

// Rules 6 and 7 sit behind the unverified challenge rule, and verification
// removes 0.35 of risk, so with fewer than three failures a verified client
// tops out below both thresholds.
func TestVerifiedRiskCeiling(t *testing.T) {
	in := Input{AnomalyScore: 100, Classification: flood(), Features: filter.Features{RPS: 80}, Trust: 0, Verified: true, ChallengeFailures: 2}
	d := Decide(in)
	if d.Action != Allow || d.RiskScore >= 0.85 {
		t.Errorf("decision = %s with risk %v, want ALLOW below 0.85", d.Action, d.RiskScore)
	}
}

func TestRiskScore(t *testing.T) {
	in := Input{AnomalyScore: 50, Classification: filter.Classification{Class: filter.ClassBot, Confidence: 0.8}, Trust: 0.3}
	// 0.3 + 0.2 + 0.1 + 0.2
	if got := RiskScore(in); got < 0.7999 || got > 0.8001 {
		t.Errorf("RiskScore = %v, want 0.8", got)
	}

	in.Verified = true
	if got := RiskScore(in); got < 0.4499 || got > 0.4501 {
		t.Errorf("verified RiskScore = %v, want 0.45", got)
	}

	in.ChallengeFailures = 5
	if got := RiskScore(in); got < 0.6499 || got > 0.6501 {
		t.Errorf("failure contribution should cap at 0.2, got %v", got)
	}
}

func TestTopFeatures(t *testing.T) {
	d := Decide(Input{Classification: legit(), Features: filter.Features{RPS: 1, EndpointConcentration: 0.5, HeaderEntropy: 1}, Trust: 0.7})
	want := []string{"rps", "endpointConcentration", "headerEntropy"}
	for i := range want {
		if d.TopFeatures[i] != want[i] {
			t.Fatalf("TopFeatures = %v, want %v", d.TopFeatures, want)
		}
	}
}

func TestApplyVerificationBypass(t *testing.T) {
	d := Decision{Action: RateLimit, Reason: "Rate limiting applied.", RateLimitRPS: 30}

	if got := ApplyVerificationBypass(d, false); got.Action != RateLimit {
		t.Errorf("unverified decision changed: %+v", got)
	}

	got := ApplyVerificationBypass(d, true)
	if got.Action != Allow || got.RateLimitRPS != 0 || got.Reason != "Rate limiting applied. Verified client bypass." {
		t.Errorf("bypass = %+v", got)
	}

	blocked := Decision{Action: Block, Reason: "x"}
	if got := ApplyVerificationBypass(blocked, true); got.Action != Block {
		t.Error("BLOCK must survive verification")
	}
}

func TestRequiresAttackChallenge(t *testing.T) {
	if !RequiresAttackChallenge(true, filter.ClassBot, false) {
		t.Error("unverified bot during attack must be challenged")
	}
	if RequiresAttackChallenge(true, filter.ClassBot, true) {
		t.Error("verified bot should pass")
	}
	if RequiresAttackChallenge(true, filter.ClassLegit, false) {
		t.Error("legit traffic is left to the engine")
	}
	if RequiresAttackChallenge(false, filter.ClassFlood, false) {
		t.Error("no attack, no forced challenge")
	}
}

func TestActionMitigation(t *testing.T) {
	if Block.Mitigation() != filter.ActionBlocked || Allow.Mitigation() != filter.ActionAllowed ||
		RateLimit.Mitigation() != filter.ActionRateLimited || Challenge.Mitigation() != filter.ActionChallenged {
		t.Error("unexpected mitigation mapping")
	}
}
