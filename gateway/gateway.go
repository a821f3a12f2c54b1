// Package gateway sequences detection, policy and enforcement for every
// request under /gateway and forwards what survives to the target upstream.
package gateway

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"aegisgate/filter"
	"aegisgate/logger"
	"aegisgate/middleware"
	"aegisgate/notifier"
	"aegisgate/policy"
	"aegisgate/store"
)

const (
	verifiedTrustBonus = 0.35
	bucketIdleTTL      = 10 * time.Minute
	failClosedReason   = "Detection or policy error. Default block."
)

type Config struct {
	WindowSeconds    int
	BaseRateLimitRPS float64
	BaseBurst        int
	BlockTTL         time.Duration
	TrustIdleTTL     time.Duration
}

// Gateway owns all per-process detection state. Nothing in it is global.
type Gateway struct {
	cfg        Config
	registry   *Registry
	global     *filter.TrafficState
	trust      *filter.TrustStore
	attack     *filter.AttackMode
	challenges *middleware.ChallengeService
	secure     *middleware.SecureTokens
	enforcer   *filter.Enforcer
	blocks     store.Storer
	geo        *filter.GeoIPFilter
	alerts     *notifier.AttackAlerter
}

// New wires a gateway. blocks, geo and alerts may be nil.
func New(cfg Config, registry *Registry, blocks store.Storer, geo *filter.GeoIPFilter, alerts *notifier.AttackAlerter) *Gateway {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 60
	}
	if cfg.BaseRateLimitRPS <= 0 {
		cfg.BaseRateLimitRPS = 120
	}
	if cfg.BaseBurst <= 0 {
		cfg.BaseBurst = 200
	}
	if cfg.TrustIdleTTL <= 0 {
		cfg.TrustIdleTTL = time.Hour
	}
	if blocks == nil {
		blocks = store.NewLocalStore()
	}
	return &Gateway{
		cfg:        cfg,
		registry:   registry,
		global:     filter.NewTrafficState(cfg.WindowSeconds),
		trust:      filter.NewTrustStore(),
		attack:     filter.NewAttackMode(),
		challenges: middleware.NewChallengeService(),
		secure:     middleware.NewSecureTokens(),
		enforcer:   filter.NewEnforcer(cfg.BaseRateLimitRPS, cfg.BaseBurst, cfg.BlockTTL, blocks),
		blocks:     blocks,
		geo:        geo,
		alerts:     alerts,
	}
}

func (g *Gateway) Register(id, url, label string) (TargetInfo, error) {
	t, err := g.registry.Register(id, url, label)
	if err != nil {
		return TargetInfo{}, err
	}
	logger.Info("Target registered", "target", t.ID, "url", t.URL)
	return t.Info(), nil
}

func (g *Gateway) Targets() []TargetInfo { return g.registry.List() }

func (g *Gateway) Target(id string) (*Target, bool) { return g.registry.Get(id) }

// Global is the process-wide traffic state mirrored from every target.
func (g *Gateway) Global() *filter.TrafficState { return g.global }

func (g *Gateway) AttackState() filter.AttackModeState { return g.attack.Snapshot() }

// ClientInfo is the gateway's per-signature view of one client.
type ClientInfo struct {
	Signature       string  `json:"signature"`
	Tracked         bool    `json:"tracked"`
	Trust           float64 `json:"trust"`
	Verified        bool    `json:"verified"`
	Failures        int     `json:"challengeFailures"`
	Blocked         bool    `json:"blocked"`
	BlockTTLSeconds int     `json:"blockTtlSeconds,omitempty"`
}

func (g *Gateway) Client(signature string) ClientInfo {
	trust, tracked := g.trust.Get(signature)
	info := ClientInfo{
		Signature: signature,
		Tracked:   tracked,
		Trust:     trust,
		Verified:  g.challenges.IsVerified(signature),
		Failures:  g.challenges.Failures(signature),
		Blocked:   g.blocks.IsBlocked(signature),
	}
	if info.Blocked {
		if ttl, ok := g.blocks.BlockTTL(signature); ok && ttl > 0 {
			info.BlockTTLSeconds = int(math.Ceil(ttl.Seconds()))
		}
	}
	return info
}

// TrackedClients is the number of signatures holding trust state.
func (g *Gateway) TrackedClients() int { return g.trust.Len() }

// VerifyClient lets an operator vouch for a signature without a challenge.
func (g *Gateway) VerifyClient(signature string) {
	g.challenges.MarkVerified(signature)
	logger.Info("Client manually verified", "signature", signature)
}

// ResetClient lifts a block and forgets challenge failures for a signature.
func (g *Gateway) ResetClient(signature string) error {
	if err := g.blocks.Unblock(signature); err != nil {
		return fmt.Errorf("unblock %s: %w", signature, err)
	}
	g.challenges.ClearFailures(signature)
	logger.Info("Client reset", "signature", signature)
	return nil
}

// evaluation is what the detection and decision sequence hands to the
// enforcement stage.
type evaluation struct {
	decision     policy.Decision
	class        filter.Classification
	anomaly      filter.AnomalyResult
	trust        float64
	verified     bool
	attackActive bool
	rps          float64
	reason       string
}

// evaluate runs detection and policy. A panic anywhere in it is returned as
// an error so the caller can fail closed.
func (g *Gateway) evaluate(r *http.Request, t *Target, signature, country string) (ev evaluation, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("detection pipeline panic: %v", rec)
		}
	}()

	meta := filter.ExtractMetadata(r)
	features := t.State.RecordRequest(meta)
	g.global.RecordRequest(meta)

	anomaly := t.Detector.Score(features)
	class := filter.Classify(features, anomaly.Score)

	anomalyRec := filter.AnomalyRecord{
		AnomalyScore: anomaly.Score,
		TrafficClass: class.Class,
		Confidence:   class.Confidence,
		Reason:       class.Reason,
	}
	t.State.RecordAnomaly(anomalyRec)
	g.global.RecordAnomaly(anomalyRec)
	filter.AnomalyScore.WithLabelValues(t.ID).Set(float64(anomaly.Score))

	trust := g.trust.Update(signature, anomaly.Score, class.Class)
	verified := g.challenges.IsVerified(signature)
	if verified {
		trust = math.Min(1, trust+verifiedTrustBonus)
	}

	// Attack mode sees the worse of the global and per-target anomaly here;
	// the post-block update below only sees the per-target score.
	maxAnomaly := max(g.global.Anomaly().AnomalyScore, t.State.Anomaly().AnomalyScore)
	rps := t.State.RPS()
	attackActive := g.attack.Update(filter.AttackSignal{
		AnomalyScore: maxAnomaly,
		RPS:          rps,
		Class:        class.Class,
	}) || maxAnomaly >= 70 || rps >= 25 || (class.Class.BotLike() && maxAnomaly >= 55)
	if attackActive {
		filter.AttackModeActive.Set(1)
	} else {
		filter.AttackModeActive.Set(0)
	}

	decision := policy.Decide(policy.Input{
		AnomalyScore:      anomaly.Score,
		Classification:    class,
		Features:          features,
		Trust:             trust,
		AttackMode:        attackActive,
		Verified:          verified,
		ChallengeFailures: g.challenges.Failures(signature),
	})
	decision = policy.ApplyVerificationBypass(decision, verified)
	reason := decision.Reason + " " + class.Reason

	decisionRec := filter.DecisionRecord{
		Action:       decision.Action.Mitigation(),
		Reason:       reason,
		Confidence:   class.Confidence,
		AnomalyScore: anomaly.Score,
		TrafficClass: class.Class,
		TopFeatures:  anomaly.Contributors,
		TrustScore:   trust,
		RiskScore:    decision.RiskScore,
		Country:      country,
	}
	t.State.RecordDecision(decisionRec)
	g.global.RecordDecision(decisionRec)
	filter.Decisions.WithLabelValues(string(decision.Action), string(class.Class)).Inc()

	g.alerts.Observe(attackActive, notifier.Alert{
		TargetID:     t.ID,
		Action:       string(decision.Action),
		TrafficClass: string(class.Class),
		AnomalyScore: anomaly.Score,
		RPS:          rps,
		Reason:       reason,
	})

	return evaluation{
		decision:     decision,
		class:        class,
		anomaly:      anomaly,
		trust:        trust,
		verified:     verified,
		attackActive: attackActive,
		rps:          rps,
		reason:       reason,
	}, nil
}

type sweeper interface {
	Sweep() int
}

// StartJanitor periodically evicts expired and idle per-signature state
// until ctx is cancelled.
func (g *Gateway) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sweep()
			}
		}
	}()
}

func (g *Gateway) sweep() {
	challenges := g.challenges.Sweep()
	tokens := g.secure.Sweep()
	buckets := g.enforcer.Sweep(bucketIdleTTL)
	trust := g.trust.Sweep(g.cfg.TrustIdleTTL)
	blocks := 0
	if s, ok := g.blocks.(sweeper); ok {
		blocks = s.Sweep()
	}
	logger.Debug("Janitor sweep", "challenges", challenges, "secure_tokens", tokens,
		"buckets", buckets, "trust", trust, "blocks", blocks)
}
