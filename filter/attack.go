package filter

import (
	"sync"
	"time"
)

const (
	AttackTTL          = 5 * time.Minute
	blockDecayInterval = 3 * time.Second
	attackBlockTrigger = 5
)

// AttackSignal is one observation fed into the attack-mode controller.
type AttackSignal struct {
	AnomalyScore int
	RPS          float64
	Class        TrafficClass
	Blocked      bool
}

type AttackModeState struct {
	Active       bool      `json:"active"`
	LastUpdated  time.Time `json:"lastUpdated"`
	LastAttackAt time.Time `json:"lastAttackAt"`
	RecentBlocks int       `json:"recentBlocks"`
}

// AttackMode is the process-wide "under attack" flag with hysteresis.
type AttackMode struct {
	mu    sync.Mutex
	state AttackModeState
	now   func() time.Time
}

func NewAttackMode() *AttackMode {
	return &AttackMode{now: time.Now}
}

func (a *AttackMode) Update(sig AttackSignal) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	spike := sig.RPS >= 25 || sig.AnomalyScore >= 70
	botLike := sig.Class.BotLike() && sig.AnomalyScore >= 55

	if sig.Blocked {
		a.state.RecentBlocks++
	} else if a.state.RecentBlocks > 0 && now.Sub(a.state.LastUpdated) >= blockDecayInterval {
		a.state.RecentBlocks--
	}

	if spike || botLike || a.state.RecentBlocks >= attackBlockTrigger {
		a.state.Active = true
		a.state.LastAttackAt = now
	} else {
		a.expire(now)
	}

	a.state.LastUpdated = now
	return a.state.Active
}

func (a *AttackMode) expire(now time.Time) {
	if a.state.Active && now.Sub(a.state.LastAttackAt) > AttackTTL {
		a.state.Active = false
		a.state.RecentBlocks = 0
	}
}

// Active applies the idle TTL lazily before answering.
func (a *AttackMode) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expire(a.now())
	return a.state.Active
}

func (a *AttackMode) Snapshot() AttackModeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expire(a.now())
	return a.state
}
