package filter

import (
	"math"
	"sync"
	"time"

	"aegisgate/store"

	"golang.org/x/time/rate"
)

const DefaultBlockTTL = 60 * time.Second

// bucket holds a token bucket limiter per signature along with the last time it was seen.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type EnforcementResult struct {
	Allowed    bool
	Blocked    bool
	RetryAfter int
}

// Enforcer applies per-signature token buckets and the temporary block list.
type Enforcer struct {
	blocks      store.Storer
	defaultRate rate.Limit
	burst       int
	blockTTL    time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewEnforcer(defaultRate float64, burst int, blockTTL time.Duration, blocks store.Storer) *Enforcer {
	if blockTTL <= 0 {
		blockTTL = DefaultBlockTTL
	}
	if blocks == nil {
		blocks = store.NewLocalStore()
	}
	return &Enforcer{
		blocks:      blocks,
		defaultRate: rate.Limit(defaultRate),
		burst:       burst,
		blockTTL:    blockTTL,
		buckets:     make(map[string]*bucket),
		now:         time.Now,
	}
}

func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// Enforce checks the block list first. A block decision then lists the
// signature; a limited one takes a token from its bucket refilled at
// ratePerSecond (0 = default). Anything else passes untouched.
func (e *Enforcer) Enforce(signature string, block, limit bool, ratePerSecond float64) EnforcementResult {
	if ttl, blocked := e.blocks.BlockTTL(signature); blocked {
		if ttl <= 0 {
			ttl = e.blockTTL
		}
		return EnforcementResult{Blocked: true, RetryAfter: retrySeconds(ttl)}
	}

	if block {
		e.blocks.Block(signature, e.blockTTL, "policy")
		return EnforcementResult{Blocked: true, RetryAfter: retrySeconds(e.blockTTL)}
	}

	if !limit || e.Allow(signature, ratePerSecond) {
		return EnforcementResult{Allowed: true}
	}
	return EnforcementResult{RetryAfter: 1}
}

// Allow consumes one token from the signature's bucket if one is available.
func (e *Enforcer) Allow(signature string, ratePerSecond float64) bool {
	limit := e.defaultRate
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	b, ok := e.buckets[signature]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(limit, e.burst)}
		e.buckets[signature] = b
	} else if b.limiter.Limit() != limit {
		b.limiter.SetLimitAt(now, limit)
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Sweep removes buckets idle for longer than idle; such buckets are full anyway.
func (e *Enforcer) Sweep(idle time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	removed := 0
	for sig, b := range e.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(e.buckets, sig)
			removed++
		}
	}
	return removed
}

func (e *Enforcer) BlockTTL() time.Duration {
	return e.blockTTL
}
