package filter

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultTrust     = 0.7
	trustRecovery    = 0.01
	trustDecay       = 0.08
	trustHardDecay   = 0.18
	idleRecoveryStep = 5 * time.Second
)

type trustRecord struct {
	trust       float64
	lastUpdated time.Time
}

// TrustStore keeps a reputation in [0,1] per client signature.
type TrustStore struct {
	mu      sync.Mutex
	records map[string]*trustRecord
	now     func() time.Time
}

func NewTrustStore() *TrustStore {
	return &TrustStore{
		records: make(map[string]*trustRecord),
		now:     time.Now,
	}
}

func (s *TrustStore) record(signature string) *trustRecord {
	rec, ok := s.records[signature]
	if !ok {
		rec = &trustRecord{trust: DefaultTrust, lastUpdated: s.now()}
		s.records[signature] = rec
	}
	return rec
}

// Update applies one request's verdict to the signature's trust.
func (s *TrustStore) Update(signature string, anomalyScore int, class TrafficClass) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(signature)
	now := s.now()
	elapsed := math.Max(1, now.Sub(rec.lastUpdated).Seconds())
	rec.lastUpdated = now

	suspicious := anomalyScore > 60 || class.BotLike()
	highlySuspicious := anomalyScore > 75 || class == ClassFlood

	delta := 0.0
	switch {
	case highlySuspicious:
		delta -= trustHardDecay
	case suspicious:
		delta -= trustDecay
	default:
		delta += trustRecovery
	}

	if elapsed > idleRecoveryStep.Seconds() && !suspicious {
		delta += trustRecovery * math.Min(elapsed/idleRecoveryStep.Seconds(), 3)
	}

	rec.trust = clamp01(rec.trust + delta)
	return rec.trust
}

// Get reports the signature's current trust without creating a record.
func (s *TrustStore) Get(signature string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[signature]
	if !ok {
		return DefaultTrust, false
	}
	return rec.trust, true
}

func (s *TrustStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep evicts records untouched for longer than idle.
func (s *TrustStore) Sweep(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for sig, rec := range s.records {
		if now.Sub(rec.lastUpdated) > idle {
			delete(s.records, sig)
			removed++
		}
	}
	return removed
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
