package store

import (
	"sync"
	"time"
)

type LocalStore struct {
	blocks map[string]localBlock
	mu     sync.RWMutex
	now    func() time.Time
}

type localBlock struct {
	Type   string
	Expiry time.Time
}

func NewLocalStore() *LocalStore {
	return &LocalStore{
		blocks: make(map[string]localBlock),
		now:    time.Now,
	}
}

func (s *LocalStore) IsBlocked(key string) bool {
	_, ok := s.BlockTTL(key)
	return ok
}

func (s *LocalStore) BlockTTL(key string) (time.Duration, bool) {
	s.mu.RLock()
	block, ok := s.blocks[key]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}

	// zero expiry means permanent
	if block.Expiry.IsZero() {
		return 0, true
	}

	left := block.Expiry.Sub(s.now())
	if left <= 0 {
		return 0, false
	}
	return left, true
}

func (s *LocalStore) Block(key string, expiration time.Duration, blockType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry := time.Time{}
	if expiration > 0 {
		expiry = s.now().Add(expiration)
	}

	s.blocks[key] = localBlock{
		Type:   blockType,
		Expiry: expiry,
	}
}

func (s *LocalStore) Unblock(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, key)
	return nil
}

func (s *LocalStore) ListBlocks() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	res := make(map[string]string)
	for k, v := range s.blocks {
		if v.Expiry.IsZero() || now.Before(v.Expiry) {
			res[k] = v.Type
		}
	}
	return res, nil
}

// Sweep drops expired blocks and returns how many were removed.
func (s *LocalStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, v := range s.blocks {
		if !v.Expiry.IsZero() && !now.Before(v.Expiry) {
			delete(s.blocks, k)
			removed++
		}
	}
	return removed
}
