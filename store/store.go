package store

import "time"

// Storer is the common interface for block-list backends (Redis, In-Memory).
type Storer interface {
	IsBlocked(key string) bool
	// BlockTTL reports the time left on an active block.
	BlockTTL(key string) (time.Duration, bool)
	Block(key string, expiration time.Duration, blockType string)
	Unblock(key string) error
	ListBlocks() (map[string]string, error)
}
