package filter

import "time"

// RollingCounter sums values into per-second buckets over a trailing window.
// It is not safe for concurrent use; owners guard it with their own lock.
type RollingCounter struct {
	windowSeconds int64
	buckets       map[int64]float64
}

func NewRollingCounter(windowSeconds int) *RollingCounter {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &RollingCounter{
		windowSeconds: int64(windowSeconds),
		buckets:       make(map[int64]float64),
	}
}

func (c *RollingCounter) Add(value float64, at time.Time) {
	second := at.Unix()
	c.buckets[second] += value
	c.prune(second)
}

func (c *RollingCounter) prune(currentSecond int64) {
	cutoff := currentSecond - c.windowSeconds
	for k := range c.buckets {
		if k < cutoff {
			delete(c.buckets, k)
		}
	}
}

// Sum returns the total over the window ending at now.
func (c *RollingCounter) Sum(now time.Time) float64 {
	c.prune(now.Unix())
	total := 0.0
	for _, v := range c.buckets {
		total += v
	}
	return total
}

// Series returns one value per second, oldest first, ending at now.
func (c *RollingCounter) Series(now time.Time) []float64 {
	current := now.Unix()
	c.prune(current)
	points := make([]float64, 0, c.windowSeconds)
	for i := c.windowSeconds - 1; i >= 0; i-- {
		points = append(points, c.buckets[current-i])
	}
	return points
}
