// Package guard rate-limits callers of the chat and content endpoints.
package guard

import (
	"strconv"
	"sync"
	"time"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// DefaultPerMinute is the request allowance per member per minute.
const DefaultPerMinute = 60

const window = 60 * time.Second

// Guard enforces a per-key request budget over fixed one-minute windows.
type Guard struct {
	PerMinute int
	Now       func() time.Time

	mu         sync.Mutex
	rateCounts map[string]*rateBucket
}

type rateBucket struct {
	count       int
	windowStart time.Time
}

// NewGuard creates a Guard allowing perMinute requests per key. perMinute
// <= 0 uses DefaultPerMinute.
func NewGuard(perMinute int) *Guard {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	return &Guard{
		PerMinute:  perMinute,
		Now:        time.Now,
		rateCounts: make(map[string]*rateBucket),
	}
}

// CheckRateLimit counts one request against key and returns ErrRateLimited
// once the key has used its allowance for the current window.
func (g *Guard) CheckRateLimit(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.Now()
	bucket, ok := g.rateCounts[key]
	if !ok {
		g.rateCounts[key] = &rateBucket{count: 1, windowStart: now}
		return nil
	}

	if now.Sub(bucket.windowStart) >= window {
		bucket.count = 1
		bucket.windowStart = now
		return nil
	}

	if bucket.count >= g.PerMinute {
		return domain.ErrRateLimited
	}

	bucket.count++
	return nil
}

// CheckMember is CheckRateLimit keyed by member id.
func (g *Guard) CheckMember(memberID int64) error {
	return g.CheckRateLimit("member:" + strconv.FormatInt(memberID, 10))
}

// Sweep drops buckets whose window has closed and returns how many were
// removed.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.Now()
	n := 0
	for k, b := range g.rateCounts {
		if now.Sub(b.windowStart) >= window {
			delete(g.rateCounts, k)
			n++
		}
	}
	return n
}
