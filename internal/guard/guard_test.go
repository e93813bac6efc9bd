package guard

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitlflow/hitlflow/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGuard(perMinute int) (*Guard, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := NewGuard(perMinute)
	g.Now = clock.Now
	return g, clock
}

func TestCheckRateLimit_WithinLimit(t *testing.T) {
	g, _ := newTestGuard(5)
	for i := 0; i < 5; i++ {
		if err := g.CheckRateLimit("member:1"); err != nil {
			t.Fatalf("call %d: expected nil, got %v", i+1, err)
		}
	}
}

func TestCheckRateLimit_Exceeded(t *testing.T) {
	g, _ := newTestGuard(5)
	for i := 0; i < 5; i++ {
		if err := g.CheckRateLimit("member:1"); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i+1, err)
		}
	}
	err := g.CheckRateLimit("member:1")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCheckRateLimit_WindowReset(t *testing.T) {
	g, clock := newTestGuard(2)
	for i := 0; i < 2; i++ {
		if err := g.CheckRateLimit("k"); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i+1, err)
		}
	}
	if err := g.CheckRateLimit("k"); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited before reset, got %v", err)
	}

	clock.Advance(61 * time.Second)
	if err := g.CheckRateLimit("k"); err != nil {
		t.Fatalf("expected nil after window reset, got %v", err)
	}
}

func TestCheckRateLimit_KeysAreIndependent(t *testing.T) {
	g, _ := newTestGuard(1)
	if err := g.CheckMember(1); err != nil {
		t.Fatalf("member 1: %v", err)
	}
	if err := g.CheckMember(2); err != nil {
		t.Fatalf("member 2 should have its own bucket: %v", err)
	}
	if err := g.CheckMember(1); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for member 1, got %v", err)
	}
}

func TestNewGuard_Default(t *testing.T) {
	if g := NewGuard(0); g.PerMinute != DefaultPerMinute {
		t.Fatalf("expected default %d, got %d", DefaultPerMinute, g.PerMinute)
	}
}

func TestSweep(t *testing.T) {
	g, clock := newTestGuard(3)
	_ = g.CheckRateLimit("a")
	clock.Advance(30 * time.Second)
	_ = g.CheckRateLimit("b")
	clock.Advance(31 * time.Second)

	if n := g.Sweep(); n != 1 {
		t.Fatalf("expected 1 stale bucket, got %d", n)
	}
	if _, ok := g.rateCounts["b"]; !ok {
		t.Fatal("live bucket was swept")
	}
}

func TestCheckRateLimit_Concurrent(t *testing.T) {
	g, _ := newTestGuard(50)
	var wg sync.WaitGroup
	var mu sync.Mutex
	limited := 0
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.CheckRateLimit("shared"); err != nil {
				mu.Lock()
				limited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if limited != 30 {
		t.Fatalf("expected 30 limited calls, got %d", limited)
	}
}
