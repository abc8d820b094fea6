package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLimiter_SetCapacity(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("hr-main", 10, time.Minute)

	cap := limiter.GetCapacity("hr-main")
	if cap == nil {
		t.Fatal("expected capacity, got nil")
	}
	if cap.Total != 10 {
		t.Errorf("expected capacity 10, got %d", cap.Total)
	}
	if cap.Available != 10 {
		t.Errorf("expected available 10, got %d", cap.Available)
	}
	if cap.Window != time.Minute {
		t.Errorf("expected window 1m, got %v", cap.Window)
	}
}

func TestMemoryLimiter_TryAcquire(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("hr-main", 3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.TryAcquire("hr-main") {
			t.Errorf("expected TryAcquire to succeed on attempt %d", i+1)
		}
	}
	if limiter.TryAcquire("hr-main") {
		t.Error("expected TryAcquire to fail after exhausting capacity")
	}

	// Other accounts are independent.
	limiter.SetCapacity("other", 1, time.Minute)
	if !limiter.TryAcquire("other") {
		t.Error("expected independent bucket for other account")
	}
}

func TestMemoryLimiter_UnknownIsUnlimited(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	for i := 0; i < 100; i++ {
		if !limiter.TryAcquire("anything") {
			t.Fatal("resources without a limit must not be throttled")
		}
	}
	if limiter.GetCapacity("anything") != nil {
		t.Error("expected nil capacity for unlimited resource")
	}
	if limiter.RetryAfter("anything") != 0 {
		t.Error("expected zero RetryAfter for unlimited resource")
	}
}

func TestMemoryLimiter_Default(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetDefault(2, time.Minute)
	limiter.SetCapacity("vip", 0, 0)

	for _, acc := range []string{"a", "b"} {
		if !limiter.TryAcquire(acc) || !limiter.TryAcquire(acc) {
			t.Errorf("%s: expected two tokens from the default", acc)
		}
		if limiter.TryAcquire(acc) {
			t.Errorf("%s: expected default capacity to be exhausted", acc)
		}
	}

	for i := 0; i < 10; i++ {
		if !limiter.TryAcquire("vip") {
			t.Fatal("explicitly unlimited resource was throttled")
		}
	}
}

func TestMemoryLimiter_Refill(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	now := time.Now()
	limiter.nowFunc = func() time.Time { return now }

	// 10 tokens per second
	limiter.SetCapacity("hr-main", 10, time.Second)

	for i := 0; i < 10; i++ {
		if !limiter.TryAcquire("hr-main") {
			t.Fatalf("expected TryAcquire to succeed on attempt %d", i+1)
		}
	}
	if limiter.TryAcquire("hr-main") {
		t.Error("expected TryAcquire to fail when exhausted")
	}

	if got := limiter.RetryAfter("hr-main"); got != 100*time.Millisecond {
		t.Errorf("expected RetryAfter 100ms, got %v", got)
	}

	now = now.Add(500 * time.Millisecond)

	acquired := 0
	for limiter.TryAcquire("hr-main") {
		acquired++
		if acquired > 10 {
			t.Fatal("acquired more than capacity")
		}
	}
	if acquired < 4 || acquired > 6 {
		t.Errorf("expected ~5 tokens after 500ms, got %d", acquired)
	}
}

func TestMemoryLimiter_SetCapacity_UpdateExisting(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("hr-main", 10, time.Minute)
	limiter.SetCapacity("hr-main", 5, time.Minute)

	cap := limiter.GetCapacity("hr-main")
	if cap.Total != 5 || cap.Available != 5 {
		t.Errorf("expected 5/5 after shrink, got %d/%d", cap.Available, cap.Total)
	}
}

func TestMemoryLimiter_Close(t *testing.T) {
	limiter := NewMemoryLimiter()
	limiter.SetCapacity("hr-main", 10, time.Minute)

	if err := limiter.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := limiter.Close(); err != ErrClosed {
		t.Errorf("expected ErrClosed on second close, got %v", err)
	}
	if limiter.TryAcquire("hr-main") {
		t.Error("TryAcquire must fail after close")
	}
}

func TestMemoryLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	now := time.Now()
	limiter.nowFunc = func() time.Time { return now }
	limiter.SetCapacity("hr-main", 50, time.Hour)

	var wg sync.WaitGroup
	var granted atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if limiter.TryAcquire("hr-main") {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 50 {
		t.Errorf("expected exactly 50 grants, got %d", granted.Load())
	}
}
