package ratelimit

import (
	"sync"
	"time"
)

// bucket refills continuously at capacity/window tokens. Fractional tokens
// are kept so frequent polls do not lose refill time.
type bucket struct {
	capacity int
	window   time.Duration
	tokens   float64
	last     time.Time
}

func newBucket(capacity int, window time.Duration, now time.Time) *bucket {
	return &bucket{capacity: capacity, window: window, tokens: float64(capacity), last: now}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens += float64(elapsed) * float64(b.capacity) / float64(b.window)
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
	b.last = now
}

func (b *bucket) take(now time.Time) bool {
	b.refill(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// wait returns how long until a whole token is available.
func (b *bucket) wait(now time.Time) time.Duration {
	b.refill(now)
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration(float64(b.window) * (1 - b.tokens) / float64(b.capacity))
}

// MemoryLimiter keeps one token bucket per resource in process memory.
// Resources without an explicit capacity get the default on first use;
// with no default they are unlimited. It is safe for concurrent use.
type MemoryLimiter struct {
	mu sync.Mutex

	// buckets holds nil for resources explicitly marked unlimited.
	buckets map[string]*bucket
	def     Capacity
	closed  bool
	nowFunc func() time.Time
}

// NewMemoryLimiter creates a limiter with no limits configured.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		nowFunc: time.Now,
	}
}

// SetDefault sets the capacity for resources without their own. A
// non-positive capacity or window removes the default. Buckets already
// created from an earlier default keep it.
func (m *MemoryLimiter) SetDefault(capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if capacity <= 0 || window <= 0 {
		m.def = Capacity{}
		return
	}
	m.def = Capacity{Total: capacity, Window: window}
}

// SetCapacity sets the limit for one resource. A non-positive capacity or
// window makes it unlimited regardless of the default. Shrinking a bucket
// caps its current tokens.
func (m *MemoryLimiter) SetCapacity(resource string, capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if capacity <= 0 || window <= 0 {
		m.buckets[resource] = nil
		return
	}
	now := m.nowFunc()
	b := m.buckets[resource]
	if b == nil {
		m.buckets[resource] = newBucket(capacity, window, now)
		return
	}
	b.refill(now)
	b.capacity, b.window = capacity, window
	if b.tokens > float64(capacity) {
		b.tokens = float64(capacity)
	}
}

// bucketFor returns the resource's bucket, creating it from the default.
// nil means unlimited. Callers hold m.mu.
func (m *MemoryLimiter) bucketFor(resource string) *bucket {
	if b, ok := m.buckets[resource]; ok {
		return b
	}
	if m.def.Total == 0 {
		return nil
	}
	b := newBucket(m.def.Total, m.def.Window, m.nowFunc())
	m.buckets[resource] = b
	return b
}

// GetCapacity reports the state of a resource, or nil if it is unlimited.
func (m *MemoryLimiter) GetCapacity(resource string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bucketFor(resource)
	if b == nil {
		return nil
	}
	b.refill(m.nowFunc())
	return &Capacity{
		Resource:  resource,
		Available: int(b.tokens),
		Total:     b.capacity,
		Window:    b.window,
	}
}

// TryAcquire takes one token without blocking.
func (m *MemoryLimiter) TryAcquire(resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	b := m.bucketFor(resource)
	return b == nil || b.take(m.nowFunc())
}

// RetryAfter returns how long until resource has a token again.
func (m *MemoryLimiter) RetryAfter(resource string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucketFor(resource)
	if b == nil {
		return 0
	}
	return b.wait(m.nowFunc())
}

// Close makes every later TryAcquire fail. A second Close returns ErrClosed.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return nil
}

var _ Limiter = (*MemoryLimiter)(nil)
