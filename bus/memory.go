package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus delivers notifications inside one process. It is what the
// server uses when no NATS URL is configured.
type MemoryBus struct {
	bufferSize int

	mu      sync.RWMutex
	subs    map[*memorySub]struct{}
	closed  bool
	dropped atomic.Uint64
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		bufferSize: cfg.BufferSize,
		subs:       make(map[*memorySub]struct{}),
	}
}

// Publish hands msg to every matching subscriber that has buffer room.
// It never blocks; overflow is counted in Dropped.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	msg := &Message{Subject: subject, Data: data}
	for sub := range b.subs {
		if !Match(sub.pattern, subject) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers interest in pattern.
func (b *MemoryBus) Subscribe(pattern string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{
		pattern: pattern,
		ch:      make(chan *Message, b.bufferSize),
		bus:     b,
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Dropped returns how many deliveries were lost to full buffers.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close ends every subscription. Calling it again is a no-op.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	return nil
}

type memorySub struct {
	pattern string
	ch      chan *Message
	bus     *MemoryBus
}

func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe is idempotent and safe after the bus is closed.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; !ok {
		return nil
	}
	delete(s.bus.subs, s)
	close(s.ch)
	return nil
}
