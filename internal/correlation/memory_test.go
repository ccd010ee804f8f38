package correlation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeClock is a manually advanced clock shared by memoryBackend and the
// Store under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
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

type memEntry struct {
	value     string
	expiresAt time.Time
}

type scheduledWrite struct {
	at    time.Time
	key   string
	value string
	ttl   time.Duration
}

// memoryBackend is an in-memory Backend driven by a fakeClock. Receive
// advances the clock instead of blocking, so timeout behaviour is exact.
type memoryBackend struct {
	mu        sync.Mutex
	clock     *fakeClock
	data      map[string]memEntry
	scheduled []scheduledWrite

	// receiveMode decides what a Receive does when nothing is due within
	// its timeout. Unavailable returns immediately, like a refused dial.
	receiveMode DeliveryStatus
	// notifyWorks, when false, makes Receive never deliver even if a write
	// lands inside the window: the notification is lost.
	notifyWorks bool

	receives  int
	published []string
}

func newMemoryBackend(clock *fakeClock) *memoryBackend {
	return &memoryBackend{
		clock:       clock,
		data:        make(map[string]memEntry),
		receiveMode: Silent,
		notifyWorks: true,
	}
}

// schedule makes a worker reply appear at clock time at.
func (m *memoryBackend) schedule(at time.Time, key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, scheduledWrite{at: at, key: key, value: value, ttl: ttl})
}

// applyDue installs scheduled writes whose time has come. Caller holds mu.
func (m *memoryBackend) applyDue(now time.Time) {
	rest := m.scheduled[:0]
	for _, w := range m.scheduled {
		if !w.at.After(now) {
			m.data[w.key] = memEntry{value: w.value, expiresAt: w.at.Add(w.ttl)}
			continue
		}
		rest = append(rest, w)
	}
	m.scheduled = rest
}

func (m *memoryBackend) live(key string, now time.Time) (memEntry, bool) {
	m.applyDue(now)
	e, ok := m.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *memoryBackend) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = m.clock.Now().Add(ttl)
	}
	m.data[key] = memEntry{value: value, expiresAt: exp}
	return nil
}

func (m *memoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key, m.clock.Now())
	return ok, nil
}

func (m *memoryBackend) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key, m.clock.Now())
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *memoryBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	e, ok := m.live(key, now)
	if !ok {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(now), nil
}

func (m *memoryBackend) Publish(ctx context.Context, channel, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, channel)
	return nil
}

func (m *memoryBackend) Receive(ctx context.Context, channel string, timeout time.Duration) Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receives++

	if m.receiveMode == Unavailable {
		return Delivery{Status: Unavailable, Err: errors.New("connection refused")}
	}

	now := m.clock.Now()
	windowEnd := now.Add(timeout)
	if m.notifyWorks {
		for _, w := range m.scheduled {
			if w.key == channel && w.at.After(now) && !w.at.After(windowEnd) {
				m.clock.Advance(w.at.Sub(now))
				m.applyDue(w.at)
				return Delivery{Status: Notified, Payload: w.value}
			}
		}
	}

	m.clock.Advance(timeout)
	return Delivery{Status: Silent}
}
