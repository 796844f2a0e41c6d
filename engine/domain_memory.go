package engine

import (
	"sync"
	"time"
)

// HostMemory remembers hosts whose listings could only be read through a
// real browser, so "auto" mode stops wasting a prefetch on them. Entries
// expire after a TTL and are swept hourly.
type HostMemory struct {
	mu      sync.Mutex
	entries map[string]time.Time // host -> expiry
	ttl     time.Duration
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewHostMemory creates a HostMemory and starts its sweeper.
func NewHostMemory(ttl time.Duration) *HostMemory {
	m := &HostMemory{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// NeedsBrowser reports whether host was marked within the TTL.
func (m *HostMemory) NeedsBrowser(host string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[host]
	if !ok {
		return false
	}
	if m.now().After(exp) {
		delete(m.entries, host)
		return false
	}
	return true
}

// MarkBrowser records that host needed the browser.
func (m *HostMemory) MarkBrowser(host string) {
	m.mu.Lock()
	m.entries[host] = m.now().Add(m.ttl)
	m.mu.Unlock()
}

// Forget drops host, e.g. after a prefetch succeeded for it.
func (m *HostMemory) Forget(host string) {
	m.mu.Lock()
	delete(m.entries, host)
	m.mu.Unlock()
}

// Stop terminates the sweeper. It is safe to call more than once.
func (m *HostMemory) Stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *HostMemory) sweepLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *HostMemory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for host, exp := range m.entries {
		if now.After(exp) {
			delete(m.entries, host)
		}
	}
}
