// Package cache keeps recent run reports in memory so server mode can
// answer repeated requests without driving the browser again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/use-agent/pairscout/models"
)

type entry struct {
	report    models.RunReport
	createdAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time
	done       chan struct{}
	once       sync.Once
}

// New creates a Cache holding at most maxEntries reports. Entries older
// than an hour are swept every five minutes.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		maxAge:     time.Hour,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Key identifies a run by what it fetched and where it wrote.
func Key(targetURL, output string) string {
	h := sha256.New()
	h.Write([]byte(targetURL))
	h.Write([]byte("|"))
	h.Write([]byte(output))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached report if it is younger than maxAgeMs.
// maxAgeMs <= 0 disables the lookup.
func (c *Cache) Get(key string, maxAgeMs int) (*models.RunReport, bool) {
	if maxAgeMs <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.createdAt) > time.Duration(maxAgeMs)*time.Millisecond {
		return nil, false
	}

	r := e.report
	r.Contracts = append([]string(nil), e.report.Contracts...)
	r.Warnings = append([]models.ErrorDetail(nil), e.report.Warnings...)
	return &r, true
}

// Set stores a successful report, evicting the oldest entry at capacity.
// Failed runs are not cached.
func (c *Cache) Set(key string, report *models.RunReport) {
	if report == nil || !report.Success {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.store {
			if oldestKey == "" || e.createdAt.Before(oldest) {
				oldestKey, oldest = k, e.createdAt
			}
		}
		delete(c.store, oldestKey)
	}

	stored := *report
	stored.Contracts = append([]string(nil), report.Contracts...)
	stored.Warnings = append([]models.ErrorDetail(nil), report.Warnings...)
	c.store[key] = &entry{report: stored, createdAt: c.now()}
}

// Len returns the number of cached reports.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Stop terminates the sweeper.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	cutoff := c.now().Add(-c.maxAge)
	c.mu.Lock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
	c.mu.Unlock()
}
