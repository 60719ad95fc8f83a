package session

import (
	"sync"
	"time"

	"github.com/casaflow/devicetrust/pkg/authapi"
)

// phoneCache memoizes phone-exists checks for a short TTL so stepping back
// and forth through the login screens does not hammer the backend. It is
// owned by the orchestrator, bounded, and carries an injected clock so tests
// can construct fresh instances and advance time.
type phoneCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]phoneCacheEntry
}

type phoneCacheEntry struct {
	response authapi.CheckPhoneResponse
	storedAt time.Time
}

func newPhoneCache(ttl time.Duration, maxEntries int, now func() time.Time) *phoneCache {
	if maxEntries <= 0 {
		maxEntries = 128
	}
	return &phoneCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		entries:    make(map[string]phoneCacheEntry),
	}
}

func (c *phoneCache) get(phone string) (authapi.CheckPhoneResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[phone]
	if !exists {
		return authapi.CheckPhoneResponse{}, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, phone)
		return authapi.CheckPhoneResponse{}, false
	}
	return entry.response, true
}

func (c *phoneCache) put(phone string, response authapi.CheckPhoneResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	// Drop expired entries first; if the cache is still full, evict the
	// oldest one. Churn is a handful of phone numbers, so a scan is fine.
	if len(c.entries) >= c.maxEntries {
		for key, entry := range c.entries {
			if now.Sub(entry.storedAt) > c.ttl {
				delete(c.entries, key)
			}
		}
	}
	if len(c.entries) >= c.maxEntries {
		var oldestKey string
		var oldestAt time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.storedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = entry.storedAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[phone] = phoneCacheEntry{response: response, storedAt: now}
}
