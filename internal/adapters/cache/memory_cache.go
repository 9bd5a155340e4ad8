package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mikey/mail-classifier/internal/core"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a cache entry is not found
	ErrNotFound = errors.New("cache entry not found")
	// ErrExpired is returned when a cache entry has expired
	ErrExpired = errors.New("cache entry expired")
)

// DefaultCapacity bounds the memory cache when no capacity is configured
const DefaultCapacity = 10000

// MemoryCache is an in-memory implementation of the CacheRepository interface
// holding at most capacity entries
type MemoryCache struct {
	entries     map[string]*core.CacheEntry
	mu          sync.RWMutex
	capacity    int
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewMemoryCache creates a new in-memory cache. A cleanupFreq of zero disables
// the background cleanup task.
func NewMemoryCache(capacity int, cleanupFreq time.Duration, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache := &MemoryCache{
		entries:     make(map[string]*core.CacheEntry),
		capacity:    capacity,
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go cache.startCleanupTask()
	}

	return cache
}

// Get retrieves an unexpired entry
func (c *MemoryCache) Get(ctx context.Context, key string) (*core.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.Expired(time.Now()) {
		return nil, ErrExpired
	}

	out := *entry
	out.Value = append([]byte(nil), entry.Value...)
	return &out, nil
}

// Set stores an entry, evicting the entry closest to expiry when full
func (c *MemoryCache) Set(ctx context.Context, entry *core.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[entry.Key]; !exists && len(c.entries) >= c.capacity {
		c.evictLocked(time.Now())
	}

	stored := *entry
	stored.Value = append([]byte(nil), entry.Value...)
	c.entries[entry.Key] = &stored
	return nil
}

// evictLocked drops expired entries, or the soonest to expire if none are
func (c *MemoryCache) evictLocked(now time.Time) {
	var victim string
	var soonest time.Time
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			continue
		}
		if victim == "" || (!entry.ExpiresAt.IsZero() && (soonest.IsZero() || entry.ExpiresAt.Before(soonest))) {
			victim, soonest = key, entry.ExpiresAt
		}
	}
	if len(c.entries) >= c.capacity && victim != "" {
		delete(c.entries, victim)
	}
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Delete removes an entry
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Cleanup removes expired entries
func (c *MemoryCache) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expiredCount := 0

	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			expiredCount++
		}
	}

	c.logger.Debug("Cleaned up expired cache entries", zap.Int("expired_count", expiredCount))
	return nil
}

// startCleanupTask starts a background task to clean up expired entries
func (c *MemoryCache) startCleanupTask() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				c.logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
