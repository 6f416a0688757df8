package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory with TTL support. Values
// are kept in serialized form so reads never alias cached state.
type MemoryStore struct {
	mu       sync.Mutex
	items    map[string]*memoryItem
	maxSize  int
	stopChan chan struct{}
	stopped  bool
}

type memoryItem struct {
	payload    []byte
	expiration time.Time
	accessed   time.Time
}

// NewMemoryStore creates a memory store holding at most maxSize entries.
// A non-positive maxSize selects the default of 10000.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}

	ms := &MemoryStore{
		items:    make(map[string]*memoryItem),
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
	}

	go ms.cleanupLoop()

	return ms
}

// Set stores a value as JSON with the given expiration. A non-positive
// expiration defaults to 24 hours.
func (ms *MemoryStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.items[key]; !exists && len(ms.items) >= ms.maxSize {
		ms.evictLRU()
	}

	ms.items[key] = &memoryItem{
		payload:    payload,
		expiration: expiryTime(expiration),
		accessed:   time.Now(),
	}

	return nil
}

// Get loads a value into dest. Missing or expired keys yield ErrMiss.
func (ms *MemoryStore) Get(ctx context.Context, key string, dest interface{}) error {
	ms.mu.Lock()
	item, exists := ms.items[key]
	if exists && time.Now().After(item.expiration) {
		delete(ms.items, key)
		exists = false
	}
	if exists {
		item.accessed = time.Now()
	}
	ms.mu.Unlock()

	if !exists {
		return ErrMiss
	}
	return json.Unmarshal(item.payload, dest)
}

// SetNX stores a value only when the key is absent or expired.
func (ms *MemoryStore) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cache value: %w", err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if item, exists := ms.items[key]; exists && time.Now().Before(item.expiration) {
		return false, nil
	}

	ms.items[key] = &memoryItem{
		payload:    payload,
		expiration: expiryTime(expiration),
		accessed:   time.Now(),
	}

	return true, nil
}

// Delete removes a key.
func (ms *MemoryStore) Delete(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.items, key)
	return nil
}

// Exists checks if a non-expired key exists.
func (ms *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	item, exists := ms.items[key]
	if !exists {
		return false, nil
	}
	if time.Now().After(item.expiration) {
		delete(ms.items, key)
		return false, nil
	}
	return true, nil
}

// HealthCheck always succeeds for the in-process store.
func (ms *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close stops the cleanup goroutine.
func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.stopped {
		close(ms.stopChan)
		ms.stopped = true
	}
	return nil
}

// Size returns the current number of entries, expired ones included.
func (ms *MemoryStore) Size() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return len(ms.items)
}

// evictLRU drops the least recently accessed entry. Caller holds the lock.
func (ms *MemoryStore) evictLRU() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, item := range ms.items {
		if first || item.accessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.accessed
			first = false
		}
	}

	if oldestKey != "" {
		delete(ms.items, oldestKey)
	}
}

func (ms *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.cleanup()
		case <-ms.stopChan:
			return
		}
	}
}

func (ms *MemoryStore) cleanup() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	for key, item := range ms.items {
		if now.After(item.expiration) {
			delete(ms.items, key)
		}
	}
}

func expiryTime(expiration time.Duration) time.Time {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return time.Now().Add(expiration)
}
