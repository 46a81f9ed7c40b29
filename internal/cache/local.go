package cache

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
)

// LocalBackend is a bounded in-process Backend with LRU eviction and lazy TTL
// expiry.
//
// A map gives O(1) key lookup and a doubly-linked list keeps recency order.
// Both live behind one mutex because eviction has to remove from both at once.
// Expired entries are only discovered when their key is touched; there is no
// background sweeper.
type LocalBackend struct {
	mu sync.Mutex

	maxSize int
	items   map[string]*list.Element
	lru     *list.List // Front = most recently used, Back = least recently used.

	hits        uint64
	misses      uint64
	sets        uint64
	evictions   uint64
	expirations uint64

	clock  func() time.Time
	logger log.Interface
}

// LocalOption configures a LocalBackend.
type LocalOption func(*LocalBackend)

// WithClock replaces time.Now, mostly for tests.
func WithClock(clock func() time.Time) LocalOption {
	return func(b *LocalBackend) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithLocalLogger injects the logger used for eviction traces.
func WithLocalLogger(logger log.Interface) LocalOption {
	return func(b *LocalBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

var _ interface {
	Backend
	PrefixClearer
	StatsReporter
} = (*LocalBackend)(nil)

// NewLocalBackend creates a store holding at most maxSize entries.
func NewLocalBackend(maxSize int, opts ...LocalOption) (*LocalBackend, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("new local backend (max size %d): %w", maxSize, ErrInvalidCapacity)
	}
	b := &LocalBackend{
		maxSize: maxSize,
		items:   make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		clock:   time.Now,
		logger:  log.Log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Get returns a copy of the value stored under key and marks the key most
// recently used. An expired entry is removed and reported as absent.
func (b *LocalBackend) Get(key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.liveElementLocked(key)
	if !ok {
		b.misses++
		return nil, false, nil
	}
	b.hits++
	b.lru.MoveToFront(el)
	return cloneBytes(el.Value.(*entry).value), true, nil
}

// Set writes or overwrites key. A ttl of zero stores the entry without expiry.
//
// When key is new and the store is full, the least recently used entry is
// evicted before the insert so the capacity is never exceeded.
func (b *LocalBackend) Set(key string, value []byte, ttl time.Duration) error {
	now := b.clock()
	expiresAt, hasExpiry, err := expiryFor(now, ttl)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	var evicted []string

	b.mu.Lock()
	b.sets++
	if el, ok := b.items[key]; ok {
		e := el.Value.(*entry)
		e.value = cloneBytes(value)
		e.expiresAt = expiresAt
		e.hasExpiry = hasExpiry
		b.lru.MoveToFront(el)
	} else {
		for len(b.items) >= b.maxSize {
			if k, ok := b.evictOldestLocked(now); ok {
				evicted = append(evicted, k)
			}
		}
		b.items[key] = b.lru.PushFront(&entry{
			key:       key,
			value:     cloneBytes(value),
			expiresAt: expiresAt,
			hasExpiry: hasExpiry,
		})
	}
	b.mu.Unlock()

	for _, k := range evicted {
		b.logger.WithField("key", k).Debug("evicted least recently used entry")
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (b *LocalBackend) Delete(key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.items[key]; !ok {
		return false, nil
	}
	b.removeLocked(key)
	return true, nil
}

// Exists reports whether key holds a live entry. It is a peek: recency order
// is left untouched, but an expired entry is still removed.
func (b *LocalBackend) Exists(key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.liveElementLocked(key)
	return ok, nil
}

// Clear drops every entry. Counters are kept.
func (b *LocalBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = make(map[string]*list.Element, b.maxSize)
	b.lru.Init()
	return nil
}

// ClearPrefix drops every entry whose key starts with prefix.
func (b *LocalBackend) ClearPrefix(prefix string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key := range b.items {
		if strings.HasPrefix(key, prefix) {
			b.removeLocked(key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, including expired entries that
// have not been touched yet.
func (b *LocalBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Keys returns stored keys from most to least recently used.
func (b *LocalBackend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, b.lru.Len())
	for el := b.lru.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).key)
	}
	return out
}

// Stats returns the current counters.
func (b *LocalBackend) Stats() (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Hits:        b.hits,
		Misses:      b.misses,
		Sets:        b.sets,
		Evictions:   b.evictions,
		Expirations: b.expirations,
		Entries:     len(b.items),
		Capacity:    b.maxSize,
	}, nil
}

// liveElementLocked looks key up and applies lazy expiry.
func (b *LocalBackend) liveElementLocked(key string) (*list.Element, bool) {
	el, ok := b.items[key]
	if !ok {
		return nil, false
	}
	if !el.Value.(*entry).live(b.clock()) {
		b.removeLocked(key)
		b.expirations++
		return nil, false
	}
	return el, true
}

// evictOldestLocked removes the back of the recency list. It returns the key
// when a live entry was evicted; an already expired one counts as an expiration.
func (b *LocalBackend) evictOldestLocked(now time.Time) (string, bool) {
	el := b.lru.Back()
	if el == nil {
		return "", false
	}
	e := el.Value.(*entry)
	b.removeLocked(e.key)
	if !e.live(now) {
		b.expirations++
		return "", false
	}
	b.evictions++
	return e.key, true
}

func (b *LocalBackend) removeLocked(key string) {
	el, ok := b.items[key]
	if !ok {
		return
	}
	delete(b.items, key)
	b.lru.Remove(el)
}
