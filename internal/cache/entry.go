package cache

import "time"

// entry is the value held by each recency list element. The element's position
// in the list is the entry's recency marker: front is most recently used.
// The key is kept here because eviction starts from list nodes.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	hasExpiry bool
}

// live reports whether the entry may still be returned at now.
func (e *entry) live(now time.Time) bool {
	return !e.hasExpiry || e.expiresAt.After(now)
}
