package cache

import (
	"errors"
	"time"
)

// Backend is the storage capability the Manager is written against.
//
// Implementations must be safe for concurrent use by multiple goroutines and
// must preserve three properties: a missing or expired key is reported with
// found=false and a nil error, Set overwrites any existing entry, and TTLs are
// honoured at least on a best-effort basis. A ttl of zero means the entry never
// expires; a negative ttl is rejected with ErrInvalidTTL.
type Backend interface {
	Get(key string) (value []byte, found bool, err error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) (deleted bool, err error)
	Exists(key string) (bool, error)
	Clear() error
}

// PrefixClearer is implemented by backends that can drop every key sharing a
// prefix. The Manager relies on it to clear a single namespace on a shared
// backend.
type PrefixClearer interface {
	ClearPrefix(prefix string) (removed int, err error)
}

// StatsReporter is implemented by backends that track usage counters.
type StatsReporter interface {
	Stats() (Stats, error)
}

// Stats is a point-in-time snapshot of backend counters.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Sets        uint64 `json:"sets"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Entries     int    `json:"entries"`
	// Capacity is zero for unbounded backends.
	Capacity int `json:"capacity"`
}

var (
	ErrInvalidCapacity           = errors.New("cache: capacity must be positive")
	ErrInvalidTTL                = errors.New("cache: ttl must not be negative")
	ErrInvalidPrefix             = errors.New("cache: key prefix must not contain the separator")
	ErrNilBackend                = errors.New("cache: nil backend")
	ErrNamespaceClearUnsupported = errors.New("cache: backend cannot clear a single namespace")
	ErrUnencodableArgument       = errors.New("cache: argument cannot be encoded into a key")
	ErrUnencodableResult         = errors.New("cache: result does not survive the codec round trip")
	ErrStatsUnsupported          = errors.New("cache: backend does not report stats")
	ErrClosed                    = errors.New("cache: closed")
)

// expiryFor converts a relative ttl into an absolute deadline.
// hasExpiry=false means the entry never expires.
func expiryFor(now time.Time, ttl time.Duration) (expiresAt time.Time, hasExpiry bool, err error) {
	if ttl < 0 {
		return time.Time{}, false, ErrInvalidTTL
	}
	if ttl == 0 {
		return time.Time{}, false, nil
	}
	return now.Add(ttl), true, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
