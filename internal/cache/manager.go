package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
)

// KeySeparator joins a manager's key prefix and a logical key: "prefix:key".
const KeySeparator = ":"

// Manager adds a key namespace and a default expiry policy on top of a shared
// Backend. It holds no cached data itself, so several managers with different
// prefixes can share one backend without key collisions.
type Manager struct {
	backend    Backend
	prefix     string
	defaultTTL time.Duration
	codec      Codec
	logger     log.Interface
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithKeyPrefix sets the namespace prepended to every key.
func WithKeyPrefix(prefix string) ManagerOption {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithDefaultTTL sets the ttl used when a caller does not supply one.
// Zero means entries written without an explicit ttl never expire.
func WithDefaultTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.defaultTTL = ttl
	}
}

// WithCodec replaces the JSON codec used to encode values.
func WithCodec(codec Codec) ManagerOption {
	return func(m *Manager) {
		if codec != nil {
			m.codec = codec
		}
	}
}

// WithLogger injects a logger.
func WithLogger(logger log.Interface) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager wraps an already constructed backend. The manager never owns the
// backend's lifecycle.
func NewManager(backend Backend, opts ...ManagerOption) (*Manager, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	m := &Manager{
		backend: backend,
		codec:   JSONCodec{},
		logger:  log.Log,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.defaultTTL < 0 {
		return nil, fmt.Errorf("new manager (default ttl %s): %w", m.defaultTTL, ErrInvalidTTL)
	}
	if strings.Contains(m.prefix, KeySeparator) {
		return nil, fmt.Errorf("new manager (prefix %q): %w", m.prefix, ErrInvalidPrefix)
	}
	return m, nil
}

// Prefix returns the manager's namespace.
func (m *Manager) Prefix() string { return m.prefix }

// DefaultTTL returns the ttl applied by Set.
func (m *Manager) DefaultTTL() time.Duration { return m.defaultTTL }

// Key returns the backend key for a logical key.
func (m *Manager) Key(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + KeySeparator + key
}

// Get decodes the value stored under key into dst, which must be a pointer.
// found is false, with a nil error, when the key is missing or expired.
func (m *Manager) Get(key string, dst any) (bool, error) {
	raw, found, err := m.backend.Get(m.Key(key))
	if err != nil {
		return false, fmt.Errorf("cache get %q: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if err := m.codec.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("cache decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key using the default ttl.
func (m *Manager) Set(key string, value any) error {
	return m.SetWithTTL(key, value, m.defaultTTL)
}

// SetWithTTL stores value under key with an explicit ttl; zero never expires.
func (m *Manager) SetWithTTL(key string, value any, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("cache set %q: %w", key, ErrInvalidTTL)
	}
	raw, err := m.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	if err := m.backend.Set(m.Key(key), raw, ttl); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (m *Manager) Delete(key string) (bool, error) {
	deleted, err := m.backend.Delete(m.Key(key))
	if err != nil {
		return false, fmt.Errorf("cache delete %q: %w", key, err)
	}
	return deleted, nil
}

// Exists reports whether key holds a live entry.
func (m *Manager) Exists(key string) (bool, error) {
	ok, err := m.backend.Exists(m.Key(key))
	if err != nil {
		return false, fmt.Errorf("cache exists %q: %w", key, err)
	}
	return ok, nil
}

// Clear removes the entries of this namespace only. A manager without a prefix
// owns the whole backend and clears all of it.
func (m *Manager) Clear() error {
	if m.prefix == "" {
		if err := m.backend.Clear(); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
		return nil
	}
	pc, ok := m.backend.(PrefixClearer)
	if !ok {
		return fmt.Errorf("cache clear %q: %w", m.prefix, ErrNamespaceClearUnsupported)
	}
	removed, err := pc.ClearPrefix(m.prefix + KeySeparator)
	if err != nil {
		return fmt.Errorf("cache clear %q: %w", m.prefix, err)
	}
	m.logger.WithFields(log.Fields{"prefix": m.prefix, "removed": removed}).Debug("cleared cache namespace")
	return nil
}

// Stats forwards to the backend when it reports counters.
func (m *Manager) Stats() (Stats, error) {
	sr, ok := m.backend.(StatsReporter)
	if !ok {
		return Stats{}, ErrStatsUnsupported
	}
	return sr.Stats()
}

// GetAs is Get for callers that want the value returned rather than decoded
// into a destination.
func GetAs[T any](m *Manager, key string) (T, bool, error) {
	var out T
	found, err := m.Get(key, &out)
	if err != nil || !found {
		var zero T
		return zero, found, err
	}
	return out, true, nil
}
